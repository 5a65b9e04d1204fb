package middleware

import (
	"context"
	"net/http"
	"strings"

	"fives-agent/internal/infra/session"
	"fives-agent/pkg/api/response"
)

type ctxKey string

const ctxSubject ctxKey = "subject"

func SubjectFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxSubject).(string)
	return v, ok && v != ""
}

// SessionInspector resolves the session of a request context.
type SessionInspector interface {
	Current(ctx context.Context) (session.Session, error)
}

// Session forwards the caller's bearer token to backend calls. Requests
// without an Authorization header pass through and use the configured
// session; a malformed or expired header is rejected.
func Session(sessions SessionInspector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				response.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := session.WithToken(r.Context(), strings.TrimSpace(parts[1]))
			s, err := sessions.Current(ctx)
			if err != nil {
				response.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx = context.WithValue(ctx, ctxSubject, s.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
