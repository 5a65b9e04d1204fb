package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"fives-agent/internal/infra/session"
)

type fakeInspector struct{}

func (fakeInspector) Current(ctx context.Context) (session.Session, error) {
	token, ok := session.TokenFromContext(ctx)
	if !ok {
		return session.Session{}, session.ErrNoSession
	}
	switch token {
	case "good":
		return session.Session{Token: token, Subject: "user-1"}, nil
	case "old":
		return session.Session{}, session.ErrSessionExpired
	default:
		return session.Session{}, session.ErrInvalidSession
	}
}

func TestSessionMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		wantStatus  int
		wantSubject string
	}{
		{name: "no header passes", header: "", wantStatus: http.StatusOK},
		{name: "valid bearer", header: "Bearer good", wantStatus: http.StatusOK, wantSubject: "user-1"},
		{name: "lowercase scheme", header: "bearer good", wantStatus: http.StatusOK, wantSubject: "user-1"},
		{name: "basic auth", header: "Basic Zm9vOmJhcg==", wantStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer old", wantStatus: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer xyz", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotSubject, gotToken string
			h := Session(fakeInspector{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotSubject, _ = SubjectFromContext(r.Context())
				gotToken, _ = session.TokenFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/last-match/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status=%d want=%d", rr.Code, tt.wantStatus)
			}
			if gotSubject != tt.wantSubject {
				t.Fatalf("subject=%q want=%q", gotSubject, tt.wantSubject)
			}
			if tt.wantSubject != "" && gotToken != "good" {
				t.Fatalf("token not forwarded: %q", gotToken)
			}
		})
	}
}
