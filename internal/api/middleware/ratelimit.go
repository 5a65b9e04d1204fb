package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fives-agent/internal/domain/ratelimit"
	"fives-agent/pkg/api/response"
)

// ClientRateLimit limits API calls per session subject, or per remote
// address for requests that rely on the configured session.
func ClientRateLimit(limiter ratelimit.Limiter, window time.Duration) func(http.Handler) http.Handler {
	if limiter == nil || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientRateLimitKey(r, window, time.Now().UTC())
			allowed, retryAfter := limiter.Allow(r.Context(), key)
			if !allowed {
				setRetryAfterHeader(w, retryAfter)
				response.Error(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientRateLimitKey(r *http.Request, window time.Duration, now time.Time) string {
	who := "ip:" + remoteHost(r.RemoteAddr)
	if sub, ok := SubjectFromContext(r.Context()); ok {
		who = "sub:" + sub
	}
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	epoch := now.Unix() / secs
	return "client:" + who + ":" + strconv.FormatInt(epoch, 10)
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.TrimSpace(addr)
	}
	return host
}

func setRetryAfterHeader(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}
