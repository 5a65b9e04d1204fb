package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	ideminfra "fives-agent/internal/infra/idempotency"
	metricsinfra "fives-agent/internal/infra/metrics"
	"fives-agent/pkg/api/response"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxReplayBody     = 1 << 20
)

// IdempotencyMiddleware replays the stored response of a request whose
// Idempotency-Key was already seen for the same caller and route.
type IdempotencyMiddleware struct {
	enabled     bool
	store       idemStore
	locker      distLocker
	lockTTL     time.Duration
	responseTTL time.Duration
	logger      *slog.Logger
	metrics     *metricsinfra.Metrics
}

type idemStore interface {
	Get(ctx context.Context, key string) (*ideminfra.StoredResponse, bool, error)
	Set(ctx context.Context, key string, ttl time.Duration, v ideminfra.StoredResponse) error
}

type distLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// NewIdempotencyMiddleware takes nil store or locker when Redis is not
// available; requests then run without replay protection.
func NewIdempotencyMiddleware(enabled bool, store idemStore, locker distLocker, lockTTL, responseTTL time.Duration, logger *slog.Logger, metrics *metricsinfra.Metrics) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		enabled:     enabled,
		store:       store,
		locker:      locker,
		lockTTL:     lockTTL,
		responseTTL: responseTTL,
		logger:      logger,
		metrics:     metrics,
	}
}

// idemRequest identifies one keyed submission.
type idemRequest struct {
	scope       ideminfra.Scope
	fingerprint string
}

func (m *IdempotencyMiddleware) Handler(next http.Handler) http.Handler {
	if m == nil || !m.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key == "" || !hasBody(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		route := routePattern(r)
		if route == "" {
			m.bypass("empty_route_pattern")
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxReplayBody+1))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid request")
			return
		}
		if len(body) > maxReplayBody {
			response.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		if m.store == nil || m.locker == nil {
			m.bypass("unavailable")
			next.ServeHTTP(w, r)
			return
		}

		m.serve(w, r, next, newIdemRequest(r, route, key, body))
	})
}

func newIdemRequest(r *http.Request, route, key string, body []byte) idemRequest {
	return idemRequest{
		scope:       ideminfra.Scope{Owner: idempotencyOwner(r), Route: route, Key: key},
		fingerprint: ideminfra.Fingerprint(r.Method, route, body),
	}
}

func (m *IdempotencyMiddleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler, req idemRequest) {
	ctx := r.Context()

	if m.replay(w, r, req) {
		return
	}

	token, ok, err := m.locker.Acquire(ctx, req.scope.LockKey(), m.lockTTL)
	if err != nil {
		m.degraded(err, "lock_acquire_error")
		next.ServeHTTP(w, r)
		return
	}
	if !ok {
		response.Error(w, http.StatusConflict, "request already in progress")
		return
	}
	defer m.release(req.scope.LockKey(), token)

	// A concurrent holder may have finished between the lookup and the lock.
	if m.replay(w, r, req) {
		return
	}

	rec := &replayRecorder{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(rec, r)
	if !ideminfra.IsFinal(rec.status) {
		return
	}

	stored := ideminfra.StoredResponse{
		Status:      rec.status,
		Body:        rec.body.Bytes(),
		ContentType: rec.contentType,
		Headers:     rec.replayHeaders,
		Fingerprint: req.fingerprint,
		CreatedAt:   time.Now().UTC().Unix(),
	}
	if err := m.store.Set(context.WithoutCancel(ctx), req.scope.ResponseKey(), m.responseTTL, stored); err != nil {
		m.degraded(err, "store_set_error")
	}
}

// replay writes the stored response or a conflict and reports whether the
// request was answered.
func (m *IdempotencyMiddleware) replay(w http.ResponseWriter, r *http.Request, req idemRequest) bool {
	cached, found, err := m.store.Get(r.Context(), req.scope.ResponseKey())
	if err != nil {
		m.degraded(err, "store_get_error")
		return false
	}
	if !found || cached == nil {
		return false
	}
	if cached.Fingerprint != req.fingerprint {
		if m.metrics != nil {
			m.metrics.IdempotencyConflict.Inc()
		}
		response.Error(w, http.StatusConflict, "idempotency key reused with different payload")
		return true
	}

	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	for k, v := range cached.Headers {
		if v != "" {
			w.Header().Set(k, v)
		}
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)

	if m.metrics != nil {
		m.metrics.IdempotencyHits.Inc()
	}
	return true
}

func (m *IdempotencyMiddleware) release(key, token string) {
	if err := m.locker.Release(context.Background(), key, token); err != nil {
		if m.logger != nil {
			m.logger.Warn("idempotency lock release failed", "err", err)
		}
		if m.metrics != nil {
			m.metrics.LockReleaseErrors.Inc()
		}
	}
}

func (m *IdempotencyMiddleware) bypass(reason string) {
	if m.metrics != nil {
		m.metrics.IdempotencyBypass.WithLabelValues(reason).Inc()
	}
}

func (m *IdempotencyMiddleware) degraded(err error, reason string) {
	if m.logger != nil {
		m.logger.Warn("idempotency redis unavailable, bypassing", "err", err, "reason", reason)
	}
	if m.metrics != nil {
		m.metrics.RedisDegraded.WithLabelValues("idempotency").Inc()
	}
	m.bypass(reason)
}

// idempotencyOwner scopes keys to the session subject so two users cannot
// replay each other's responses.
func idempotencyOwner(r *http.Request) string {
	if sub, ok := SubjectFromContext(r.Context()); ok {
		return "sub:" + sub
	}
	return "ip:" + remoteHost(r.RemoteAddr)
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return strings.TrimSpace(r.URL.Path)
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// replayRecorder tees the response so it can be stored after the handler
// returns.
type replayRecorder struct {
	http.ResponseWriter
	status        int
	body          bytes.Buffer
	contentType   string
	replayHeaders map[string]string
	wroteHeader   bool
}

func (r *replayRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	h := r.ResponseWriter.Header()
	r.contentType = h.Get("Content-Type")
	if loc := h.Get("Location"); loc != "" {
		r.replayHeaders = map[string]string{"Location": loc}
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *replayRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
