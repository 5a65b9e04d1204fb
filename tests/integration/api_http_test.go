//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fives-agent/internal/api"
	middlewarex "fives-agent/internal/api/middleware"
	"fives-agent/internal/config"
	"fives-agent/internal/infra/backend"
	"fives-agent/internal/infra/idempotency"
	metricsinfra "fives-agent/internal/infra/metrics"
	"fives-agent/internal/infra/ratelimit"
	"fives-agent/internal/infra/redislock"
	"fives-agent/internal/infra/session"
	"fives-agent/internal/infra/store"
	"fives-agent/internal/service"
)

type fakeBackend struct {
	mu      sync.Mutex
	lists   int
	creates int
	stats   int
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/matches/":
		f.lists++
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id":"1","team_id":"team-a","season":"2025","gameweek":5,"played_at":"2025-02-01T10:00:00"},
			{"id":"2","team_id":"team-a","season":"2025","gameweek":6,"played_at":"2025-02-08T10:00:00"}
		]`)
	case r.Method == http.MethodPost && r.URL.Path == "/matches/full":
		f.creates++
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":"created","match_id":"m-42"}`)
	case r.Method == http.MethodPost && r.URL.Path == "/stats/generate":
		f.stats++
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeBackend) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists, f.creates
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("integration"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestHTTPStackWithRedis(t *testing.T) {
	if !integrationEnabled() {
		t.Skip("set INTEGRATION=1 to run integration tests")
	}
	ctx := context.Background()
	client := startRedis(t, ctx)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	metrics := metricsinfra.New()

	fb := &fakeBackend{}
	backendSrv := httptest.NewServer(fb)
	t.Cleanup(backendSrv.Close)

	cfg, err := config.Load("testdata/absent.yaml")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Backend.BaseURL = backendSrv.URL

	sessions := session.NewProvider("", "", cfg.Auth.ClockSkew)
	httpClient, err := backend.NewClient(cfg.Backend, sessions, logger)
	if err != nil {
		t.Fatalf("backend client: %v", err)
	}
	matchAPI := backend.NewBreakerClient(httpClient, cfg.CircuitBreaker, logger, metrics)

	cache := service.NewLastMatchService(ctx, cfg.Cache,
		store.NewRedis(client, cfg.Redis.KeyPrefix+cfg.Cache.StorageKey, logger, metrics),
		matchAPI, ratelimit.NewSliding(cfg.Cache.MaxFetchesPerWindow, cfg.Cache.FetchWindow), logger, metrics)
	matches := service.NewMatchService(matchAPI, cache, cfg.Cache.DefaultSeason, logger)
	t.Cleanup(matches.Wait)

	fallback := ratelimit.NewMemory(cfg.RateLimit.PerMinute, time.Minute)
	t.Cleanup(fallback.Close)
	idem := middlewarex.NewIdempotencyMiddleware(true,
		idempotency.NewStore(client, cfg.Redis.KeyPrefix),
		redislock.New(client, cfg.Redis.KeyPrefix, logger, metrics),
		cfg.Idempotency.LockTTL, cfg.Idempotency.ResponseTTL, logger, metrics)

	router := api.New(&cfg, logger, api.Deps{
		Cache:       cache,
		Matches:     matches,
		Sessions:    sessions,
		Limiter:     ratelimit.NewRedis(client, cfg.Redis.KeyPrefix, cfg.RateLimit.PerMinute, time.Minute, fallback, logger, metrics),
		Idempotency: idem,
		Metrics:     metrics,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	auth := "Bearer " + signedToken(t, "user-1")
	call := func(method, path, body string, headers map[string]string) (int, string) {
		t.Helper()
		var rdr io.Reader
		if body != "" {
			rdr = strings.NewReader(body)
		}
		req, err := http.NewRequest(method, srv.URL+path, rdr)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		req.Header.Set("Authorization", auth)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(raw)
	}

	code, body := call(http.MethodGet, "/api/v1/teams/team-a/last-match", "", nil)
	if code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", code, body)
	}
	var got struct {
		Season       string `json:"season"`
		Gameweek     int    `json:"gameweek"`
		NextGameweek int    `json:"next_gameweek"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Season != "2025" || got.Gameweek != 6 || got.NextGameweek != 7 {
		t.Fatalf("unexpected last match %+v", got)
	}

	payload := `{"team_id":"team-a","opponent_name":"Rovers","season":"2025","played_at":"2025-02-15T10:00:00Z","gameweek":7,"score1":2,"score2":1,
		"appearances":[{"player_id":"p1","goals":2},{"player_id":"p2","goals":0}]}`
	headers := map[string]string{"Idempotency-Key": "create-1"}

	code, first := call(http.MethodPost, "/api/v1/matches/full", payload, headers)
	if code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", code, first)
	}
	code, replay := call(http.MethodPost, "/api/v1/matches/full", payload, headers)
	if code != http.StatusCreated || replay != first {
		t.Fatalf("replay status=%d body=%s", code, replay)
	}
	if lists, creates := fb.counts(); lists != 1 || creates != 1 {
		t.Fatalf("unexpected backend calls lists=%d creates=%d", lists, creates)
	}

	code, body = call(http.MethodGet, "/api/v1/teams/team-a/last-match", "", nil)
	if code != http.StatusOK {
		t.Fatalf("second get status=%d", code)
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Gameweek != 7 {
		t.Fatalf("write-through not visible: %+v", got)
	}

	raw, err := client.Get(ctx, cfg.Redis.KeyPrefix+cfg.Cache.StorageKey).Bytes()
	if err != nil {
		t.Fatalf("persisted cache: %v", err)
	}
	if !strings.Contains(string(raw), `"version":1`) || !strings.Contains(string(raw), `"team-a"`) {
		t.Fatalf("unexpected persisted cache %s", raw)
	}
}
