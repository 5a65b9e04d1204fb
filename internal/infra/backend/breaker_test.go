package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"

	"fives-agent/internal/config"
	"fives-agent/internal/domain/match"
	metricsinfra "fives-agent/internal/infra/metrics"
	"fives-agent/internal/infra/session"
)

type fakeAPI struct {
	calls      int
	statsCalls int
	err        error
	statsErr   error
}

func (f *fakeAPI) ListMatches(context.Context) ([]match.Match, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []match.Match{{ID: "m1"}}, nil
}

func (f *fakeAPI) CreateFullMatch(context.Context, match.FullMatch) (match.Created, error) {
	f.calls++
	return match.Created{MatchID: "m1"}, f.err
}

func (f *fakeAPI) GenerateStats(context.Context, string) error {
	f.statsCalls++
	if f.statsErr != nil {
		return f.statsErr
	}
	return f.err
}

func breakerCfg() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2}
}

func TestBreakerOpensOnBackendFailures(t *testing.T) {
	next := &fakeAPI{err: errors.New("connection refused")}
	m := metricsinfra.New()
	c := NewBreakerClient(next, breakerCfg(), nil, m)

	for i := 0; i < 2; i++ {
		if _, err := c.ListMatches(context.Background()); err == nil {
			t.Fatalf("expected failure")
		}
	}
	if _, err := c.ListMatches(context.Background()); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("open circuit should not reach backend, calls=%d", next.calls)
	}
	if got := testutil.ToFloat64(m.BackendCircuitState); got != 2 {
		t.Fatalf("circuit state=%v", got)
	}
	if got := testutil.ToFloat64(m.BackendCircuitOpen); got != 1 {
		t.Fatalf("circuit open count=%v", got)
	}
}

func TestBreakerIgnoresClientSideErrors(t *testing.T) {
	tests := []error{
		session.ErrNoSession,
		session.ErrSessionExpired,
		&StatusError{Code: 401},
		&StatusError{Code: 422},
	}
	for _, clientErr := range tests {
		next := &fakeAPI{err: clientErr}
		c := NewBreakerClient(next, breakerCfg(), nil, nil)
		for i := 0; i < 5; i++ {
			if _, err := c.ListMatches(context.Background()); errors.Is(err, gobreaker.ErrOpenState) {
				t.Fatalf("%v should not open the circuit", clientErr)
			}
		}
		if next.calls != 5 {
			t.Fatalf("%v: calls=%d want=5", clientErr, next.calls)
		}
	}
}

func TestBreakerPassesResults(t *testing.T) {
	c := NewBreakerClient(&fakeAPI{}, breakerCfg(), nil, nil)
	got, err := c.ListMatches(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("got=%v err=%v", got, err)
	}
	created, err := c.CreateFullMatch(context.Background(), match.FullMatch{})
	if err != nil || created.MatchID != "m1" {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if err := c.GenerateStats(context.Background(), "t1"); err != nil {
		t.Fatalf("generate: %v", err)
	}
}

func TestStatsFailuresDoNotBlockMatches(t *testing.T) {
	next := &fakeAPI{statsErr: &StatusError{Code: 500, Detail: "stats failed"}}
	m := metricsinfra.New()
	c := NewBreakerClient(next, breakerCfg(), nil, m)

	for i := 0; i < 5; i++ {
		_ = c.GenerateStats(context.Background(), "t1")
	}
	if err := c.GenerateStats(context.Background(), "t1"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected stats circuit to open, got %v", err)
	}
	if next.statsCalls != 2 {
		t.Fatalf("stats calls=%d want=2", next.statsCalls)
	}

	if _, err := c.CreateFullMatch(context.Background(), match.FullMatch{}); err != nil {
		t.Fatalf("create after stats failures: %v", err)
	}
	if got, err := c.ListMatches(context.Background()); err != nil || len(got) != 1 {
		t.Fatalf("list after stats failures: got=%v err=%v", got, err)
	}
	if next.calls != 2 {
		t.Fatalf("match calls=%d want=2", next.calls)
	}
	if got := testutil.ToFloat64(m.BackendCircuitState); got != 0 {
		t.Fatalf("match circuit state=%v want closed", got)
	}
}
