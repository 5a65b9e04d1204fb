package backend

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker"

	"fives-agent/internal/config"
	"fives-agent/internal/domain/match"
	metricsinfra "fives-agent/internal/infra/metrics"
	"fives-agent/internal/infra/session"
)

// API is the backend surface used by the services.
type API interface {
	ListMatches(ctx context.Context) ([]match.Match, error)
	CreateFullMatch(ctx context.Context, m match.FullMatch) (match.Created, error)
	GenerateStats(ctx context.Context, teamID string) error
}

// BreakerClient fails fast while the backend keeps failing. Session and 4xx
// errors are the caller's problem and do not count against the backend.
// Stats generation is best effort and trips its own breaker, so a failing
// stats job never blocks match reads or submissions.
type BreakerClient struct {
	next    API
	cb      *gobreaker.CircuitBreaker
	statsCB *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *metricsinfra.Metrics
}

func NewBreakerClient(next API, cfg config.CircuitBreakerConfig, logger *slog.Logger, metrics *metricsinfra.Metrics) *BreakerClient {
	return &BreakerClient{
		next:    next,
		cb:      gobreaker.NewCircuitBreaker(breakerSettings("backend", cfg, logger)),
		statsCB: gobreaker.NewCircuitBreaker(breakerSettings("backend-stats", cfg, logger)),
		logger:  logger,
		metrics: metrics,
	}
}

func breakerSettings(name string, cfg config.CircuitBreakerConfig, logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: isBackendHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			}
		},
	}
}

func (c *BreakerClient) ListMatches(ctx context.Context) ([]match.Match, error) {
	out, err := c.execute(func() (any, error) { return c.next.ListMatches(ctx) })
	if err != nil {
		return nil, err
	}
	return out.([]match.Match), nil
}

func (c *BreakerClient) CreateFullMatch(ctx context.Context, m match.FullMatch) (match.Created, error) {
	out, err := c.execute(func() (any, error) { return c.next.CreateFullMatch(ctx, m) })
	if err != nil {
		return match.Created{}, err
	}
	return out.(match.Created), nil
}

func (c *BreakerClient) GenerateStats(ctx context.Context, teamID string) error {
	if c.next == nil {
		return errors.New("backend client is nil")
	}
	_, err := c.statsCB.Execute(func() (any, error) { return nil, c.next.GenerateStats(ctx, teamID) })
	return err
}

func (c *BreakerClient) execute(fn func() (any, error)) (any, error) {
	if c.next == nil {
		return nil, errors.New("backend client is nil")
	}
	out, err := c.cb.Execute(fn)
	c.observeState()
	if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		if c.metrics != nil {
			c.metrics.BackendCircuitOpen.Inc()
		}
	}
	return out, err
}

func (c *BreakerClient) observeState() {
	if c.metrics == nil || c.cb == nil {
		return
	}
	switch c.cb.State() {
	case gobreaker.StateClosed:
		c.metrics.BackendCircuitState.Set(0)
	case gobreaker.StateHalfOpen:
		c.metrics.BackendCircuitState.Set(1)
	case gobreaker.StateOpen:
		c.metrics.BackendCircuitState.Set(2)
	}
}

func isBackendHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, session.ErrNoSession) || errors.Is(err, session.ErrInvalidSession) || errors.Is(err, session.ErrSessionExpired) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return !se.Temporary()
	}
	return false
}
