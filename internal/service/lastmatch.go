package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fives-agent/internal/config"
	dcache "fives-agent/internal/domain/cache"
	"fives-agent/internal/domain/match"
	domainratelimit "fives-agent/internal/domain/ratelimit"
	metricsinfra "fives-agent/internal/infra/metrics"
	"fives-agent/internal/infra/session"
	"fives-agent/internal/infra/store"
)

const (
	persistVersion = 1
	fetchBudgetKey = "backend:matches"
)

type matchLister interface {
	ListMatches(ctx context.Context) ([]match.Match, error)
}

type persistedCache struct {
	Version int             `json:"version"`
	Entries json.RawMessage `json:"entries"`
}

// LastMatchService is the process-wide last season/gameweek cache.
//
// mu guards entries, lastRequest and the counters and is never held across
// a backend call, a wait or a store operation. persistMu orders mutations
// with their saves so the store always ends up with the newest snapshot.
type LastMatchService struct {
	cfg     config.CacheConfig
	store   store.Store
	backend matchLister
	budget  domainratelimit.Limiter
	group   *singleflight.Group
	logger  *slog.Logger
	metrics *metricsinfra.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	persistMu sync.Mutex

	mu          sync.Mutex
	entries     map[string]dcache.LastMatch
	lastRequest time.Time
	sizeBytes   int
	hits        uint64
	misses      uint64
	throttled   uint64
	fallbacks   uint64
}

// NewLastMatchService loads the persisted mapping from st. A missing or
// unreadable value yields an empty cache.
func NewLastMatchService(ctx context.Context, cfg config.CacheConfig, st store.Store, backend matchLister, budget domainratelimit.Limiter, logger *slog.Logger, metrics *metricsinfra.Metrics) *LastMatchService {
	s := &LastMatchService{
		cfg:     normalizeCacheConfig(cfg),
		store:   st,
		backend: backend,
		budget:  budget,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		sleep:   sleepContext,
		entries: make(map[string]dcache.LastMatch),
	}
	if s.cfg.SingleFlightEnabled() {
		s.group = &singleflight.Group{}
	}
	s.load(ctx)
	return s
}

func normalizeCacheConfig(cfg config.CacheConfig) config.CacheConfig {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 2 * 1024 * 1024
	}
	if cfg.MinRetained <= 0 {
		cfg.MinRetained = 10
	}
	if cfg.DefaultSeason == "" {
		cfg.DefaultSeason = "2024"
	}
	return cfg
}

// Get returns the last season/gameweek of teamID. It only fails for an empty
// team id; every other problem resolves to the cached entry or the defaults.
func (s *LastMatchService) Get(ctx context.Context, teamID string) (dcache.LastMatch, error) {
	if teamID == "" {
		return dcache.LastMatch{}, ErrBadRequest
	}

	s.mu.Lock()
	now := s.now()
	entry, ok := s.entries[teamID]
	if ok && !s.isStale(entry, now) {
		s.hits++
		s.mu.Unlock()
		s.metrics.IncLookup("hit")
		return entry, nil
	}
	recent := !s.lastRequest.IsZero() && now.Sub(s.lastRequest) < s.cfg.MinRequestInterval
	if recent && ok {
		s.throttled++
		s.mu.Unlock()
		s.metrics.IncLookup("throttled")
		return entry, nil
	}
	s.mu.Unlock()

	if recent {
		if err := s.sleep(ctx, s.cfg.ThrottleWait); err != nil {
			return s.fallback(teamID, err), nil
		}
	}
	return s.refresh(ctx, teamID), nil
}

// refresh runs the fetch detached from the caller. A caller that goes away
// gets the fallback while the fetch still lands in the cache.
func (s *LastMatchService) refresh(ctx context.Context, teamID string) dcache.LastMatch {
	fetchCtx := context.WithoutCancel(ctx)

	if s.group != nil {
		ch := s.group.DoChan(flightKey(ctx, teamID), func() (any, error) {
			return s.fetchAndStore(fetchCtx, teamID), nil
		})
		select {
		case res := <-ch:
			return res.Val.(dcache.LastMatch)
		case <-ctx.Done():
			return s.fallback(teamID, ctx.Err())
		}
	}

	done := make(chan dcache.LastMatch, 1)
	go func() { done <- s.fetchAndStore(fetchCtx, teamID) }()
	select {
	case entry := <-done:
		return entry
	case <-ctx.Done():
		return s.fallback(teamID, ctx.Err())
	}
}

// flightKey shares a fetch only between callers of the same session, so a
// fetch always runs with the caller's own token.
func flightKey(ctx context.Context, teamID string) string {
	token, ok := session.TokenFromContext(ctx)
	if !ok {
		return teamID
	}
	sum := sha256.Sum256([]byte(token))
	return teamID + "|" + hex.EncodeToString(sum[:8])
}

func (s *LastMatchService) fetchAndStore(ctx context.Context, teamID string) dcache.LastMatch {
	if s.budget != nil {
		if ok, retryAfter := s.budget.Allow(ctx, fetchBudgetKey); !ok {
			s.metrics.IncFetch("budget_exhausted")
			return s.fallback(teamID, fmt.Errorf("fetch budget exhausted, retry in %s", retryAfter))
		}
	}
	if s.backend == nil {
		return s.fallback(teamID, errors.New("backend is not configured"))
	}

	s.mu.Lock()
	s.lastRequest = s.now()
	s.mu.Unlock()

	matches, err := s.backend.ListMatches(ctx)
	if err != nil {
		s.metrics.IncFetch("error")
		return s.fallback(teamID, err)
	}
	s.metrics.IncFetch("ok")

	season, gameweek := s.cfg.DefaultSeason, 1
	if m, ok := match.LatestForTeam(matches, teamID); ok {
		if m.Season != "" {
			season = m.Season
		}
		if m.Gameweek > 0 {
			gameweek = m.Gameweek
		}
	}

	entry := dcache.LastMatch{Season: season, Gameweek: gameweek}
	s.mutate(ctx, func(entries map[string]dcache.LastMatch, now time.Time) {
		entry.LastUpdated = now
		entries[teamID] = entry
		s.misses++
	})
	s.metrics.IncLookup("miss")
	return entry
}

// fallback returns the current entry for teamID or the defaults. Nothing is
// stored.
func (s *LastMatchService) fallback(teamID string, cause error) dcache.LastMatch {
	s.mu.Lock()
	entry, ok := s.entries[teamID]
	if !ok {
		entry = dcache.LastMatch{Season: s.cfg.DefaultSeason, Gameweek: 1, LastUpdated: s.now()}
	}
	s.fallbacks++
	s.mu.Unlock()

	s.metrics.IncLookup("fallback")
	if s.logger != nil {
		s.logger.Warn("last match lookup fell back", "team_id", teamID, "cached", ok, "err", cause)
	}
	return entry
}

// Put records the result of a newly logged match.
func (s *LastMatchService) Put(ctx context.Context, teamID, season string, gameweek int) error {
	if teamID == "" || gameweek < 1 {
		return ErrBadRequest
	}
	if season == "" {
		season = s.cfg.DefaultSeason
	}
	s.mutate(ctx, func(entries map[string]dcache.LastMatch, now time.Time) {
		entries[teamID] = dcache.LastMatch{Season: season, Gameweek: gameweek, LastUpdated: now}
	})
	return nil
}

func (s *LastMatchService) Invalidate(ctx context.Context, teamID string) error {
	if teamID == "" {
		return ErrBadRequest
	}
	s.mutate(ctx, func(entries map[string]dcache.LastMatch, _ time.Time) {
		delete(entries, teamID)
	})
	return nil
}

// Clear drops every entry and the persisted value.
func (s *LastMatchService) Clear(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.entries = make(map[string]dcache.LastMatch)
	s.sizeBytes = 0
	s.mu.Unlock()
	s.metrics.ObserveCacheSize(0, 0)

	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx); err != nil {
		s.metrics.IncStoreError("delete")
		if s.logger != nil {
			s.logger.Warn("last match cache delete failed", "err", err)
		}
	}
	return nil
}

func (s *LastMatchService) Stats() dcache.LastMatchStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dcache.LastMatchStats{
		Hits:      s.hits,
		Misses:    s.misses,
		Throttled: s.throttled,
		Fallbacks: s.fallbacks,
		Entries:   len(s.entries),
		SizeBytes: s.sizeBytes,
	}
}

// snapshot returns a copy of the cached mapping.
func (s *LastMatchService) snapshot() map[string]dcache.LastMatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]dcache.LastMatch, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

func (s *LastMatchService) isStale(e dcache.LastMatch, now time.Time) bool {
	if e.LastUpdated.IsZero() {
		return true
	}
	return now.Sub(e.LastUpdated) > s.cfg.StaleAfter
}

// mutate applies fn under mu, enforces the size bound and saves the result.
func (s *LastMatchService) mutate(ctx context.Context, fn func(entries map[string]dcache.LastMatch, now time.Time)) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	fn(s.entries, s.now())
	raw, err := json.Marshal(s.entries)
	if err == nil && len(raw) > s.cfg.MaxBytes && len(s.entries) > s.cfg.MinRetained {
		before := len(s.entries)
		s.entries = keepNewest(s.entries, s.cfg.MinRetained)
		raw, err = json.Marshal(s.entries)
		s.metrics.IncPrune()
		if s.logger != nil {
			s.logger.Info("last match cache pruned", "before", before, "after", len(s.entries))
		}
	}
	if err == nil {
		s.sizeBytes = len(raw)
	}
	entries := len(s.entries)
	s.mu.Unlock()

	if err != nil {
		s.metrics.IncStoreError("encode")
		if s.logger != nil {
			s.logger.Error("last match cache encode failed", "err", err)
		}
		return
	}
	s.metrics.ObserveCacheSize(entries, len(raw))
	s.persist(ctx, raw)
}

func (s *LastMatchService) persist(ctx context.Context, entries []byte) {
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(persistedCache{Version: persistVersion, Entries: entries})
	if err != nil {
		s.metrics.IncStoreError("encode")
		return
	}
	if err := s.store.Save(ctx, payload); err != nil {
		s.metrics.IncStoreError("save")
		if s.logger != nil {
			s.logger.Warn("last match cache save failed", "err", err)
		}
	}
}

func (s *LastMatchService) load(ctx context.Context) {
	if s.store == nil {
		return
	}
	raw, err := s.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.metrics.IncStoreError("load")
		if s.logger != nil {
			s.logger.Warn("last match cache load failed, starting empty", "err", err)
		}
		return
	}

	entries, err := decodeEntries(raw, s.cfg.DefaultSeason)
	if err != nil {
		s.metrics.IncStoreError("decode")
		if s.logger != nil {
			s.logger.Warn("last match cache is corrupt, starting empty", "err", err)
		}
		return
	}

	size := 0
	if b, err := json.Marshal(entries); err == nil {
		size = len(b)
	}
	s.mu.Lock()
	s.entries = entries
	s.sizeBytes = size
	s.mu.Unlock()
	s.metrics.ObserveCacheSize(len(entries), size)
}

// decodeEntries accepts the versioned envelope and the older flat mapping.
func decodeEntries(raw []byte, defaultSeason string) (map[string]dcache.LastMatch, error) {
	var flat map[string]dcache.LastMatch

	var env struct {
		Version *int                        `json:"version"`
		Entries map[string]dcache.LastMatch `json:"entries"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Version != nil {
		if *env.Version != persistVersion {
			return nil, fmt.Errorf("unsupported cache version %d", *env.Version)
		}
		flat = env.Entries
	} else if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}

	out := make(map[string]dcache.LastMatch, len(flat))
	for teamID, e := range flat {
		if teamID == "" {
			continue
		}
		if e.Gameweek < 1 {
			e.Gameweek = 1
		}
		if e.Season == "" {
			e.Season = defaultSeason
		}
		out[teamID] = e
	}
	return out, nil
}

// keepNewest keeps the n most recently updated entries; ties keep the lower
// team id.
func keepNewest(entries map[string]dcache.LastMatch, n int) map[string]dcache.LastMatch {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := entries[ids[i]].LastUpdated, entries[ids[j]].LastUpdated
		if !a.Equal(b) {
			return a.After(b)
		}
		return ids[i] < ids[j]
	})
	if len(ids) > n {
		ids = ids[:n]
	}
	out := make(map[string]dcache.LastMatch, len(ids))
	for _, id := range ids {
		out[id] = entries[id]
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ dcache.LastMatchCache = (*LastMatchService)(nil)
