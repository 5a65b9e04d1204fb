package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	dcache "fives-agent/internal/domain/cache"
	"fives-agent/internal/domain/match"
	"fives-agent/internal/infra/backend"
	"fives-agent/internal/infra/session"
)

const statsTriggerTimeout = 30 * time.Second

type matchBackend interface {
	CreateFullMatch(ctx context.Context, m match.FullMatch) (match.Created, error)
	GenerateStats(ctx context.Context, teamID string) error
}

type MatchService struct {
	backend       matchBackend
	cache         dcache.LastMatchCache
	defaultSeason string
	logger        *slog.Logger

	bg sync.WaitGroup
}

func NewMatchService(backend matchBackend, cache dcache.LastMatchCache, defaultSeason string, logger *slog.Logger) *MatchService {
	if defaultSeason == "" {
		defaultSeason = "2024"
	}
	return &MatchService{backend: backend, cache: cache, defaultSeason: defaultSeason, logger: logger}
}

type CreatedMatch struct {
	MatchID  string
	Season   string
	Gameweek int
}

// CreateFullMatch submits a match with its appearances, then records the
// season/gameweek in the cache and triggers statistics generation.
func (s *MatchService) CreateFullMatch(ctx context.Context, in match.FullMatch) (CreatedMatch, error) {
	in, err := s.normalize(in)
	if err != nil {
		return CreatedMatch{}, err
	}

	created, err := s.backend.CreateFullMatch(ctx, in)
	if err != nil {
		return CreatedMatch{}, classifyBackendError(err)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, in.TeamID, in.Season, in.Gameweek); err != nil && s.logger != nil {
			s.logger.Warn("last match write-through failed", "team_id", in.TeamID, "err", err)
		}
	}
	s.triggerStats(ctx, in.TeamID)

	return CreatedMatch{MatchID: created.MatchID, Season: in.Season, Gameweek: in.Gameweek}, nil
}

// NextGameweek returns the season and gameweek to pre-fill for the next match
// of teamID.
func (s *MatchService) NextGameweek(ctx context.Context, teamID string) (string, int, error) {
	if s.cache == nil {
		return s.defaultSeason, 1, nil
	}
	last, err := s.cache.Get(ctx, teamID)
	if err != nil {
		return "", 0, err
	}
	return last.Season, last.Gameweek + 1, nil
}

// Wait blocks until background statistics triggers have finished.
func (s *MatchService) Wait() {
	s.bg.Wait()
}

func (s *MatchService) triggerStats(ctx context.Context, teamID string) {
	bgCtx := context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(bgCtx, statsTriggerTimeout)
		defer cancel()
		if err := s.backend.GenerateStats(ctx, teamID); err != nil && s.logger != nil {
			s.logger.Warn("stats generation trigger failed", "team_id", teamID, "err", err)
		}
	}()
}

func (s *MatchService) normalize(in match.FullMatch) (match.FullMatch, error) {
	in.TeamID = strings.TrimSpace(in.TeamID)
	in.OpponentName = strings.TrimSpace(in.OpponentName)
	in.Season = strings.TrimSpace(in.Season)
	in.PlayedAt = strings.TrimSpace(in.PlayedAt)

	switch {
	case in.TeamID == "":
		return in, fmt.Errorf("%w: team_id is required", ErrBadRequest)
	case in.OpponentName == "":
		return in, fmt.Errorf("%w: opponent_name is required", ErrBadRequest)
	case in.PlayedAt == "":
		return in, fmt.Errorf("%w: played_at is required", ErrBadRequest)
	case len(in.Appearances) == 0:
		return in, fmt.Errorf("%w: at least one appearance is required", ErrBadRequest)
	case in.Score1 < 0 || in.Score2 < 0:
		return in, fmt.Errorf("%w: scores must not be negative", ErrBadRequest)
	case in.Gameweek < 0:
		return in, fmt.Errorf("%w: gameweek must not be negative", ErrBadRequest)
	}
	if (match.Match{PlayedAt: in.PlayedAt}).PlayedTime().IsZero() {
		return in, fmt.Errorf("%w: played_at is not a date", ErrBadRequest)
	}

	goals := 0
	seen := make(map[string]struct{}, len(in.Appearances))
	for _, a := range in.Appearances {
		if strings.TrimSpace(a.PlayerID) == "" {
			return in, fmt.Errorf("%w: appearance without player_id", ErrBadRequest)
		}
		if _, dup := seen[a.PlayerID]; dup {
			return in, fmt.Errorf("%w: player %s listed twice", ErrBadRequest, a.PlayerID)
		}
		seen[a.PlayerID] = struct{}{}
		if a.Goals < 0 {
			return in, fmt.Errorf("%w: goals must not be negative", ErrBadRequest)
		}
		goals += a.Goals
	}
	if goals != in.Score1 {
		return in, fmt.Errorf("%w: player goals (%d) must add up to the team score (%d)", ErrBadRequest, goals, in.Score1)
	}

	if in.Gameweek == 0 {
		in.Gameweek = 1
	}
	if in.Season == "" {
		in.Season = s.defaultSeason
	}
	return in, nil
}

// classifyBackendError keeps session errors as they are so the API can answer
// 401, turns rejected payloads into ErrBadRequest and everything else into
// ErrUpstream.
func classifyBackendError(err error) error {
	if errors.Is(err, session.ErrNoSession) || errors.Is(err, session.ErrInvalidSession) || errors.Is(err, session.ErrSessionExpired) {
		return err
	}
	var se *backend.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == 401 || se.Code == 403:
			return fmt.Errorf("%w: %w", session.ErrInvalidSession, err)
		case se.Code == 404:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case !se.Temporary():
			return fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}
