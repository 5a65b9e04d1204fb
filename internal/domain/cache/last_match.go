package cache

import (
	"context"
	"time"
)

// LastMatch is the last known season/gameweek of a team.
type LastMatch struct {
	Season      string    `json:"season"`
	Gameweek    int       `json:"gameweek"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type LastMatchStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Throttled uint64 `json:"throttled"`
	Fallbacks uint64 `json:"fallbacks"`
	Entries   int    `json:"entries"`
	SizeBytes int    `json:"size_bytes"`
}

type LastMatchCache interface {
	Get(ctx context.Context, teamID string) (LastMatch, error)
	Put(ctx context.Context, teamID, season string, gameweek int) error
	Invalidate(ctx context.Context, teamID string) error
	Clear(ctx context.Context) error
	Stats() LastMatchStats
}
