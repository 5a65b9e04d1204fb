package match

import (
	"strings"
	"time"
)

// Match is one record of GET /matches/. Season and gameweek may be missing on
// older records; the zero value stands for "not set".
type Match struct {
	ID           string `json:"id"`
	TeamID       string `json:"team_id"`
	OpponentID   string `json:"opponent_id,omitempty"`
	OpponentName string `json:"opponent_name,omitempty"`
	Score1       int    `json:"score1"`
	Score2       int    `json:"score2"`
	Season       string `json:"season"`
	Gameweek     int    `json:"gameweek"`
	PlayedAt     string `json:"played_at"`
	CreatedAt    string `json:"created_at,omitempty"`
}

var playedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// PlayedTime parses PlayedAt. Unparseable values sort before every real date.
func (m Match) PlayedTime() time.Time {
	raw := strings.TrimSpace(m.PlayedAt)
	for _, layout := range playedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type Appearance struct {
	PlayerID string `json:"player_id"`
	Goals    int    `json:"goals"`
}

// FullMatch is the payload of POST /matches/full.
type FullMatch struct {
	TeamID       string       `json:"team_id"`
	OpponentName string       `json:"opponent_name"`
	Season       string       `json:"season"`
	PlayedAt     string       `json:"played_at"`
	Gameweek     int          `json:"gameweek"`
	Score1       int          `json:"score1"`
	Score2       int          `json:"score2"`
	Appearances  []Appearance `json:"appearances"`
}

type Created struct {
	Message string `json:"message"`
	MatchID string `json:"match_id"`
}

// LatestForTeam returns the match of teamID with the latest played_at. The
// first match wins on ties.
func LatestForTeam(matches []Match, teamID string) (Match, bool) {
	var (
		best     Match
		bestTime time.Time
		found    bool
	)
	for _, m := range matches {
		if m.TeamID != teamID {
			continue
		}
		pt := m.PlayedTime()
		if !found || pt.After(bestTime) {
			best, bestTime, found = m, pt, true
		}
	}
	return best, found
}
