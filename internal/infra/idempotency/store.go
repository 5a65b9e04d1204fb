// Package idempotency keeps the outcome of keyed match submissions so a UI
// retry of POST /matches/full does not log the same match twice.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fives-agent/internal/domain/match"
)

// StoredResponse is the replayable outcome of one submission.
type StoredResponse struct {
	Status      int               `json:"status"`
	Body        []byte            `json:"body"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	CreatedAt   int64             `json:"created_at"`
}

// Scope names one Idempotency-Key of one caller on one route.
type Scope struct {
	Owner string
	Route string
	Key   string
}

func (s Scope) id() string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(s.Route)))
	return s.Owner + ":" + hex.EncodeToString(sum[:8]) + ":" + s.Key
}

func (s Scope) ResponseKey() string { return "idem:resp:" + s.id() }

func (s Scope) LockKey() string { return "lock:idem:" + s.id() }

type Store struct {
	client *redis.Client
	prefix string
}

func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Get reports found=false when nothing was stored under key.
func (s *Store) Get(ctx context.Context, key string) (*StoredResponse, bool, error) {
	if s == nil || s.client == nil {
		return nil, false, nil
	}
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out StoredResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

// Set stores v unless an outcome is already recorded; the first one wins.
func (s *Store) Set(ctx context.Context, key string, ttl time.Duration, v StoredResponse) error {
	if s == nil || s.client == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = s.client.SetArgs(ctx, s.prefix+key, raw, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// Fingerprint identifies the payload of a submission. A match submission is
// compared by content: field order, whitespace, padding of ids and the order
// of appearances do not change it. Other bodies are compared as canonical
// JSON, or verbatim when they are not JSON.
func Fingerprint(method, route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method) + "\n" + strings.TrimSpace(route) + "\n"))
	if fm, ok := decodeSubmission(body); ok {
		b, _ := json.Marshal(fm)
		h.Write(b)
	} else {
		h.Write(canonicalJSON(body))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func decodeSubmission(body []byte) (match.FullMatch, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var fm match.FullMatch
	if err := dec.Decode(&fm); err != nil || fm.TeamID == "" {
		return match.FullMatch{}, false
	}

	fm.TeamID = strings.TrimSpace(fm.TeamID)
	fm.OpponentName = strings.TrimSpace(fm.OpponentName)
	fm.Season = strings.TrimSpace(fm.Season)
	fm.PlayedAt = strings.TrimSpace(fm.PlayedAt)
	apps := make([]match.Appearance, len(fm.Appearances))
	for i, a := range fm.Appearances {
		apps[i] = match.Appearance{PlayerID: strings.TrimSpace(a.PlayerID), Goals: a.Goals}
	}
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].PlayerID != apps[j].PlayerID {
			return apps[i].PlayerID < apps[j].PlayerID
		}
		return apps[i].Goals < apps[j].Goals
	})
	fm.Appearances = apps
	return fm, true
}

func canonicalJSON(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return b
}

// IsFinal reports whether a response settles its submission. Auth failures,
// throttling and backend errors may succeed on retry and are not kept.
func IsFinal(status int) bool {
	if status >= 200 && status < 300 {
		return true
	}
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
