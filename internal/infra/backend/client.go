// Package backend talks to the fives REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"fives-agent/internal/config"
	"fives-agent/internal/domain/match"
)

// TokenSource yields the bearer token for a request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

// Temporary reports whether retrying later could succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Client struct {
	baseURL *url.URL
	reads   *retryablehttp.Client
	writes  *retryablehttp.Client
	tokens  TokenSource
}

func NewClient(cfg config.BackendConfig, tokens TokenSource, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", cfg.BaseURL)
	}

	return &Client{
		baseURL: u,
		reads:   newRetryClient(cfg, cfg.RetryMax, logger),
		writes:  newRetryClient(cfg, 0, logger),
		tokens:  tokens,
	}, nil
}

// Writes are never retried: a lost response to POST /matches/full must not
// turn into two logged matches.
func newRetryClient(cfg config.BackendConfig, retryMax int, logger *slog.Logger) *retryablehttp.Client {
	r := retryablehttp.NewClient()
	r.RetryMax = retryMax
	r.HTTPClient.Timeout = cfg.Timeout
	r.Logger = nil
	if logger != nil {
		r.Logger = logger
	}
	// Return the last response instead of a generic "giving up" error so the
	// caller can read the backend's detail message.
	r.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return r
}

// ListMatches returns all matches visible to the session.
func (c *Client) ListMatches(ctx context.Context) ([]match.Match, error) {
	var out []match.Match
	if err := c.do(ctx, http.MethodGet, "/matches/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateFullMatch(ctx context.Context, m match.FullMatch) (match.Created, error) {
	var out match.Created
	if err := c.do(ctx, http.MethodPost, "/matches/full", nil, m, &out); err != nil {
		return match.Created{}, err
	}
	return out, nil
}

// GenerateStats asks the backend to rebuild statistics for teamID, or for all
// teams when teamID is empty.
func (c *Client) GenerateStats(ctx context.Context, teamID string) error {
	q := url.Values{}
	if teamID != "" {
		q.Set("team_id", teamID)
	}
	return c.do(ctx, http.MethodPost, "/stats/generate", q, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if c.tokens == nil {
		return errors.New("backend: token source is nil")
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID(ctx))
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := c.reads
	if method != http.MethodGet {
		hc = c.writes
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func requestID(ctx context.Context) string {
	if id := chiMiddleware.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Detail != nil {
		if s, ok := payload.Detail.(string); ok {
			return s
		}
		b, _ := json.Marshal(payload.Detail)
		return string(b)
	}
	return strings.TrimSpace(string(raw))
}
