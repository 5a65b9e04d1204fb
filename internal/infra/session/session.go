// Package session resolves the bearer token of the active auth session.
//
// Tokens are issued by the external auth provider. They are inspected without
// signature verification to read the subject and expiry; the backend remains
// the only party that verifies them.
package session

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSession      = errors.New("session: no active session")
	ErrInvalidSession = errors.New("session: malformed token")
	ErrSessionExpired = errors.New("session: token expired")
)

type ctxKey struct{}

type Session struct {
	Token     string
	Subject   string
	ExpiresAt time.Time
}

// WithToken stores the bearer token of an inbound request in ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

func TokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

type Provider struct {
	staticToken string
	tokenFile   string
	leeway      time.Duration
	now         func() time.Time
}

func NewProvider(staticToken, tokenFile string, leeway time.Duration) *Provider {
	return &Provider{
		staticToken: strings.TrimSpace(staticToken),
		tokenFile:   tokenFile,
		leeway:      leeway,
		now:         time.Now,
	}
}

// Token returns the bearer token to use for backend calls made on behalf of ctx.
func (p *Provider) Token(ctx context.Context) (string, error) {
	s, err := p.Current(ctx)
	if err != nil {
		return "", err
	}
	return s.Token, nil
}

// Current resolves the session: request token first, then the configured
// token, then the token file. The file is re-read on every call so an
// external login flow can rotate it.
func (p *Provider) Current(ctx context.Context) (Session, error) {
	token, ok := TokenFromContext(ctx)
	if !ok && p != nil {
		token = p.staticToken
		if token == "" && p.tokenFile != "" {
			raw, err := os.ReadFile(p.tokenFile)
			if err == nil {
				token = strings.TrimSpace(string(raw))
			}
		}
	}
	if token == "" {
		return Session{}, ErrNoSession
	}
	return p.inspect(token)
}

func (p *Provider) inspect(token string) (Session, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Session{}, ErrInvalidSession
	}
	if claims.Subject == "" {
		return Session{}, ErrInvalidSession
	}

	s := Session{Token: token, Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
		now := time.Now
		var leeway time.Duration
		if p != nil {
			now = p.now
			leeway = p.leeway
		}
		if now().After(s.ExpiresAt.Add(leeway)) {
			return Session{}, ErrSessionExpired
		}
	}
	return s, nil
}
