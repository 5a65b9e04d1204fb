package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: sub}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestProviderResolutionOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fileTok := signed(t, "file-user", now.Add(time.Hour))
	staticTok := signed(t, "static-user", now.Add(time.Hour))
	reqTok := signed(t, "request-user", now.Add(time.Hour))

	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(fileTok+"\n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	tests := []struct {
		name    string
		static  string
		file    string
		request string
		wantSub string
		wantErr error
	}{
		{name: "nothing", wantErr: ErrNoSession},
		{name: "file only", file: path, wantSub: "file-user"},
		{name: "static beats file", static: staticTok, file: path, wantSub: "static-user"},
		{name: "request beats static", static: staticTok, request: reqTok, wantSub: "request-user"},
		{name: "missing file", file: filepath.Join(t.TempDir(), "nope"), wantErr: ErrNoSession},
		{name: "garbage", static: "not-a-jwt", wantErr: ErrInvalidSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.static, tt.file, time.Minute)
			p.now = func() time.Time { return now }

			ctx := context.Background()
			if tt.request != "" {
				ctx = WithToken(ctx, tt.request)
			}
			s, err := p.Current(ctx)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v want=%v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if s.Subject != tt.wantSub {
				t.Fatalf("subject=%q want=%q", s.Subject, tt.wantSub)
			}
		})
	}
}

func TestProviderExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := NewProvider(signed(t, "u1", now.Add(-30*time.Second)), "", time.Minute)
	p.now = func() time.Time { return now }
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("token within leeway should pass: %v", err)
	}

	p = NewProvider(signed(t, "u1", now.Add(-2*time.Minute)), "", time.Minute)
	p.now = func() time.Time { return now }
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	p = NewProvider(signed(t, "u1", time.Time{}), "", time.Minute)
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("token without exp should pass: %v", err)
	}
}

func TestProviderRequiresSubject(t *testing.T) {
	p := NewProvider(signed(t, "", time.Time{}), "", 0)
	if _, err := p.Current(context.Background()); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}
