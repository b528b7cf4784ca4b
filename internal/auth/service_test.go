package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/config"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/store"
)

func newService() *Service {
	cfg := config.Config{JWTSecret: "test-secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour}
	return NewService(cfg, store.NewMemory())
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Username: " Alice ", Password: "correct horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "alice" || user.IsAdmin {
		t.Fatalf("unexpected user %+v", user)
	}
	if _, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "another pass"}); !errors.Is(err, identity.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "whatever1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	_, pair, err := svc.Login(ctx, "ALICE", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	actor, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if actor.UserID != user.ID || actor.IsAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if _, err := svc.Authenticate(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not authenticate requests, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newService()
	if _, err := svc.Register(context.Background(), RegisterInput{Username: "al", Password: "long enough"}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short username, got %v", err)
	}
	if _, err := svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "short"}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
}

func TestLogoutRevokesTokens(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	user, _ := svc.Register(ctx, RegisterInput{Username: "bob", Password: "password123"})
	_, pair, err := svc.Login(ctx, "bob", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	for _, tok := range []string{pair.AccessToken, refreshed.AccessToken} {
		if _, err := svc.Authenticate(ctx, tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected revoked token, got %v", err)
		}
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	if err := svc.EnsureAdmin(ctx, "root", "rootpassword"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "root", "rootpassword"); err != nil {
		t.Fatalf("second ensure admin: %v", err)
	}
	_, pair, err := svc.Login(ctx, "root", "rootpassword")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	actor, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil || !actor.IsAdmin {
		t.Fatalf("expected admin actor, got %+v %v", actor, err)
	}
}

func TestParseTokenRejectsOtherSecret(t *testing.T) {
	tok, err := signToken([]byte("a"), "user", false, 0, tokenAccess, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(tok, []byte("b")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if ExtractBearer("Bearer abc") != "abc" || ExtractBearer("Basic abc") != "" {
		t.Fatal("unexpected bearer extraction")
	}
}
