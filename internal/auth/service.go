package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/config"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/store"
)

// ErrInvalidCredentials is returned for an unknown username or wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

const minPasswordLength = 8

// Service registers users and issues tokens.
type Service struct {
	uow             store.UnitOfWork
	secret          []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	now             func() time.Time
}

func NewService(cfg config.Config, uow store.UnitOfWork) *Service {
	return &Service{
		uow:             uow,
		secret:          []byte(cfg.JWTSecret),
		accessTokenTTL:  cfg.AccessTokenTTL,
		refreshTokenTTL: cfg.RefreshTokenTTL,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// RegisterInput captures a new account.
type RegisterInput struct {
	Username string
	Password string
	IsAdmin  bool
}

// Register creates a user with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, in RegisterInput) (identity.User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if len(username) < 3 || len(username) > 32 {
		return identity.User{}, apperr.Invalid("username must be 3-32 characters")
	}
	if len(in.Password) < minPasswordLength {
		return identity.User{}, apperr.Invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return identity.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := identity.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      in.IsAdmin,
		CreatedAt:    s.now(),
	}
	user.UserID = user.ID
	user.SuccessRate = decimal.NewFromInt(100)
	user.Rating = decimal.Zero
	err = s.uow.WithinTx(ctx, func(tx store.Tx) error {
		return tx.Users().Create(ctx, user)
	})
	if err != nil {
		return identity.User{}, err
	}
	return user, nil
}

// TokenPair is returned on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login checks the password and issues a token pair.
func (s *Service) Login(ctx context.Context, username, password string) (identity.User, TokenPair, error) {
	var user identity.User
	err := s.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.Users().FindByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
		return err
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return identity.User{}, TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return identity.User{}, TokenPair{}, ErrInvalidCredentials
	}
	pair, err := s.issue(user)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	return user, pair, nil
}

func (s *Service) issue(user identity.User) (TokenPair, error) {
	now := s.now()
	access, err := signToken(s.secret, user.ID, user.IsAdmin, user.TokenVersion, tokenAccess, s.accessTokenTTL, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := signToken(s.secret, user.ID, user.IsAdmin, user.TokenVersion, tokenRefresh, s.refreshTokenTTL, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.accessTokenTTL.Seconds())}, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := ParseToken(refreshToken, s.secret)
	if err != nil || claims.Kind != tokenRefresh {
		return TokenPair{}, ErrInvalidToken
	}
	user, err := s.current(ctx, claims)
	if err != nil {
		return TokenPair{}, err
	}
	return s.issue(user)
}

// Authenticate verifies an access token and that it has not been revoked.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (identity.Actor, error) {
	claims, err := ParseToken(accessToken, s.secret)
	if err != nil || claims.Kind != tokenAccess {
		return identity.Actor{}, ErrInvalidToken
	}
	user, err := s.current(ctx, claims)
	if err != nil {
		return identity.Actor{}, err
	}
	return identity.Actor{UserID: user.ID, IsAdmin: user.IsAdmin}, nil
}

func (s *Service) current(ctx context.Context, claims *Claims) (identity.User, error) {
	user, err := s.Profile(ctx, claims.Subject)
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalidInput) {
		return identity.User{}, ErrInvalidToken
	}
	if err != nil {
		return identity.User{}, err
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, ErrInvalidToken
	}
	return user, nil
}

// Logout bumps the token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.uow.WithinTx(ctx, func(tx store.Tx) error {
		user, err := tx.Users().FindByID(ctx, userID)
		if err != nil {
			return err
		}
		return tx.Users().UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
	})
}

// Profile loads a user including reputation stats.
func (s *Service) Profile(ctx context.Context, userID string) (identity.User, error) {
	var user identity.User
	err := s.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.Users().FindByID(ctx, userID)
		return err
	})
	return user, err
}

// EnsureAdmin creates the bootstrap admin account unless the username exists.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	_, err := s.Register(ctx, RegisterInput{Username: username, Password: password, IsAdmin: true})
	if errors.Is(err, identity.ErrUsernameTaken) {
		return nil
	}
	return err
}
