package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/infra"
)

// Repository persists users and their reputation stats.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	// LockStats loads the reputation fields and locks the user row.
	LockStats(ctx context.Context, id string) (Stats, error)
	SaveStats(ctx context.Context, stats Stats) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db infra.DBTX
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db infra.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id::text, username, password_hash, is_admin, token_version, created_at,
	completed_trades, disputes_lost, success_rate::text, rating::text, rating_count`

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := infra.ParseID("user_id", user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, username, password_hash, is_admin, created_at)
        VALUES ($1, $2, $3, $4, $5)`, userID, user.Username, user.PasswordHash, user.IsAdmin, user.CreatedAt.UTC())
	if infra.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	return err
}

// FindByUsername fetches a user by login name.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := infra.ParseID("user_id", id)
	if err != nil {
		return User{}, err
	}
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (User, error) {
	var (
		user                  User
		successStr, ratingStr string
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin,
		&user.TokenVersion, &user.CreatedAt, &user.CompletedTrades, &user.DisputesLost, &successStr, &ratingStr, &user.RatingCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("user: %w", apperr.ErrNotFound)
		}
		return User{}, err
	}
	if user.SuccessRate, err = decimal.NewFromString(successStr); err != nil {
		return User{}, fmt.Errorf("parse success rate: %w", err)
	}
	if user.Rating, err = decimal.NewFromString(ratingStr); err != nil {
		return User{}, fmt.Errorf("parse rating: %w", err)
	}
	user.UserID = user.ID
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

// UpdateTokenVersion invalidates previously issued tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	userID, err := infra.ParseID("user_id", id)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET token_version = $1 WHERE id = $2`, version, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("user: %w", apperr.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) LockStats(ctx context.Context, id string) (Stats, error) {
	userID, err := infra.ParseID("user_id", id)
	if err != nil {
		return Stats{}, err
	}
	var (
		stats                 Stats
		successStr, ratingStr string
	)
	err = r.db.QueryRow(ctx, `
		SELECT completed_trades, disputes_lost, success_rate::text, rating::text, rating_count
		FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&stats.CompletedTrades, &stats.DisputesLost, &successStr, &ratingStr, &stats.RatingCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stats{}, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
		}
		return Stats{}, err
	}
	if stats.SuccessRate, err = decimal.NewFromString(successStr); err != nil {
		return Stats{}, fmt.Errorf("parse success rate: %w", err)
	}
	if stats.Rating, err = decimal.NewFromString(ratingStr); err != nil {
		return Stats{}, fmt.Errorf("parse rating: %w", err)
	}
	stats.UserID = id
	return stats, nil
}

func (r *PostgresRepository) SaveStats(ctx context.Context, stats Stats) error {
	userID, err := infra.ParseID("user_id", stats.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		UPDATE users
		SET completed_trades = $1, disputes_lost = $2, success_rate = $3, rating = $4, rating_count = $5, updated_at = $6
		WHERE id = $7
	`, stats.CompletedTrades, stats.DisputesLost, stats.SuccessRate.String(), stats.Rating.String(), stats.RatingCount, time.Now().UTC(), userID)
	return err
}
