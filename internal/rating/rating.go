package rating

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/infra"
)

var (
	// ErrNotRatable is returned when the trade is not completed or the rater
	// is not a party to it.
	ErrNotRatable = errors.New("trade cannot be rated")
	// ErrAlreadyRated is returned on a second rating for the same trade and rater.
	ErrAlreadyRated = errors.New("trade already rated by user")
)

const (
	MinScore = 1
	MaxScore = 5
)

// Rating is one party's score for the other party of a completed trade.
type Rating struct {
	ID        string
	TradeID   string
	RaterID   string
	RatedID   string
	Score     int
	Comment   string
	CreatedAt time.Time
}

// Summary aggregates every rating a user has received.
type Summary struct {
	Average decimal.Decimal
	Count   int
}

// Repository persists ratings.
type Repository interface {
	// Insert fails with ErrAlreadyRated on a duplicate (trade, rater) pair.
	Insert(ctx context.Context, r Rating) error
	ListByRated(ctx context.Context, userID string) ([]Rating, error)
	Summarize(ctx context.Context, userID string) (Summary, error)
}

// PostgresRepository stores ratings in PostgreSQL.
type PostgresRepository struct {
	db infra.DBTX
}

func NewPostgresRepository(db infra.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rt Rating) error {
	id, err := infra.ParseID("rating_id", rt.ID)
	if err != nil {
		return err
	}
	tradeID, err := infra.ParseID("trade_id", rt.TradeID)
	if err != nil {
		return err
	}
	rater, err := infra.ParseID("rater_id", rt.RaterID)
	if err != nil {
		return err
	}
	rated, err := infra.ParseID("rated_id", rt.RatedID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO ratings (id, trade_id, rater_id, rated_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, tradeID, rater, rated, rt.Score, rt.Comment, rt.CreatedAt)
	if infra.IsUniqueViolation(err) {
		return ErrAlreadyRated
	}
	return err
}

func (r *PostgresRepository) ListByRated(ctx context.Context, userID string) ([]Rating, error) {
	rated, err := infra.ParseID("user_id", userID)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, trade_id::text, rater_id::text, rated_id::text, rating, comment, created_at
		FROM ratings WHERE rated_id = $1
		ORDER BY created_at DESC
	`, rated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rating
	for rows.Next() {
		var rt Rating
		if err := rows.Scan(&rt.ID, &rt.TradeID, &rt.RaterID, &rt.RatedID, &rt.Score, &rt.Comment, &rt.CreatedAt); err != nil {
			return nil, err
		}
		rt.CreatedAt = rt.CreatedAt.UTC()
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Summarize(ctx context.Context, userID string) (Summary, error) {
	rated, err := infra.ParseID("user_id", userID)
	if err != nil {
		return Summary{}, err
	}
	var (
		avg string
		s   Summary
	)
	err = r.db.QueryRow(ctx, `
		SELECT COALESCE(ROUND(AVG(rating)::numeric, 2), 0)::text, COUNT(*)
		FROM ratings WHERE rated_id = $1
	`, rated).Scan(&avg, &s.Count)
	if err != nil {
		return Summary{}, err
	}
	if s.Average, err = decimal.NewFromString(avg); err != nil {
		return Summary{}, fmt.Errorf("parse average: %w", err)
	}
	return s, nil
}

// MemoryRepository keeps ratings in memory.
type MemoryRepository struct {
	ratings []Rating
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Clone returns an independent copy.
func (r *MemoryRepository) Clone() *MemoryRepository {
	return &MemoryRepository{ratings: append([]Rating(nil), r.ratings...)}
}

func (r *MemoryRepository) Insert(_ context.Context, rt Rating) error {
	for _, existing := range r.ratings {
		if existing.TradeID == rt.TradeID && existing.RaterID == rt.RaterID {
			return ErrAlreadyRated
		}
	}
	r.ratings = append(r.ratings, rt)
	return nil
}

func (r *MemoryRepository) ListByRated(_ context.Context, userID string) ([]Rating, error) {
	var out []Rating
	for _, rt := range r.ratings {
		if rt.RatedID == userID {
			out = append(out, rt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Summarize(ctx context.Context, userID string) (Summary, error) {
	list, _ := r.ListByRated(ctx, userID)
	return Summarize(list), nil
}

// Summarize computes the arithmetic mean of the scores, rounded to two places.
func Summarize(ratings []Rating) Summary {
	if len(ratings) == 0 {
		return Summary{Average: decimal.Zero}
	}
	var total int64
	for _, rt := range ratings {
		total += int64(rt.Score)
	}
	avg := decimal.NewFromInt(total).Div(decimal.NewFromInt(int64(len(ratings)))).Round(2)
	return Summary{Average: avg, Count: len(ratings)}
}
