package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/infra"
)

const defaultListLimit = 100

// Repository persists trades.
type Repository interface {
	Insert(ctx context.Context, t Trade) error
	Get(ctx context.Context, id string) (Trade, error)
	// GetForUpdate loads the trade and locks it for the rest of the unit of work.
	GetForUpdate(ctx context.Context, id string) (Trade, error)
	// Update writes t only if the stored status still equals expected,
	// returning ErrStaleState otherwise.
	Update(ctx context.Context, t Trade, expected Status) error
	List(ctx context.Context, f Filter) ([]Trade, error)
}

// PostgresRepository stores trades in PostgreSQL.
type PostgresRepository struct {
	db infra.DBTX
}

// NewPostgresRepository builds a repository bound to a transaction or pool.
func NewPostgresRepository(db infra.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tradeColumns = `id::text, type, amount::text, price::text, currency, payment_method, status,
	user_id::text, counterparty_id::text, escrow_funder_id::text, created_at, updated_at, completed_at, cancelled_at`

// Insert adds a new trade row.
func (r *PostgresRepository) Insert(ctx context.Context, t Trade) error {
	id, err := infra.ParseID("trade_id", t.ID)
	if err != nil {
		return err
	}
	creator, err := infra.ParseID("user_id", t.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO trades (id, type, amount, price, currency, payment_method, status, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, id, string(t.Type), t.Amount.String(), t.Price.String(), t.Currency, t.PaymentMethod, string(t.Status), creator, t.CreatedAt)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Trade, error) {
	return r.get(ctx, id, "")
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (Trade, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *PostgresRepository) get(ctx context.Context, id, lock string) (Trade, error) {
	tid, err := infra.ParseID("trade_id", id)
	if err != nil {
		return Trade{}, err
	}
	row := r.db.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`+lock, tid)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Trade{}, fmt.Errorf("trade %s: %w", id, apperr.ErrNotFound)
		}
		return Trade{}, err
	}
	return t, nil
}

func (r *PostgresRepository) Update(ctx context.Context, t Trade, expected Status) error {
	id, err := infra.ParseID("trade_id", t.ID)
	if err != nil {
		return err
	}
	counterparty, err := optionalID("counterparty_id", t.CounterpartyID)
	if err != nil {
		return err
	}
	funder, err := optionalID("escrow_funder_id", t.EscrowFunderID)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE trades
		SET status = $1, counterparty_id = $2, escrow_funder_id = $3,
		    updated_at = $4, completed_at = $5, cancelled_at = $6
		WHERE id = $7 AND status = $8
	`, string(t.Status), counterparty, funder, t.UpdatedAt, t.CompletedAt, t.CancelledAt, id, string(expected))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, t.ID); err != nil {
			return err
		}
		return ErrStaleState
	}
	return nil
}

// List runs one static, fully parameterized query; empty filter fields
// disable their predicate.
func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Trade, error) {
	user, err := optionalID("user_id", f.UserID)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE ($1::uuid IS NULL OR user_id = $1 OR counterparty_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR currency = $3)
		  AND ($4 = '' OR type = $4)
		ORDER BY created_at DESC
		LIMIT $5
	`, user, string(f.Status), f.Currency, string(f.Type), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(row pgx.Row) (Trade, error) {
	var (
		t                   Trade
		tradeType, status   string
		amountStr, priceStr string
		counterparty        *string
		funder              *string
		completedAt         *time.Time
		cancelledAt         *time.Time
	)
	if err := row.Scan(&t.ID, &tradeType, &amountStr, &priceStr, &t.Currency, &t.PaymentMethod, &status,
		&t.UserID, &counterparty, &funder, &t.CreatedAt, &t.UpdatedAt, &completedAt, &cancelledAt); err != nil {
		return Trade{}, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return Trade{}, fmt.Errorf("parse trade amount: %w", err)
	}
	if t.Price, err = decimal.NewFromString(priceStr); err != nil {
		return Trade{}, fmt.Errorf("parse trade price: %w", err)
	}
	t.Type = Type(tradeType)
	t.Status = Status(status)
	if counterparty != nil {
		t.CounterpartyID = *counterparty
	}
	if funder != nil {
		t.EscrowFunderID = *funder
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.CompletedAt = completedAt
	t.CancelledAt = cancelledAt
	return t, nil
}

func optionalID(field, id string) (*uuid.UUID, error) {
	if id == "" {
		return nil, nil
	}
	parsed, err := infra.ParseID(field, id)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
