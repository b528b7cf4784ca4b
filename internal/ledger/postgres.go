package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/infra"
)

// PostgresRepository persists balances in wallet_balances and the append-only
// log in transactions. It must be bound to a pgx.Tx for LockBalance to hold.
type PostgresRepository struct {
	db infra.DBTX
}

// NewPostgresRepository binds the repository to a transaction or pool.
func NewPostgresRepository(db infra.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LockBalance creates the row lazily and then takes a row lock on it.
func (r *PostgresRepository) LockBalance(ctx context.Context, userID, currency string) (Balance, error) {
	uid, err := infra.ParseID("user_id", userID)
	if err != nil {
		return Balance{}, err
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO wallet_balances (user_id, currency, amount, updated_at)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (user_id, currency) DO NOTHING
	`, uid, currency); err != nil {
		return Balance{}, err
	}

	var amountStr string
	var updatedAt time.Time
	if err := r.db.QueryRow(ctx, `
		SELECT amount::text, updated_at
		FROM wallet_balances
		WHERE user_id = $1 AND currency = $2
		FOR UPDATE
	`, uid, currency).Scan(&amountStr, &updatedAt); err != nil {
		return Balance{}, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return Balance{}, fmt.Errorf("parse balance: %w", err)
	}
	return Balance{UserID: userID, Currency: currency, Amount: amount, UpdatedAt: updatedAt.UTC()}, nil
}

func (r *PostgresRepository) SaveBalance(ctx context.Context, balance Balance) error {
	uid, err := infra.ParseID("user_id", balance.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		UPDATE wallet_balances
		SET amount = $1, updated_at = $2
		WHERE user_id = $3 AND currency = $4
	`, balance.Amount.String(), balance.UpdatedAt, uid, balance.Currency)
	return err
}

func (r *PostgresRepository) AppendTransaction(ctx context.Context, tx Transaction) error {
	uid, err := infra.ParseID("user_id", tx.UserID)
	if err != nil {
		return err
	}
	txID, err := infra.ParseID("transaction_id", tx.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, currency, reference, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, txID, uid, string(tx.Type), tx.Amount.String(), tx.Currency, tx.Reference, tx.Details, tx.CreatedAt)
	return err
}

func (r *PostgresRepository) Balances(ctx context.Context, userID string) ([]Balance, error) {
	uid, err := infra.ParseID("user_id", userID)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT currency, amount::text, updated_at
		FROM wallet_balances
		WHERE user_id = $1
		ORDER BY currency
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var (
			b         Balance
			amountStr string
		)
		if err := rows.Scan(&b.Currency, &amountStr, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if b.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse balance: %w", err)
		}
		b.UserID = userID
		b.UpdatedAt = b.UpdatedAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	uid, err := infra.ParseID("user_id", userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, type, amount::text, currency, reference, details, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			tx        Transaction
			txType    string
			amountStr string
		)
		if err := rows.Scan(&tx.ID, &txType, &amountStr, &tx.Currency, &tx.Reference, &tx.Details, &tx.CreatedAt); err != nil {
			return nil, err
		}
		if tx.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse transaction amount: %w", err)
		}
		tx.UserID = userID
		tx.Type = TxType(txType)
		tx.CreatedAt = tx.CreatedAt.UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) TransactionTotals(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	uid, err := infra.ParseID("user_id", userID)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT currency, COALESCE(SUM(amount), 0)::text
		FROM transactions
		WHERE user_id = $1
		GROUP BY currency
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var currency, sumStr string
		if err := rows.Scan(&currency, &sumStr); err != nil {
			return nil, err
		}
		sum, err := decimal.NewFromString(sumStr)
		if err != nil {
			return nil, fmt.Errorf("parse transaction total: %w", err)
		}
		totals[currency] = sum
	}
	return totals, rows.Err()
}
