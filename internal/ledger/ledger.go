package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/apperr"
)

// ErrInsufficientFunds occurs when a debit would take a balance below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

// TxType classifies a ledger transaction.
type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
	TxTrade      TxType = "trade"
	TxEscrow     TxType = "escrow"
)

// Valid reports whether t is one of the known transaction types.
func (t TxType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTrade, TxEscrow:
		return true
	}
	return false
}

// Balance is the running amount a user holds in one currency.
type Balance struct {
	UserID    string
	Currency  string
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// Transaction is an append-only ledger row. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID        string
	UserID    string
	Type      TxType
	Amount    decimal.Decimal
	Currency  string
	Reference string
	Details   string
	CreatedAt time.Time
}

// Posting describes a single credit or debit request. Amount is always positive.
type Posting struct {
	UserID    string
	Currency  string
	Amount    decimal.Decimal
	Type      TxType
	Reference string
	Details   string
}

// PostingResult captures the outcome of a credit or debit.
type PostingResult struct {
	Transaction Transaction
	Balance     Balance
}

// Discrepancy reports a currency whose balance row disagrees with its transaction log.
type Discrepancy struct {
	Currency     string
	Balance      decimal.Decimal
	Transactions decimal.Decimal
}

// Repository is the storage contract for balances and transactions. Callers
// obtain one scoped to a unit of work; LockBalance must hold the row until the
// unit commits or rolls back.
type Repository interface {
	// LockBalance returns the balance row for update, creating a zero row when
	// none exists yet.
	LockBalance(ctx context.Context, userID, currency string) (Balance, error)
	SaveBalance(ctx context.Context, balance Balance) error
	AppendTransaction(ctx context.Context, tx Transaction) error
	Balances(ctx context.Context, userID string) ([]Balance, error)
	Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
	TransactionTotals(ctx context.Context, userID string) (map[string]decimal.Decimal, error)
}

// Ledger applies postings so that every balance change has exactly one
// matching transaction row.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// New wraps a transaction-scoped repository.
func New(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Credit increases the balance and appends a positive transaction.
func (l *Ledger) Credit(ctx context.Context, p Posting) (PostingResult, error) {
	return l.post(ctx, p, false)
}

// Debit decreases the balance and appends a negative transaction. It fails
// with ErrInsufficientFunds when the amount exceeds the current balance.
func (l *Ledger) Debit(ctx context.Context, p Posting) (PostingResult, error) {
	return l.post(ctx, p, true)
}

func (l *Ledger) post(ctx context.Context, p Posting, debit bool) (PostingResult, error) {
	currency, err := validatePosting(&p)
	if err != nil {
		return PostingResult{}, err
	}

	bal, err := l.repo.LockBalance(ctx, p.UserID, currency)
	if err != nil {
		return PostingResult{}, fmt.Errorf("lock balance: %w", err)
	}

	signed := p.Amount
	if debit {
		if bal.Amount.LessThan(p.Amount) {
			return PostingResult{}, ErrInsufficientFunds
		}
		signed = p.Amount.Neg()
	}

	now := l.now()
	bal.UserID = p.UserID
	bal.Currency = currency
	bal.Amount = bal.Amount.Add(signed)
	bal.UpdatedAt = now

	tx := Transaction{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		Type:      p.Type,
		Amount:    signed,
		Currency:  currency,
		Reference: p.Reference,
		Details:   p.Details,
		CreatedAt: now,
	}

	if err := l.repo.SaveBalance(ctx, bal); err != nil {
		return PostingResult{}, fmt.Errorf("save balance: %w", err)
	}
	if err := l.repo.AppendTransaction(ctx, tx); err != nil {
		return PostingResult{}, fmt.Errorf("append transaction: %w", err)
	}
	return PostingResult{Transaction: tx, Balance: bal}, nil
}

// Balance returns the user's balance in currency, zero when never credited.
func (l *Ledger) Balance(ctx context.Context, userID, currency string) (Balance, error) {
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return Balance{}, err
	}
	balances, err := l.repo.Balances(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	for _, b := range balances {
		if b.Currency == code {
			return b, nil
		}
	}
	return Balance{UserID: userID, Currency: code, Amount: decimal.Zero}, nil
}

// Balances lists every currency the user holds, ordered by currency code.
func (l *Ledger) Balances(ctx context.Context, userID string) ([]Balance, error) {
	return l.repo.Balances(ctx, userID)
}

// Transactions lists the user's transactions newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	return l.repo.Transactions(ctx, userID, limit)
}

// Reconcile compares every balance with the signed sum of its transactions.
// An empty result means the ledger is consistent for userID.
func (l *Ledger) Reconcile(ctx context.Context, userID string) ([]Discrepancy, error) {
	balances, err := l.repo.Balances(ctx, userID)
	if err != nil {
		return nil, err
	}
	totals, err := l.repo.TransactionTotals(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []Discrepancy
	seen := make(map[string]bool, len(balances))
	for _, b := range balances {
		seen[b.Currency] = true
		sum := totals[b.Currency]
		if !b.Amount.Equal(sum) {
			out = append(out, Discrepancy{Currency: b.Currency, Balance: b.Amount, Transactions: sum})
		}
	}
	for currency, sum := range totals {
		if !seen[currency] && !sum.IsZero() {
			out = append(out, Discrepancy{Currency: currency, Balance: decimal.Zero, Transactions: sum})
		}
	}
	return out, nil
}

// NormalizeCurrency upper-cases a currency code and checks its shape.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < 2 || len(code) > 10 {
		return "", apperr.Invalid("currency must be 2-10 characters")
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", apperr.Invalid("currency must be alphanumeric")
		}
	}
	return code, nil
}

func validatePosting(p *Posting) (string, error) {
	if p.UserID == "" {
		return "", apperr.Invalid("user id is required")
	}
	if !p.Type.Valid() {
		return "", apperr.Invalid(fmt.Sprintf("unknown transaction type %q", p.Type))
	}
	if !p.Amount.IsPositive() {
		return "", apperr.Invalid("amount must be positive")
	}
	return NormalizeCurrency(p.Currency)
}
