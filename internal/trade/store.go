package trade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/ledger"
)

// Store enforces the trade state machine on top of a Repository. Build one
// per unit of work so every check and write shares the same transaction.
type Store struct {
	repo Repository
	now  func() time.Time
}

// NewStore wraps a transaction-scoped repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// CreateInput captures a new listing.
type CreateInput struct {
	Type          Type
	Amount        decimal.Decimal
	Price         decimal.Decimal
	Currency      string
	PaymentMethod string
	UserID        string
}

// Create lists a new trade in the open state.
func (s *Store) Create(ctx context.Context, in CreateInput) (Trade, error) {
	if in.UserID == "" {
		return Trade{}, apperr.Invalid("creator is required")
	}
	if _, err := ParseType(string(in.Type)); err != nil {
		return Trade{}, apperr.Invalid(err.Error())
	}
	if !in.Amount.IsPositive() {
		return Trade{}, apperr.Invalid("amount must be positive")
	}
	if !in.Price.IsPositive() {
		return Trade{}, apperr.Invalid("price must be positive")
	}
	currency, err := ledger.NormalizeCurrency(in.Currency)
	if err != nil {
		return Trade{}, err
	}

	now := s.now()
	t := Trade{
		ID:            uuid.NewString(),
		Type:          in.Type,
		Amount:        in.Amount,
		Price:         in.Price,
		Currency:      currency,
		PaymentMethod: strings.TrimSpace(in.PaymentMethod),
		Status:        StatusOpen,
		UserID:        in.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, t); err != nil {
		return Trade{}, fmt.Errorf("insert trade: %w", err)
	}
	return t, nil
}

// Join attaches a counterparty to an open trade and moves it to pending.
func (s *Store) Join(ctx context.Context, tradeID, counterpartyID string) (Trade, error) {
	t, err := s.repo.GetForUpdate(ctx, tradeID)
	if err != nil {
		return Trade{}, err
	}
	if counterpartyID == "" || counterpartyID == t.UserID {
		return Trade{}, fmt.Errorf("%w: counterparty must differ from creator", ErrNotJoinable)
	}
	if t.Status != StatusOpen {
		return Trade{}, fmt.Errorf("%w: trade is %s", ErrNotJoinable, t.Status)
	}

	t.CounterpartyID = counterpartyID
	t.Status = StatusPending
	t.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, t, StatusOpen); err != nil {
		return Trade{}, err
	}
	return t, nil
}

// TransitionStatus moves the trade from expected to next with compare-and-swap
// semantics. Optional mutators run before the write.
func (s *Store) TransitionStatus(ctx context.Context, tradeID string, next, expected Status, mutators ...func(*Trade)) (Trade, error) {
	t, err := s.repo.GetForUpdate(ctx, tradeID)
	if err != nil {
		return Trade{}, err
	}
	if err := CheckTransition(t.Status, next, expected); err != nil {
		return Trade{}, err
	}

	now := s.now()
	t.Status = next
	t.UpdatedAt = now
	switch next {
	case StatusCompleted:
		t.CompletedAt = &now
	case StatusCancelled:
		t.CancelledAt = &now
	case StatusOpen, StatusPending, StatusInEscrow, StatusDisputed:
	}
	for _, m := range mutators {
		m(&t)
	}
	if err := s.repo.Update(ctx, t, expected); err != nil {
		return Trade{}, err
	}
	return t, nil
}

// CheckTransition validates a requested move against the stored status.
func CheckTransition(current, next, expected Status) error {
	if current != expected {
		if current.Terminal() {
			return fmt.Errorf("%w: trade is %s", ErrTerminalState, current)
		}
		return fmt.Errorf("%w: expected %s, found %s", ErrStaleState, expected, current)
	}
	if current.Terminal() {
		return fmt.Errorf("%w: trade is %s", ErrTerminalState, current)
	}
	if !CanTransition(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTradeState, current, next)
	}
	return nil
}

// Get loads a trade without locking it.
func (s *Store) Get(ctx context.Context, tradeID string) (Trade, error) {
	return s.repo.Get(ctx, tradeID)
}

// Lock loads a trade and holds its row lock for the unit of work.
func (s *Store) Lock(ctx context.Context, tradeID string) (Trade, error) {
	return s.repo.GetForUpdate(ctx, tradeID)
}

// List returns trades matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Trade, error) {
	if f.Currency != "" {
		code, err := ledger.NormalizeCurrency(f.Currency)
		if err != nil {
			return nil, err
		}
		f.Currency = code
	}
	return s.repo.List(ctx, f)
}
