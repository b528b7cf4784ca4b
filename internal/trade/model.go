package trade

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTradeState is returned when an operation is not legal from the
	// trade's current status.
	ErrInvalidTradeState = errors.New("invalid trade state")

	// ErrStaleState is returned when the stored status no longer matches the
	// status the caller observed.
	ErrStaleState = errors.New("stale trade state")

	// ErrTerminalState is returned for any transition out of completed or cancelled.
	ErrTerminalState = errors.New("trade is in a terminal state")

	// ErrNotJoinable is returned when a counterparty cannot join the trade.
	ErrNotJoinable = errors.New("trade is not joinable")
)

// Type is the creator's side of the trade.
type Type string

const (
	TypeBuy  Type = "buy"
	TypeSell Type = "sell"
)

// ParseType validates a trade side.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeBuy:
		return TypeBuy, nil
	case TypeSell:
		return TypeSell, nil
	}
	return "", fmt.Errorf("unknown trade type %q", s)
}

// Status is the lifecycle state of a trade.
type Status string

const (
	StatusOpen      Status = "open"
	StatusPending   Status = "pending"
	StatusInEscrow  Status = "in_escrow"
	StatusCompleted Status = "completed"
	StatusDisputed  Status = "disputed"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusOpen, StatusPending, StatusInEscrow, StatusCompleted, StatusDisputed, StatusCancelled}

// ParseStatus validates a status string. The legacy "active" listing state is
// folded into open.
func ParseStatus(s string) (Status, error) {
	if s == "active" {
		return StatusOpen, nil
	}
	for _, st := range Statuses {
		if Status(s) == st {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown trade status %q", s)
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanHoldEscrow reports whether funds may be locked against a trade in s.
func (s Status) CanHoldEscrow() bool {
	switch s {
	case StatusPending, StatusInEscrow, StatusDisputed:
		return true
	case StatusOpen, StatusCompleted, StatusCancelled:
		return false
	}
	return false
}

// successors is the authoritative transition table.
func successors(s Status) []Status {
	switch s {
	case StatusOpen:
		return []Status{StatusPending, StatusInEscrow, StatusCancelled}
	case StatusPending:
		return []Status{StatusInEscrow, StatusDisputed, StatusCancelled}
	case StatusInEscrow:
		return []Status{StatusCompleted, StatusDisputed, StatusCancelled}
	case StatusDisputed:
		return []Status{StatusCompleted, StatusCancelled}
	case StatusCompleted, StatusCancelled:
		return nil
	}
	return nil
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range successors(from) {
		if next == to {
			return true
		}
	}
	return false
}

// Trade is a listing and, once joined, the agreement between two parties.
// The escrow funder is recorded so refunds always return to whoever paid.
type Trade struct {
	ID             string
	Type           Type
	Amount         decimal.Decimal
	Price          decimal.Decimal
	Currency       string
	PaymentMethod  string
	Status         Status
	UserID         string
	CounterpartyID string
	EscrowFunderID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
	CancelledAt    *time.Time
}

// IsParty reports whether userID is the creator or the counterparty.
func (t Trade) IsParty(userID string) bool {
	return userID != "" && (userID == t.UserID || userID == t.CounterpartyID)
}

// SellerID is the party expected to fund escrow; empty while unknown.
func (t Trade) SellerID() string {
	if t.Type == TypeSell {
		return t.UserID
	}
	return t.CounterpartyID
}

// BuyerID is the party that receives the escrowed amount on completion.
func (t Trade) BuyerID() string {
	if t.Type == TypeSell {
		return t.CounterpartyID
	}
	return t.UserID
}

// Funded reports whether an escrow debit is currently recorded for the trade.
func (t Trade) Funded() bool {
	return t.EscrowFunderID != ""
}

// Filter selects trades by zero or more fields; zero values match everything.
// UserID matches either party.
type Filter struct {
	UserID   string
	Status   Status
	Currency string
	Type     Type
	Limit    int
}

func (f Filter) matches(t Trade) bool {
	if f.UserID != "" && t.UserID != f.UserID && t.CounterpartyID != f.UserID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Currency != "" && t.Currency != f.Currency {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	return true
}
