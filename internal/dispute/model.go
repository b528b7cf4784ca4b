package dispute

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDuplicateDispute is returned when the trade already has a dispute.
	ErrDuplicateDispute = errors.New("dispute already exists for trade")
	// ErrAlreadyResolved is returned when resolving a dispute twice.
	ErrAlreadyResolved = errors.New("dispute already resolved")
	// ErrInvalidWinner is returned when the winner is not a party to the trade.
	ErrInvalidWinner = errors.New("winner is not a party to the trade")
)

// Status is the dispute lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// ParseStatus accepts the wire form of a dispute status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusResolved:
		return st, nil
	}
	return "", fmt.Errorf("unknown dispute status %q", s)
}

// Resolution names the side that won.
type Resolution string

const (
	ResolutionBuyer  Resolution = "buyer"
	ResolutionSeller Resolution = "seller"
)

// ParseResolution accepts buyer or seller. An empty string is allowed and
// means the side is derived from the winner.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(s))); r {
	case "", ResolutionBuyer, ResolutionSeller:
		return r, nil
	}
	return "", fmt.Errorf("unknown resolution %q", s)
}

// Dispute is at most one per trade.
type Dispute struct {
	ID          string
	TradeID     string
	UserID      string
	Reason      string
	Description string
	Status      Status
	Resolution  Resolution
	WinnerID    string
	ResolvedBy  string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// AdminNote is an append-only annotation on a dispute.
type AdminNote struct {
	ID        string
	DisputeID string
	AdminID   string
	Content   string
	CreatedAt time.Time
}
