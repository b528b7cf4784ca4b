package identity

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUsernameTaken is returned when registering an existing username.
var ErrUsernameTaken = errors.New("username already taken")

// User is a marketplace participant. Reputation fields are written only by
// the reputation updater inside a trade or dispute unit of work.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	IsAdmin      bool
	TokenVersion int
	CreatedAt    time.Time
	Stats
}

// Stats is the reputation snapshot attached to a user.
type Stats struct {
	UserID          string
	CompletedTrades int
	DisputesLost    int
	SuccessRate     decimal.Decimal
	Rating          decimal.Decimal
	RatingCount     int
}

// RecomputeSuccessRate sets SuccessRate to the share of completed trades among
// completed trades plus lost disputes, as a percentage with two decimals.
func (s *Stats) RecomputeSuccessRate() {
	total := s.CompletedTrades + s.DisputesLost
	if total == 0 {
		s.SuccessRate = decimal.NewFromInt(100)
		return
	}
	s.SuccessRate = decimal.NewFromInt(int64(s.CompletedTrades)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(2)
}

// Actor is the verified caller of an operation.
type Actor struct {
	UserID  string
	IsAdmin bool
}
