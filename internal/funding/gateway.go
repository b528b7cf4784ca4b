package funding

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway represents the external settlement rail for deposits and payouts.
type Gateway interface {
	AuthorizeDeposit(ctx context.Context, input DepositAuthorization) (Decision, error)
	AuthorizeWithdrawal(ctx context.Context, input WithdrawalAuthorization) (Decision, error)
}

// Decision captures the simulated response from the gateway.
type Decision struct {
	Reference string
	Status    string
}

// DepositAuthorization describes an incoming transfer.
type DepositAuthorization struct {
	UserID    string
	Currency  string
	Amount    decimal.Decimal
	Reference string
}

// WithdrawalAuthorization describes a payout to an external address.
type WithdrawalAuthorization struct {
	UserID   string
	Currency string
	Amount   decimal.Decimal
	Address  string
}

// StaticGateway approves every request with a synthetic reference.
type StaticGateway struct{}

func (StaticGateway) AuthorizeDeposit(_ context.Context, _ DepositAuthorization) (Decision, error) {
	return Decision{Reference: uuid.NewString(), Status: "approved"}, nil
}

func (StaticGateway) AuthorizeWithdrawal(_ context.Context, _ WithdrawalAuthorization) (Decision, error) {
	return Decision{Reference: uuid.NewString(), Status: "approved"}, nil
}
