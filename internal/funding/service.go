package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/metrics"
	"github.com/congo-pay/p2p_market/internal/store"
)

// ErrDeclined is returned when the gateway refuses a request.
var ErrDeclined = errors.New("declined by settlement gateway")

// Service coordinates deposits and withdrawals using the ledger and the gateway.
type Service struct {
	uow     store.UnitOfWork
	gateway Gateway
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService prepares a funding service. A nil gateway uses StaticGateway.
func NewService(uow store.UnitOfWork, gateway Gateway, m *metrics.Metrics, logger *slog.Logger) *Service {
	if gateway == nil {
		gateway = StaticGateway{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{uow: uow, gateway: gateway, metrics: m, logger: logger}
}

// DepositInput captures a deposit.
type DepositInput struct {
	UserID    string
	Currency  string
	Amount    decimal.Decimal
	Reference string
}

// WithdrawInput captures a withdrawal.
type WithdrawInput struct {
	UserID   string
	Currency string
	Amount   decimal.Decimal
	Address  string
}

// Result represents the outcome of a funding operation.
type Result struct {
	TransactionID    string
	Currency         string
	Balance          decimal.Decimal
	GatewayReference string
	CompletedAt      time.Time
}

// Deposit authorizes the incoming transfer and credits the user.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (Result, error) {
	currency, err := ledger.NormalizeCurrency(in.Currency)
	if err != nil {
		return Result{}, err
	}
	if !in.Amount.IsPositive() {
		return Result{}, apperr.Invalid("amount must be positive")
	}

	decision, err := s.gateway.AuthorizeDeposit(ctx, DepositAuthorization{
		UserID: in.UserID, Currency: currency, Amount: in.Amount, Reference: in.Reference,
	})
	if err != nil {
		return Result{}, err
	}
	if decision.Status != "approved" {
		return Result{}, fmt.Errorf("%w: %s", ErrDeclined, decision.Status)
	}

	reference := strings.TrimSpace(in.Reference)
	if reference == "" {
		reference = "deposit:" + decision.Reference
	}
	var res ledger.PostingResult
	err = s.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = ledger.New(tx.Ledger()).Credit(ctx, ledger.Posting{
			UserID:    in.UserID,
			Currency:  currency,
			Amount:    in.Amount,
			Type:      ledger.TxDeposit,
			Reference: reference,
			Details:   "gateway " + decision.Reference,
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}

	s.metrics.ObservePostings(string(ledger.TxDeposit))
	s.logger.Info("deposit credited", "user_id", in.UserID, "currency", currency, "amount", in.Amount.String(), "gateway_reference", decision.Reference)
	return toResult(res, decision), nil
}

// Withdraw debits the user and authorizes the payout in the same unit of
// work, so a declined payout leaves the balance untouched.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (Result, error) {
	currency, err := ledger.NormalizeCurrency(in.Currency)
	if err != nil {
		return Result{}, err
	}
	if !in.Amount.IsPositive() {
		return Result{}, apperr.Invalid("amount must be positive")
	}
	address, err := validateAddress(in.Address)
	if err != nil {
		return Result{}, err
	}

	var (
		res      ledger.PostingResult
		decision Decision
	)
	err = s.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = ledger.New(tx.Ledger()).Debit(ctx, ledger.Posting{
			UserID:    in.UserID,
			Currency:  currency,
			Amount:    in.Amount,
			Type:      ledger.TxWithdrawal,
			Reference: "withdrawal:" + address,
			Details:   "payout to " + address,
		})
		if err != nil {
			return err
		}
		decision, err = s.gateway.AuthorizeWithdrawal(ctx, WithdrawalAuthorization{
			UserID: in.UserID, Currency: currency, Amount: in.Amount, Address: address,
		})
		if err != nil {
			return err
		}
		if decision.Status != "approved" {
			return fmt.Errorf("%w: %s", ErrDeclined, decision.Status)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.metrics.ObservePostings(string(ledger.TxWithdrawal))
	s.logger.Info("withdrawal debited", "user_id", in.UserID, "currency", currency, "amount", in.Amount.String(), "gateway_reference", decision.Reference)
	return toResult(res, decision), nil
}

func toResult(res ledger.PostingResult, decision Decision) Result {
	return Result{
		TransactionID:    res.Transaction.ID,
		Currency:         res.Balance.Currency,
		Balance:          res.Balance.Amount,
		GatewayReference: decision.Reference,
		CompletedAt:      res.Transaction.CreatedAt,
	}
}

func validateAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if len(address) < 20 || len(address) > 128 {
		return "", apperr.Invalid("address must be between 20 and 128 characters")
	}
	for _, r := range address {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == ':' || r == '_' || r == '-') {
			return "", apperr.Invalid("address contains invalid characters")
		}
	}
	return address, nil
}
