package wallet

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/store"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
)

// Service is the read side of the ledger.
type Service struct {
	uow    store.UnitOfWork
	pricer Pricer
}

// NewService builds a wallet service. A nil pricer uses DefaultPrices.
func NewService(uow store.UnitOfWork, pricer Pricer) *Service {
	if pricer == nil {
		pricer = DefaultPrices()
	}
	return &Service{uow: uow, pricer: pricer}
}

// Balances returns every balance the user holds with its USD value.
func (s *Service) Balances(ctx context.Context, userID string) ([]BalanceView, error) {
	var balances []ledger.Balance
	err := s.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		balances, err = ledger.New(tx.Ledger()).Balances(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]BalanceView, 0, len(balances))
	for _, b := range balances {
		out = append(out, s.view(b))
	}
	return out, nil
}

func (s *Service) view(b ledger.Balance) BalanceView {
	usd := decimal.Zero
	if price, ok := s.pricer.USDPrice(b.Currency); ok {
		usd = b.Amount.Mul(price).Round(2)
	}
	return BalanceView{Currency: b.Currency, Amount: b.Amount, USDValue: usd, UpdatedAt: b.UpdatedAt}
}

// TotalUSD sums the USD value of views.
func TotalUSD(views []BalanceView) decimal.Decimal {
	total := decimal.Zero
	for _, v := range views {
		total = total.Add(v.USDValue)
	}
	return total
}

// Transactions returns the user's history, newest first. limit is clamped
// to [1, 200] and defaults to 50.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	var out []ledger.Transaction
	err := s.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = ledger.New(tx.Ledger()).Transactions(ctx, userID, limit)
		return err
	})
	return out, err
}

// Reconcile reports drift between the user's balances and transaction log.
func (s *Service) Reconcile(ctx context.Context, userID string) ([]ledger.Discrepancy, error) {
	var out []ledger.Discrepancy
	err := s.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = ledger.New(tx.Ledger()).Reconcile(ctx, userID)
		return err
	})
	return out, err
}
