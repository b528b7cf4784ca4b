package wallet

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/store"
)

func seed(t *testing.T, uow store.UnitOfWork, postings ...ledger.Posting) {
	t.Helper()
	ctx := context.Background()
	err := uow.WithinTx(ctx, func(tx store.Tx) error {
		l := ledger.New(tx.Ledger())
		for _, p := range postings {
			if _, err := l.Credit(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestBalancesDeriveUSDValue(t *testing.T) {
	uow := store.NewMemory()
	seed(t, uow,
		ledger.Posting{UserID: "u1", Currency: "BTC", Amount: decimal.RequireFromString("0.5"), Type: ledger.TxDeposit},
		ledger.Posting{UserID: "u1", Currency: "DOGE", Amount: decimal.NewFromInt(10), Type: ledger.TxDeposit},
	)
	svc := NewService(uow, nil)

	views, err := svc.Balances(context.Background(), "u1")
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	got := map[string]BalanceView{}
	for _, v := range views {
		got[v.Currency] = v
	}
	if !got["BTC"].USDValue.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("unexpected BTC usd value %s", got["BTC"].USDValue)
	}
	if !got["DOGE"].USDValue.IsZero() {
		t.Fatalf("unknown currency should be worth 0, got %s", got["DOGE"].USDValue)
	}
	if !TotalUSD(views).Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("unexpected total %s", TotalUSD(views))
	}
}

func TestTransactionsLimit(t *testing.T) {
	uow := store.NewMemory()
	var postings []ledger.Posting
	for i := 0; i < 60; i++ {
		postings = append(postings, ledger.Posting{UserID: "u1", Currency: "USDT", Amount: decimal.NewFromInt(1), Type: ledger.TxDeposit})
	}
	seed(t, uow, postings...)
	svc := NewService(uow, StaticPricer{})

	txs, err := svc.Transactions(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != defaultTransactionLimit {
		t.Fatalf("expected default limit, got %d", len(txs))
	}
	txs, _ = svc.Transactions(context.Background(), "u1", 5)
	if len(txs) != 5 {
		t.Fatalf("expected 5, got %d", len(txs))
	}
	txs, _ = svc.Transactions(context.Background(), "u1", 1000)
	if len(txs) != 60 {
		t.Fatalf("expected all 60, got %d", len(txs))
	}
}
