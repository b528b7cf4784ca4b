package funding

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/store"
)

const address = "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"

type decliningGateway struct{ StaticGateway }

func (decliningGateway) AuthorizeWithdrawal(context.Context, WithdrawalAuthorization) (Decision, error) {
	return Decision{Reference: "r-1", Status: "declined"}, nil
}

func TestDepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory(), nil, nil, nil)

	res, err := svc.Deposit(ctx, DepositInput{UserID: "u1", Currency: "btc", Amount: decimal.RequireFromString("1.5")})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.Currency != "BTC" || !res.Balance.Equal(decimal.RequireFromString("1.5")) || res.GatewayReference == "" {
		t.Fatalf("unexpected deposit result %+v", res)
	}

	res, err = svc.Withdraw(ctx, WithdrawInput{UserID: "u1", Currency: "BTC", Amount: decimal.RequireFromString("0.5"), Address: address})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !res.Balance.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected balance after withdraw %s", res.Balance)
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	uow := store.NewMemory()
	svc := NewService(uow, nil, nil, nil)
	_, _ = svc.Deposit(ctx, DepositInput{UserID: "u1", Currency: "ETH", Amount: decimal.RequireFromString("0.1")})

	_, err := svc.Withdraw(ctx, WithdrawInput{UserID: "u1", Currency: "ETH", Amount: decimal.NewFromInt(1), Address: address})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestDeclinedWithdrawalRollsBack(t *testing.T) {
	ctx := context.Background()
	uow := store.NewMemory()
	svc := NewService(uow, decliningGateway{}, nil, nil)
	if _, err := svc.Deposit(ctx, DepositInput{UserID: "u1", Currency: "USDT", Amount: decimal.NewFromInt(50)}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := svc.Withdraw(ctx, WithdrawInput{UserID: "u1", Currency: "USDT", Amount: decimal.NewFromInt(20), Address: address}); !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	err := uow.WithinTx(ctx, func(tx store.Tx) error {
		b, err := ledger.New(tx.Ledger()).Balance(ctx, "u1", "USDT")
		if err == nil && !b.Amount.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("declined payout changed balance to %s", b.Amount)
		}
		return err
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory(), nil, nil, nil)
	cases := []error{
		func() error {
			_, err := svc.Deposit(ctx, DepositInput{UserID: "u1", Currency: "BTC", Amount: decimal.Zero})
			return err
		}(),
		func() error {
			_, err := svc.Deposit(ctx, DepositInput{UserID: "u1", Currency: "B!", Amount: decimal.NewFromInt(1)})
			return err
		}(),
		func() error {
			_, err := svc.Withdraw(ctx, WithdrawInput{UserID: "u1", Currency: "BTC", Amount: decimal.NewFromInt(1), Address: "short"})
			return err
		}(),
	}
	for i, err := range cases {
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}
