package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/ledger"
)

func credit(ctx context.Context, tx Tx, user string, amount int64) error {
	_, err := ledger.New(tx.Ledger()).Credit(ctx, ledger.Posting{
		UserID: user, Currency: "BTC", Amount: decimal.NewFromInt(amount), Type: ledger.TxDeposit,
	})
	return err
}

func balance(t *testing.T, m *Memory, user string) decimal.Decimal {
	t.Helper()
	var out decimal.Decimal
	err := m.WithinTx(context.Background(), func(tx Tx) error {
		b, err := ledger.New(tx.Ledger()).Balance(context.Background(), user, "BTC")
		out = b.Amount
		return err
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return out
}

func TestMemoryCommitsOnSuccess(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.WithinTx(ctx, func(tx Tx) error { return credit(ctx, tx, "alice", 3) }); err != nil {
		t.Fatalf("within tx: %v", err)
	}
	if got := balance(t, m, "alice"); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected 3, got %s", got)
	}
}

func TestMemoryRollsBackOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")
	err := m.WithinTx(ctx, func(tx Tx) error {
		if err := credit(ctx, tx, "alice", 3); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected error to pass through, got %v", err)
	}
	if got := balance(t, m, "alice"); !got.IsZero() {
		t.Fatalf("expected rollback, got %s", got)
	}
}

func TestMemoryRollsBackOnPanic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = m.WithinTx(ctx, func(tx Tx) error {
			_ = credit(ctx, tx, "alice", 3)
			panic("mid-transaction")
		})
	}()
	if got := balance(t, m, "alice"); !got.IsZero() {
		t.Fatalf("expected rollback after panic, got %s", got)
	}
}

func TestMemoryTimesOutWhileBusy(t *testing.T) {
	m := NewMemory()
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.WithinTx(context.Background(), func(Tx) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WithinTx(ctx, func(Tx) error { return nil })
	if !apperr.Retryable(err) {
		t.Fatalf("expected retryable storage error, got %v", err)
	}
}

func TestMemoryCopiesOnlyTouchedRepositories(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.WithinTx(ctx, func(tx Tx) error { return credit(ctx, tx, "alice", 3) }); err != nil {
		t.Fatalf("within tx: %v", err)
	}
	committed := m.state

	err := m.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.Users().FindByID(ctx, "nobody")
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}
	if m.state.ledger != committed.ledger || m.state.trades != committed.trades || m.state.disputes != committed.disputes {
		t.Fatal("untouched repositories were copied")
	}
	if got := balance(t, m, "alice"); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected 3, got %s", got)
	}
}

func TestMemoryFailedTxLeavesTouchedRepositories(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.WithinTx(ctx, func(tx Tx) error { return credit(ctx, tx, "alice", 3) }); err != nil {
		t.Fatalf("within tx: %v", err)
	}
	committed := m.state.ledger

	boom := errors.New("boom")
	err := m.WithinTx(ctx, func(tx Tx) error {
		if err := credit(ctx, tx, "alice", 4); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if m.state.ledger != committed {
		t.Fatal("failed unit of work replaced the ledger")
	}
	txs, err := committed.Transactions(ctx, "alice", 0)
	if err != nil || len(txs) != 1 {
		t.Fatalf("committed log changed: %+v %v", txs, err)
	}
}
