package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/notification"
	"github.com/congo-pay/p2p_market/internal/store"
	"github.com/congo-pay/p2p_market/internal/trade"
)

type testNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *testNotifier) kinds() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := map[string]int{}
	for _, m := range n.sent {
		out[m.Kind]++
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newUser(t *testing.T, uow store.UnitOfWork, name string) string {
	t.Helper()
	id := uuid.NewString()
	err := uow.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.Users().Create(context.Background(), identity.User{ID: id, Username: name})
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return id
}

func deposit(t *testing.T, uow store.UnitOfWork, userID, currency, amount string) {
	t.Helper()
	err := uow.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := ledger.New(tx.Ledger()).Credit(context.Background(), ledger.Posting{
			UserID: userID, Currency: currency, Amount: dec(amount), Type: ledger.TxDeposit,
		})
		return err
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func balanceOf(t *testing.T, uow store.UnitOfWork, userID, currency string) decimal.Decimal {
	t.Helper()
	var out decimal.Decimal
	err := uow.WithinTx(context.Background(), func(tx store.Tx) error {
		b, err := ledger.New(tx.Ledger()).Balance(context.Background(), userID, currency)
		out = b.Amount
		return err
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return out
}

func assertReconciled(t *testing.T, uow store.UnitOfWork, users ...string) {
	t.Helper()
	for _, u := range users {
		err := uow.WithinTx(context.Background(), func(tx store.Tx) error {
			diffs, err := ledger.New(tx.Ledger()).Reconcile(context.Background(), u)
			if err != nil {
				return err
			}
			if len(diffs) != 0 {
				t.Fatalf("ledger drift for %s: %+v", u, diffs)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
	}
}

func assertBalance(t *testing.T, uow store.UnitOfWork, userID, currency, want string) {
	t.Helper()
	if got := balanceOf(t, uow, userID, currency); !got.Equal(dec(want)) {
		t.Fatalf("expected %s balance %s, got %s", currency, want, got)
	}
}

func newSellTrade(t *testing.T, e *Engine, seller, amount, currency string) trade.Trade {
	t.Helper()
	tr, err := e.Create(context.Background(), trade.CreateInput{
		Type: trade.TypeSell, Amount: dec(amount), Price: dec("40000"), Currency: currency, UserID: seller,
	})
	if err != nil {
		t.Fatalf("create trade: %v", err)
	}
	return tr
}

func TestFundAndReleaseMovesEscrowToBuyer(t *testing.T) {
	uow := store.NewMemory()
	notifier := &testNotifier{}
	e := NewEngine(uow, notifier, nil, nil)
	ctx := context.Background()

	alice := newUser(t, uow, "alice")
	bob := newUser(t, uow, "bob")
	deposit(t, uow, alice, "BTC", "1.0")

	tr := newSellTrade(t, e, alice, "0.5", "BTC")
	if _, err := e.Join(ctx, tr.ID, bob); err != nil {
		t.Fatalf("join: %v", err)
	}
	funded, err := e.FundEscrow(ctx, tr.ID, alice)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if funded.Status != trade.StatusInEscrow || funded.EscrowFunderID != alice {
		t.Fatalf("unexpected funded trade %+v", funded)
	}
	assertBalance(t, uow, alice, "BTC", "0.5")

	done, err := e.Release(ctx, tr.ID, identity.Actor{UserID: alice})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if done.Status != trade.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected completed trade %+v", done)
	}
	assertBalance(t, uow, bob, "BTC", "0.5")
	assertBalance(t, uow, alice, "BTC", "0.5")
	assertReconciled(t, uow, alice, bob)

	err = uow.WithinTx(ctx, func(tx store.Tx) error {
		for _, id := range []string{alice, bob} {
			u, err := tx.Users().FindByID(ctx, id)
			if err != nil {
				return err
			}
			if u.CompletedTrades != 1 || !u.SuccessRate.Equal(decimal.NewFromInt(100)) {
				t.Fatalf("unexpected stats for %s: %+v", u.Username, u.Stats)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}

	kinds := notifier.kinds()
	if kinds[notification.KindTradeCompleted] != 2 || kinds[notification.KindTradeFunded] != 2 {
		t.Fatalf("unexpected notifications %v", kinds)
	}
}

func TestFundEscrowInsufficientFundsLeavesTradeUntouched(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	ctx := context.Background()

	alice := newUser(t, uow, "alice")
	bob := newUser(t, uow, "bob")
	deposit(t, uow, alice, "ETH", "0.1")
	tr := newSellTrade(t, e, alice, "1.2", "ETH")
	if _, err := e.Join(ctx, tr.ID, bob); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := e.FundEscrow(ctx, tr.ID, alice); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	assertBalance(t, uow, alice, "ETH", "0.1")
	got, err := e.Get(ctx, tr.ID, identity.Actor{UserID: alice})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != trade.StatusPending || got.Funded() {
		t.Fatalf("trade changed after failed funding: %+v", got)
	}
	assertReconciled(t, uow, alice)
}

func TestFundEscrowTwiceDebitsOnce(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	ctx := context.Background()

	alice := newUser(t, uow, "alice")
	bob := newUser(t, uow, "bob")
	deposit(t, uow, alice, "BTC", "2")
	tr := newSellTrade(t, e, alice, "0.5", "BTC")
	if _, err := e.Join(ctx, tr.ID, bob); err != nil {
		t.Fatalf("join: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.FundEscrow(ctx, tr.ID, alice)
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		failures++
		if !errors.Is(err, trade.ErrStaleState) && !errors.Is(err, trade.ErrInvalidTradeState) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one failure, got %v", errs)
	}
	assertBalance(t, uow, alice, "BTC", "1.5")
	assertReconciled(t, uow, alice)
}

func TestFundEscrowRequiresCounterparty(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	ctx := context.Background()

	alice := newUser(t, uow, "alice")
	bob := newUser(t, uow, "bob")
	deposit(t, uow, alice, "BTC", "1")
	tr := newSellTrade(t, e, alice, "0.5", "BTC")

	_, err := e.FundEscrow(ctx, tr.ID, alice)
	if !errors.Is(err, trade.ErrInvalidTradeState) {
		t.Fatalf("expected ErrInvalidTradeState funding an open listing, got %v", err)
	}
	assertBalance(t, uow, alice, "BTC", "1")

	// the listing stays joinable and can be funded once joined
	if _, err := e.Join(ctx, tr.ID, bob); err != nil {
		t.Fatalf("join after refused funding: %v", err)
	}
	if _, err := e.FundEscrow(ctx, tr.ID, alice); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := e.Release(ctx, tr.ID, identity.Actor{UserID: alice}); err != nil {
		t.Fatalf("release: %v", err)
	}
	assertBalance(t, uow, bob, "BTC", "0.5")
	assertReconciled(t, uow, alice, bob)
}

func TestSettlementRejectsEscrowOnOpenTrade(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	ctx := context.Background()
	alice := newUser(t, uow, "alice")

	// an open listing carrying a funder is inconsistent
	broken := trade.Trade{
		ID: uuid.NewString(), Type: trade.TypeSell, Amount: dec("1"), Price: dec("1"), Currency: "BTC",
		Status: trade.StatusOpen, UserID: alice, EscrowFunderID: alice,
	}
	if err := uow.WithinTx(ctx, func(tx store.Tx) error { return tx.Trades().Insert(ctx, broken) }); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := uow.WithinTx(ctx, func(tx store.Tx) error {
		_, err := e.RefundIn(ctx, tx, broken.ID, trade.StatusOpen)
		return err
	})
	if !errors.Is(err, trade.ErrInvalidTradeState) {
		t.Fatalf("expected ErrInvalidTradeState, got %v", err)
	}
	assertBalance(t, uow, alice, "BTC", "0")
}

func TestFundEscrowRequiresSeller(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	ctx := context.Background()

	alice := newUser(t, uow, "alice")
	bob := newUser(t, uow, "bob")
	deposit(t, uow, bob, "BTC", "1")
	tr := newSellTrade(t, e, alice, "0.5", "BTC")
	_, _ = e.Join(ctx, tr.ID, bob)

	if _, err := e.FundEscrow(ctx, tr.ID, bob); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for buyer funding, got %v", err)
	}
	assertBalance(t, uow, bob, "BTC", "1")
}

func TestBuyTradeIsFundedByCounterparty(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	ctx := context.Background()

	buyer := newUser(t, uow, "buyer")
	seller := newUser(t, uow, "seller")
	deposit(t, uow, seller, "USDT", "100")

	tr, err := e.Create(ctx, trade.CreateInput{Type: trade.TypeBuy, Amount: dec("40"), Price: dec("1"), Currency: "usdt", UserID: buyer})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Join(ctx, tr.ID, seller); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := e.FundEscrow(ctx, tr.ID, seller); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := e.Release(ctx, tr.ID, identity.Actor{UserID: buyer}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("buyer must not release, got %v", err)
	}
	if _, err := e.Release(ctx, tr.ID, identity.Actor{UserID: uuid.NewString(), IsAdmin: true}); err != nil {
		t.Fatalf("admin release: %v", err)
	}
	assertBalance(t, uow, buyer, "USDT", "40")
	assertBalance(t, uow, seller, "USDT", "60")
	assertReconciled(t, uow, buyer, seller)
}

func TestCancelRefundsFunder(t *testing.T) {
	uow := store.NewMemory()
	notifier := &testNotifier{}
	e := NewEngine(uow, notifier, nil, nil)
	ctx := context.Background()

	alice := newUser(t, uow, "alice")
	bob := newUser(t, uow, "bob")
	deposit(t, uow, alice, "BTC", "1")
	tr := newSellTrade(t, e, alice, "0.4", "BTC")
	_, _ = e.Join(ctx, tr.ID, bob)
	if _, err := e.FundEscrow(ctx, tr.ID, alice); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if _, err := e.CancelAndRefund(ctx, tr.ID, identity.Actor{UserID: bob}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("counterparty must not cancel, got %v", err)
	}
	cancelled, err := e.CancelAndRefund(ctx, tr.ID, identity.Actor{UserID: alice})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != trade.StatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled trade %+v", cancelled)
	}
	assertBalance(t, uow, alice, "BTC", "1")
	assertBalance(t, uow, bob, "BTC", "0")

	if _, err := e.CancelAndRefund(ctx, tr.ID, identity.Actor{UserID: alice}); !errors.Is(err, trade.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState on second cancel, got %v", err)
	}
	if _, err := e.Release(ctx, tr.ID, identity.Actor{UserID: alice}); !errors.Is(err, trade.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState on release after cancel, got %v", err)
	}
	assertBalance(t, uow, alice, "BTC", "1")
	assertReconciled(t, uow, alice, bob)
	if notifier.kinds()[notification.KindTradeCancelled] != 2 {
		t.Fatalf("expected cancel notifications, got %v", notifier.kinds())
	}
}

func TestCancelOpenTradeWithoutFunds(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	alice := newUser(t, uow, "alice")
	tr := newSellTrade(t, e, alice, "1", "BTC")

	got, err := e.CancelAndRefund(context.Background(), tr.ID, identity.Actor{UserID: alice})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != trade.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	assertBalance(t, uow, alice, "BTC", "0")
}

func TestReleaseRequiresEscrow(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	ctx := context.Background()
	alice := newUser(t, uow, "alice")
	bob := newUser(t, uow, "bob")
	tr := newSellTrade(t, e, alice, "1", "BTC")
	_, _ = e.Join(ctx, tr.ID, bob)

	if _, err := e.Release(ctx, tr.ID, identity.Actor{UserID: alice, IsAdmin: true}); !errors.Is(err, trade.ErrStaleState) {
		t.Fatalf("expected ErrStaleState releasing a pending trade, got %v", err)
	}
	assertBalance(t, uow, bob, "BTC", "0")
}

func TestUpdateStatusRejectsOtherTargets(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	alice := newUser(t, uow, "alice")
	tr := newSellTrade(t, e, alice, "1", "BTC")

	_, err := e.UpdateStatus(context.Background(), tr.ID, trade.StatusInEscrow, identity.Actor{UserID: alice})
	if !errors.Is(err, trade.ErrInvalidTradeState) {
		t.Fatalf("expected ErrInvalidTradeState, got %v", err)
	}
}

func TestGetHidesPrivateTrades(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	ctx := context.Background()
	alice := newUser(t, uow, "alice")
	bob := newUser(t, uow, "bob")
	tr := newSellTrade(t, e, alice, "1", "BTC")

	if _, err := e.Get(ctx, tr.ID, identity.Actor{UserID: uuid.NewString()}); err != nil {
		t.Fatalf("open listings are public: %v", err)
	}
	_, _ = e.Join(ctx, tr.ID, bob)
	if _, err := e.Get(ctx, tr.ID, identity.Actor{UserID: uuid.NewString()}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for outsider, got %v", err)
	}
}

func TestListShowsOutsidersOnlyOpenListings(t *testing.T) {
	uow := store.NewMemory()
	e := NewEngine(uow, nil, nil, nil)
	ctx := context.Background()
	alice := newUser(t, uow, "alice")
	bob := newUser(t, uow, "bob")
	joined := newSellTrade(t, e, alice, "1", "BTC")
	newSellTrade(t, e, alice, "2", "BTC")
	if _, err := e.Join(ctx, joined.ID, bob); err != nil {
		t.Fatalf("join: %v", err)
	}

	outsider := identity.Actor{UserID: uuid.NewString()}
	list, err := e.List(ctx, trade.Filter{}, outsider)
	if err != nil || len(list) != 1 || list[0].Status != trade.StatusOpen {
		t.Fatalf("outsider should see one open listing, got %d (%v)", len(list), err)
	}
	if list, _ := e.List(ctx, trade.Filter{Status: trade.StatusPending}, outsider); len(list) != 0 {
		t.Fatalf("outsider should not see pending trades, got %d", len(list))
	}
	if list, _ := e.List(ctx, trade.Filter{UserID: bob}, identity.Actor{UserID: bob}); len(list) != 1 {
		t.Fatalf("bob should see his joined trade, got %d", len(list))
	}
	if list, _ := e.List(ctx, trade.Filter{}, identity.Actor{UserID: bob, IsAdmin: true}); len(list) != 2 {
		t.Fatalf("admin should see every trade, got %d", len(list))
	}
}
