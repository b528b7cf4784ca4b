package store_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/dispute"
	"github.com/congo-pay/p2p_market/internal/escrow"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/infra"
	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/logging"
	"github.com/congo-pay/p2p_market/internal/reputation"
	"github.com/congo-pay/p2p_market/internal/resolver"
	"github.com/congo-pay/p2p_market/internal/store"
	"github.com/congo-pay/p2p_market/internal/trade"
	"github.com/congo-pay/p2p_market/migrations"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		t.Fatalf("goose dialect: %v", err)
	}
	if err := goose.Up(db, "."); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := infra.NewPostgresPool(context.Background(), dsn)
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func createUser(t *testing.T, uow store.UnitOfWork, prefix string) string {
	t.Helper()
	id := uuid.NewString()
	err := uow.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.Users().Create(context.Background(), identity.User{
			ID:           id,
			Username:     prefix + id[:8],
			PasswordHash: []byte("x"),
			CreatedAt:    time.Now(),
		})
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func credit(t *testing.T, uow store.UnitOfWork, userID, currency, amount string) {
	t.Helper()
	err := uow.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := ledger.New(tx.Ledger()).Credit(context.Background(), ledger.Posting{
			UserID: userID, Currency: currency, Amount: decimal.RequireFromString(amount), Type: ledger.TxDeposit,
		})
		return err
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func TestPostgresEscrowRoundTrip(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	uow := store.NewPostgres(pool, 5*time.Second)
	engine := escrow.NewEngine(uow, nil, nil, logging.Discard())

	seller := createUser(t, uow, "s")
	buyer := createUser(t, uow, "b")
	credit(t, uow, seller, "BTC", "1")

	tr, err := engine.Create(ctx, trade.CreateInput{
		Type: trade.TypeSell, Amount: decimal.RequireFromString("0.4"), Price: decimal.NewFromInt(40000), Currency: "BTC", UserID: seller,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Join(ctx, tr.ID, buyer); err != nil {
		t.Fatalf("join: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.FundEscrow(ctx, tr.ID, seller)
		}(i)
	}
	wg.Wait()
	if (errs[0] == nil) == (errs[1] == nil) {
		t.Fatalf("expected exactly one successful funding, got %v and %v", errs[0], errs[1])
	}

	done, err := engine.Release(ctx, tr.ID, identity.Actor{UserID: seller})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if done.Status != trade.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	err = uow.WithinTx(ctx, func(tx store.Tx) error {
		l := ledger.New(tx.Ledger())
		for user, want := range map[string]string{seller: "0.6", buyer: "0.4"} {
			b, err := l.Balance(ctx, user, "BTC")
			if err != nil {
				return err
			}
			if !b.Amount.Equal(decimal.RequireFromString(want)) {
				t.Fatalf("user %s: expected %s got %s", user, want, b.Amount)
			}
			diffs, err := l.Reconcile(ctx, user)
			if err != nil {
				return err
			}
			if len(diffs) != 0 {
				t.Fatalf("user %s: ledger drift %+v", user, diffs)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestPostgresDisputeResolutionAndHistory(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	uow := store.NewPostgres(pool, 5*time.Second)
	engine := escrow.NewEngine(uow, nil, nil, logging.Discard())
	disputes := resolver.New(uow, engine, nil, nil, logging.Discard())
	ratings := reputation.NewService(uow, nil, logging.Discard())

	seller := createUser(t, uow, "s")
	buyer := createUser(t, uow, "b")
	admin := identity.Actor{UserID: createUser(t, uow, "a"), IsAdmin: true}
	credit(t, uow, seller, "ETH", "2")

	tr, err := engine.Create(ctx, trade.CreateInput{
		Type: trade.TypeSell, Amount: decimal.RequireFromString("0.75"), Price: decimal.NewFromInt(3000), Currency: "ETH", UserID: seller,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Join(ctx, tr.ID, buyer); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := engine.FundEscrow(ctx, tr.ID, seller); err != nil {
		t.Fatalf("fund: %v", err)
	}

	d, err := disputes.Open(ctx, resolver.OpenInput{TradeID: tr.ID, UserID: buyer, Reason: "seller unresponsive"})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if _, err := disputes.Open(ctx, resolver.OpenInput{TradeID: tr.ID, UserID: seller, Reason: "again"}); !errors.Is(err, dispute.ErrDuplicateDispute) {
		t.Fatalf("expected ErrDuplicateDispute, got %v", err)
	}
	out, err := disputes.Resolve(ctx, admin, resolver.ResolveInput{DisputeID: d.ID, WinnerID: buyer})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Trade.Status != trade.StatusCompleted || out.Dispute.Status != dispute.StatusResolved {
		t.Fatalf("unexpected outcome %+v", out)
	}

	detail, err := disputes.GetByTrade(ctx, tr.ID, identity.Actor{UserID: seller})
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if detail.Dispute.WinnerID != buyer || len(detail.Notes) != 1 || detail.Notes[0].AdminID != admin.UserID {
		t.Fatalf("unexpected dispute detail %+v", detail)
	}

	if _, err := ratings.Submit(ctx, reputation.SubmitInput{TradeID: tr.ID, RaterID: buyer, Score: 2, Comment: "needed a dispute"}); err != nil {
		t.Fatalf("rate: %v", err)
	}
	received, err := ratings.Ratings(ctx, seller)
	if err != nil || len(received) != 1 || received[0].Score != 2 || received[0].RaterID != buyer {
		t.Fatalf("unexpected ratings %+v %v", received, err)
	}

	// two postings in one unit of work keep their write order
	err = uow.WithinTx(ctx, func(tx store.Tx) error {
		l := ledger.New(tx.Ledger())
		for _, details := range []string{"first", "second"} {
			if _, err := l.Credit(ctx, ledger.Posting{
				UserID: buyer, Currency: "ETH", Amount: decimal.RequireFromString("0.01"), Type: ledger.TxDeposit, Details: details,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("credit pair: %v", err)
	}

	err = uow.WithinTx(ctx, func(tx store.Tx) error {
		l := ledger.New(tx.Ledger())

		sellerHistory, err := l.Transactions(ctx, seller, 0)
		if err != nil {
			return err
		}
		if len(sellerHistory) != 2 || sellerHistory[0].Type != ledger.TxEscrow || sellerHistory[1].Type != ledger.TxDeposit {
			t.Fatalf("unexpected seller history %+v", sellerHistory)
		}
		if !sellerHistory[0].Amount.Equal(decimal.RequireFromString("-0.75")) {
			t.Fatalf("expected escrow debit of 0.75, got %s", sellerHistory[0].Amount)
		}

		buyerHistory, err := l.Transactions(ctx, buyer, 0)
		if err != nil {
			return err
		}
		if len(buyerHistory) != 3 {
			t.Fatalf("expected 3 buyer transactions, got %+v", buyerHistory)
		}
		if buyerHistory[0].Details != "second" || buyerHistory[1].Details != "first" || buyerHistory[2].Type != ledger.TxTrade {
			t.Fatalf("buyer history not newest first: %+v", buyerHistory)
		}

		balances, err := l.Balances(ctx, buyer)
		if err != nil {
			return err
		}
		if len(balances) != 1 || !balances[0].Amount.Equal(decimal.RequireFromString("0.77")) {
			t.Fatalf("unexpected buyer balances %+v", balances)
		}
		for _, user := range []string{seller, buyer} {
			diffs, err := l.Reconcile(ctx, user)
			if err != nil {
				return err
			}
			if len(diffs) != 0 {
				t.Fatalf("user %s: ledger drift %+v", user, diffs)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestPostgresCancelRefundReconciles(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	uow := store.NewPostgres(pool, 5*time.Second)
	engine := escrow.NewEngine(uow, nil, nil, logging.Discard())

	seller := createUser(t, uow, "s")
	buyer := createUser(t, uow, "b")
	credit(t, uow, seller, "USDT", "50")

	tr, err := engine.Create(ctx, trade.CreateInput{
		Type: trade.TypeSell, Amount: decimal.NewFromInt(20), Price: decimal.NewFromInt(1), Currency: "USDT", UserID: seller,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Join(ctx, tr.ID, buyer); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := engine.FundEscrow(ctx, tr.ID, seller); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := engine.CancelAndRefund(ctx, tr.ID, identity.Actor{UserID: seller}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	err = uow.WithinTx(ctx, func(tx store.Tx) error {
		l := ledger.New(tx.Ledger())
		b, err := l.Balance(ctx, seller, "USDT")
		if err != nil {
			return err
		}
		if !b.Amount.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("expected refund to 50, got %s", b.Amount)
		}
		history, err := l.Transactions(ctx, seller, 0)
		if err != nil {
			return err
		}
		if len(history) != 3 || history[0].Details != "escrow refund" || history[1].Details != "escrow lock" {
			t.Fatalf("unexpected seller history %+v", history)
		}
		diffs, err := l.Reconcile(ctx, seller)
		if err != nil {
			return err
		}
		if len(diffs) != 0 {
			t.Fatalf("ledger drift %+v", diffs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}
