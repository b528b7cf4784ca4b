package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/p2p_market/internal/dispute"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/infra"
	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/rating"
	"github.com/congo-pay/p2p_market/internal/trade"
)

// Postgres is a UnitOfWork backed by a pgx pool.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgres builds a unit of work. A positive timeout bounds every transaction.
func NewPostgres(pool *pgxpool.Pool, timeout time.Duration) *Postgres {
	return &Postgres{pool: pool, timeout: timeout}
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return infra.Classify(fmt.Errorf("begin tx: %w", err))
	}
	// Rollback after a successful commit is a no-op.
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
	}()

	if err := fn(newPgTx(tx)); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return infra.Classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return infra.Classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type pgTx struct {
	ledger   *ledger.PostgresRepository
	trades   *trade.PostgresRepository
	disputes *dispute.PostgresRepository
	ratings  *rating.PostgresRepository
	users    *identity.PostgresRepository
}

func newPgTx(tx pgx.Tx) *pgTx {
	return &pgTx{
		ledger:   ledger.NewPostgresRepository(tx),
		trades:   trade.NewPostgresRepository(tx),
		disputes: dispute.NewPostgresRepository(tx),
		ratings:  rating.NewPostgresRepository(tx),
		users:    identity.NewPostgresRepository(tx),
	}
}

func (t *pgTx) Ledger() ledger.Repository { return t.ledger }
func (t *pgTx) Trades() trade.Repository { return t.trades }
func (t *pgTx) Disputes() dispute.Repository { return t.disputes }
func (t *pgTx) Ratings() rating.Repository { return t.ratings }
func (t *pgTx) Users() identity.Repository { return t.users }
