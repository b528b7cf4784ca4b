package store

import (
	"context"
	"fmt"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/dispute"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/rating"
	"github.com/congo-pay/p2p_market/internal/trade"
)

// Memory is an in-process UnitOfWork used by tests and development mode.
// Transactions run one at a time. Each repository a transaction touches is
// copied from the committed state on first access, and the copies replace
// the committed ones only when fn succeeds.
type Memory struct {
	sem   chan struct{}
	state *memState
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sem: make(chan struct{}, 1),
		state: &memState{
			ledger:   ledger.NewMemoryRepository(),
			trades:   trade.NewMemoryRepository(),
			disputes: dispute.NewMemoryRepository(),
			ratings:  rating.NewMemoryRepository(),
			users:    identity.NewMemoryRepository(),
		},
	}
}

func (m *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, ctx.Err())
	}
	defer func() { <-m.sem }()

	tx := &memTx{base: m.state}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.commit()
	return nil
}

type memState struct {
	ledger   *ledger.MemoryRepository
	trades   *trade.MemoryRepository
	disputes *dispute.MemoryRepository
	ratings  *rating.MemoryRepository
	users    *identity.MemoryRepository
}

// memTx is the working set of one unit of work; nil fields in touched have
// not been accessed yet.
type memTx struct {
	base    *memState
	touched memState
}

func (t *memTx) commit() *memState {
	next := *t.base
	if t.touched.ledger != nil {
		next.ledger = t.touched.ledger
	}
	if t.touched.trades != nil {
		next.trades = t.touched.trades
	}
	if t.touched.disputes != nil {
		next.disputes = t.touched.disputes
	}
	if t.touched.ratings != nil {
		next.ratings = t.touched.ratings
	}
	if t.touched.users != nil {
		next.users = t.touched.users
	}
	return &next
}

func (t *memTx) Ledger() ledger.Repository {
	if t.touched.ledger == nil {
		t.touched.ledger = t.base.ledger.Clone()
	}
	return t.touched.ledger
}

func (t *memTx) Trades() trade.Repository {
	if t.touched.trades == nil {
		t.touched.trades = t.base.trades.Clone()
	}
	return t.touched.trades
}

func (t *memTx) Disputes() dispute.Repository {
	if t.touched.disputes == nil {
		t.touched.disputes = t.base.disputes.Clone()
	}
	return t.touched.disputes
}

func (t *memTx) Ratings() rating.Repository {
	if t.touched.ratings == nil {
		t.touched.ratings = t.base.ratings.Clone()
	}
	return t.touched.ratings
}

func (t *memTx) Users() identity.Repository {
	if t.touched.users == nil {
		t.touched.users = t.base.users.Clone()
	}
	return t.touched.users
}
