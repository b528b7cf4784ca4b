// Package store provides the unit of work that every state-changing
// operation runs in. A Tx hands out repositories that share one transaction,
// so ledger, trade, dispute, rating and user rows commit or fail together.
package store

import (
	"context"

	"github.com/congo-pay/p2p_market/internal/dispute"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/rating"
	"github.com/congo-pay/p2p_market/internal/trade"
)

// Tx exposes transaction-scoped repositories.
type Tx interface {
	Ledger() ledger.Repository
	Trades() trade.Repository
	Disputes() dispute.Repository
	Ratings() rating.Repository
	Users() identity.Repository
}

// UnitOfWork runs fn inside a single transaction. The transaction commits
// when fn returns nil and rolls back on any error or panic.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
