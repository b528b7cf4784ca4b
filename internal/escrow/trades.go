package escrow

import (
	"context"
	"fmt"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/notification"
	"github.com/congo-pay/p2p_market/internal/store"
	"github.com/congo-pay/p2p_market/internal/trade"
)

// Create lists a new trade for the creator in in.UserID.
func (e *Engine) Create(ctx context.Context, in trade.CreateInput) (trade.Trade, error) {
	var out trade.Trade
	err := e.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = trade.NewStore(tx.Trades()).Create(ctx, in)
		return err
	})
	if err != nil {
		return trade.Trade{}, err
	}
	e.logger.Info("trade created", "trade_id", out.ID, "user_id", out.UserID, "status", out.Status, "type", out.Type)
	notification.Dispatch(ctx, e.notifier, e.logger, notification.Message{
		Kind: notification.KindTradeCreated, TradeID: out.ID, Destination: out.UserID,
		Body: fmt.Sprintf("%s %s %s listed", out.Type, out.Amount, out.Currency),
	})
	return out, nil
}

// Join attaches the caller as counterparty.
func (e *Engine) Join(ctx context.Context, tradeID, userID string) (trade.Trade, error) {
	var out trade.Trade
	err := e.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = trade.NewStore(tx.Trades()).Join(ctx, tradeID, userID)
		return err
	})
	if err != nil {
		return trade.Trade{}, err
	}
	e.logger.Info("trade joined", "trade_id", out.ID, "user_id", userID, "status", out.Status)
	e.notify(ctx, out, notification.KindTradeJoined, "counterparty joined")
	return out, nil
}

// UpdateStatus is the status endpoint: completed releases escrow and
// cancelled cancels with refund. Any other target is rejected.
func (e *Engine) UpdateStatus(ctx context.Context, tradeID string, next trade.Status, actor identity.Actor) (trade.Trade, error) {
	switch next {
	case trade.StatusCompleted:
		return e.Release(ctx, tradeID, actor)
	case trade.StatusCancelled:
		return e.CancelAndRefund(ctx, tradeID, actor)
	case trade.StatusOpen, trade.StatusPending, trade.StatusInEscrow, trade.StatusDisputed:
	}
	return trade.Trade{}, fmt.Errorf("%w: status %s cannot be set directly", trade.ErrInvalidTradeState, next)
}

// Get returns a trade visible to actor: a party, an admin, or anyone while
// the listing is still open.
func (e *Engine) Get(ctx context.Context, tradeID string, actor identity.Actor) (trade.Trade, error) {
	var out trade.Trade
	err := e.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = trade.NewStore(tx.Trades()).Get(ctx, tradeID)
		return err
	})
	if err != nil {
		return trade.Trade{}, err
	}
	if out.Status != trade.StatusOpen && !actor.IsAdmin && !out.IsParty(actor.UserID) {
		return trade.Trade{}, fmt.Errorf("trade: %w", apperr.ErrNotFound)
	}
	return out, nil
}

// List returns trades matching f, newest first. Callers other than admins
// only see open listings unless they filter on their own trades.
func (e *Engine) List(ctx context.Context, f trade.Filter, actor identity.Actor) ([]trade.Trade, error) {
	if !actor.IsAdmin && f.UserID != actor.UserID {
		if f.Status != "" && f.Status != trade.StatusOpen {
			return []trade.Trade{}, nil
		}
		f.Status = trade.StatusOpen
	}
	var out []trade.Trade
	err := e.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = trade.NewStore(tx.Trades()).List(ctx, f)
		return err
	})
	return out, err
}
