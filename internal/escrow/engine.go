// Package escrow moves value between wallet balances and trades. Every
// operation runs as one unit of work: the trade status change and the
// ledger postings commit together or not at all.
package escrow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/metrics"
	"github.com/congo-pay/p2p_market/internal/notification"
	"github.com/congo-pay/p2p_market/internal/reputation"
	"github.com/congo-pay/p2p_market/internal/store"
	"github.com/congo-pay/p2p_market/internal/trade"
)

// Engine owns the trade lifecycle operations that touch funds.
type Engine struct {
	uow      store.UnitOfWork
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewEngine wires the escrow engine. notifier and m may be nil.
func NewEngine(uow store.UnitOfWork, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{uow: uow, notifier: notifier, metrics: m, logger: logger}
}

// Settlement is the outcome of a tx-scoped escrow step.
type Settlement struct {
	Trade    trade.Trade
	Postings []ledger.TxType
}

func reference(tradeID string) string { return "trade:" + tradeID }

// FundEscrow debits the trade amount from the payer and locks it against
// the trade. Only the selling side may fund, and only once a counterparty
// has joined.
func (e *Engine) FundEscrow(ctx context.Context, tradeID, payerID string) (trade.Trade, error) {
	var out trade.Trade
	err := e.uow.WithinTx(ctx, func(tx store.Tx) error {
		ts := trade.NewStore(tx.Trades())
		t, err := ts.Lock(ctx, tradeID)
		if err != nil {
			return err
		}
		expected := t.Status
		if expected != trade.StatusOpen && expected != trade.StatusPending {
			// reports stale or terminal state as appropriate
			expected = trade.StatusPending
		}
		if err := trade.CheckTransition(t.Status, trade.StatusInEscrow, expected); err != nil {
			return err
		}
		if payerID == "" || payerID != t.SellerID() {
			return fmt.Errorf("%w: only the seller can fund escrow", apperr.ErrForbidden)
		}
		// open listings are joined before they are funded
		if !t.Status.CanHoldEscrow() || t.CounterpartyID == "" {
			return fmt.Errorf("%w: trade has no counterparty yet, an open listing cannot be funded", trade.ErrInvalidTradeState)
		}

		if _, err := ledger.New(tx.Ledger()).Debit(ctx, ledger.Posting{
			UserID:    payerID,
			Currency:  t.Currency,
			Amount:    t.Amount,
			Type:      ledger.TxEscrow,
			Reference: reference(t.ID),
			Details:   "escrow lock",
		}); err != nil {
			return err
		}
		out, err = ts.TransitionStatus(ctx, t.ID, trade.StatusInEscrow, expected, func(t *trade.Trade) {
			t.EscrowFunderID = payerID
		})
		return err
	})
	e.metrics.ObserveEscrow("fund", err)
	if err != nil {
		return trade.Trade{}, err
	}
	e.metrics.ObservePostings(string(ledger.TxEscrow))

	e.logger.Info("escrow funded", "trade_id", out.ID, "user_id", payerID, "status", out.Status, "amount", out.Amount.String(), "currency", out.Currency)
	e.notify(ctx, out, notification.KindTradeFunded, fmt.Sprintf("%s %s locked in escrow", out.Amount, out.Currency))
	return out, nil
}

// Release pays the escrowed amount to the buyer and completes the trade.
// The escrow funder or an admin may release.
func (e *Engine) Release(ctx context.Context, tradeID string, actor identity.Actor) (trade.Trade, error) {
	var res Settlement
	err := e.uow.WithinTx(ctx, func(tx store.Tx) error {
		t, err := trade.NewStore(tx.Trades()).Lock(ctx, tradeID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin && (actor.UserID == "" || actor.UserID != t.EscrowFunderID) {
			return fmt.Errorf("%w: only the escrow funder or an admin can release", apperr.ErrForbidden)
		}
		res, err = e.ReleaseIn(ctx, tx, t.ID, trade.StatusInEscrow)
		return err
	})
	e.metrics.ObserveEscrow("release", err)
	if err != nil {
		return trade.Trade{}, err
	}
	e.committed(ctx, res, actor.UserID)
	return res.Trade, nil
}

// CancelAndRefund cancels a trade that has not completed and returns any
// escrowed funds to the party that paid them. The creator or an admin may cancel.
func (e *Engine) CancelAndRefund(ctx context.Context, tradeID string, actor identity.Actor) (trade.Trade, error) {
	var res Settlement
	err := e.uow.WithinTx(ctx, func(tx store.Tx) error {
		t, err := trade.NewStore(tx.Trades()).Lock(ctx, tradeID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin && (actor.UserID == "" || actor.UserID != t.UserID) {
			return fmt.Errorf("%w: only the creator or an admin can cancel", apperr.ErrForbidden)
		}
		if t.Status == trade.StatusDisputed {
			return fmt.Errorf("%w: disputed trades are settled by dispute resolution", trade.ErrInvalidTradeState)
		}
		res, err = e.RefundIn(ctx, tx, t.ID, t.Status)
		return err
	})
	e.metrics.ObserveEscrow("cancel", err)
	if err != nil {
		return trade.Trade{}, err
	}
	e.committed(ctx, res, actor.UserID)
	return res.Trade, nil
}

// ReleaseIn completes the trade inside tx, crediting the buyer when funds
// are escrowed and updating both parties' completed-trade counters.
func (e *Engine) ReleaseIn(ctx context.Context, tx store.Tx, tradeID string, expected trade.Status) (Settlement, error) {
	ts := trade.NewStore(tx.Trades())
	t, err := ts.Lock(ctx, tradeID)
	if err != nil {
		return Settlement{}, err
	}
	if err := trade.CheckTransition(t.Status, trade.StatusCompleted, expected); err != nil {
		return Settlement{}, err
	}
	if t.Funded() && !t.Status.CanHoldEscrow() {
		return Settlement{}, fmt.Errorf("%w: escrow recorded on a %s trade", trade.ErrInvalidTradeState, t.Status)
	}
	if t.BuyerID() == "" {
		return Settlement{}, fmt.Errorf("%w: trade has no counterparty", trade.ErrInvalidTradeState)
	}

	var postings []ledger.TxType
	if t.Funded() {
		if _, err := ledger.New(tx.Ledger()).Credit(ctx, ledger.Posting{
			UserID:    t.BuyerID(),
			Currency:  t.Currency,
			Amount:    t.Amount,
			Type:      ledger.TxTrade,
			Reference: reference(t.ID),
			Details:   "escrow release",
		}); err != nil {
			return Settlement{}, err
		}
		postings = append(postings, ledger.TxTrade)
	}

	done, err := ts.TransitionStatus(ctx, t.ID, trade.StatusCompleted, expected)
	if err != nil {
		return Settlement{}, err
	}
	if err := reputation.OnTradeCompleted(ctx, tx, done); err != nil {
		return Settlement{}, err
	}
	return Settlement{Trade: done, Postings: postings}, nil
}

// RefundIn cancels the trade inside tx and credits escrowed funds back to
// the funder.
func (e *Engine) RefundIn(ctx context.Context, tx store.Tx, tradeID string, expected trade.Status) (Settlement, error) {
	ts := trade.NewStore(tx.Trades())
	t, err := ts.Lock(ctx, tradeID)
	if err != nil {
		return Settlement{}, err
	}
	if err := trade.CheckTransition(t.Status, trade.StatusCancelled, expected); err != nil {
		return Settlement{}, err
	}
	if t.Funded() && !t.Status.CanHoldEscrow() {
		return Settlement{}, fmt.Errorf("%w: escrow recorded on a %s trade", trade.ErrInvalidTradeState, t.Status)
	}

	var postings []ledger.TxType
	if t.Funded() {
		if _, err := ledger.New(tx.Ledger()).Credit(ctx, ledger.Posting{
			UserID:    t.EscrowFunderID,
			Currency:  t.Currency,
			Amount:    t.Amount,
			Type:      ledger.TxEscrow,
			Reference: reference(t.ID),
			Details:   "escrow refund",
		}); err != nil {
			return Settlement{}, err
		}
		postings = append(postings, ledger.TxEscrow)
	}

	done, err := ts.TransitionStatus(ctx, t.ID, trade.StatusCancelled, expected)
	if err != nil {
		return Settlement{}, err
	}
	return Settlement{Trade: done, Postings: postings}, nil
}

// Committed records metrics, logs and notifications for a settlement after
// its unit of work has committed.
func (e *Engine) Committed(ctx context.Context, res Settlement, actorID string) {
	e.committed(ctx, res, actorID)
}

func (e *Engine) committed(ctx context.Context, res Settlement, actorID string) {
	types := make([]string, 0, len(res.Postings))
	for _, p := range res.Postings {
		types = append(types, string(p))
	}
	e.metrics.ObservePostings(types...)

	t := res.Trade
	switch t.Status {
	case trade.StatusCompleted:
		e.logger.Info("trade completed", "trade_id", t.ID, "user_id", actorID, "status", t.Status, "buyer_id", t.BuyerID())
		e.notify(ctx, t, notification.KindTradeCompleted, fmt.Sprintf("trade completed, %s %s released", t.Amount, t.Currency))
	case trade.StatusCancelled:
		e.logger.Info("trade cancelled", "trade_id", t.ID, "user_id", actorID, "status", t.Status, "refunded", t.Funded())
		e.notify(ctx, t, notification.KindTradeCancelled, "trade cancelled")
	case trade.StatusOpen, trade.StatusPending, trade.StatusInEscrow, trade.StatusDisputed:
	}
}

// notify sends kind to both parties of t.
func (e *Engine) notify(ctx context.Context, t trade.Trade, kind, body string) {
	msgs := []notification.Message{{Kind: kind, TradeID: t.ID, Destination: t.UserID, Body: body}}
	if t.CounterpartyID != "" {
		msgs = append(msgs, notification.Message{Kind: kind, TradeID: t.ID, Destination: t.CounterpartyID, Body: body})
	}
	notification.Dispatch(ctx, e.notifier, e.logger, msgs...)
}
