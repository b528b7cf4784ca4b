// Package resolver freezes disputed trades and settles them on an admin's
// decision.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/dispute"
	"github.com/congo-pay/p2p_market/internal/escrow"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/metrics"
	"github.com/congo-pay/p2p_market/internal/notification"
	"github.com/congo-pay/p2p_market/internal/reputation"
	"github.com/congo-pay/p2p_market/internal/store"
	"github.com/congo-pay/p2p_market/internal/trade"
)

// Resolver runs dispute operations as single units of work.
type Resolver struct {
	uow      store.UnitOfWork
	escrow   *escrow.Engine
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func New(uow store.UnitOfWork, engine *escrow.Engine, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		uow:      uow,
		escrow:   engine,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OpenInput raises a dispute on a trade.
type OpenInput struct {
	TradeID     string
	UserID      string
	Reason      string
	Description string
}

// Open creates the dispute and freezes the trade in the disputed state.
func (r *Resolver) Open(ctx context.Context, in OpenInput) (dispute.Dispute, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return dispute.Dispute{}, apperr.Invalid("reason is required")
	}

	var out dispute.Dispute
	var frozen trade.Trade
	err := r.uow.WithinTx(ctx, func(tx store.Tx) error {
		ts := trade.NewStore(tx.Trades())
		t, err := ts.Lock(ctx, in.TradeID)
		if err != nil {
			return err
		}
		if !t.IsParty(in.UserID) {
			return fmt.Errorf("%w: only trade parties may raise a dispute", apperr.ErrForbidden)
		}
		if _, err := tx.Disputes().GetByTrade(ctx, t.ID); err == nil {
			return dispute.ErrDuplicateDispute
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if t.Status != trade.StatusPending && t.Status != trade.StatusInEscrow {
			return fmt.Errorf("%w: cannot dispute a %s trade", trade.ErrInvalidTradeState, t.Status)
		}

		out = dispute.Dispute{
			ID:          uuid.NewString(),
			TradeID:     t.ID,
			UserID:      in.UserID,
			Reason:      reason,
			Description: strings.TrimSpace(in.Description),
			Status:      dispute.StatusPending,
			CreatedAt:   r.now(),
		}
		if err := tx.Disputes().Insert(ctx, out); err != nil {
			return err
		}
		frozen, err = ts.TransitionStatus(ctx, t.ID, trade.StatusDisputed, t.Status)
		return err
	})
	if err != nil {
		return dispute.Dispute{}, err
	}

	r.logger.Info("dispute opened", "dispute_id", out.ID, "trade_id", out.TradeID, "user_id", out.UserID, "status", frozen.Status)
	r.notifyParties(ctx, frozen, notification.KindDisputeOpened, "dispute opened: "+out.Reason)
	return out, nil
}

// AddNote appends an admin note to a dispute.
func (r *Resolver) AddNote(ctx context.Context, disputeID string, admin identity.Actor, content string) (dispute.AdminNote, error) {
	if !admin.IsAdmin {
		return dispute.AdminNote{}, fmt.Errorf("%w: admin only", apperr.ErrForbidden)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return dispute.AdminNote{}, apperr.Invalid("content is required")
	}
	note := dispute.AdminNote{
		ID:        uuid.NewString(),
		DisputeID: disputeID,
		AdminID:   admin.UserID,
		Content:   content,
		CreatedAt: r.now(),
	}
	err := r.uow.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Disputes().Get(ctx, disputeID); err != nil {
			return err
		}
		return tx.Disputes().AppendNote(ctx, note)
	})
	if err != nil {
		return dispute.AdminNote{}, err
	}
	r.logger.Info("dispute note added", "dispute_id", disputeID, "user_id", admin.UserID)
	return note, nil
}

// ResolveInput is an admin decision.
type ResolveInput struct {
	DisputeID  string
	Resolution string
	WinnerID   string
}

// Outcome is the committed result of a resolution.
type Outcome struct {
	Dispute dispute.Dispute
	Trade   trade.Trade
	Note    dispute.AdminNote
}

// Resolve settles the disputed trade in favour of the winner. A buyer win
// completes the trade and releases escrow to the buyer; a seller win cancels
// it and refunds the funder. The dispute, note, trade, ledger and stats
// changes commit together.
func (r *Resolver) Resolve(ctx context.Context, admin identity.Actor, in ResolveInput) (Outcome, error) {
	if !admin.IsAdmin {
		return Outcome{}, fmt.Errorf("%w: admin only", apperr.ErrForbidden)
	}
	requested, err := dispute.ParseResolution(in.Resolution)
	if err != nil {
		return Outcome{}, apperr.Invalid(err.Error())
	}

	var (
		out        Outcome
		settlement escrow.Settlement
	)
	err = r.uow.WithinTx(ctx, func(tx store.Tx) error {
		d, err := tx.Disputes().GetForUpdate(ctx, in.DisputeID)
		if err != nil {
			return err
		}
		if d.Status != dispute.StatusPending {
			return dispute.ErrAlreadyResolved
		}
		t, err := trade.NewStore(tx.Trades()).Lock(ctx, d.TradeID)
		if err != nil {
			return err
		}
		if !t.IsParty(in.WinnerID) {
			return dispute.ErrInvalidWinner
		}

		// Settlement follows the side, not the creator: the buyer winning
		// completes the trade, the seller winning cancels it and refunds the
		// funder. On a buy trade the creator is the buyer.
		side := dispute.ResolutionSeller
		loser := t.BuyerID()
		if in.WinnerID == t.BuyerID() {
			side = dispute.ResolutionBuyer
			loser = t.SellerID()
		}
		if requested != "" && requested != side {
			return apperr.Invalid(fmt.Sprintf("winner is the %s but resolution says %s", side, requested))
		}

		if side == dispute.ResolutionBuyer {
			settlement, err = r.escrow.ReleaseIn(ctx, tx, t.ID, trade.StatusDisputed)
		} else {
			settlement, err = r.escrow.RefundIn(ctx, tx, t.ID, trade.StatusDisputed)
		}
		if err != nil {
			return err
		}
		if loser != "" {
			if err := reputation.OnDisputeLost(ctx, tx, loser); err != nil {
				return err
			}
		}

		now := r.now()
		d.Status = dispute.StatusResolved
		d.Resolution = side
		d.WinnerID = in.WinnerID
		d.ResolvedBy = admin.UserID
		d.ResolvedAt = &now
		if err := tx.Disputes().Update(ctx, d); err != nil {
			return err
		}

		note := dispute.AdminNote{
			ID:        uuid.NewString(),
			DisputeID: d.ID,
			AdminID:   admin.UserID,
			Content:   outcomeNote(settlement.Trade, side, in.WinnerID),
			CreatedAt: now,
		}
		if err := tx.Disputes().AppendNote(ctx, note); err != nil {
			return err
		}
		out = Outcome{Dispute: d, Trade: settlement.Trade, Note: note}
		return nil
	})
	r.metrics.ObserveEscrow("resolve", err)
	if err != nil {
		return Outcome{}, err
	}

	r.metrics.ObserveResolution(string(out.Dispute.Resolution))
	r.logger.Info("dispute resolved", "dispute_id", out.Dispute.ID, "trade_id", out.Trade.ID, "user_id", admin.UserID,
		"winner_id", out.Dispute.WinnerID, "resolution", out.Dispute.Resolution, "status", out.Trade.Status)
	r.escrow.Committed(ctx, settlement, admin.UserID)
	r.notifyParties(ctx, out.Trade, notification.KindDisputeResolved, out.Note.Content)
	return out, nil
}

func outcomeNote(t trade.Trade, side dispute.Resolution, winnerID string) string {
	switch t.Status {
	case trade.StatusCompleted:
		if t.Funded() {
			return fmt.Sprintf("Resolved for %s %s: trade completed, %s %s released to %s.", side, winnerID, t.Amount, t.Currency, t.BuyerID())
		}
		return fmt.Sprintf("Resolved for %s %s: trade completed, no escrow held.", side, winnerID)
	case trade.StatusCancelled:
		if t.Funded() {
			return fmt.Sprintf("Resolved for %s %s: trade cancelled, %s %s refunded to %s.", side, winnerID, t.Amount, t.Currency, t.EscrowFunderID)
		}
		return fmt.Sprintf("Resolved for %s %s: trade cancelled, no escrow held.", side, winnerID)
	case trade.StatusOpen, trade.StatusPending, trade.StatusInEscrow, trade.StatusDisputed:
	}
	return fmt.Sprintf("Resolved for %s %s.", side, winnerID)
}

// Detail is a dispute with its notes.
type Detail struct {
	Dispute dispute.Dispute
	Notes   []dispute.AdminNote
}

// Get returns a dispute to a trade party or an admin.
func (r *Resolver) Get(ctx context.Context, disputeID string, actor identity.Actor) (Detail, error) {
	return r.detail(ctx, actor, func(tx store.Tx) (dispute.Dispute, error) {
		return tx.Disputes().Get(ctx, disputeID)
	})
}

// GetByTrade returns the dispute raised on tradeID.
func (r *Resolver) GetByTrade(ctx context.Context, tradeID string, actor identity.Actor) (Detail, error) {
	return r.detail(ctx, actor, func(tx store.Tx) (dispute.Dispute, error) {
		return tx.Disputes().GetByTrade(ctx, tradeID)
	})
}

func (r *Resolver) detail(ctx context.Context, actor identity.Actor, load func(store.Tx) (dispute.Dispute, error)) (Detail, error) {
	var out Detail
	err := r.uow.WithinTx(ctx, func(tx store.Tx) error {
		d, err := load(tx)
		if err != nil {
			return err
		}
		if !actor.IsAdmin {
			t, err := tx.Trades().Get(ctx, d.TradeID)
			if err != nil {
				return err
			}
			if !t.IsParty(actor.UserID) {
				return fmt.Errorf("dispute: %w", apperr.ErrNotFound)
			}
		}
		notes, err := tx.Disputes().Notes(ctx, d.ID)
		if err != nil {
			return err
		}
		out = Detail{Dispute: d, Notes: notes}
		return nil
	})
	return out, err
}

// List returns disputes filtered by status, newest first.
func (r *Resolver) List(ctx context.Context, status dispute.Status) ([]dispute.Dispute, error) {
	var out []dispute.Dispute
	err := r.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Disputes().List(ctx, status)
		return err
	})
	return out, err
}

func (r *Resolver) notifyParties(ctx context.Context, t trade.Trade, kind, body string) {
	msgs := []notification.Message{{Kind: kind, TradeID: t.ID, Destination: t.UserID, Body: body}}
	if t.CounterpartyID != "" {
		msgs = append(msgs, notification.Message{Kind: kind, TradeID: t.ID, Destination: t.CounterpartyID, Body: body})
	}
	notification.Dispatch(ctx, r.notifier, r.logger, msgs...)
}
