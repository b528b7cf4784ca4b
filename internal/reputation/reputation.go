// Package reputation keeps user trade counters and ratings in step with
// trade outcomes.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/notification"
	"github.com/congo-pay/p2p_market/internal/rating"
	"github.com/congo-pay/p2p_market/internal/store"
	"github.com/congo-pay/p2p_market/internal/trade"
)

// OnTradeCompleted bumps completed_trades for both parties. It must run in
// the unit of work that moved the trade to completed.
func OnTradeCompleted(ctx context.Context, tx store.Tx, t trade.Trade) error {
	if t.Status != trade.StatusCompleted {
		return fmt.Errorf("%w: trade is %s", trade.ErrInvalidTradeState, t.Status)
	}
	parties := []string{t.UserID}
	if t.CounterpartyID != "" && t.CounterpartyID != t.UserID {
		parties = append(parties, t.CounterpartyID)
	}
	// fixed lock order across concurrent completions
	sort.Strings(parties)
	for _, id := range parties {
		if err := updateStats(ctx, tx.Users(), id, func(s *identity.Stats) { s.CompletedTrades++ }); err != nil {
			return err
		}
	}
	return nil
}

// OnDisputeLost records a lost dispute against userID.
func OnDisputeLost(ctx context.Context, tx store.Tx, userID string) error {
	return updateStats(ctx, tx.Users(), userID, func(s *identity.Stats) { s.DisputesLost++ })
}

func updateStats(ctx context.Context, users identity.Repository, userID string, mutate func(*identity.Stats)) error {
	stats, err := users.LockStats(ctx, userID)
	if err != nil {
		return fmt.Errorf("lock stats: %w", err)
	}
	stats.UserID = userID
	mutate(&stats)
	stats.RecomputeSuccessRate()
	if err := users.SaveStats(ctx, stats); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

// Service accepts ratings for completed trades.
type Service struct {
	uow      store.UnitOfWork
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the rating service.
func NewService(uow store.UnitOfWork, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{uow: uow, notifier: notifier, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// SubmitInput carries one rating.
type SubmitInput struct {
	TradeID string
	RaterID string
	Score   int
	Comment string
}

// Submit stores the rater's score for the other party and refreshes that
// party's average rating.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (rating.Rating, error) {
	if in.Score < rating.MinScore || in.Score > rating.MaxScore {
		return rating.Rating{}, apperr.Invalid(fmt.Sprintf("rating must be between %d and %d", rating.MinScore, rating.MaxScore))
	}

	var out rating.Rating
	err := s.uow.WithinTx(ctx, func(tx store.Tx) error {
		t, err := tx.Trades().Get(ctx, in.TradeID)
		if err != nil {
			return err
		}
		if t.Status != trade.StatusCompleted {
			return fmt.Errorf("%w: trade is %s", rating.ErrNotRatable, t.Status)
		}
		if !t.IsParty(in.RaterID) {
			return fmt.Errorf("%w: only trade parties may rate", apperr.ErrForbidden)
		}
		rated := t.CounterpartyID
		if in.RaterID == t.CounterpartyID {
			rated = t.UserID
		}

		out = rating.Rating{
			ID:        uuid.NewString(),
			TradeID:   t.ID,
			RaterID:   in.RaterID,
			RatedID:   rated,
			Score:     in.Score,
			Comment:   strings.TrimSpace(in.Comment),
			CreatedAt: s.now(),
		}
		if err := tx.Ratings().Insert(ctx, out); err != nil {
			return err
		}
		summary, err := tx.Ratings().Summarize(ctx, rated)
		if err != nil {
			return fmt.Errorf("summarize ratings: %w", err)
		}
		return updateStats(ctx, tx.Users(), rated, func(st *identity.Stats) {
			st.Rating = summary.Average
			st.RatingCount = summary.Count
		})
	})
	if err != nil {
		return rating.Rating{}, err
	}

	s.logger.Info("rating submitted", "trade_id", out.TradeID, "user_id", out.RaterID, "rated_id", out.RatedID, "rating", out.Score)
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindRatingSubmitted,
		TradeID:     out.TradeID,
		Destination: out.RatedID,
		Body:        fmt.Sprintf("You received a %d star rating", out.Score),
	})
	return out, nil
}

// Ratings lists the ratings a user has received, newest first.
func (s *Service) Ratings(ctx context.Context, userID string) ([]rating.Rating, error) {
	var out []rating.Rating
	err := s.uow.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Ratings().ListByRated(ctx, userID)
		return err
	})
	return out, err
}
