package notification

import (
	"context"
	"log/slog"
)

const (
	KindTradeCreated    = "trade.created"
	KindTradeJoined     = "trade.joined"
	KindTradeFunded     = "trade.funded"
	KindTradeCompleted  = "trade.completed"
	KindTradeCancelled  = "trade.cancelled"
	KindDisputeOpened   = "dispute.opened"
	KindDisputeResolved = "dispute.resolved"
	KindRatingSubmitted = "rating.submitted"
)

// Message describes a notification payload.
type Message struct {
	Kind string
	// TradeID keys the event so every event for a trade lands in order.
	TradeID     string
	Destination string
	Body        string
	Attributes  map[string]string
}

// Notifier delivers notifications to downstream systems. Callers send only
// after the unit of work has committed.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "trade_id", message.TradeID,
		"destination", message.Destination, "body", message.Body)
	return nil
}

// Dispatch sends each message and logs failures at warn. A failed
// notification never changes the outcome of the committed operation.
func Dispatch(ctx context.Context, n Notifier, logger *slog.Logger, messages ...Message) {
	if n == nil {
		return
	}
	for _, msg := range messages {
		if err := n.Send(ctx, msg); err != nil && logger != nil {
			logger.Warn("notification failed", "kind", msg.Kind, "trade_id", msg.TradeID, "error", err)
		}
	}
}
