package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	KindDepositCompleted    = "deposit.completed"
	KindWithdrawCompleted   = "withdraw.completed"
	KindCommissionCompleted = "commission.completed"
	KindRefundCompleted     = "refund.completed"
	KindWithdrawPending     = "withdraw.pending"
	KindWithdrawConfirmed   = "withdraw.confirmed"
	KindWithdrawCancelled   = "withdraw.cancelled"
)

// Event describes one ledger transition.
type Event struct {
	Kind       string    `json:"kind"`
	EntryID    int64     `json:"entry_id"`
	OwnerID    int64     `json:"owner_id"`
	Type       string    `json:"type"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers ledger events to downstream audit systems. Delivery is
// advisory: callers log failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LoggerNotifier writes each event as one structured log line.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a notifier backed by logger.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Notify writes the event to the structured logger.
func (n *LoggerNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "ledger event",
		slog.String("kind", event.Kind),
		slog.Int64("entry_id", event.EntryID),
		slog.Int64("owner_id", event.OwnerID),
		slog.String("type", event.Type),
		slog.String("amount", event.Amount),
		slog.String("currency", event.Currency),
		slog.String("status", event.Status),
	)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers the event to all notifiers, even when some fail.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
