package notification

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/adfaaly/cashd/internal/ledger"
)

// Event describes a terminal ledger transition for downstream push/SMS/email
// delivery. The engine emits these fire-and-forget: implementations must not
// block and delivery is never retried.
type Event struct {
	EntryID   uuid.UUID
	Kind      ledger.EntryKind
	Status    ledger.EntryStatus
	Reference string
}

// Notifier delivers events to downstream systems.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// LoggerNotifier is a stub implementation that writes events to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the event to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, event Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("ledger notification",
		"entry_id", event.EntryID.String(),
		"kind", string(event.Kind),
		"status", string(event.Status),
		"reference", event.Reference,
	)
	return nil
}
