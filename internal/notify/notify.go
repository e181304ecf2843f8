// Package notify is the write-only fan-out for economy events: per-player
// notifications and the WebSocket broadcast hub. Delivery is fire-and-forget
// with at-least-once semantics; a failed notification never rolls back an
// economy transaction.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers a message to one player. Implementations must not block
// trade execution and must not return delivery failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, recipientID, subject, body string)
}

// LogNotifier writes notifications to the structured log. Stands in for the
// game's mail/push pipeline in development and tests.
type LogNotifier struct{}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(_ context.Context, recipientID, subject, body string) {
	slog.Info("notification",
		"recipient", recipientID,
		"subject", subject,
		"body", body,
	)
}

// NopNotifier discards notifications. Used in tests that do not assert on
// notification output.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string, string) {}
