// Package notify defines the user-notification contract. Dispatch is
// fire-and-forget: a notification failure never blocks deposit processing.
package notify

import (
	"context"
	"log/slog"
)

// Payload is a user-facing notification.
type Payload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"` // "ACTIVITY"
}

// Notifier dispatches a notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID string, payload Payload) error
}

// LogNotifier writes notifications to the structured log. Used when no
// external notification service is wired in.
type LogNotifier struct{}

// Notify logs the notification.
func (LogNotifier) Notify(_ context.Context, userID string, payload Payload) error {
	slog.Info("user notification",
		"userID", userID,
		"title", payload.Title,
		"message", payload.Message,
		"type", payload.Type,
	)
	return nil
}
