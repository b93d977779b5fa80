// Package notify is the narrow port to the external notification service.
//
// The engine never sends email itself; it asks the dispatcher once per
// recipient and records what the dispatcher reported. Failures are recorded
// state, not fatal errors.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Notification is one survey invitation to deliver.
type Notification struct {
	RecipientEmail string
	RecipientName  string
	SurveyURL      string
	RunTitle       string
	DueDate        time.Time
}

// Dispatcher delivers survey invitations. Implementations must respect the
// context deadline; the engine supplies a per-dispatch timeout.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

// LogDispatcher logs instead of delivering. The development default.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) Send(ctx context.Context, n Notification) error {
	d.Logger.InfoContext(ctx, "survey notification (not delivered: log dispatcher)",
		"email", n.RecipientEmail,
		"survey_url", n.SurveyURL,
		"run_title", n.RunTitle,
		"due_date", n.DueDate.Format(time.DateOnly),
	)
	return nil
}
