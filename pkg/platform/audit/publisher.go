package audit

import (
	"context"
	"log/slog"
	"time"
)

// Publisher hands events to the worker inbox without blocking the caller.
// Audit capture must never stall or fail the request path, so a full inbox
// drops the event and logs the loss.
type Publisher struct {
	inbox  chan<- Event
	logger *slog.Logger
}

func NewPublisher(inbox chan<- Event, logger *slog.Logger) *Publisher {
	return &Publisher{inbox: inbox, logger: logger}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.WarnContext(ctx, "audit inbox full, event dropped",
			"action", event.Action,
			"run_id", event.RunID,
		)
	}
	return nil
}
