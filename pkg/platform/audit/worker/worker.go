package worker

import (
	"context"
	"log/slog"

	audit "attest/pkg/platform/audit"
)

// Worker consumes audit events from the publisher inbox and fans them out to
// the configured sinks. A sink failure is logged and the remaining sinks
// still receive the event; the worker only stops when its context does.
type Worker struct {
	sinks  []audit.Sink
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(inbox <-chan audit.Event, logger *slog.Logger, sinks ...audit.Sink) *Worker {
	return &Worker{sinks: sinks, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			for _, sink := range w.sinks {
				if err := sink.Append(ctx, event); err != nil {
					w.logger.ErrorContext(ctx, "audit sink append failed",
						"action", event.Action,
						"run_id", event.RunID,
						"error", err,
					)
				}
			}
		}
	}
}
