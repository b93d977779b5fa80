package service

import (
	"context"
	"log/slog"
	"time"

	"attest/internal/survey/models"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/audit"
)

// SweepExpired inspects every active run past its due date. Runs whose
// recipients have all submitted are closed as completed; the rest expire.
// Safe to run concurrently with submissions: it only reads completion flags
// and writes run status through the guarded transition, never responses.
// Returns the number of runs moved to a terminal state.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now()
	due, err := s.runs.ListActiveDueBefore(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list overdue runs")
	}

	swept := 0
	for _, run := range due {
		recipients, err := s.recipients.ListByRun(ctx, run.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "sweep: list recipients", "run_id", run.ID, "error", err)
			continue
		}
		allCompleted := len(recipients) > 0
		for _, recipient := range recipients {
			if !recipient.SurveyCompleted {
				allCompleted = false
				break
			}
		}

		if allCompleted {
			if s.sweepClose(ctx, run, now) {
				swept++
			}
			continue
		}
		if s.sweepExpire(ctx, run, now) {
			swept++
		}
	}
	return swept, nil
}

func (s *Service) sweepClose(ctx context.Context, run *models.Run, now time.Time) bool {
	closed, err := s.runs.Execute(ctx, run.ID,
		func(r *models.Run) error {
			return r.CanClose()
		},
		func(r *models.Run) {
			r.ApplyClose(now)
		},
	)
	if err != nil {
		// Lost the race against a submit or an admin close.
		if !dErrors.HasCode(err, dErrors.CodeStateConflict) {
			s.logger.ErrorContext(ctx, "sweep: close run", "run_id", run.ID, "error", err)
		}
		return false
	}

	s.metrics.IncrementTransition(string(models.RunStatusCompleted))
	s.emitAudit(ctx, audit.ActionRunClosed, run.ID, "sweep: all recipients submitted")
	s.logger.InfoContext(ctx, "sweep closed completed run", "run_id", run.ID)
	if closed.IsRecurring() {
		s.scheduleNextCycle(ctx, closed)
	}
	return true
}

func (s *Service) sweepExpire(ctx context.Context, run *models.Run, now time.Time) bool {
	expired, err := s.runs.Execute(ctx, run.ID,
		func(r *models.Run) error {
			return r.CanExpire(now)
		},
		func(r *models.Run) {
			r.ApplyExpire(now)
		},
	)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeStateConflict) {
			s.logger.ErrorContext(ctx, "sweep: expire run", "run_id", run.ID, "error", err)
		}
		return false
	}

	s.metrics.IncrementTransition(string(models.RunStatusExpired))
	s.emitAudit(ctx, audit.ActionRunExpired, run.ID, "due date passed with pending recipients")
	s.logger.InfoContext(ctx, "sweep expired overdue run", "run_id", run.ID)
	if expired.IsRecurring() {
		s.scheduleNextCycle(ctx, expired)
	}
	return true
}

// Sweeper runs the expiry sweep on a fixed interval until its context ends.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{service: service, interval: interval, logger: logger}
}

func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			swept, err := w.service.SweepExpired(ctx)
			if err != nil {
				w.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				w.logger.InfoContext(ctx, "expiry sweep finished", "runs_swept", swept)
			}
		}
	}
}
