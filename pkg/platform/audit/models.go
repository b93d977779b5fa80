// Package audit captures an append-only trail of survey engine actions.
//
// Events are emitted from domain services, enriched with request metadata
// from the context, and handed to a background worker that fans them out to
// the configured sinks. Emission is non-blocking; a full inbox drops the
// event rather than stalling the request path.
package audit

import (
	"context"
	"time"

	"github.com/mssola/useragent"

	"attest/pkg/requestcontext"
)

// Action identifies what happened.
type Action string

const (
	ActionRunCreated         Action = "run_created"
	ActionRunActivated       Action = "run_activated"
	ActionRunClosed          Action = "run_closed"
	ActionRunExpired         Action = "run_expired"
	ActionRunRescheduled     Action = "run_rescheduled"
	ActionNotificationFailed Action = "notification_failed"
	ActionSurveySubmitted    Action = "survey_submitted"
)

// Event is one audit trail entry. Keep it transport-agnostic so stores and
// sinks can fan out.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`

	// Domain references, as strings so the trail never depends on live rows.
	RunID        string `json:"run_id,omitempty"`
	RecipientID  string `json:"recipient_id,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`

	// Actor is the admin who performed the action, empty for recipient and
	// system initiated events.
	Actor string `json:"actor,omitempty"`

	// Detail carries a short human-readable explanation, e.g. the dispatch
	// error for notification_failed.
	Detail string `json:"detail,omitempty"`

	// Request metadata captured at emission time.
	RequestID string `json:"request_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
}

// FromContext builds an event enriched with actor, request id and client
// metadata from the request context. The raw User-Agent header is reduced to
// browser and OS names so the trail stays readable.
func FromContext(ctx context.Context, action Action) Event {
	e := Event{
		Timestamp: requestcontext.Now(ctx),
		Action:    action,
		RequestID: requestcontext.RequestID(ctx),
		IP:        requestcontext.ClientIP(ctx),
	}
	if actor := requestcontext.ActorID(ctx); !actor.IsNil() {
		e.Actor = actor.String()
	}
	if raw := requestcontext.UserAgent(ctx); raw != "" {
		ua := useragent.New(raw)
		name, version := ua.Browser()
		if name != "" {
			e.Browser = name
			if version != "" {
				e.Browser += " " + version
			}
		}
		e.OS = ua.OS()
	}
	return e
}

// Sink receives events for persistence or forwarding.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Store is a queryable sink.
type Store interface {
	Sink
	// ListByRun returns the run's events in append order.
	ListByRun(ctx context.Context, runID string) ([]Event, error)
	// ListRecent returns the most recent events, newest last.
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
