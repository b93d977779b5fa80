// Package handler exposes the public, token-addressed survey endpoints.
// These routes are unauthenticated by design: the unguessable access token
// in the path is the whole credential.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attest/internal/session"
	"attest/internal/survey/models"
	"attest/pkg/platform/httputil"
	"attest/pkg/requestcontext"
)

// Service defines the session operations the handler needs.
type Service interface {
	Resolve(ctx context.Context, token string) (*session.View, error)
	Answer(ctx context.Context, token string, req *models.AnswerRequest) (*session.View, error)
	Submit(ctx context.Context, token string) (*session.View, error)
}

// Handler serves the recipient-facing survey endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/compliance-survey/{token}", func(r chi.Router) {
		r.Get("/", h.HandleResolve)
		r.Post("/answers", h.HandleAnswer)
		r.Post("/submit", h.HandleSubmit)
	})
}

// HandleResolve handles GET /compliance-survey/{token}.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	view, err := h.service.Resolve(ctx, chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleAnswer handles POST /compliance-survey/{token}/answers.
func (h *Handler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.AnswerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	view, err := h.service.Answer(ctx, chi.URLParam(r, "token"), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleSubmit handles POST /compliance-survey/{token}/submit.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	view, err := h.service.Submit(ctx, chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}
