// Package handler wires the admin compliance API to the survey services.
// Authentication is the router's concern; everything mounted here assumes
// the JWT middleware already ran.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attest/internal/report"
	"attest/internal/survey/models"
	"attest/internal/survey/service"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/httputil"
	"attest/pkg/requestcontext"
)

// RunService defines the run lifecycle operations the handler needs.
type RunService interface {
	CreateRun(ctx context.Context, req *models.CreateRunRequest) (*models.Run, error)
	GetRunDetail(ctx context.Context, runID id.RunID) (*service.RunDetail, error)
	ListRuns(ctx context.Context, status models.RunStatus) ([]*models.Run, error)
	DeleteRun(ctx context.Context, runID id.RunID) error
	AddQuestion(ctx context.Context, runID id.RunID, req *models.AddQuestionRequest) (*models.Question, error)
	RemoveQuestion(ctx context.Context, runID id.RunID, questionID id.QuestionID) error
	SetTargets(ctx context.Context, runID id.RunID, req *models.SetTargetsRequest) error
	Activate(ctx context.Context, runID id.RunID) (*service.ActivationResult, error)
	RetryNotifications(ctx context.Context, runID id.RunID) (*service.RetryResult, error)
	CloseRun(ctx context.Context, runID id.RunID) (*models.Run, error)
}

// ReportService defines the aggregation operations the handler needs.
type ReportService interface {
	Statistics(ctx context.Context, runID id.RunID) (*report.Statistics, error)
	ByDepartment(ctx context.Context, runID id.RunID) ([]report.DepartmentStats, error)
	Report(ctx context.Context, runID id.RunID) (*report.RunReport, error)
}

// Handler serves the admin compliance endpoints.
type Handler struct {
	runs    RunService
	reports ReportService
	logger  *slog.Logger
}

// New constructs a Handler with its dependencies.
func New(runs RunService, reports ReportService, logger *slog.Logger) *Handler {
	return &Handler{runs: runs, reports: reports, logger: logger}
}

// Register mounts the admin endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/compliance/runs", func(r chi.Router) {
		r.Post("/", h.HandleCreateRun)
		r.Get("/", h.HandleListRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", h.HandleGetRun)
			r.Delete("/", h.HandleDeleteRun)
			r.Post("/questions", h.HandleAddQuestion)
			r.Delete("/questions/{questionID}", h.HandleRemoveQuestion)
			r.Put("/departments", h.HandleSetTargets)
			r.Post("/activate", h.HandleActivate)
			r.Post("/notifications/retry", h.HandleRetryNotifications)
			r.Post("/close", h.HandleCloseRun)
			r.Get("/statistics", h.HandleStatistics)
			r.Get("/responses", h.HandleResponses)
			r.Get("/export", h.HandleExport)
		})
	})
}

func runIDParam(r *http.Request) (id.RunID, error) {
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		return id.RunID{}, dErrors.New(dErrors.CodeBadRequest, "invalid run id")
	}
	return runID, nil
}

// HandleCreateRun handles POST /compliance/runs.
func (h *Handler) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.CreateRunRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	run, err := h.runs.CreateRun(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "create run failed",
			"request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRun(run))
}

// HandleListRuns handles GET /compliance/runs. The optional status query
// parameter filters by lifecycle state.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runs, err := h.runs.ListRuns(ctx, models.RunStatus(r.URL.Query().Get("status")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRuns(runs))
}

// HandleGetRun handles GET /compliance/runs/{runID}.
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	detail, err := h.runs.GetRunDetail(ctx, runID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDetail(detail))
}

// HandleDeleteRun handles DELETE /compliance/runs/{runID}.
func (h *Handler) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.runs.DeleteRun(ctx, runID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAddQuestion handles POST /compliance/runs/{runID}/questions.
func (h *Handler) HandleAddQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.AddQuestionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	question, err := h.runs.AddQuestion(ctx, runID, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, question)
}

// HandleRemoveQuestion handles DELETE /compliance/runs/{runID}/questions/{questionID}.
func (h *Handler) HandleRemoveQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	questionID, err := id.ParseQuestionID(chi.URLParam(r, "questionID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid question id"))
		return
	}

	if err := h.runs.RemoveQuestion(ctx, runID, questionID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetTargets handles PUT /compliance/runs/{runID}/departments.
func (h *Handler) HandleSetTargets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.SetTargetsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.runs.SetTargets(ctx, runID, req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleActivate handles POST /compliance/runs/{runID}/activate.
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.runs.Activate(ctx, runID)
	if err != nil {
		h.logger.ErrorContext(ctx, "activation failed",
			"request_id", requestID, "run_id", runID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromActivation(result))
}

// HandleRetryNotifications handles POST /compliance/runs/{runID}/notifications/retry.
func (h *Handler) HandleRetryNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.runs.RetryNotifications(ctx, runID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleCloseRun handles POST /compliance/runs/{runID}/close.
func (h *Handler) HandleCloseRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	run, err := h.runs.CloseRun(ctx, runID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRun(run))
}

// HandleStatistics handles GET /compliance/runs/{runID}/statistics. The
// optional by=department query parameter switches to the per-department
// breakdown.
func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if r.URL.Query().Get("by") == "department" {
		stats, err := h.reports.ByDepartment(ctx, runID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, FromDepartmentStats(stats))
		return
	}

	stats, err := h.reports.Statistics(ctx, runID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// HandleResponses handles GET /compliance/runs/{runID}/responses: the full
// grouped report as JSON.
func (h *Handler) HandleResponses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	runReport, err := h.reports.Report(ctx, runID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runReport)
}

// HandleExport handles GET /compliance/runs/{runID}/export?format=csv|table
// and streams the flat result set.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, err := runIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	format := report.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = report.FormatCSV
	}
	if !format.Valid() {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "unknown export format %q", format).WithFields("format"))
		return
	}

	runReport, err := h.reports.Report(ctx, runID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	switch format {
	case report.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "compliance-run-"+runID.String()+".csv"))
	case report.FormatTable:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	if err := report.Export(w, runReport, format); err != nil {
		// Headers are out; all that is left is to log.
		h.logger.ErrorContext(ctx, "export stream failed", "run_id", runID, "error", err)
	}
}
