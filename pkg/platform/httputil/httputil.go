// Package httputil holds the JSON response helpers shared by all handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "attest/pkg/domain-errors"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error       string   `json:"error"`
	Description string   `json:"error_description,omitempty"`
	Fields      []string `json:"fields,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error onto an HTTP error response. Internal
// errors keep their detail out of the body; everything else carries its
// message and, when present, the offending fields.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		var dErr *dErrors.Error
		if errors.As(err, &dErr) {
			body.Description = dErr.Message
			body.Fields = dErr.Fields
		} else {
			body.Description = err.Error()
		}
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// Normalizer is implemented by request types that canonicalize themselves
// before validation.
type Normalizer interface {
	Normalize()
}

// Validator is implemented by request types that check themselves.
type Validator interface {
	Validate() error
}

// DecodeAndPrepare decodes a JSON request body, then normalizes and
// validates it when the type supports either. On failure it writes the
// error response and returns ok = false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger,
	ctx context.Context, requestID string) (*T, bool) {

	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "undecodable request body",
			"request_id", requestID,
			"path", r.URL.Path,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}
	if n, ok := any(&req).(Normalizer); ok {
		n.Normalize()
	}
	if v, ok := any(&req).(Validator); ok {
		if err := v.Validate(); err != nil {
			WriteError(w, err)
			return nil, false
		}
	}
	return &req, true
}
