// Package testutil provides shared helpers for handler tests: request
// construction, context setup the middleware chain would normally do, and
// assertions over the error envelope the handlers write.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewJSONRequest builds a request whose body is v marshaled as JSON. A nil
// body yields a bodyless request.
func NewJSONRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	var body io.Reader
	if v != nil {
		encoded, err := json.Marshal(v)
		require.NoError(t, err, "marshal request body")
		body = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewRawRequest builds a request with a literal body, for payloads the JSON
// helper cannot produce, malformed ones included.
func NewRawRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DoRequest runs req through handler and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// UnmarshalResponse decodes the recorded body into T.
func UnmarshalResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) *T {
	t.Helper()
	var result T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result),
		"unmarshal response body: %s", rec.Body.String())
	return &result
}

// ErrorEnvelope mirrors the error body every handler writes.
type ErrorEnvelope struct {
	Error       string   `json:"error"`
	Description string   `json:"error_description"`
	Fields      []string `json:"fields"`
}

// UnmarshalError decodes the recorded body as an error envelope.
func UnmarshalError(t *testing.T, rec *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var envelope ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope),
		"unmarshal error envelope: %s", rec.Body.String())
	return envelope
}

// AssertStatus asserts the recorded status code, echoing the body on
// mismatch so failures are diagnosable.
func AssertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	assert.Equal(t, want, rec.Code, "unexpected status, body: %s", rec.Body.String())
}

// AssertErrorCode asserts the error code carried by the recorded envelope.
func AssertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, code string) {
	t.Helper()
	assert.Equal(t, code, UnmarshalError(t, rec).Error, "unexpected error code")
}

// AssertStatusAndError asserts the status code and the envelope's error code.
func AssertStatusAndError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	AssertStatus(t, rec, status)
	AssertErrorCode(t, rec, code)
}
