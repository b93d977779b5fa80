package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attest/pkg/requestcontext"
)

type MiddlewareSuite struct {
	suite.Suite
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareSuite))
}

func (s *MiddlewareSuite) TestRequestID() {
	s.Run("honors an inbound header", func() {
		var got string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = requestcontext.RequestID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		s.Equal("req-42", got)
		s.Equal("req-42", rec.Header().Get("X-Request-ID"))
	})

	s.Run("generates one when absent", func() {
		var got string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = requestcontext.RequestID(r.Context())
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		s.NotEmpty(got)
		s.Equal(got, rec.Header().Get("X-Request-ID"))
	})
}

func (s *MiddlewareSuite) TestTimeout() {
	s.Run("puts a deadline on the request context", func() {
		var deadline time.Time
		var ok bool
		h := Timeout(time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deadline, ok = r.Context().Deadline()
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		s.True(ok)
		s.WithinDuration(time.Now().Add(time.Minute), deadline, 5*time.Second)
	})

	s.Run("cancels handlers that overrun", func() {
		h := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
				w.WriteHeader(http.StatusServiceUnavailable)
			case <-time.After(5 * time.Second):
				w.WriteHeader(http.StatusOK)
			}
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})
}

func (s *MiddlewareSuite) TestClientMetadata() {
	s.Run("prefers the first forwarded hop", func() {
		var ip string
		h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip = requestcontext.ClientIP(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		h.ServeHTTP(httptest.NewRecorder(), req)

		s.Equal("203.0.113.9", ip)
	})

	s.Run("falls back to the remote address", func() {
		var ip string
		h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip = requestcontext.ClientIP(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.7:4321"
		h.ServeHTTP(httptest.NewRecorder(), req)

		s.Equal("198.51.100.7", ip)
	})
}
