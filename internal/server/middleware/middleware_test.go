package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/leslieo2/depwatch/internal/config"
)

type recordedRequest struct {
	method   string
	endpoint string
	status   int
	size     int64
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeRecorder) RecordRequest(method, endpoint string, statusCode int, _ time.Duration, responseSize int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, endpoint, statusCode, responseSize})
}

func TestCORSMiddleware(t *testing.T) {
	cors := NewCORSMiddleware(config.CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"http://dashboard.local"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           3600,
	})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := cors.Handler(next)

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantOrigin string
	}{
		{name: "allowed origin", method: "GET", origin: "http://dashboard.local", wantStatus: http.StatusOK, wantOrigin: "http://dashboard.local"},
		{name: "other origin", method: "GET", origin: "http://evil.local", wantStatus: http.StatusOK},
		{name: "no origin", method: "GET", wantStatus: http.StatusOK},
		{name: "preflight", method: "OPTIONS", origin: "http://dashboard.local", preflight: true, wantStatus: http.StatusNoContent, wantOrigin: "http://dashboard.local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "GET")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Expected allow origin %q, got %q", tt.wantOrigin, got)
			}
			if tt.wantOrigin != "" {
				if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
					t.Error("Expected credentials header")
				}
				if rec.Header().Get("Access-Control-Max-Age") != "3600" {
					t.Errorf("Expected max age 3600, got %s", rec.Header().Get("Access-Control-Max-Age"))
				}
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	generated := rec.Header().Get("X-Request-ID")
	if len(generated) != 36 || seen != generated {
		t.Errorf("Expected a generated UUID in header and context, got %q and %q", generated, seen)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "trace-123" || seen != "trace-123" {
		t.Errorf("Expected caller request ID to be kept, got %q", rec.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if len(rec.Header().Get("X-Request-ID")) != 36 {
		t.Error("Expected an oversized request ID to be replaced")
	}
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	recorder := &fakeRecorder{}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingMiddleware(zap.New(core), recorder))
	r.Get("/status/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"NOT_FOUND"}`))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/status/db", nil))

	if len(recorder.requests) != 1 {
		t.Fatalf("Expected one recorded request, got %d", len(recorder.requests))
	}
	got := recorder.requests[0]
	want := recordedRequest{method: "GET", endpoint: "/status/{name}", status: http.StatusNotFound, size: int64(len(`{"error":"NOT_FOUND"}`))}
	if got != want {
		t.Errorf("Recorded %+v, want %+v", got, want)
	}

	entries := logs.FilterMessage("HTTP request").All()
	if len(entries) != 1 {
		t.Fatalf("Expected one access log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/status/db" || fields["route"] != "/status/{name}" {
		t.Errorf("Unexpected log fields: %v", fields)
	}
	if fields["request_id"] == "" {
		t.Error("Expected request_id in access log")
	}
}

func TestLoggingMiddleware_Unmatched(t *testing.T) {
	recorder := &fakeRecorder{}
	handler := LoggingMiddleware(zap.NewNop(), recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/anything", nil))

	if recorder.requests[0].endpoint != "unmatched" || recorder.requests[0].status != http.StatusOK {
		t.Errorf("Unexpected record: %+v", recorder.requests[0])
	}
}

func TestRequestSizeLimitMiddleware(t *testing.T) {
	handler := RequestSizeLimitMiddleware(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", strings.NewReader("small")))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for a small body, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 100))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413 for a large body, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "REQUEST_TOO_LARGE") {
		t.Errorf("Expected error code in body, got %s", rec.Body.String())
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(config.SecurityHeaders{Enabled: true, HSTSMaxAge: 60})(next).
		ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("Expected hardening headers, got %v", rec.Header())
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}

	rec = httptest.NewRecorder()
	SecurityHeadersMiddleware(config.SecurityHeaders{Enabled: false})(next).
		ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Header().Get("X-Frame-Options") != "" {
		t.Error("Expected no headers when disabled")
	}
}
