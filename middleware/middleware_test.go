package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"photoprint/dto"
)

func TestTraceID_HonorsCallerHeader(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTraceID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/prints/shot.jpg", nil)
	req.Header.Set("X-Trace-ID", "gallery-trace-1")
	rec := httptest.NewRecorder()

	TraceID(inner).ServeHTTP(rec, req)

	if seen != "gallery-trace-1" {
		t.Errorf("Expected caller trace to reach the handler, got %q", seen)
	}
	if got := rec.Header().Get("X-Trace-ID"); got != "gallery-trace-1" {
		t.Errorf("Expected trace echoed in response header, got %q", got)
	}
}

func TestTraceID_MintsWhenAbsent(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTraceID(r.Context())
	})

	rec := httptest.NewRecorder()
	TraceID(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prints/shot.jpg", nil))

	if seen == "" {
		t.Error("Expected a minted trace ID for an untraced request")
	}
	if rec.Header().Get("X-Trace-ID") != seen {
		t.Error("Expected the minted trace ID echoed in the response header")
	}
}

func TestGetTraceID_UntracedContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if got := GetTraceID(req.Context()); got != "" {
		t.Errorf("Expected empty trace on untraced context, got %q", got)
	}
}

func TestRecovery_RespondsWithErrorShape(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("band compositor exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/prints/shot.jpg", nil)
	req = req.WithContext(WithTraceID(req.Context(), "trace-42"))
	rec := httptest.NewRecorder()

	Recovery(zaptest.NewLogger(t))(panicky).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}

	var body dto.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body.Error != "Internal server error" {
		t.Errorf("Unexpected error message: %q", body.Error)
	}
	if body.TraceID != "trace-42" {
		t.Errorf("Expected trace ID in the error body, got %q", body.TraceID)
	}
}
