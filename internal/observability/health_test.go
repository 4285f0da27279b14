package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "healthy" || status.Service != serviceName {
		t.Errorf("Expected healthy %s, got %+v", serviceName, status)
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	checks := map[string]HealthCheckFunc{
		"transcriber": func(ctx context.Context) (bool, error) { return false, errors.New("circuit is open") },
		"temp_dir":    func(ctx context.Context) (bool, error) { return true, nil },
	}

	rec := httptest.NewRecorder()
	ReadinessHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	var status HealthStatus
	json.NewDecoder(rec.Body).Decode(&status)

	if status.Status != "not_ready" {
		t.Errorf("Expected 'not_ready', got '%s'", status.Status)
	}
	if dep := status.Dependencies["transcriber"]; dep.Status != "unhealthy" || dep.Message != "circuit is open" {
		t.Errorf("Expected unhealthy transcriber with message, got %+v", dep)
	}
	if dep := status.Dependencies["temp_dir"]; dep.Status != "healthy" {
		t.Errorf("Expected healthy temp_dir, got %+v", dep)
	}
}

func TestRequestLogger_PassesThroughAndKeepsStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestLogger)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected 418, got %d", rec.Code)
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	InitLogger("info", false)
	var buf testWriter
	configure(&buf, "info")
	t.Cleanup(func() { configure(os.Stdout, "info") })

	generated := WithRequestID("")
	generated.Info().Msg("hello")
	given := WithRequestID("req-1")
	given.Info().Msg("hello")

	if len(buf.lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(buf.lines))
	}

	var first, second map[string]any
	json.Unmarshal(buf.lines[0], &first)
	json.Unmarshal(buf.lines[1], &second)

	if id, _ := first["request_id"].(string); id == "" {
		t.Error("Expected generated request_id")
	}
	if second["request_id"] != "req-1" {
		t.Errorf("Expected 'req-1', got %v", second["request_id"])
	}
}

type testWriter struct {
	lines [][]byte
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.lines = append(w.lines, append([]byte(nil), p...))
	return len(p), nil
}
