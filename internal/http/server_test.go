package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// mockPinger implements Pinger for testing.
type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

func newTestServer(postgres, redis Pinger) *Server {
	return NewServer(":0", postgres, redis, zap.NewNop())
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s := newTestServer(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", body["status"])
	}
}

func TestHealthz_ContentType(t *testing.T) {
	s := newTestServer(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestReadyz_NotReady_NoBackends(t *testing.T) {
	s := newTestServer(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%v'", body["status"])
	}

	checks := body["checks"].(map[string]any)
	if checks["postgres"] != "error" {
		t.Errorf("expected postgres 'error' (nil pool), got '%v'", checks["postgres"])
	}
	if checks["redis"] != "error" {
		t.Errorf("expected redis 'error' (nil client), got '%v'", checks["redis"])
	}
}

func TestReadyz_RedisUpButDBDown(t *testing.T) {
	s := newTestServer(&mockPinger{err: errors.New("connection refused")}, &mockPinger{})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 (DB down), got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	checks := body["checks"].(map[string]any)
	if checks["redis"] != "ok" {
		t.Errorf("expected redis 'ok', got '%v'", checks["redis"])
	}
	if checks["postgres"] != "error" {
		t.Errorf("expected postgres 'error', got '%v'", checks["postgres"])
	}
}

func TestReadyz_ContentType(t *testing.T) {
	s := newTestServer(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestReadyz_AllHealthy(t *testing.T) {
	s := newTestServer(&mockPinger{}, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected status 'ready', got '%v'", body["status"])
	}

	checks := body["checks"].(map[string]any)
	if checks["postgres"] != "ok" {
		t.Errorf("expected postgres 'ok', got '%v'", checks["postgres"])
	}
	if checks["redis"] != "ok" {
		t.Errorf("expected redis 'ok', got '%v'", checks["redis"])
	}
}
