package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/crosspost/internal/metrics"
	"github.com/hitoshi/crosspost/internal/model"
)

// mockHealthChecker はHealthCheckerのテスト用モック。
type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func newTestRouter(t *testing.T, checker HealthChecker) (http.Handler, *metrics.Collector, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	router := NewRouter(&RouterDeps{
		HealthChecker: checker,
		Gatherer:      reg,
		Logger:        slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	return router, c, &buf
}

func TestRouter_Health_OK(t *testing.T) {
	router, _, _ := newTestRouter(t, &mockHealthChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != "ok" || body.Database != "ok" {
		t.Errorf("body = %+v", body)
	}
}

func TestRouter_Health_DatabaseDown(t *testing.T) {
	checker := &mockHealthChecker{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}
	router, _, buf := newTestRouter(t, checker)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Database != "unreachable" {
		t.Errorf("Database = %q, want unreachable", body.Database)
	}
	if !strings.Contains(buf.String(), "connection refused") {
		t.Errorf("ping error should be logged, got %s", buf.String())
	}
}

func TestRouter_Metrics(t *testing.T) {
	router, c, _ := newTestRouter(t, &mockHealthChecker{})
	c.RecordPublish(string(model.PlatformThreads), metrics.ResultSuccess)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "crosspost_publish_total") {
		t.Error("response should contain crosspost_publish_total metric")
	}
}

func TestRouter_LogsRequests(t *testing.T) {
	router, _, buf := newTestRouter(t, &mockHealthChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"msg":"http_request"`) || !strings.Contains(buf.String(), `"request_id"`) {
		t.Errorf("request log with request_id expected, got %s", buf.String())
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	router, _, _ := newTestRouter(t, &mockHealthChecker{})

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
