package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/reconciler/internal/health"
	"github.com/vladislavdragonenkov/reconciler/internal/version"
)

type stubReaper struct {
	cancelled int
	err       error
	calls     int
}

func (s *stubReaper) Sweep(context.Context, time.Time) (int, error) {
	s.calls++
	return s.cancelled, s.err
}

func (s *stubReaper) Threshold() time.Duration { return 24 * time.Hour }

func TestOpsRouter_Endpoints(t *testing.T) {
	router := newOpsRouter(healthcheck.NewHandler(version.GetVersion()), &stubReaper{}, log.WithField("test", "http"))

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/livez", status: http.StatusOK, body: "ok"},
		{path: "/readyz", status: http.StatusOK, body: "{\"ready\":true}\n"},
		{path: "/healthz", status: http.StatusOK},
		{path: "/metrics", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.status {
				t.Fatalf("expected status %d for %s, got %d", tt.status, tt.path, rec.Code)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Fatalf("expected body %q, got %q", tt.body, rec.Body.String())
			}
		})
	}
}

func TestOpsRouter_ReadyzReportsUnhealthyStorage(t *testing.T) {
	handler := healthcheck.NewHandler(version.GetVersion())
	handler.RegisterChecker("storage", healthcheck.NewFuncChecker("storage", 0, func(context.Context) error {
		return errors.New("connection refused")
	}))
	router := newOpsRouter(handler, nil, log.WithField("test", "http"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestOpsRouter_ReaperRun(t *testing.T) {
	reaper := &stubReaper{cancelled: 3}
	router := newOpsRouter(healthcheck.NewHandler("test"), reaper, log.WithField("test", "http"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reaper/run", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body reaperRunResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Cancelled != 3 || body.ThresholdHours != 24 {
		t.Fatalf("unexpected response %+v", body)
	}
	if reaper.calls != 1 {
		t.Fatalf("expected one sweep, got %d", reaper.calls)
	}
}

func TestOpsRouter_ReaperRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		reaper reaperTrigger
		status int
	}{
		{name: "disabled", reaper: nil, status: http.StatusServiceUnavailable},
		{name: "storage unavailable", reaper: &stubReaper{err: fmt.Errorf("cancel stale: %w", domain.ErrStorageUnavailable)}, status: http.StatusServiceUnavailable},
		{name: "unexpected", reaper: &stubReaper{err: errors.New("boom")}, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newOpsRouter(healthcheck.NewHandler("test"), tt.reaper, log.WithField("test", "http"))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reaper/run", nil))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestOpsRouter_ReaperRunRequiresPost(t *testing.T) {
	reaper := &stubReaper{}
	router := newOpsRouter(healthcheck.NewHandler("test"), reaper, log.WithField("test", "http"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/reaper/run", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if reaper.calls != 0 {
		t.Fatal("GET must not trigger a sweep")
	}
}

func TestRunHTTPServer_StopsOnContextCancel(t *testing.T) {
	logger := log.WithField("test", "http-shutdown")
	port := findFreePort(t)

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: newOpsRouter(healthcheck.NewHandler("test"), nil, logger),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runHTTPServer(ctx, srv, logger) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/livez", port)
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server should be running: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("expected ok from /livez, got %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunHTTPServer_AddressInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	srv := &http.Server{Addr: listener.Addr().String(), Handler: http.NotFoundHandler()}
	if err := runHTTPServer(context.Background(), srv, log.WithField("test", "http-busy")); err == nil {
		t.Fatal("expected listen error for busy address")
	}
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
