package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/reconciler/internal/health"
)

const shutdownTimeout = 5 * time.Second

// reaperTrigger — ручной запуск прохода reaper-а.
type reaperTrigger interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
	Threshold() time.Duration
}

type reaperRunResponse struct {
	Cancelled      int `json:"cancelled"`
	ThresholdHours int `json:"threshold_hours"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// newOpsRouter собирает ops-эндпоинты: метрики, health checks и admin-команды.
func newOpsRouter(healthHandler *healthcheck.Handler, reaper reaperTrigger, logger *log.Entry) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/healthz", healthHandler)
	router.Get("/livez", healthcheck.LivenessHandler)
	router.Get("/readyz", healthHandler.ReadinessHandler)

	router.Route("/admin", func(r chi.Router) {
		r.Post("/reaper/run", reaperRunHandler(reaper, logger))
	})

	return router
}

func reaperRunHandler(reaper reaperTrigger, logger *log.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reaper == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "reaper is disabled"})
			return
		}

		cancelled, err := reaper.Sweep(r.Context(), time.Now().UTC())
		if err != nil {
			logger.WithError(err).Error("manual reaper run failed")
			status := http.StatusInternalServerError
			if domain.IsRetryable(err) {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}

		logger.WithField("cancelled", cancelled).Info("manual reaper run finished")
		writeJSON(w, http.StatusOK, reaperRunResponse{
			Cancelled:      cancelled,
			ThresholdHours: int(reaper.Threshold() / time.Hour),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// runHTTPServer обслуживает запросы до отмены ctx, затем аккуратно останавливает сервер.
func runHTTPServer(ctx context.Context, srv *http.Server, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("ops server listening on %s (/metrics, /healthz, /livez, /readyz)", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownHTTP(srv, logger)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("ops server shutdown with error")
	}
}
