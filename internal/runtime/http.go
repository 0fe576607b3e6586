package runtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	jsoncodec "github.com/drblury/cekafka/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
	"github.com/drblury/cekafka/internal/runtime/metrics"
	"github.com/drblury/cekafka/internal/runtime/model"
)

const maxIngestBodyBytes = 1 << 20

// StatsResponse is served by GET /stats.
type StatsResponse struct {
	Producer string           `json:"producer"`
	Consumer string           `json:"consumer"`
	Metrics  metrics.Snapshot `json:"metrics"`
	Resource ResourceUsage    `json:"resource"`
}

type errorResponse struct {
	Error string `json:"error"`
	Key   string `json:"key,omitempty"`
}

// Handler returns the HTTP routes of the service:
//
//	POST /customers  publish a customer and return its receipt
//	GET  /stats      session states and counters
//	GET  /healthz    liveness
//	GET  /metrics    Prometheus exposition, when metrics are enabled
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /customers", s.handleIngest)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.Conf.MetricsEnabled {
		mux.Handle("GET /metrics", s.metricsHandler())
	}
	return mux
}

func (s *Service) metricsHandler() http.Handler {
	if gatherer, ok := s.deps.Registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var customer model.Customer
	if err := jsoncodec.DecodeStrict(http.MaxBytesReader(w, r.Body, maxIngestBodyBytes), &customer); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	receipt, err := s.Publish(r.Context(), customer)
	if err != nil {
		status := ingestStatus(err)
		key, _ := errspkg.KeyOf(err)
		if status >= http.StatusInternalServerError {
			s.Logger.Error("Ingest failed", err, loggingpkg.LogFields{"customer_id": customer.CustomerID, "key": key})
		}
		s.writeJSON(w, status, errorResponse{Error: err.Error(), Key: key})
		return
	}
	s.writeJSON(w, http.StatusOK, receipt)
}

func ingestStatus(err error) int {
	var cfgErr errspkg.ConfigValidationError
	switch {
	case errors.Is(err, errInvalidCustomer):
		return http.StatusBadRequest
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errspkg.ErrConnection), errors.Is(err, errspkg.ErrSessionClosed):
		return http.StatusServiceUnavailable
	case errspkg.IsRecordFailure(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Stats())
}

// Stats returns the session states, counters and process usage.
func (s *Service) Stats() StatsResponse {
	resp := StatsResponse{
		Producer: "not started",
		Consumer: "not started",
		Metrics:  s.metrics.GetSnapshot(),
		Resource: s.resourceTracker.Snapshot(),
	}
	s.mu.Lock()
	if s.producer != nil {
		resp.Producer = s.producer.State().String()
	}
	if s.consumer != nil {
		resp.Consumer = s.consumer.State().String()
	}
	s.mu.Unlock()
	return resp
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode response", err, nil)
	}
}

// Serve listens on the configured HTTP address until ctx is done, then shuts
// the server down within the shutdown timeout. An empty address disables it.
func (s *Service) Serve(ctx context.Context) error {
	if s.Conf.HTTPAddress == "" {
		<-ctx.Done()
		return nil
	}

	server := &http.Server{
		Addr:              s.Conf.HTTPAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": server.Addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := s.shutdownContext()
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.Logger.Info("HTTP server stopped", loggingpkg.LogFields{"address": server.Addr})
	return nil
}
