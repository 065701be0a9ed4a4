// Package api serves the inference service over HTTP and websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/ml"
)

// Route paths.
const (
	PathPredict = "/har/predict"
	PathInfo    = "/har/info"
	PathStream  = "/har/stream"
	PathHealth  = "/health"
	PathMetrics = "/metrics"
	PathReload  = "/admin/reload"
)

// Service is the inference behaviour the server exposes.
type Service interface {
	Predict(features []float64) (ml.PredictionRecord, error)
	Info() ml.Info
	Reload() error
}

// MetricsInterface defines metrics methods needed by the server.
type MetricsInterface interface {
	HTTPRequestObserve(route string, code int, d time.Duration)
	StreamOpened()
	StreamClosed()
}

// PredictRequest is the body of a prediction request and of each stream
// message.
type PredictRequest struct {
	Features  []float64 `json:"features"`
	RequestID string    `json:"request_id,omitempty"`
}

// PredictResponse carries the decoded activity.
type PredictResponse struct {
	Activity  string `json:"activity"`
	Version   string `json:"version,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse reports liveness and the served version.
type HealthResponse struct {
	Status  string  `json:"status"`
	Version string  `json:"version"`
	Uptime  float64 `json:"uptime_seconds"`
}

// Config holds server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
	EnableReload bool
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		MaxBodyBytes: 1 << 20,
		EnableReload: true,
	}
}

// Server provides the HTTP API for model predictions.
type Server struct {
	svc      Service
	metrics  MetricsInterface
	cfg      Config
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader
	started  time.Time
}

func NewServer(svc Service, metrics MetricsInterface, cfg Config) *Server {
	defaults := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		svc:      svc,
		metrics:  metrics,
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		started:  time.Now(),
	}

	r := mux.NewRouter()
	r.Use(requestID, s.observe)
	r.HandleFunc(PathPredict, s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc(PathInfo, s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc(PathStream, s.handleStream).Methods(http.MethodGet)
	r.HandleFunc(PathHealth, s.handleHealth).Methods(http.MethodGet)
	r.Handle(PathMetrics, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if cfg.EnableReload {
		r.HandleFunc(PathReload, s.handleReload).Methods(http.MethodPost)
	}
	s.router = r

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting inference server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// StatusCode maps an error kind to an HTTP status. Client mistakes are 4xx;
// a missing model is 503 and everything else is a server fault.
func StatusCode(err error) int {
	switch ml.Kind(err) {
	case ml.ErrValidation, ml.ErrSchemaMismatch:
		return http.StatusUnprocessableEntity
	case ml.ErrNotFound:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func kindName(err error) string {
	if k := ml.Kind(err); k != nil {
		return k.Error()
	}
	return ""
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = RequestIDFrom(r.Context())
	}

	resp, err := s.predict(req)
	if err != nil {
		writeError(w, r, StatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) predict(req PredictRequest) (PredictResponse, error) {
	rec, err := s.svc.Predict(req.Features)
	if err != nil {
		return PredictResponse{}, err
	}
	return PredictResponse{
		Activity:  rec.Label,
		Version:   rec.VersionID,
		RequestID: req.RequestID,
	}, nil
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.svc.Info().Version,
		Uptime:  time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Reload(); err != nil {
		writeError(w, r, StatusCode(err), err)
		return
	}
	info := s.svc.Info()
	log.Info().Str("version", info.Version).Str("request_id", RequestIDFrom(r.Context())).Msg("Model reloaded on request")
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Int("status", status).Str("path", r.URL.Path).Str("request_id", RequestIDFrom(r.Context())).Msg("Request failed")
	writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Kind:      kindName(err),
		RequestID: RequestIDFrom(r.Context()),
	})
}
