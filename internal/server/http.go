package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/menu-safety/internal/common"
	"github.com/joseph-ayodele/menu-safety/internal/metrics"
	"github.com/joseph-ayodele/menu-safety/internal/pipeline"
)

// MaxMessageBytes bounds a scan submission on both transports: a base64 photo
// of pipeline.MaxImageBytes plus room for the other fields.
const MaxMessageBytes = pipeline.MaxImageBytes/3*4 + 1<<20

// HTTPServer serves the REST and websocket surface.
type HTTPServer struct {
	scanner  Scanner
	metrics  *metrics.Collector
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// WatchInterval is how often a websocket watcher polls the job.
	WatchInterval time.Duration
}

func NewHTTPServer(scanner Scanner, collector *metrics.Collector, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		scanner: scanner,
		metrics: collector,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		WatchInterval: 250 * time.Millisecond,
	}
}

// Handler returns the routed handler.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scans", s.submitScan)
	mux.HandleFunc("GET /v1/jobs/{id}", s.getJob)
	mux.HandleFunc("GET /v1/jobs/{id}/watch", s.watchJob)
	mux.HandleFunc("GET /v1/metrics", s.getMetrics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return requestContext(mux)
}

func (s *HTTPServer) submitScan(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ScanRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxMessageBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeError(w, common.NewAppError("INVALID_SCAN", "malformed request body", common.ErrInvalidInput))
		return
	}
	if req.UserID == "" {
		req.UserID = common.UserIDFromContext(r.Context())
	}

	id, err := s.scanner.Submit(r.Context(), req)
	if err != nil {
		s.logger.Warn("http.submit.failed", "req_id", common.RequestIDFromContext(r.Context()), "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+id.String())
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id.String()})
}

// getJob answers the job snapshot with a Server-Timing header carrying the
// partial and final stage latencies.
func (s *HTTPServer) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, common.NewAppError("INVALID_ID", "job id must be a UUID", common.ErrInvalidInput))
		return
	}
	job, err := s.scanner.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := newJobView(job)
	if view.ServerTiming != "" {
		w.Header().Set("Server-Timing", view.ServerTiming)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) getMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newMetricsView(s.metrics))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, common.ErrRateLimited):
		code = http.StatusTooManyRequests
	case errors.Is(err, common.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, common.ErrStorageUnavailable):
		code = http.StatusServiceUnavailable
	}
	msg := err.Error()
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	writeJSON(w, code, map[string]string{"error": msg})
}
