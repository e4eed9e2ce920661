// Package httpapi exposes the scanner's HTTP surface.
//
// Routes:
//
//	GET  /health      → liveness and whether a scan is in flight
//	POST /scans       → start a scan in the background
//	GET  /scans/last  → summary of the most recent run (?records=true adds the tenders)
//	GET  /metrics     → Prometheus metrics
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/model"
)

// Scans is the scan control surface, implemented by the scheduler.
type Scans interface {
	Trigger() bool
	Running() bool
	Last() *model.ScanRun
}

// Handler holds shared dependencies.
type Handler struct {
	scans    Scans
	gatherer prometheus.Gatherer
	version  string
	logger   *zap.Logger
}

// NewHandler returns a configured Handler. A nil gatherer leaves /metrics
// unmounted.
func NewHandler(scans Scans, gatherer prometheus.Gatherer, version string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{scans: scans, gatherer: gatherer, version: version, logger: logger.Named("http")}
}

// Routes returns the service mux wrapped in request logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/scans", h.handleScans)
	mux.HandleFunc("/scans/last", h.handleLastScan)
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return h.logRequests(mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "scanner-service",
		"version":  h.version,
		"scanning": h.scans.Running(),
	})
}

// handleScans handles POST /scans
func (h *Handler) handleScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.scans.Trigger() {
		jsonError(w, "a scan is already in flight", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type lastScanResponse struct {
	ID          string                          `json:"id"`
	Status      model.RunStatus                 `json:"status"`
	StartedAt   time.Time                       `json:"startedAt"`
	CompletedAt time.Time                       `json:"completedAt"`
	Error       string                          `json:"error,omitempty"`
	Summary     model.Summary                   `json:"summary"`
	Portals     map[string]*model.PortalOutcome `json:"portals"`
	Records     []model.ScoredRecord            `json:"records,omitempty"`
}

// handleLastScan handles GET /scans/last
func (h *Handler) handleLastScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	run := h.scans.Last()
	if run == nil {
		jsonError(w, "no scan has finished yet", http.StatusNotFound)
		return
	}

	resp := lastScanResponse{
		ID:          run.ID,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Error:       run.Err,
		Summary:     run.Summary(),
		Portals:     run.Portals,
	}
	if withRecords, _ := strconv.ParseBool(r.URL.Query().Get("records")); withRecords {
		resp.Records = run.Records
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
