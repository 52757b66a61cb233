package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/common/middleware"

	"github.com/adcraft-labs/creative-qa/monitor/internal/handlers"
	"github.com/adcraft-labs/creative-qa/monitor/internal/metrics"
)

// RouterConfig holds dependencies needed to configure routes
type RouterConfig struct {
	Handler *handlers.Handler
	// JWTSecret guards operator actions. Empty trusts the X-Operator header.
	JWTSecret string
	Logger    *logging.Logger
}

// NewRouter constructs a ServeMux with the monitor API registered.
func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handler
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	operator := middleware.OperatorAuth(cfg.JWTSecret)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Pipeline-facing
	mux.HandleFunc("POST /api/v1/creatives/evaluate", h.EvaluateCreative)
	mux.HandleFunc("GET /api/v1/reports/{id}", h.GetReport)
	mux.HandleFunc("POST /api/v1/measurements", h.RecordMeasurements)
	mux.HandleFunc("GET /api/v1/metrics", h.ListMetrics)
	mux.HandleFunc("GET /api/v1/metrics/{name}/window", h.MetricWindow)

	// Incidents
	mux.HandleFunc("GET /api/v1/incidents", h.ListIncidents)
	mux.HandleFunc("GET /api/v1/incidents/{id}", h.GetIncident)
	mux.HandleFunc("GET /api/v1/incidents/{id}/alerts", h.GetIncidentAlerts)
	mux.Handle("POST /api/v1/incidents/{id}/acknowledge", operator(http.HandlerFunc(h.AcknowledgeIncident)))
	mux.Handle("POST /api/v1/incidents/{id}/resolve", operator(http.HandlerFunc(h.ResolveIncident)))

	return middleware.RequestID(middleware.AccessLog(logger.Logger)(instrument(mux)))
}

type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (r *codeRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by matched route pattern and status code.
func instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &codeRecorder{ResponseWriter: w, code: http.StatusOK}
		_, pattern := mux.Handler(r)
		mux.ServeHTTP(rec, r)
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(pattern, strconv.Itoa(rec.code)).Inc()
	})
}
