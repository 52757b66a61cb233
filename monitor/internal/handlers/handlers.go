package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/adcraft-labs/creative-qa/common/httputil"
	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/common/middleware"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
	natsmonitor "github.com/adcraft-labs/creative-qa/monitor/internal/nats"
	"github.com/adcraft-labs/creative-qa/monitor/internal/quality"
	"github.com/adcraft-labs/creative-qa/monitor/internal/repository"
	"github.com/adcraft-labs/creative-qa/monitor/internal/service"
)

type Handler struct {
	service *service.Service
	logger  *logging.Logger
}

func NewHandler(svc *service.Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: svc, logger: logger.With(logging.Service("api"))}
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Health(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	resp := map[string]interface{}{
		"status":   "healthy",
		"dispatch": h.service.Dispatcher().Stats(),
	}
	if broker := h.service.BrokerHealth(); broker != nil {
		resp["broker"] = broker
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// EvaluateCreative handles POST /api/v1/creatives/evaluate
func (h *Handler) EvaluateCreative(w http.ResponseWriter, r *http.Request) {
	var req models.EvaluateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.service.EvaluateCreative(r.Context(), &req)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, report)
	case errors.Is(err, quality.ErrInvalidInput) && report != nil:
		// The failing report tells the pipeline what was wrong.
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, report)
	case errors.Is(err, quality.ErrInvalidInput):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.serverError(w, r, "evaluate creative", err)
	}
}

// GetReport handles GET /api/v1/reports/{id}
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLookupError(w, r, "get report", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// MeasurementsResponse reports how much of a batch was accepted.
type MeasurementsResponse struct {
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}

// RecordMeasurements handles POST /api/v1/measurements with either a single
// measurement object or an array of them.
func (h *Handler) RecordMeasurements(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	ms, err := natsmonitor.DecodeMeasurements(body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid measurements: %v", err))
		return
	}

	n, err := h.service.RecordMeasurements(r.Context(), ms, "http")
	resp := MeasurementsResponse{Accepted: n, Rejected: len(ms) - n}
	if err != nil {
		resp.Error = err.Error()
		if n == 0 {
			httputil.WriteJSON(w, http.StatusBadRequest, resp)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusAccepted, resp)
}

// MetricWindow handles GET /api/v1/metrics/{name}/window?size=&span=
func (h *Handler) MetricWindow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size := parseInt(q.Get("size"), 0)
	var span time.Duration
	if s := q.Get("span"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "span must be a positive duration such as 15m")
			return
		}
		span = d
	}

	resp, err := h.service.MetricWindow(r.PathValue("name"), size, span)
	if err != nil {
		h.writeLookupError(w, r, "metric window", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ListMetrics handles GET /api/v1/metrics
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"metrics": h.service.Metrics()})
}

// ListIncidents handles GET /api/v1/incidents
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &models.ListIncidentsRequest{
		State:    models.IncidentState(q.Get("state")),
		Severity: models.Severity(q.Get("severity")),
		Family:   q.Get("family"),
		Page:     parseInt(q.Get("page"), 1),
		Limit:    parseInt(q.Get("limit"), 50),
	}

	resp, err := h.service.ListIncidents(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidFilter) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.serverError(w, r, "list incidents", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// GetIncident handles GET /api/v1/incidents/{id}
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.GetIncident(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLookupError(w, r, "get incident", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inc)
}

// GetIncidentAlerts handles GET /api/v1/incidents/{id}/alerts
func (h *Handler) GetIncidentAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.ListIncidentAlerts(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLookupError(w, r, "list incident alerts", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// AcknowledgeIncident handles POST /api/v1/incidents/{id}/acknowledge
func (h *Handler) AcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	operator := middleware.GetOperator(r.Context())
	inc, err := h.service.Acknowledge(r.Context(), r.PathValue("id"), operator)
	if err != nil {
		h.writeLookupError(w, r, "acknowledge incident", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inc)
}

// ResolveIncident handles POST /api/v1/incidents/{id}/resolve. The body is
// optional.
func (h *Handler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	var req models.IncidentActionRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	operator := middleware.GetOperator(r.Context())
	inc, err := h.service.Resolve(r.Context(), r.PathValue("id"), operator, req.Reason)
	if err != nil {
		h.writeLookupError(w, r, "resolve incident", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inc)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrIncidentNotFound):
		httputil.WriteError(w, http.StatusNotFound, "incident not found")
	case errors.Is(err, repository.ErrReportNotFound):
		httputil.WriteError(w, http.StatusNotFound, "report not found")
	case errors.Is(err, service.ErrMetricNotFound):
		httputil.WriteError(w, http.StatusNotFound, "metric not found")
	default:
		h.serverError(w, r, op, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), op+" failed", logging.Error(err))
	httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
}

func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return val
}
