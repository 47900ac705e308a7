// Package handlers provides HTTP request handlers for the anomaly service.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/telhawk-systems/telhawk-anomaly/internal/dedup"
	"github.com/telhawk-systems/telhawk-anomaly/internal/httputil"
	"github.com/telhawk-systems/telhawk-anomaly/internal/logging"
	"github.com/telhawk-systems/telhawk-anomaly/internal/repository"
	"github.com/telhawk-systems/telhawk-anomaly/internal/service"
)

// Handler provides HTTP handlers for the anomaly service
type Handler struct {
	svc    *service.Service
	logger *logging.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(svc *service.Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "Health check failed", logging.Error(err))
		httputil.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Service: "anomaly"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: "anomaly"})
}

// ListAlerts handles GET /api/v1/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := service.ParseFilter(service.AlertFilter{
		Page:     q.Get("page"),
		Limit:    q.Get("limit"),
		Severity: q.Get("severity"),
		TenantID: q.Get("tenant_id"),
		RuleID:   q.Get("rule_id"),
		Scope:    q.Get("scope"),
		Status:   q.Get("status"),
	})
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	resp, err := h.svc.ListAlerts(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list alerts", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "storage_error", "Failed to list alerts")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// GetAlert handles GET /api/v1/alerts/{id}
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alert, err := h.svc.GetAlert(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "not_found", "Alert not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to get alert", logging.AlertID(id), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "storage_error", "Failed to get alert")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, alert)
}

// AcknowledgeAlert handles POST /api/v1/alerts/{id}/acknowledge
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Acknowledge(r.Context(), chi.URLParam(r, "id"))
	h.writeTransition(w, res, err)
}

// ResolveAlert handles POST /api/v1/alerts/{id}/resolve
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "id"))
	h.writeTransition(w, res, err)
}

func (h *Handler) writeTransition(w http.ResponseWriter, res dedup.TransitionResult, err error) {
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "storage_error", "Failed to update alert")
		return
	}

	switch res.Outcome {
	case dedup.OutcomeApplied:
		httputil.WriteJSON(w, http.StatusOK, res)
	case dedup.OutcomeNotFound:
		httputil.WriteError(w, http.StatusNotFound, "not_found", "Alert not found")
	case dedup.OutcomeInvalidTransition:
		httputil.WriteError(w, http.StatusConflict, "invalid_transition", res.Err.Error())
	default:
		httputil.WriteError(w, http.StatusInternalServerError, "storage_error", "Failed to update alert")
	}
}
