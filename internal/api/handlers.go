// Package api exposes the triage service over HTTP JSON. All write-shaped
// routes operate on this service's own queue and rules; the monitored
// infrastructure itself is only ever read.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sentrastack/sentra-triage/internal/llm"
	"github.com/sentrastack/sentra-triage/internal/models"
	"github.com/sentrastack/sentra-triage/internal/services"
	"github.com/sentrastack/sentra-triage/internal/store"
	"github.com/sentrastack/sentra-triage/internal/utils"
)

// Handlers binds the triage service to HTTP routes.
type Handlers struct {
	service *services.TriageService
	logger  *slog.Logger
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(service *services.TriageService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

// Routes builds the route table.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/assistant/query", h.handleQuery)

	mux.HandleFunc("GET /api/v1/queue", h.handleListQueue)
	mux.HandleFunc("POST /api/v1/queue", h.handleEnqueue)
	mux.HandleFunc("POST /api/v1/queue/{id}/process", h.handleProcessItem)
	mux.HandleFunc("DELETE /api/v1/queue/history", h.handleClearHistory)
	mux.HandleFunc("DELETE /api/v1/queue/{id}", h.handleRemoveItem)

	mux.HandleFunc("GET /api/v1/rules", h.handleListRules)
	mux.HandleFunc("POST /api/v1/rules", h.handleCreateRule)
	mux.HandleFunc("GET /api/v1/rules/{id}", h.handleGetRule)
	mux.HandleFunc("PUT /api/v1/rules/{id}", h.handleUpdateRule)
	mux.HandleFunc("DELETE /api/v1/rules/{id}", h.handleDeleteRule)

	mux.HandleFunc("GET /api/v1/poller/status", h.handlePollerStatus)
	mux.HandleFunc("POST /api/v1/poller/run", h.handlePollerRun)

	mux.HandleFunc("GET /healthz", h.handleHealth)

	return mux
}

// queryRequest is the analyst-query payload.
type queryRequest struct {
	Query    string            `json:"query"`
	History  []models.ChatTurn `json:"history,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

func (h *Handlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := h.service.RunPipeline(r.Context(), req.Query, req.History, parsePriority(req.Priority))
	if err != nil {
		h.logger.Error("pipeline run failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleListQueue(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.service.ListQueue(r.Context(), statuses)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handlers) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AlertID == "" {
		writeError(w, http.StatusBadRequest, "alert_id is required")
		return
	}

	result, err := h.service.EnqueueAlert(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusCreated
	if !result.Success {
		// Admission rejections are outcomes, not request errors.
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (h *Handlers) handleProcessItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.ProcessQueueItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handlers) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveQueueItem(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.ClearQueueHistory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handlers) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

func (h *Handlers) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AutoQueueRule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.service.CreateRule(r.Context(), rule)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handlers) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AutoQueueRule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.ID = r.PathValue("id")
	updated, err := h.service.UpdateRule(r.Context(), rule)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handlers) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRule(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handlePollerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.PollerStatus(r.Context()))
}

func (h *Handlers) handlePollerRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.PollOnce(r.Context()))
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parsePriority(s string) llm.Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return llm.PriorityCritical
	case "high":
		return llm.PriorityHigh
	default:
		return llm.PriorityNormal
	}
}

func parseStatuses(raw string) ([]models.QueueStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var statuses []models.QueueStatus
	for _, part := range strings.Split(raw, ",") {
		status := models.QueueStatus(strings.TrimSpace(part))
		switch status {
		case models.QueueStatusQueued, models.QueueStatusProcessing,
			models.QueueStatusCompleted, models.QueueStatusFailed, models.QueueStatusDismissed:
			statuses = append(statuses, status)
		default:
			return nil, errors.New("unknown status " + string(status))
		}
	}
	return statuses, nil
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service failures to HTTP statuses: missing rows to
// 404, validation AppErrors to 400, the rest to 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) && appErr.Err == nil {
		writeError(w, http.StatusBadRequest, appErr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
