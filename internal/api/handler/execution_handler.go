package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"videojobs/internal/api/middleware"
	"videojobs/internal/app/service"
	"videojobs/internal/common"
	"videojobs/internal/domain/model"
	"videojobs/internal/platform/logger"

	"github.com/go-chi/chi/v5"
)

type ExecutionHandler struct {
	orchestrator *service.VideoJobOrchestrator
}

func NewExecutionHandler(o *service.VideoJobOrchestrator) *ExecutionHandler {
	return &ExecutionHandler{orchestrator: o}
}

type SubmitExecutionRequest struct {
	SubjectID     string `json:"subject_id"`
	TriggerSource string `json:"trigger_source"`
}

// RegisterRoutes mounts under /executions.
func (h *ExecutionHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/stats", h.getStats)
	r.Get("/{executionID}", h.getExecution)
	r.Get("/{executionID}/lineage", h.getLineage)

	r.Group(func(op chi.Router) {
		op.Use(middleware.OperatorOnly)
		op.Post("/", h.submit)
		op.Post("/{executionID}/retry", h.retry)
	})
}

// RegisterSubjectRoutes mounts under /subjects.
func (h *ExecutionHandler) RegisterSubjectRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/{subjectID}/executions", h.listBySubject)
}

// RegisterCanaryRoutes mounts under /canary.
func (h *ExecutionHandler) RegisterCanaryRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/policy", h.getCanaryPolicy)
}

func (h *ExecutionHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	trigger := model.TriggerSource(req.TriggerSource)
	if trigger == "" {
		trigger = model.TriggerSourceAPI
	}

	res, err := h.orchestrator.Submit(r.Context(), req.SubjectID, trigger)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	operator, _ := middleware.GetOperatorFromContext(r.Context())
	logger.Execution(res.ExecutionID, req.SubjectID).WithField("operator", operator).Info("Execution submitted")
	common.RespondWithJSON(w, http.StatusAccepted, res)
}

func (h *ExecutionHandler) retry(w http.ResponseWriter, r *http.Request) {
	originalID := chi.URLParam(r, "executionID")
	res, err := h.orchestrator.Retry(r.Context(), originalID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	operator, _ := middleware.GetOperatorFromContext(r.Context())
	logger.Execution(res.ExecutionID, "").
		WithField("operator", operator).
		WithField("retry_of", originalID).
		Info("Execution retried")
	common.RespondWithJSON(w, http.StatusAccepted, res)
}

func (h *ExecutionHandler) getExecution(w http.ResponseWriter, r *http.Request) {
	row, err := h.orchestrator.GetStatus(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, row)
}

func (h *ExecutionHandler) getLineage(w http.ResponseWriter, r *http.Request) {
	chain, err := h.orchestrator.Lineage(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, chain)
}

func (h *ExecutionHandler) listBySubject(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			common.RespondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	rows := h.orchestrator.List(r.Context(), chi.URLParam(r, "subjectID"), limit)
	common.RespondWithJSON(w, http.StatusOK, rows)
}

func (h *ExecutionHandler) getStats(w http.ResponseWriter, r *http.Request) {
	window, err := service.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out, err := h.orchestrator.Stats(r.Context(), window)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, out)
}

func (h *ExecutionHandler) getCanaryPolicy(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orchestrator.GetCanaryPolicy(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, snap)
}

func (h *ExecutionHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := common.AsRejection(err); !ok {
		logger.Get().WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	common.RespondWithDomainError(w, err)
}
