package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/engine"
	"github.com/shaiso/Arbiter/internal/launcher"
	"github.com/shaiso/Arbiter/internal/scheduler"
)

// ListFlows возвращает список всех flows.
// GET /api/v1/flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	if h.flows == nil {
		ServiceUnavailable(w, "flow store not configured")
		return
	}

	flows, err := h.flows.List(r.Context())
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]FlowResponse, len(flows))
	for i, f := range flows {
		result[i] = FlowFromDomain(f)
	}
	List(w, result, len(result))
}

// CreateFlow создаёт новый flow.
// POST /api/v1/flows
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	if h.flows == nil {
		ServiceUnavailable(w, "flow store not configured")
		return
	}

	var req FlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Group == "" || req.Name == "" {
		BadRequest(w, "group and name are required")
		return
	}

	now := h.now().UTC()
	flow := &domain.Flow{
		ID:        uuid.New(),
		Group:     req.Group,
		Name:      req.Name,
		Enabled:   true,
		CreatedAt: now,
	}
	applyFlowRequest(flow, req, now)

	if HandleError(w, h.logger, validateFlow(flow), "") {
		return
	}
	if HandleError(w, h.logger, h.flows.Create(r.Context(), flow), "") {
		return
	}

	h.resync(r.Context())
	Created(w, FlowFromDomain(*flow))
}

// GetFlow возвращает flow по группе и имени.
// GET /api/v1/flows/{group}/{name}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	if h.flows == nil {
		ServiceUnavailable(w, "flow store not configured")
		return
	}

	flow, err := h.flows.Get(r.Context(), r.PathValue("group"), r.PathValue("name"))
	if HandleError(w, h.logger, err, "flow not found") {
		return
	}
	Success(w, FlowFromDomain(*flow))
}

// UpdateFlow обновляет flow. Group и name в теле игнорируются.
// PUT /api/v1/flows/{group}/{name}
func (h *Handler) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	if h.flows == nil {
		ServiceUnavailable(w, "flow store not configured")
		return
	}

	var req FlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	flow, err := h.flows.Get(r.Context(), r.PathValue("group"), r.PathValue("name"))
	if HandleError(w, h.logger, err, "flow not found") {
		return
	}

	applyFlowRequest(flow, req, h.now().UTC())

	if HandleError(w, h.logger, validateFlow(flow), "") {
		return
	}
	if HandleError(w, h.logger, h.flows.Update(r.Context(), flow), "flow not found") {
		return
	}

	h.resync(r.Context())
	Success(w, FlowFromDomain(*flow))
}

// DeleteFlow удаляет flow.
// DELETE /api/v1/flows/{group}/{name}
func (h *Handler) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	if h.flows == nil {
		ServiceUnavailable(w, "flow store not configured")
		return
	}

	err := h.flows.Delete(r.Context(), r.PathValue("group"), r.PathValue("name"))
	if HandleError(w, h.logger, err, "flow not found") {
		return
	}

	h.resync(r.Context())
	NoContent(w)
}

// LaunchFlow запускает flow вручную через тот же арбитраж, что и cron-триггеры.
// Повторный запрос с тем же execution_id не приведёт ко второму запуску.
// POST /api/v1/flows/{group}/{name}/launch
func (h *Handler) LaunchFlow(w http.ResponseWriter, r *http.Request) {
	if h.flows == nil || h.launcher == nil {
		ServiceUnavailable(w, "launcher not configured")
		return
	}

	var req LaunchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	flow, err := h.flows.Get(r.Context(), r.PathValue("group"), r.PathValue("name"))
	if HandleError(w, h.logger, err, "flow not found") {
		return
	}

	now := h.now()
	execID := now.UnixMilli()
	if req.ExecutionID != nil {
		execID = *req.ExecutionID
	}

	keys := h.launcher.Keys()
	props := launcher.Props(h.launcher.FlowPayload(*flow))
	for k, v := range req.Props {
		props[k] = v
	}
	props[keys.FlowExecutionID] = strconv.FormatInt(execID, 10)

	triggerID := "manual_" + flow.Key() + "_" + strconv.FormatInt(execID, 10)
	status, err := h.launcher.Submit(r.Context(), triggerID, props, now)
	if status == nil && HandleError(w, h.logger, err, "") {
		return
	}

	id := domain.DagID{FlowGroup: flow.Group, FlowName: flow.Name, FlowExecutionID: execID}
	resp := LaunchFromStatus(id, status)
	if err != nil {
		// Lease взят, но передача движку не удалась: reminder уже поставлен
		h.logger.Warn("manual launch hand-off failed", "dag_id", id.String(), "error", err)
		JSON(w, http.StatusAccepted, DataResponse{Data: resp})
		return
	}
	Success(w, resp)
}

// applyFlowRequest переносит поля запроса в flow.
func applyFlowRequest(flow *domain.Flow, req FlowRequest, now time.Time) {
	flow.CronExpr = req.CronExpr
	flow.Timezone = req.Timezone
	if flow.Timezone == "" {
		flow.Timezone = "UTC"
	}
	if req.Enabled != nil {
		flow.Enabled = *req.Enabled
	}
	flow.Jobs = req.Jobs
	flow.Props = req.Props
	flow.UpdatedAt = now
}

// validateFlow проверяет cron, часовой пояс и граф job.
func validateFlow(flow *domain.Flow) error {
	if flow.CronExpr != "" {
		if err := scheduler.ValidateCronExpr(flow.CronExpr); err != nil {
			return err
		}
	}
	if _, err := time.LoadLocation(flow.Timezone); err != nil {
		return &engine.ValidationError{Field: "timezone", Message: err.Error(), Err: err}
	}
	return engine.ValidateJobs(flow.Jobs)
}
