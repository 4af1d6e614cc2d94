package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/shaiso/Arbiter/internal/domain"
)

// ListActions возвращает незавершённые lease.
// GET /api/v1/actions
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	if h.actions == nil {
		ServiceUnavailable(w, "lease store not configured")
		return
	}

	records, err := h.actions.ListPending(r.Context())
	if HandleError(w, h.logger, err, "") {
		return
	}

	now := h.now()
	result := make([]ActionResponse, len(records))
	for i, rec := range records {
		result[i] = ActionFromRecord(rec, now)
	}
	List(w, result, len(result))
}

// GetAction возвращает запись lease. Job-уровень — через ?job=<name>.
// GET /api/v1/actions/{type}/{group}/{name}/{exec}
func (h *Handler) GetAction(w http.ResponseWriter, r *http.Request) {
	if h.actions == nil {
		ServiceUnavailable(w, "lease store not configured")
		return
	}

	action, err := actionFromPath(r)
	if HandleError(w, h.logger, err, "") {
		return
	}

	rec, found, err := h.actions.Get(r.Context(), action)
	if HandleError(w, h.logger, err, "") {
		return
	}
	if !found {
		NotFound(w, "dag action not found")
		return
	}
	Success(w, ActionFromRecord(rec, h.now()))
}

// DeleteAction удаляет запись lease (ручное снятие зависшего lease).
// DELETE /api/v1/actions/{type}/{group}/{name}/{exec}
func (h *Handler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	if h.actions == nil {
		ServiceUnavailable(w, "lease store not configured")
		return
	}

	action, err := actionFromPath(r)
	if HandleError(w, h.logger, err, "") {
		return
	}

	if HandleError(w, h.logger, h.actions.Delete(r.Context(), action), "") {
		return
	}
	h.logger.Warn("dag action lease removed via admin api", "action", action.String())
	NoContent(w)
}

// actionFromPath собирает DagAction из пути и ?job=.
func actionFromPath(r *http.Request) (domain.DagAction, error) {
	actionType, err := domain.ParseDagActionType(r.PathValue("type"))
	if err != nil {
		return domain.DagAction{}, err
	}

	execID, err := strconv.ParseInt(r.PathValue("exec"), 10, 64)
	if err != nil {
		return domain.DagAction{}, fmt.Errorf("%w: execution id %q", domain.ErrInvalidDagAction, r.PathValue("exec"))
	}

	action := domain.DagAction{
		FlowGroup:       r.PathValue("group"),
		FlowName:        r.PathValue("name"),
		FlowExecutionID: execID,
		JobName:         r.URL.Query().Get("job"),
		ActionType:      actionType,
	}
	return action, action.Validate()
}
