package api

import (
	"net/http"

	"github.com/shaiso/Arbiter/internal/dagstate"
	"github.com/shaiso/Arbiter/internal/engine"
)

// ListDags возвращает DAG, находящиеся в хранилище checkpoint.
// GET /api/v1/dags
func (h *Handler) ListDags(w http.ResponseWriter, r *http.Request) {
	if h.dags == nil {
		ServiceUnavailable(w, "dag state store not configured")
		return
	}

	dags, err := h.dags.GetDags(r.Context())
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]DagSummary, len(dags))
	for i, dag := range dags {
		result[i] = DagSummary{
			ID:        dag.ID.String(),
			Status:    dag.Status,
			Owner:     dag.Owner,
			Jobs:      len(dag.Jobs),
			Ready:     engine.ReadyJobs(dag),
			UpdatedAt: dag.UpdatedAt,
		}
	}
	List(w, result, len(result))
}

// GetDag возвращает checkpoint DAG целиком.
// GET /api/v1/dags/{id}
func (h *Handler) GetDag(w http.ResponseWriter, r *http.Request) {
	if h.dags == nil {
		ServiceUnavailable(w, "dag state store not configured")
		return
	}

	dag, err := dagstate.LegacyStore{Store: h.dags}.GetDagByString(r.Context(), r.PathValue("id"))
	if HandleError(w, h.logger, err, "dag not found") {
		return
	}
	Success(w, dag)
}

// DeleteDag удаляет checkpoint DAG (ручная очистка). Отсутствующий DAG — не ошибка.
// DELETE /api/v1/dags/{id}
func (h *Handler) DeleteDag(w http.ResponseWriter, r *http.Request) {
	if h.dags == nil {
		ServiceUnavailable(w, "dag state store not configured")
		return
	}

	id := r.PathValue("id")
	if HandleError(w, h.logger, dagstate.LegacyStore{Store: h.dags}.CleanUpByString(r.Context(), id), "") {
		return
	}
	h.logger.Info("dag checkpoint removed via admin api", "dag_id", id)
	NoContent(w)
}
