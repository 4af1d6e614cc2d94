package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты admin API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		RequestID(h.logger),
		Logging(h.logger),
	)

	// DAG checkpoints
	mux.Handle("GET /api/v1/dags", chain(http.HandlerFunc(h.ListDags)))
	mux.Handle("GET /api/v1/dags/{id}", chain(http.HandlerFunc(h.GetDag)))
	mux.Handle("DELETE /api/v1/dags/{id}", chain(http.HandlerFunc(h.DeleteDag)))

	// DagAction leases
	mux.Handle("GET /api/v1/actions", chain(http.HandlerFunc(h.ListActions)))
	mux.Handle("GET /api/v1/actions/{type}/{group}/{name}/{exec}", chain(http.HandlerFunc(h.GetAction)))
	mux.Handle("DELETE /api/v1/actions/{type}/{group}/{name}/{exec}", chain(http.HandlerFunc(h.DeleteAction)))

	// Flows
	mux.Handle("GET /api/v1/flows", chain(http.HandlerFunc(h.ListFlows)))
	mux.Handle("POST /api/v1/flows", chain(http.HandlerFunc(h.CreateFlow)))
	mux.Handle("GET /api/v1/flows/{group}/{name}", chain(http.HandlerFunc(h.GetFlow)))
	mux.Handle("PUT /api/v1/flows/{group}/{name}", chain(http.HandlerFunc(h.UpdateFlow)))
	mux.Handle("DELETE /api/v1/flows/{group}/{name}", chain(http.HandlerFunc(h.DeleteFlow)))
	mux.Handle("POST /api/v1/flows/{group}/{name}/launch", chain(http.HandlerFunc(h.LaunchFlow)))

	// Triggers
	mux.Handle("GET /api/v1/triggers", chain(http.HandlerFunc(h.ListTriggers)))
	mux.Handle("GET /api/v1/cron/next", chain(http.HandlerFunc(h.CronNext)))
}
