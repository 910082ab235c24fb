package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/socialq/id"
)

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Checks: map[string]string{"broker": "ok"}}
	status := http.StatusOK

	if err := a.eng.Ping(r.Context()); err != nil {
		resp.Checks["broker"] = err.Error()
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	if a.cache != nil {
		resp.Checks["cache"] = "ok"
		if err := a.cache.Ping(r.Context()); err != nil {
			resp.Checks["cache"] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

func (a *API) listQueues(w http.ResponseWriter, r *http.Request) {
	snap, err := a.eng.Board().Snapshot(r.Context())
	if err != nil {
		a.fail(w, r, "list queues", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) getQueue(w http.ResponseWriter, r *http.Request) {
	qs, err := a.eng.Board().Queue(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, "get queue", err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid job ID: %v", err))
		return
	}

	j, err := a.eng.JobStore().GetJob(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}
