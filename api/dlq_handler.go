package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/id"
)

// defaultPurgeAge is how old an entry must be before a purge with no
// explicit cutoff removes it.
const defaultPurgeAge = 30 * 24 * time.Hour

type dlqCountResponse struct {
	Count int64 `json:"count"`
}

type purgeResponse struct {
	Purged int64     `json:"purged"`
	Before time.Time `json:"before"`
}

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := a.eng.DLQService().List(r.Context(), dlq.ListOpts{
		Limit:  limit,
		Offset: offset,
		Queue:  r.URL.Query().Get("queue"),
	})
	if err != nil {
		a.fail(w, r, "list dlq", err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, ok := parseEntryID(w, r)
	if !ok {
		return
	}

	entry, err := a.eng.DLQService().Get(r.Context(), entryID)
	if err != nil {
		a.fail(w, r, "get dlq", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, ok := parseEntryID(w, r)
	if !ok {
		return
	}

	j, err := a.eng.DLQService().Replay(r.Context(), entryID)
	if err != nil {
		a.fail(w, r, "replay dlq", err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.eng.DLQService().Count(r.Context())
	if err != nil {
		a.fail(w, r, "count dlq", err)
		return
	}
	writeJSON(w, http.StatusOK, dlqCountResponse{Count: n})
}

// purgeDLQ removes entries that failed before ?before= (RFC 3339), or
// older than thirty days when absent.
func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	before := time.Now().UTC().Add(-defaultPurgeAge)
	if s := r.URL.Query().Get("before"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid before: %v", err))
			return
		}
		before = t.UTC()
	}

	n, err := a.eng.DLQService().Purge(r.Context(), before)
	if err != nil {
		a.fail(w, r, "purge dlq", err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{Purged: n, Before: before})
}

func parseEntryID(w http.ResponseWriter, r *http.Request) (id.DLQID, bool) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid DLQ entry ID: %v", err))
		return id.DLQID{}, false
	}
	return entryID, true
}
