package www

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"assetedge/syncer"
)

func (h *Handlers) apiSyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.SyncStatus(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, st)
}

func (h *Handlers) apiSyncNow(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Online() {
		writeError(w, http.StatusServiceUnavailable, "backend unreachable")
		return
	}
	res, err := h.engine.SyncNow(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handlers) apiListQueue(w http.ResponseWriter, r *http.Request) {
	actions, err := h.engine.Dispatcher().ListAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, actions)
}

func (h *Handlers) apiRetryAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.engine.Dispatcher().RetrySingleAction(r.Context(), id)
	if err == nil {
		writeJSON(w, map[string]any{"id": id, "synced": true})
		return
	}
	var rce *syncer.RemoteCallError
	if errors.As(err, &rce) {
		writeJSONStatus(w, http.StatusBadGateway, map[string]any{
			"id":          id,
			"synced":      false,
			"retry_count": rce.RetryCount,
			"terminal":    rce.Terminal,
			"error":       err.Error(),
		})
		return
	}
	writeDomainError(w, err)
}

func (h *Handlers) apiClearFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Dispatcher().ClearFailedActions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]int{"removed": n})
}

func (h *Handlers) apiVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible bool `json:"visible"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Visible {
		h.engine.Foreground()
	}
	w.WriteHeader(http.StatusNoContent)
}
