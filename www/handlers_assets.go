package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"assetedge/protocol"
)

func (h *Handlers) apiListAssets(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"
	view, err := h.engine.Loader().Load(r.Context(), force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, view)
}

func (h *Handlers) apiCreateAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		protocol.Asset
		ActingUser string `json:"acting_user"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	out, err := h.engine.Assets().CreateAsset(r.Context(), req.Asset, req.ActingUser)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, statusFor(out.Queued, http.StatusCreated), out)
}

func (h *Handlers) apiUpdateAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fields     map[string]any `json:"fields"`
		ActingUser string         `json:"acting_user"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	out, err := h.engine.Assets().UpdateAsset(r.Context(), chi.URLParam(r, "id"), req.Fields, req.ActingUser)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, statusFor(out.Queued, http.StatusOK), out)
}

func (h *Handlers) apiDeleteAsset(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Assets().DeleteAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, statusFor(out.Queued, http.StatusOK), out)
}

func (h *Handlers) apiCheckAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActingUser string `json:"acting_user"`
		Notes      string `json:"notes"`
	}
	// Empty body checks as the default user.
	decodeJSON(r, &req)
	out, err := h.engine.Assets().CheckAsset(r.Context(), chi.URLParam(r, "id"), req.ActingUser, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, statusFor(out.Queued, http.StatusOK), out)
}

func (h *Handlers) apiUncheckAsset(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Assets().UncheckAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, statusFor(out.Queued, http.StatusOK), out)
}

func (h *Handlers) apiRecordScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID    string `json:"asset_id"`
		ActingUser string `json:"acting_user"`
	}
	if err := decodeJSON(r, &req); err != nil || req.AssetID == "" {
		writeError(w, http.StatusBadRequest, "asset_id is required")
		return
	}
	out, err := h.engine.Assets().RecordScan(r.Context(), req.AssetID, req.ActingUser)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, statusFor(out.Queued, http.StatusCreated), out)
}

// statusFor reports 202 for edits that were queued instead of applied.
func statusFor(queued bool, applied int) int {
	if queued {
		return http.StatusAccepted
	}
	return applied
}
