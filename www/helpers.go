package www

import (
	"encoding/json"
	"errors"
	"net/http"

	"assetedge/assets"
	"assetedge/backend"
	"assetedge/engine"
	"assetedge/queue"
	"assetedge/syncer"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var rce *syncer.RemoteCallError
	switch {
	case errors.Is(err, assets.ErrInvalid), errors.Is(err, backend.ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrActionNotFound):
		return http.StatusNotFound
	case errors.Is(err, syncer.ErrActionInFlight):
		return http.StatusConflict
	case errors.Is(err, queue.ErrStoreUnavailable), errors.Is(err, assets.ErrNoData),
		errors.Is(err, engine.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.As(err, &rce):
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}
