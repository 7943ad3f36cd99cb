package www

import (
	"errors"
	"net/http"
	"strings"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// readCredentials accepts a JSON body or a form post.
func readCredentials(r *http.Request) credentials {
	var c credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		decodeJSON(r, &c)
		return c
	}
	c.Username = r.FormValue("username")
	c.Password = r.FormValue("password")
	return c
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	c := readCredentials(r)
	if c.Username == "" || c.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if err := h.auth.authenticate(r.Context(), c.Username, c.Password); err != nil {
		if errors.Is(err, errBadCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.auth.signIn(w, r, c.Username); err != nil {
		writeError(w, http.StatusInternalServerError, "session error")
		return
	}
	writeJSON(w, map[string]string{"username": c.Username})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.auth.signOut(w, r)
	w.WriteHeader(http.StatusNoContent)
}
