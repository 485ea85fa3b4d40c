package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"harborvisa.org/internal/access"
)

type resolveTokenResponse struct {
	Valid   bool        `json:"valid"`
	Kind    access.Kind `json:"kind,omitempty"`
	Payload any         `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// handleResolveToken is public: the token itself is the credential.
func (a *API) handleResolveToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeJSON(w, http.StatusBadRequest, resolveTokenResponse{Error: "token is required"})
		return
	}
	res, err := a.tokens.Resolve(r.Context(), token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resolveTokenResponse{
			Valid:   true,
			Kind:    res.Kind,
			Payload: res.Payload(),
		})
	case errors.Is(err, access.ErrNotFound):
		writeJSON(w, http.StatusNotFound, resolveTokenResponse{})
	default:
		internalError(w, r, "resolve token", err)
	}
}
