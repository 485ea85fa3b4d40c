package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"harborvisa.org/internal/audit"
	"harborvisa.org/internal/auth"
	"harborvisa.org/internal/obs"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type loginResponse struct {
	Success     bool          `json:"success"`
	Admin       *auth.Profile `json:"admin,omitempty"`
	Permissions []string      `json:"permissions,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type sessionResponse struct {
	Authenticated bool          `json:"authenticated"`
	Admin         *auth.Profile `json:"admin,omitempty"`
	Permissions   []string      `json:"permissions,omitempty"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, loginResponse{Error: err.Error()})
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		invalidLogin(w)
		return
	}

	res, err := a.sessions.Login(r.Context(), email, req.Password, req.RememberMe)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			invalidLogin(w)
			return
		}
		internalError(w, r, "login", err)
		return
	}

	a.setSessionCookie(w, res.Token, res.Session.ExpiresAt)
	profile := res.Admin.Profile()
	expires := res.Session.ExpiresAt.UTC()
	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		Admin:       &profile,
		Permissions: res.Permissions.List(),
		ExpiresAt:   &expires,
	})
}

func invalidLogin(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, loginResponse{Error: "invalid email or password"})
}

// handleLogout always clears the cookie and answers 200, whether or not a
// live session was presented.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if token := a.sessionToken(r); token != "" {
		if err := a.sessions.Logout(r.Context(), token); err != nil {
			obs.Logger().Warn("logout failed",
				zap.String("request_id", audit.RequestIDFromContext(r.Context())),
				zap.Error(err),
			)
		}
	}
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := a.sessionToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	sc, err := a.sessions.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			a.clearSessionCookie(w)
			writeJSON(w, http.StatusOK, sessionResponse{})
			return
		}
		internalError(w, r, "resolve session", err)
		return
	}
	profile := sc.Admin.Profile()
	expires := sc.Session.ExpiresAt.UTC()
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		Admin:         &profile,
		Permissions:   sc.Permissions.List(),
		ExpiresAt:     &expires,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sc, ok := auth.SessionFromContext(r.Context())
	if !ok {
		unauthenticated(w, r)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}

	err := a.sessions.ChangePassword(r.Context(), sc, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, auth.ErrCurrentPasswordMismatch):
		writeError(w, r, http.StatusBadRequest, "current password is incorrect")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, r, http.StatusBadRequest, "new password does not meet the minimum length")
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrNotFound):
		unauthenticated(w, r)
	default:
		internalError(w, r, "change password", err)
	}
}
