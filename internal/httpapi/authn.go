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

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// sessionToken reads the admin token from the session cookie, falling back to
// an Authorization bearer header.
func (a *API) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(a.opts.CookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	return extractBearerToken(r.Header.Get(authHeader))
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

// requireSession resolves the caller's session and stores it on the context;
// anything short of a live session is a 401.
func (a *API) requireSession(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := a.sessionToken(r)
		if token == "" {
			unauthenticated(w, r)
			return
		}
		sc, err := a.sessions.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				unauthenticated(w, r)
				return
			}
			internalError(w, r, "resolve session", err)
			return
		}
		next(w, r.WithContext(auth.ContextWithSession(r.Context(), sc)), ps)
	}
}

func unauthenticated(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	writeError(w, r, http.StatusUnauthorized, "unauthenticated")
}

func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	obs.Logger().Error(op+" failed",
		zap.String("request_id", audit.RequestIDFromContext(r.Context())),
		zap.Error(err),
	)
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	maxAge := int(expires.Sub(a.opts.Now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.opts.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
