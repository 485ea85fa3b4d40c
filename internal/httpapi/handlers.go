// Package httpapi is the HTTP boundary of the portal identity service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"harborvisa.org/internal/access"
	"harborvisa.org/internal/audit"
	"harborvisa.org/internal/auth"
	"harborvisa.org/internal/obs"
)

// SessionService is the administrator session surface the handlers need.
type SessionService interface {
	Login(ctx context.Context, email, password string, rememberMe bool) (auth.LoginResult, error)
	Resolve(ctx context.Context, token string) (auth.SessionContext, error)
	Logout(ctx context.Context, token string) error
	ChangePassword(ctx context.Context, sc auth.SessionContext, current, next string) error
}

// TokenResolver maps a client portal token onto the record it unlocks.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (access.ResolvedAccess, error)
}

// Pinger is implemented by storage backends checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every named dependency.
type ReadyProbe map[string]Pinger

// Check returns the first failing dependency.
func (rp ReadyProbe) Check(ctx context.Context) error {
	names := make([]string, 0, len(rp))
	for name := range rp {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if rp[name] == nil {
			continue
		}
		if err := rp[name].Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Options tunes the boundary. Zero values fall back to defaults.
// Forwarding headers are believed only from peers in TrustedProxies.
type Options struct {
	Version          string
	CookieName       string
	SecureCookies    bool
	AllowedOrigins   []string
	MaxBodyBytes     int64
	RateBurst        int
	RatePerSecond    int
	LoginPerMinute   int
	ResolvePerMinute int
	TrustedProxies   []netip.Prefix
	Now              func() time.Time
}

func (o *Options) setDefaults() {
	if o.CookieName == "" {
		o.CookieName = "admin_session"
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 40
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 20
	}
	if o.LoginPerMinute <= 0 {
		o.LoginPerMinute = 10
	}
	if o.ResolvePerMinute <= 0 {
		o.ResolvePerMinute = 30
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// API wires routes to the session manager and token resolver.
type API struct {
	router   *httprouter.Router
	sessions SessionService
	tokens   TokenResolver
	probe    ReadyProbe
	opts     Options
}

func New(sessions SessionService, tokens TokenResolver, probe ReadyProbe, opts Options) *API {
	opts.setDefaults()
	a := &API{
		router:   httprouter.New(),
		sessions: sessions,
		tokens:   tokens,
		probe:    probe,
		opts:     opts,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.HandleMethodNotAllowed = true
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, v any) {
		obs.Logger().Error(fmt.Sprintf("panic: %v", v))
		writeError(w, req, http.StatusInternalServerError, "internal error")
	}

	r.GET("/healthz", a.Healthz)
	r.GET("/readyz", a.Ready)
	r.GET("/v1/info", a.Info)
	r.Handler(http.MethodGet, "/metrics", obs.Handler())

	r.Handler(http.MethodPost, "/v1/admin/login",
		throttle(a.opts.LoginPerMinute, time.Minute)(adapt(a.handleLogin)))
	r.POST("/v1/admin/logout", a.handleLogout)
	r.GET("/v1/admin/session", a.handleSession)
	r.POST("/v1/admin/change-password", a.requireSession(a.handleChangePassword))

	r.Handler(http.MethodGet, "/v1/portal/resolve-token",
		throttle(a.opts.ResolvePerMinute, time.Minute)(adapt(a.handleResolveToken)))
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = obs.Instrument(h)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSecond)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(h, a.opts.AllowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = RealIP(h, a.opts.TrustedProxies)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "portal-identity",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.probe.Check(ctx); err != nil {
		obs.Logger().Warn("readiness check failed: " + err.Error())
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "portal-identity",
		"time":    a.opts.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// --- helpers ---

func adapt(h httprouter.Handle) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, httprouter.ParamsFromContext(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":      msg,
		"request_id": audit.RequestIDFromContext(r.Context()),
	})
}

var errEmptyBody = errors.New("request body is empty")

func decodeJSON(r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("unsupported content type %q", ct)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must hold a single JSON object")
	}
	return nil
}
