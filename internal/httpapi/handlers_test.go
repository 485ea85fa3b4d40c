package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"sync"
	"testing"
	"time"

	"harborvisa.org/internal/access"
	"harborvisa.org/internal/auth"
)

const (
	adminEmail    = "ops@example.com"
	adminPassword = "harbor-passphrase"
)

var (
	digestOnce sync.Once
	testHasher *auth.Hasher
	testHash   string
	digestErr  error
)

func sharedDigest(t *testing.T) (*auth.Hasher, string) {
	t.Helper()
	digestOnce.Do(func() {
		testHasher, digestErr = auth.NewHasher()
		if digestErr != nil {
			return
		}
		testHash, digestErr = testHasher.Hash(context.Background(), adminPassword)
	})
	if digestErr != nil {
		t.Fatalf("hash test password: %v", digestErr)
	}
	return testHasher, testHash
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T, mutate ...func(*Options)) *apiClient {
	t.Helper()
	hasher, digest := sharedDigest(t)

	accounts := auth.NewMemoryAccounts()
	if _, err := accounts.Add(auth.Admin{
		Email:        adminEmail,
		Name:         "Ops",
		Role:         auth.RoleAdmin,
		PasswordHash: digest,
		Active:       true,
	}); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	mgr, err := auth.NewManager(accounts, auth.NewMemorySessions(), auth.WithHasher(hasher))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	records := access.NewMemoryStore()
	due := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	records.PutUpload("upl-1", access.UploadRequest{
		ID:         11,
		ClientName: "Amira K.",
		Status:     access.UploadStatusPending,
		DueDate:    &due,
		Items: []access.UploadItem{
			{ID: 1, Name: "Passport"},
			{ID: 2, Name: "Bank statement", UploadedAt: &due},
		},
	})
	records.PutCase("case-1", access.CaseRecord{
		ID:         21,
		Reference:  "HV-2026-0042",
		CaseType:   "study_permit",
		Status:     "in_review",
		ClientName: "Amira K.",
		UpdatedAt:  time.Now().UTC(),
	})
	resolver := access.NewResolver(records, records)

	opts := Options{
		Version:          "test",
		AllowedOrigins:   []string{"http://localhost:3000"},
		RateBurst:        100,
		RatePerSecond:    100,
		LoginPerMinute:   100,
		ResolvePerMinute: 100,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	api := New(mgr, resolver, ReadyProbe{}, opts)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := srv.Client()
	client.Jar = jar
	return &apiClient{baseURL: srv.URL, client: client, t: t}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) login(password string, remember bool) *http.Response {
	c.t.Helper()
	return c.post("/v1/admin/login", map[string]any{
		"email":      adminEmail,
		"password":   password,
		"rememberMe": remember,
	}, nil)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == "admin_session" {
			return c
		}
	}
	t.Fatal("admin_session cookie not set")
	return nil
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected healthz status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["version"] != "test" {
		t.Fatalf("unexpected version: %v", body["version"])
	}

	resp = api.get("/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected readyz status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	notFound := decode[map[string]any](t, resp)
	if notFound["request_id"] == "" {
		t.Fatal("expected request_id on error body")
	}
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyReportsFailingDependency(t *testing.T) {
	api := New(nil, nil, ReadyProbe{
		"postgres": pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	}, Options{})
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("connection refused")) {
		t.Fatal("dependency error must not leak to clients")
	}
}

func TestAdminLoginSessionLogoutFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.login("wrong-password", false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	wrong := decode[map[string]any](t, resp)

	resp = api.post("/v1/admin/login", map[string]any{"email": "nobody@example.com", "password": adminPassword}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown email, got %d", resp.StatusCode)
	}
	unknown := decode[map[string]any](t, resp)
	if wrong["error"] != unknown["error"] || wrong["success"] != false {
		t.Fatalf("login failures must be indistinguishable: %v vs %v", wrong, unknown)
	}

	resp = api.login(adminPassword, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	cookie := sessionCookie(t, resp)
	if !cookie.HttpOnly || cookie.Path != "/" || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}
	if cookie.Secure {
		t.Fatal("cookie must not be Secure outside production")
	}
	logged := decode[map[string]any](t, resp)
	if logged["success"] != true {
		t.Fatalf("unexpected login body: %v", logged)
	}
	admin := logged["admin"].(map[string]any)
	if admin["email"] != adminEmail || admin["role"] != "admin" {
		t.Fatalf("unexpected admin profile: %v", admin)
	}
	if _, leaked := admin["password_hash"]; leaked {
		t.Fatal("password hash leaked")
	}

	resp = api.get("/v1/admin/session", nil, nil)
	session := decode[map[string]any](t, resp)
	if session["authenticated"] != true {
		t.Fatalf("expected authenticated session: %v", session)
	}
	perms := session["permissions"].([]any)
	if len(perms) != 4 {
		t.Fatalf("admin role should carry the minimal read set, got %v", perms)
	}

	resp = api.post("/v1/admin/logout", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status: %d", resp.StatusCode)
	}
	cleared := sessionCookie(t, resp)
	if cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Fatalf("logout must clear cookie: %+v", cleared)
	}
	resp.Body.Close()

	resp = api.get("/v1/admin/session", nil, map[string]string{"Authorization": "Bearer " + cookie.Value})
	after := decode[map[string]any](t, resp)
	if after["authenticated"] != false {
		t.Fatalf("revoked token must not authenticate: %v", after)
	}

	resp = api.post("/v1/admin/logout", nil, map[string]string{"Authorization": "Bearer " + cookie.Value})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeated logout status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSessionAcceptsBearerHeader(t *testing.T) {
	api := newTestAPI(t)
	resp := api.login(adminPassword, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}
	token := sessionCookie(t, resp).Value
	body := decode[map[string]any](t, resp)
	expires, err := time.Parse(time.RFC3339, body["expires_at"].(string))
	if err != nil {
		t.Fatalf("parse expires_at: %v", err)
	}
	if time.Until(expires) < 13*24*time.Hour {
		t.Fatalf("remember-me session should last about two weeks, expires %v", expires)
	}

	api.client.Jar = nil
	resp = api.get("/v1/admin/session", nil, map[string]string{"Authorization": "Bearer " + token})
	session := decode[map[string]any](t, resp)
	if session["authenticated"] != true {
		t.Fatalf("bearer token should authenticate: %v", session)
	}

	resp = api.get("/v1/admin/session", nil, nil)
	anon := decode[map[string]any](t, resp)
	if anon["authenticated"] != false {
		t.Fatalf("no credentials should be anonymous: %v", anon)
	}
}

func TestChangePassword(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/admin/change-password", map[string]any{
		"currentPassword": adminPassword,
		"newPassword":     "another-passphrase",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.login(adminPassword, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/admin/change-password", map[string]any{
		"currentPassword": "not-the-password",
		"newPassword":     "another-passphrase",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong current password, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/admin/change-password", map[string]any{
		"currentPassword": adminPassword,
		"newPassword":     "short",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for weak password, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/admin/change-password", map[string]any{
		"currentPassword": adminPassword,
		"newPassword":     "another-passphrase",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.login(adminPassword, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old password must stop working, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.login("another-passphrase", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("new password must work, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestResolveToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/portal/resolve-token", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without token, got %d", resp.StatusCode)
	}
	missing := decode[map[string]any](t, resp)
	if missing["valid"] != false {
		t.Fatalf("unexpected body: %v", missing)
	}

	resp = api.get("/v1/portal/resolve-token", url.Values{"token": {"unknown"}}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/portal/resolve-token", url.Values{"token": {"upl-1"}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	upload := decode[map[string]any](t, resp)
	if upload["valid"] != true || upload["kind"] != "document_upload" {
		t.Fatalf("unexpected upload body: %v", upload)
	}
	required := upload["payload"].(map[string]any)["required_documents"].([]any)
	if len(required) != 1 {
		t.Fatalf("only missing documents should be listed: %v", required)
	}

	resp = api.get("/v1/portal/resolve-token", url.Values{"token": {"case-1"}}, nil)
	status := decode[map[string]any](t, resp)
	if status["kind"] != "case" {
		t.Fatalf("unexpected case body: %v", status)
	}
	if status["payload"].(map[string]any)["reference"] != "HV-2026-0042" {
		t.Fatalf("unexpected case payload: %v", status["payload"])
	}
}

func TestLoginIsThrottled(t *testing.T) {
	api := newTestAPI(t, func(o *Options) { o.LoginPerMinute = 2 })

	for i := 0; i < 2; i++ {
		resp := api.post("/v1/admin/login", map[string]any{}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}
	resp := api.post("/v1/admin/login", map[string]any{}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	resp.Body.Close()
}

func TestLoginThrottleIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	api := newTestAPI(t, func(o *Options) { o.LoginPerMinute = 2 })

	limited := 0
	for i := 0; i < 6; i++ {
		resp := api.post("/v1/admin/login",
			map[string]any{"email": "nobody@example.com"},
			map[string]string{
				"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1),
				"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i+1),
			})
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
		resp.Body.Close()
	}
	if limited != 4 {
		t.Fatalf("expected 4 throttled attempts, got %d", limited)
	}
}

func TestLoginThrottleKeysOnForwardedForBehindTrustedProxy(t *testing.T) {
	api := newTestAPI(t, func(o *Options) {
		o.LoginPerMinute = 2
		o.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8"), netip.MustParsePrefix("::1/128")}
	})

	for i := 0; i < 6; i++ {
		resp := api.post("/v1/admin/login",
			map[string]any{"email": "nobody@example.com"},
			map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1)})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestLoginWithMissingFieldsLooksLikeBadCredentials(t *testing.T) {
	api := newTestAPI(t)

	for _, body := range []map[string]any{
		{"email": adminEmail},
		{"password": adminPassword},
		{"email": "  ", "password": adminPassword},
	} {
		resp := api.post("/v1/admin/login", body, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%v: expected 401, got %d", body, resp.StatusCode)
		}
		got := decode[loginResponse](t, resp)
		if got.Success || got.Error != "invalid email or password" {
			t.Fatalf("%v: unexpected body %+v", body, got)
		}
	}
}
