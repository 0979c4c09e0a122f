package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcpgate/mcpgate/oauth"
)

func testConfig(backendCmd string) Config {
	return Config{
		Port:              0,
		BackendCmd:        backendCmd,
		BackendTimeout:    10 * time.Second,
		OAuthClientID:     "test-client",
		OAuthClientSecret: "test-secret",
		OAuthRedirectURIs: "https://app.example.com/callback",
		CORSAllowOrigin:   "*",
	}
}

func newTestHandler(t *testing.T, cfg Config) (*Handler, *oauth.Server, oauth.TokenStore) {
	t.Helper()
	store := oauth.NewMemoryStore(oauth.DefaultTTLs())
	auth, err := oauth.NewServer(oauth.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURIs: cfg.RedirectURIs(),
		BaseURL:      "https://gate.example.com",
	}, store)
	if err != nil {
		t.Fatalf("oauth.NewServer: %v", err)
	}
	h, err := New(cfg, auth)
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	return h, auth, store
}

func TestHealthz(t *testing.T) {
	h, _, _ := newTestHandler(t, testConfig("cat"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _, _ := newTestHandler(t, testConfig("cat"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/mcp", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
		t.Errorf("Allow-Headers = %q", got)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	h, _, _ := newTestHandler(t, testConfig("cat"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCallbackRouteInactiveWithoutAdapter(t *testing.T) {
	h, _, _ := newTestHandler(t, testConfig("cat"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/entra/callback?state=x", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMetadataRoute(t *testing.T) {
	h, _, _ := newTestHandler(t, testConfig("cat"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "https://gate.example.com/oauth/token") {
		t.Errorf("metadata = %d %s", rec.Code, rec.Body.String())
	}
}

func TestMCPRejectsNonPOST(t *testing.T) {
	cfg := testConfig("cat")
	cfg.RequireAuth = false
	h, _, _ := newTestHandler(t, cfg)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestMCPRequiresBearer(t *testing.T) {
	cfg := testConfig("cat")
	cfg.RequireAuth = true
	h, _, _ := newTestHandler(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	challenge := rec.Header().Get("WWW-Authenticate")
	if !strings.HasPrefix(challenge, "Bearer ") || !strings.Contains(challenge, "resource_metadata") {
		t.Errorf("WWW-Authenticate = %q", challenge)
	}
}

func TestMCPBearerRoundTrip(t *testing.T) {
	cfg := testConfig("cat")
	cfg.RequireAuth = true
	h, _, store := newTestHandler(t, cfg)

	pair, err := store.IssueTokenPair(context.Background(), "test-client", "mcp")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// cat echoes the request line straight back.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"method":"initialize"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMCPEchoBackendWithoutAuth(t *testing.T) {
	cfg := testConfig("cat")
	cfg.RequireAuth = false
	h, _, _ := newTestHandler(t, cfg)

	body := `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != body {
		t.Errorf("echo body = %q, want %q", got, body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestMCPRejectsWrongContentType(t *testing.T) {
	cfg := testConfig("cat")
	cfg.RequireAuth = false
	h, _, _ := newTestHandler(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("<xml/>"))
	req.Header.Set("Content-Type", "text/xml")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}

func TestMCPNotificationOnlyGets204(t *testing.T) {
	cfg := testConfig("true")
	cfg.RequireAuth = false
	h, _, _ := newTestHandler(t, cfg)

	body := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
}

func TestMCPSilentBackendFailsRequests(t *testing.T) {
	cfg := testConfig("true")
	cfg.RequireAuth = false
	h, _, _ := newTestHandler(t, cfg)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "mcp_backend_failed") {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestMCPBackendNonZeroExit(t *testing.T) {
	cfg := testConfig("exit 3")
	cfg.RequireAuth = false
	h, _, _ := newTestHandler(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "mcp_backend_failed") {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestMCPBackendTimeout(t *testing.T) {
	cfg := testConfig("sleep 30")
	cfg.RequireAuth = false
	cfg.BackendTimeout = 200 * time.Millisecond
	h, _, _ := newTestHandler(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	start := time.Now()
	h.ServeHTTP(rec, req)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("backend not killed on timeout; took %s", elapsed)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// purgeSpy counts PurgeExpired calls on the wrapped store.
type purgeSpy struct {
	oauth.TokenStore
	purges int
}

func (s *purgeSpy) PurgeExpired(ctx context.Context) error {
	s.purges++
	return s.TokenStore.PurgeExpired(ctx)
}

func TestMCPPurgesExpiredEntries(t *testing.T) {
	cfg := testConfig("cat")
	cfg.RequireAuth = false

	spy := &purgeSpy{TokenStore: oauth.NewMemoryStore(oauth.DefaultTTLs())}
	auth, err := oauth.NewServer(oauth.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURIs: cfg.RedirectURIs(),
	}, spy)
	if err != nil {
		t.Fatalf("oauth.NewServer: %v", err)
	}
	h, err := New(cfg, auth)
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if spy.purges == 0 {
		t.Error("POST /mcp did not purge expired store entries")
	}
}

func TestNotificationOnly(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    bool
	}{
		{"single notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, true},
		{"single request", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, false},
		{"null id still a request", `{"jsonrpc":"2.0","id":null,"method":"x"}`, false},
		{"mixed lines", "{\"method\":\"a\"}\n{\"id\":2,\"method\":\"b\"}", false},
		{"all notifications", "{\"method\":\"a\"}\n{\"method\":\"b\"}", true},
		{"empty payload", "", false},
		{"blank lines only", "\n\n", false},
		{"unparseable", "garbage", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := notificationOnly([]byte(tc.payload)); got != tc.want {
				t.Errorf("notificationOnly(%q) = %v, want %v", tc.payload, got, tc.want)
			}
		})
	}
}
