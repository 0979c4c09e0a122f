package entra

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpgate/mcpgate/oauth"
)

const (
	testTenant      = "test-tenant"
	testAppClientID = "app-client-id"
	testRedirectURI = "https://app.example.com/callback"
)

// fakeIdP stands in for the Entra tenant: it serves a JWKS document and
// a token endpoint whose response the test controls.
type fakeIdP struct {
	srv        *httptest.Server
	key        *rsa.PrivateKey
	kid        string
	tokenReply func(w http.ResponseWriter, r *http.Request)
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}

	idp := &fakeIdP{key: pk, kid: "test-key"}

	mux := http.NewServeMux()
	mux.HandleFunc("/"+testTenant+"/discovery/v2.0/keys", func(w http.ResponseWriter, r *http.Request) {
		set := struct {
			Keys []jose.JSONWebKey `json:"keys"`
		}{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: idp.kid, Algorithm: "RS256", Use: "sig"}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("/"+testTenant+"/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		if idp.tokenReply == nil {
			http.Error(w, "no token reply configured", http.StatusInternalServerError)
			return
		}
		idp.tokenReply(w, r)
	})

	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

func (idp *fakeIdP) issuer() string {
	return idp.srv.URL + "/" + testTenant + "/v2.0"
}

func (idp *fakeIdP) signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = idp.kid
	s, err := tok.SignedString(idp.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (idp *fakeIdP) serveIDToken(t *testing.T, claims jwt.MapClaims) {
	raw := idp.signIDToken(t, claims)
	idp.tokenReply = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "upstream-access",
			"token_type":   "Bearer",
			"id_token":     raw,
		})
	}
}

func newTestAdapter(t *testing.T, idp *fakeIdP) (*Adapter, *oauth.MemoryStore) {
	t.Helper()
	store := oauth.NewMemoryStore(oauth.DefaultTTLs())
	adapter, err := New(context.Background(), Config{
		TenantID:      testTenant,
		ClientID:      testAppClientID,
		ClientSecret:  "app-secret",
		RedirectURI:   "https://gate.example.com/oauth/entra/callback",
		AuthorityHost: idp.srv.URL,
	}, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return adapter, store
}

func pendingRequest(clientState string) *oauth.PendingAuthRequest {
	return &oauth.PendingAuthRequest{
		AuthorizationRequest: oauth.AuthorizationRequest{
			ClientID:    "local-client",
			RedirectURI: testRedirectURI,
			Scope:       "mcp",
			ClientState: clientState,
		},
		Nonce:        "expected-nonce",
		CodeVerifier: "expected-verifier",
	}
}

func TestAuthorizeRedirectsToProvider(t *testing.T) {
	idp := newFakeIdP(t)
	adapter, store := newTestAdapter(t, idp)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	adapter.Authorize(rec, req, &oauth.AuthorizationRequest{
		ClientID:    "local-client",
		RedirectURI: testRedirectURI,
		ClientState: "client-state",
	})

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	q := loc.Query()
	if q.Get("client_id") != testAppClientID {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("response_type") != "code" || q.Get("response_mode") != "query" {
		t.Errorf("response params = %v", q)
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("PKCE params missing: %v", q)
	}

	state := q.Get("state")
	if state == "" {
		t.Fatal("no state in provider redirect")
	}
	pending, err := store.LookupPending(context.Background(), state)
	if err != nil || pending == nil {
		t.Fatalf("pending lookup = %v, %v", pending, err)
	}
	if pending.ClientState != "client-state" || pending.RedirectURI != testRedirectURI {
		t.Errorf("pending = %+v", pending)
	}
	if oauth.DeriveChallenge(pending.CodeVerifier, "S256") != q.Get("code_challenge") {
		t.Error("stored verifier does not derive the sent challenge")
	}
	if pending.Nonce != q.Get("nonce") {
		t.Error("stored nonce differs from the sent nonce")
	}
}

func TestCallbackRelaysUpstreamError(t *testing.T) {
	idp := newFakeIdP(t)
	adapter, store := newTestAdapter(t, idp)
	ctx := context.Background()

	if err := store.PutPending(ctx, "st1", pendingRequest("client-state")); err != nil {
		t.Fatalf("PutPending: %v", err)
	}

	rec := httptest.NewRecorder()
	adapter.HandleCallback(rec, httptest.NewRequest(http.MethodGet,
		"/oauth/entra/callback?state=st1&error=access_denied&error_description=nope", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if loc.Host != "app.example.com" {
		t.Errorf("relayed to %q, want the client redirect URI", loc.Host)
	}
	q := loc.Query()
	if q.Get("error") != "access_denied" || q.Get("state") != "client-state" {
		t.Errorf("relay params = %v", q)
	}

	if pending, _ := store.LookupPending(ctx, "st1"); pending != nil {
		t.Error("pending entry not consumed")
	}
}

func TestCallbackUnknownState(t *testing.T) {
	idp := newFakeIdP(t)
	adapter, _ := newTestAdapter(t, idp)

	rec := httptest.NewRecorder()
	adapter.HandleCallback(rec, httptest.NewRequest(http.MethodGet,
		"/oauth/entra/callback?state=never-seen&code=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v\n%s", err, rec.Body.String())
	}
	if body["error"] != "invalid_request" {
		t.Errorf("error = %q, want invalid_request", body["error"])
	}
}

func TestCallbackRejectsNonGET(t *testing.T) {
	idp := newFakeIdP(t)
	adapter, _ := newTestAdapter(t, idp)

	rec := httptest.NewRecorder()
	adapter.HandleCallback(rec, httptest.NewRequest(http.MethodPost, "/oauth/entra/callback", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestCallbackUpstreamErrorWithoutState(t *testing.T) {
	idp := newFakeIdP(t)
	adapter, _ := newTestAdapter(t, idp)

	rec := httptest.NewRecorder()
	adapter.HandleCallback(rec, httptest.NewRequest(http.MethodGet,
		"/oauth/entra/callback?error=access_denied&error_description=nope", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v\n%s", err, rec.Body.String())
	}
	if body["error"] != "access_denied" || body["error_description"] != "nope" {
		t.Errorf("body = %v, want the provider error relayed", body)
	}
}

func TestCallbackUpstreamErrorWithUnknownState(t *testing.T) {
	idp := newFakeIdP(t)
	adapter, _ := newTestAdapter(t, idp)

	rec := httptest.NewRecorder()
	adapter.HandleCallback(rec, httptest.NewRequest(http.MethodGet,
		"/oauth/entra/callback?state=never-seen&error=server_error", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v\n%s", err, rec.Body.String())
	}
	if body["error"] != "server_error" {
		t.Errorf("error = %q, want server_error relayed directly", body["error"])
	}
}

func TestCallbackMissingCodeKeepsPending(t *testing.T) {
	idp := newFakeIdP(t)
	adapter, store := newTestAdapter(t, idp)
	ctx := context.Background()

	if err := store.PutPending(ctx, "st1", pendingRequest("client-state")); err != nil {
		t.Fatalf("PutPending: %v", err)
	}

	rec := httptest.NewRecorder()
	adapter.HandleCallback(rec, httptest.NewRequest(http.MethodGet,
		"/oauth/entra/callback?state=st1", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v\n%s", err, rec.Body.String())
	}
	if body["error"] != "invalid_request" {
		t.Errorf("error = %q, want invalid_request", body["error"])
	}

	// A truncated provider redirect must not burn the round-trip.
	if pending, _ := store.LookupPending(ctx, "st1"); pending == nil {
		t.Error("pending entry consumed on missing code")
	}
}

func TestCallbackSuccessMintsLocalCode(t *testing.T) {
	idp := newFakeIdP(t)
	adapter, store := newTestAdapter(t, idp)
	ctx := context.Background()

	if err := store.PutPending(ctx, "st1", pendingRequest("client-state")); err != nil {
		t.Fatalf("PutPending: %v", err)
	}
	idp.serveIDToken(t, jwt.MapClaims{
		"iss":   idp.issuer(),
		"aud":   testAppClientID,
		"sub":   "user-1",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
		"nonce": "expected-nonce",
	})

	rec := httptest.NewRecorder()
	adapter.HandleCallback(rec, httptest.NewRequest(http.MethodGet,
		"/oauth/entra/callback?state=st1&code=upstream-code", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302: %s", rec.Code, rec.Body.String())
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	q := loc.Query()
	if q.Get("state") != "client-state" {
		t.Errorf("state = %q", q.Get("state"))
	}
	code := q.Get("code")
	if code == "" {
		t.Fatalf("no local code in redirect: %s", rec.Header().Get("Location"))
	}

	codeRec, err := store.LookupCode(ctx, code)
	if err != nil || codeRec == nil {
		t.Fatalf("local code lookup = %v, %v", codeRec, err)
	}
	if codeRec.ClientID != "local-client" || codeRec.RedirectURI != testRedirectURI {
		t.Errorf("code record = %+v", codeRec)
	}

	if pending, _ := store.LookupPending(ctx, "st1"); pending != nil {
		t.Error("pending entry not consumed")
	}
}

func TestCallbackNonceMismatch(t *testing.T) {
	idp := newFakeIdP(t)
	adapter, store := newTestAdapter(t, idp)
	ctx := context.Background()

	if err := store.PutPending(ctx, "st1", pendingRequest("")); err != nil {
		t.Fatalf("PutPending: %v", err)
	}
	idp.serveIDToken(t, jwt.MapClaims{
		"iss":   idp.issuer(),
		"aud":   testAppClientID,
		"sub":   "user-1",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"nonce": "forged-nonce",
	})

	rec := httptest.NewRecorder()
	adapter.HandleCallback(rec, httptest.NewRequest(http.MethodGet,
		"/oauth/entra/callback?state=st1&code=upstream-code", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want error redirect", rec.Code)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if loc.Query().Get("error") != "access_denied" {
		t.Errorf("error = %q, want access_denied", loc.Query().Get("error"))
	}
	if loc.Query().Get("code") != "" {
		t.Error("code minted despite nonce mismatch")
	}
	if pending, _ := store.LookupPending(ctx, "st1"); pending != nil {
		t.Error("pending entry not consumed")
	}
}

func TestCallbackExchangeFailure(t *testing.T) {
	idp := newFakeIdP(t)
	adapter, store := newTestAdapter(t, idp)
	ctx := context.Background()

	if err := store.PutPending(ctx, "st1", pendingRequest("")); err != nil {
		t.Fatalf("PutPending: %v", err)
	}
	idp.tokenReply = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}

	rec := httptest.NewRecorder()
	adapter.HandleCallback(rec, httptest.NewRequest(http.MethodGet,
		"/oauth/entra/callback?state=st1&code=bad-code", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want error redirect", rec.Code)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if loc.Query().Get("error") != "server_error" {
		t.Errorf("error = %q, want server_error", loc.Query().Get("error"))
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := Config{TenantID: testTenant}
	if err := cfg.validate(); err == nil {
		t.Error("incomplete config validated")
	}

	cfg = Config{
		TenantID:     testTenant,
		ClientID:     testAppClientID,
		ClientSecret: "s",
		RedirectURI:  "https://gate.example.com/cb",
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("complete config rejected: %v", err)
	}
	if got := cfg.issuer(); got != "https://login.microsoftonline.com/"+testTenant+"/v2.0" {
		t.Errorf("issuer = %q", got)
	}
}
