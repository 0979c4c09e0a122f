package entra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpgate/mcpgate/oauth"
)

// ErrUnauthorized indicates that the upstream ID token failed
// verification and the federated sign-in must be treated as failed.
var ErrUnauthorized = errors.New("entra: unauthorized")

const (
	exchangeTimeout = 10 * time.Second
	clockLeeway     = 5 * time.Second
)

var _ oauth.Adapter = (*Adapter)(nil)

// Adapter implements oauth.Adapter against an Entra ID tenant.
type Adapter struct {
	cfg   Config
	store oauth.TokenStore
	log   *slog.Logger

	authorizeEndpoint string
	tokenEndpoint     string
	issuer            string

	httpClient *http.Client
	keyfunc    jwt.Keyfunc
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// WithHTTPClient overrides the client used for the code exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// New builds an Adapter with endpoints derived from the tenant ID and
// an auto-refreshing JWKS fetched from the tenant's discovery keys URL.
func New(ctx context.Context, cfg Config, store oauth.TokenStore, opts ...Option) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("entra: token store is required")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.jwksURI()})
	if err != nil {
		return nil, fmt.Errorf("entra: jwks init failed: %w", err)
	}

	a := &Adapter{
		cfg:               cfg,
		store:             store,
		log:               slog.Default(),
		authorizeEndpoint: cfg.authorizeEndpoint(),
		tokenEndpoint:     cfg.tokenEndpoint(),
		issuer:            cfg.issuer(),
		httpClient:        &http.Client{Timeout: exchangeTimeout},
		keyfunc:           kf.Keyfunc,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewFromDiscovery builds an Adapter whose endpoints and JWKS location
// come from OIDC discovery instead of the derived v2.0 layout. Useful
// when the tenant advertises non-default endpoints.
func NewFromDiscovery(ctx context.Context, cfg Config, store oauth.TokenStore, opts ...Option) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("entra: token store is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.issuer())
	if err != nil {
		return nil, fmt.Errorf("entra: oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI       string `json:"jwks_uri"`
		Authorization string `json:"authorization_endpoint"`
		Token         string `json:"token_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("entra: invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" || meta.Authorization == "" || meta.Token == "" {
		return nil, errors.New("entra: discovery metadata incomplete")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("entra: jwks init failed: %w", err)
	}

	a := &Adapter{
		cfg:               cfg,
		store:             store,
		log:               slog.Default(),
		authorizeEndpoint: meta.Authorization,
		tokenEndpoint:     meta.Token,
		issuer:            cfg.issuer(),
		httpClient:        &http.Client{Timeout: exchangeTimeout},
		keyfunc:           kf.Keyfunc,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authorize saves the local authorization request keyed by a fresh
// state value and redirects the user agent to Entra's authorize
// endpoint with a PKCE challenge.
func (a *Adapter) Authorize(w http.ResponseWriter, r *http.Request, req *oauth.AuthorizationRequest) {
	ctx := r.Context()

	state := oauth.RandomToken(oauth.StateBytes)
	nonce := oauth.RandomToken(oauth.StateBytes)
	verifier := oauth.RandomToken(oauth.VerifierBytes)

	pending := &oauth.PendingAuthRequest{
		AuthorizationRequest: *req,
		Nonce:                nonce,
		CodeVerifier:         verifier,
	}
	if err := a.store.PutPending(ctx, state, pending); err != nil {
		a.log.ErrorContext(ctx, "store.pending.put.fail", slog.String("err", err.Error()))
		http.Error(w, "failed to save authorization state", http.StatusInternalServerError)
		return
	}

	q := url.Values{}
	q.Set("client_id", a.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("response_mode", "query")
	q.Set("redirect_uri", a.cfg.RedirectURI)
	q.Set("scope", a.cfg.Scopes)
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("code_challenge", oauth.DeriveChallenge(verifier, "S256"))
	q.Set("code_challenge_method", "S256")

	a.log.InfoContext(ctx, "authorize.entra.redirect")
	http.Redirect(w, r, a.authorizeEndpoint+"?"+q.Encode(), http.StatusFound)
}

// HandleCallback completes the federated round-trip: it correlates the
// state to the pending request, exchanges the upstream code, verifies
// the ID token, and redirects back to the original client with a local
// authorization code. A provider error is relayed through the original
// client's redirect URI when the state still resolves, and answered
// directly otherwise. The pending entry is consumed once the exchange
// begins; earlier validation failures leave it intact.
func (a *Adapter) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	if err := a.store.PurgeExpired(ctx); err != nil {
		a.log.ErrorContext(ctx, "store.purge.fail", slog.String("err", err.Error()))
	}
	q := r.URL.Query()

	state := q.Get("state")
	if upstreamErr := q.Get("error"); upstreamErr != "" {
		a.log.InfoContext(ctx, "callback.entra.denied", slog.String("error", upstreamErr))
		if state != "" {
			pending, err := a.store.LookupPending(ctx, state)
			if err != nil {
				a.log.ErrorContext(ctx, "store.pending.lookup.fail", slog.String("err", err.Error()))
			}
			if pending != nil {
				a.deletePending(ctx, state)
				a.redirectError(w, r, pending, upstreamErr, q.Get("error_description"))
				return
			}
		}
		writeOAuthError(w, http.StatusBadRequest, upstreamErr, q.Get("error_description"))
		return
	}

	code := q.Get("code")
	if state == "" || code == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code and state are required.")
		return
	}

	pending, err := a.store.LookupPending(ctx, state)
	if err != nil {
		a.log.ErrorContext(ctx, "store.pending.lookup.fail", slog.String("err", err.Error()))
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "")
		return
	}
	if pending == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Unknown or expired state.")
		return
	}
	defer a.deletePending(ctx, state)

	idToken, err := a.exchangeCode(ctx, code, pending.CodeVerifier)
	if err != nil {
		a.log.ErrorContext(ctx, "callback.entra.exchange.fail", slog.String("err", err.Error()))
		a.redirectError(w, r, pending, "server_error", "Upstream code exchange failed.")
		return
	}

	if err := a.verifyIDToken(idToken, pending.Nonce); err != nil {
		a.log.InfoContext(ctx, "callback.entra.verify.fail", slog.String("err", err.Error()))
		a.redirectError(w, r, pending, "access_denied", "ID token verification failed.")
		return
	}

	localCode, err := a.store.IssueCode(ctx, pending.AuthorizationRequest)
	if err != nil {
		a.log.ErrorContext(ctx, "store.code.issue.fail", slog.String("err", err.Error()))
		a.redirectError(w, r, pending, "server_error", "Failed to issue authorization code.")
		return
	}

	target, err := url.Parse(pending.RedirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Invalid redirect_uri.")
		return
	}
	tq := target.Query()
	tq.Set("code", localCode)
	if pending.ClientState != "" {
		tq.Set("state", pending.ClientState)
	}
	target.RawQuery = tq.Encode()

	a.log.InfoContext(ctx, "callback.entra.ok")
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (a *Adapter) deletePending(ctx context.Context, state string) {
	if err := a.store.DeletePending(ctx, state); err != nil {
		a.log.ErrorContext(ctx, "store.pending.delete.fail", slog.String("err", err.Error()))
	}
}

// writeOAuthError emits the standard {error, error_description} body for
// failures the callback answers directly instead of relaying.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (a *Adapter) redirectError(w http.ResponseWriter, r *http.Request, pending *oauth.PendingAuthRequest, code, description string) {
	target, err := url.Parse(pending.RedirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Invalid redirect_uri.")
		return
	}
	q := target.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if pending.ClientState != "" {
		q.Set("state", pending.ClientState)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// exchangeCode redeems the upstream authorization code and returns the
// raw ID token.
func (a *Adapter) exchangeCode(ctx context.Context, code, verifier string) (string, error) {
	form := url.Values{}
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.cfg.RedirectURI)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", res.StatusCode, body)
	}

	var parsed struct {
		IDToken string `json:"id_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("invalid token response: %w", err)
	}
	if parsed.IDToken == "" {
		return "", errors.New("token response missing id_token")
	}
	return parsed.IDToken, nil
}

// verifyIDToken checks signature, issuer, audience and expiry with a
// small clock leeway, then matches the nonce against the pending
// request.
func (a *Adapter) verifyIDToken(raw, expectedNonce string) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.cfg.ClientID),
		jwt.WithLeeway(clockLeeway),
	)

	parsed, err := parser.Parse(raw, a.keyfunc)
	if err != nil {
		return fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	nonce, _ := claims["nonce"].(string)
	if nonce == "" || nonce != expectedNonce {
		return fmt.Errorf("%w: nonce mismatch", ErrUnauthorized)
	}
	return nil
}
