package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"

	"github.com/mcpgate/mcpgate/internal/wellknown"
)

// Standard RFC 6749 error codes emitted by this server.
const (
	ErrInvalidRequest          = "invalid_request"
	ErrInvalidClient           = "invalid_client"
	ErrInvalidGrant            = "invalid_grant"
	ErrUnsupportedResponseType = "unsupported_response_type"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrServerError             = "server_error"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Config identifies the single registered client and the redirect URIs
// it may use.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURIs []string
	// BaseURL, when set, is the externally advertised issuer. Otherwise
	// the issuer is derived per request from forwarding headers.
	BaseURL string
}

// Adapter authenticates the end user for an authorization attempt. The
// local adapter issues a code immediately; federated adapters redirect
// to an external identity provider first and mint the code at callback.
type Adapter interface {
	Authorize(w http.ResponseWriter, r *http.Request, req *AuthorizationRequest)
}

// Server implements the /oauth/authorize, /oauth/token and metadata
// endpoints against an injected TokenStore.
type Server struct {
	cfg     Config
	store   TokenStore
	adapter Adapter
	log     *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithAdapter sets the authentication adapter. Defaults to the local
// adapter, which approves every authorization attempt immediately.
func WithAdapter(a Adapter) Option {
	return func(s *Server) {
		if a != nil {
			s.adapter = a
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer constructs a Server around the given client configuration
// and token store.
func NewServer(cfg Config, store TokenStore, opts ...Option) (*Server, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("oauth: client id and secret are required")
	}
	if len(cfg.RedirectURIs) == 0 {
		return nil, fmt.Errorf("oauth: at least one redirect URI is required")
	}
	if store == nil {
		return nil, fmt.Errorf("oauth: token store is required")
	}

	s := &Server{cfg: cfg, store: store, log: slog.Default()}
	s.adapter = &LocalAdapter{Store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store exposes the injected token store to collaborators (the bridge's
// bearer gate, federated adapters).
func (s *Server) Store() TokenStore {
	return s.store
}

// Issuer resolves the externally visible base URL: the configured value
// when present, otherwise derived from X-Forwarded-Proto /
// X-Forwarded-Host / Host.
func (s *Server) Issuer(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s", proto, host)
}

// WriteError emits the standard OAuth error body with no-store caching
// headers.
func (s *Server) WriteError(w http.ResponseWriter, status int, code, description string) {
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any, noStore bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if noStore {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// HandleAuthorize implements GET /oauth/authorize.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	if err := s.store.PurgeExpired(ctx); err != nil {
		s.log.ErrorContext(ctx, "store.purge.fail", slog.String("err", err.Error()))
	}

	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		s.WriteError(w, http.StatusBadRequest, ErrUnsupportedResponseType, "Only response_type=code is supported.")
		return
	}
	if q.Get("client_id") != s.cfg.ClientID {
		s.log.InfoContext(ctx, "authorize.client.unknown")
		s.WriteError(w, http.StatusUnauthorized, ErrInvalidClient, "Unknown client_id.")
		return
	}
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" || !s.redirectURIAllowed(redirectURI) {
		s.log.InfoContext(ctx, "authorize.redirect_uri.rejected", slog.String("redirect_uri", redirectURI))
		s.WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "redirect_uri is not allowed.")
		return
	}

	method := q.Get("code_challenge_method")
	if method == "" {
		method = "plain"
	}
	req := &AuthorizationRequest{
		ClientID:            s.cfg.ClientID,
		RedirectURI:         redirectURI,
		Scope:               q.Get("scope"),
		ClientState:         q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: method,
	}

	s.log.InfoContext(ctx, "authorize.start", slog.String("scope", req.Scope))
	s.adapter.Authorize(w, r, req)
}

// redirectURIAllowed compares the candidate against the allow-list both
// literally and after normalization (trailing slashes stripped,
// duplicate path separators collapsed).
func (s *Server) redirectURIAllowed(candidate string) bool {
	normalizedCandidate := normalizeRedirectURI(candidate)
	for _, allowed := range s.cfg.RedirectURIs {
		if candidate == allowed {
			return true
		}
		if normalizedCandidate == normalizeRedirectURI(allowed) {
			return true
		}
	}
	return false
}

func normalizeRedirectURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return strings.TrimRight(raw, "/")
	}
	path := u.EscapedPath()
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	path = strings.TrimRight(path, "/")
	u.RawPath = ""
	u.Path = path
	return u.String()
}

// HandleToken implements POST /oauth/token. The body may be form
// encoded or JSON; client credentials may arrive via HTTP Basic or in
// the body.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	if err := s.store.PurgeExpired(ctx); err != nil {
		s.log.ErrorContext(ctx, "store.purge.fail", slog.String("err", err.Error()))
	}

	params, err := parseTokenRequestBody(r)
	if err != nil {
		s.WriteError(w, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	clientID, clientSecret := clientCredentials(r, params)
	if !s.validateClient(clientID, clientSecret) {
		s.log.InfoContext(ctx, "token.client.invalid")
		w.Header().Set("WWW-Authenticate", "Basic")
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": ErrInvalidClient}, false)
		return
	}

	grantType := params["grant_type"]
	if grantType == "" {
		s.WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "grant_type is required.")
		return
	}

	switch grantType {
	case "authorization_code":
		s.handleAuthorizationCodeGrant(ctx, w, params)
	case "client_credentials":
		s.handleClientCredentialsGrant(ctx, w, clientID, params["scope"])
	case "refresh_token":
		s.handleRefreshTokenGrant(ctx, w, clientID, params)
	default:
		s.WriteError(w, http.StatusBadRequest, ErrUnsupportedGrantType, "Unsupported grant_type.")
	}
}

func (s *Server) handleAuthorizationCodeGrant(ctx context.Context, w http.ResponseWriter, params map[string]string) {
	code := params["code"]
	redirectURI := params["redirect_uri"]
	if code == "" || redirectURI == "" {
		s.WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "code and redirect_uri are required.")
		return
	}

	rec, err := s.store.LookupCode(ctx, code)
	if err != nil {
		s.log.ErrorContext(ctx, "store.code.lookup.fail", slog.String("err", err.Error()))
		s.WriteError(w, http.StatusInternalServerError, ErrServerError, "")
		return
	}
	// A redirect_uri mismatch intentionally leaves the code in place so
	// the client can retry the exchange with the correct URI; the code
	// stays single-use on the success path and expires on its own TTL.
	if rec == nil || rec.RedirectURI != redirectURI {
		s.WriteError(w, http.StatusBadRequest, ErrInvalidGrant, "Invalid authorization code.")
		return
	}

	if rec.CodeChallenge != "" {
		verifier := params["code_verifier"]
		if verifier == "" {
			s.WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "code_verifier is required.")
			return
		}
		expected := DeriveChallenge(verifier, rec.CodeChallengeMethod)
		if !constantTimeEqual(expected, rec.CodeChallenge) {
			s.log.InfoContext(ctx, "token.pkce.mismatch")
			s.WriteError(w, http.StatusBadRequest, ErrInvalidGrant, "PKCE verification failed.")
			return
		}
	}

	if err := s.store.DeleteCode(ctx, code); err != nil {
		s.log.ErrorContext(ctx, "store.code.delete.fail", slog.String("err", err.Error()))
	}
	pair, err := s.store.IssueTokenPair(ctx, rec.ClientID, rec.Scope)
	if err != nil {
		s.log.ErrorContext(ctx, "store.token.issue.fail", slog.String("err", err.Error()))
		s.WriteError(w, http.StatusInternalServerError, ErrServerError, "")
		return
	}

	s.log.InfoContext(ctx, "token.grant.code.ok")
	s.writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    pair.ExpiresIn,
		RefreshToken: pair.RefreshToken,
		Scope:        rec.Scope,
	}, true)
}

func (s *Server) handleClientCredentialsGrant(ctx context.Context, w http.ResponseWriter, clientID, scope string) {
	// A refresh token is minted here too. RFC 6749 discourages that for
	// this grant; kept as a loose policy since the client can simply
	// re-authenticate either way.
	pair, err := s.store.IssueTokenPair(ctx, clientID, scope)
	if err != nil {
		s.log.ErrorContext(ctx, "store.token.issue.fail", slog.String("err", err.Error()))
		s.WriteError(w, http.StatusInternalServerError, ErrServerError, "")
		return
	}

	s.log.InfoContext(ctx, "token.grant.client_credentials.ok")
	s.writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   pair.ExpiresIn,
		Scope:       scope,
	}, true)
}

func (s *Server) handleRefreshTokenGrant(ctx context.Context, w http.ResponseWriter, clientID string, params map[string]string) {
	refreshToken := params["refresh_token"]
	if refreshToken == "" {
		s.WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "refresh_token is required.")
		return
	}

	rec, err := s.store.LookupRefreshToken(ctx, refreshToken)
	if err != nil {
		s.log.ErrorContext(ctx, "store.refresh.lookup.fail", slog.String("err", err.Error()))
		s.WriteError(w, http.StatusInternalServerError, ErrServerError, "")
		return
	}
	if rec == nil || rec.ClientID != clientID {
		s.WriteError(w, http.StatusBadRequest, ErrInvalidGrant, "Invalid refresh_token.")
		return
	}

	// The redeemed refresh token is left valid until its own expiry:
	// multi-use semantics, no rotation.
	pair, err := s.store.IssueTokenPair(ctx, rec.ClientID, rec.Scope)
	if err != nil {
		s.log.ErrorContext(ctx, "store.token.issue.fail", slog.String("err", err.Error()))
		s.WriteError(w, http.StatusInternalServerError, ErrServerError, "")
		return
	}

	s.log.InfoContext(ctx, "token.grant.refresh.ok")
	s.writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    pair.ExpiresIn,
		RefreshToken: pair.RefreshToken,
		Scope:        rec.Scope,
	}, true)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// HandleMetadata implements GET /.well-known/oauth-authorization-server.
func (s *Server) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := s.Issuer(r)
	s.writeJSON(w, http.StatusOK, wellknown.AuthServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth/authorize",
		TokenEndpoint:                     issuer + "/oauth/token",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "client_credentials", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		CodeChallengeMethodsSupported:     []string{"S256", "plain"},
	}, false)
}

// ValidateBearer checks the Authorization header against the access
// token store. A nil record means missing, malformed, unknown or
// expired credentials.
func (s *Server) ValidateBearer(r *http.Request) (*TokenRecord, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil, nil
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return nil, nil
	}
	return s.store.LookupAccessToken(r.Context(), token)
}

// validateClient compares the presented credentials against the single
// configured client in constant time.
func (s *Server) validateClient(clientID, clientSecret string) bool {
	if clientID == "" || clientSecret == "" {
		return false
	}
	idOK := constantTimeEqual(clientID, s.cfg.ClientID)
	secretOK := constantTimeEqual(clientSecret, s.cfg.ClientSecret)
	return idOK && secretOK
}

func clientCredentials(r *http.Request, params map[string]string) (string, string) {
	if id, secret, ok := parseBasicAuth(r.Header.Get("Authorization")); ok {
		return id, secret
	}
	return params["client_id"], params["client_secret"]
}

func parseBasicAuth(header string) (string, string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "basic") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", "", false
	}
	idx := strings.IndexByte(string(decoded), ':')
	if idx < 0 {
		return "", "", false
	}
	return string(decoded[:idx]), string(decoded[idx+1:]), true
}

// parseTokenRequestBody accepts application/x-www-form-urlencoded or
// application/json bodies and flattens both into string params.
func parseTokenRequestBody(r *http.Request) (map[string]string, error) {
	ctype, err := contenttype.GetMediaType(r)
	if err == nil && ctype.Matches(jsonMediaType) {
		var parsed map[string]any
		if err := json.NewDecoder(r.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("Invalid JSON body.")
		}
		params := make(map[string]string, len(parsed))
		for k, v := range parsed {
			if v == nil {
				continue
			}
			params[k] = fmt.Sprintf("%v", v)
		}
		return params, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("Unable to read request body.")
	}
	params := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params, nil
}
