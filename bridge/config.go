package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/mcpgate/mcpgate/oauth"
)

// Config for the HTTP bridge. Defaults can be loaded via envdecode.
type Config struct {
	// Port to listen on. ENV: PORT
	Port int `env:"PORT,default=8080"`

	// BackendCmd is the shell command spawned per /mcp request.
	// ENV: MCP_BACKEND_CMD
	BackendCmd string `env:"MCP_BACKEND_CMD"`
	// BackendCwd is the working directory for the backend process.
	// ENV: MCP_BACKEND_CWD
	BackendCwd string `env:"MCP_BACKEND_CWD"`
	// BackendTimeout bounds one backend invocation end to end.
	// ENV: MCP_BACKEND_TIMEOUT
	BackendTimeout time.Duration `env:"MCP_BACKEND_TIMEOUT,default=30s"`
	// TraceStdio logs the bytes written to and read from the backend.
	// ENV: MCP_TRACE_STDIO
	TraceStdio bool `env:"MCP_TRACE_STDIO,default=false"`

	// RequireAuth gates /mcp behind bearer tokens. ENV: MCP_REQUIRE_AUTH
	RequireAuth bool `env:"MCP_REQUIRE_AUTH,default=true"`

	// OAuthClientID / OAuthClientSecret identify the single registered
	// client. ENV: OAUTH_CLIENT_ID, OAUTH_CLIENT_SECRET
	OAuthClientID     string `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"OAUTH_CLIENT_SECRET"`
	// OAuthRedirectURIs is the comma-separated redirect allow-list.
	// ENV: OAUTH_REDIRECT_URIS
	OAuthRedirectURIs string `env:"OAUTH_REDIRECT_URIS"`
	// AuthAdapter selects "local" or "federated" end-user auth.
	// ENV: OAUTH_AUTH_ADAPTER
	AuthAdapter string `env:"OAUTH_AUTH_ADAPTER,default=local"`

	// Lifetimes, in seconds, applied at issuance.
	CodeTTLSeconds    int `env:"OAUTH_CODE_TTL_SECONDS,default=600"`
	AccessTTLSeconds  int `env:"OAUTH_TOKEN_TTL_SECONDS,default=3600"`
	RefreshTTLSeconds int `env:"OAUTH_REFRESH_TTL_SECONDS,default=86400"`
	PendingTTLSeconds int `env:"ENTRA_STATE_TTL_SECONDS,default=600"`

	// BaseURL fixes the advertised issuer; empty derives it per request.
	// ENV: BASE_URL
	BaseURL string `env:"BASE_URL"`
	// CORSAllowOrigin is echoed into Access-Control-Allow-Origin; empty
	// disables CORS headers entirely. ENV: CORS_ALLOW_ORIGIN
	CORSAllowOrigin string `env:"CORS_ALLOW_ORIGIN,default=*"`
}

// ConfigFromEnv builds a Config using envdecode.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("bridge: config: %w", err)
	}
	return cfg, nil
}

// Validate reports configuration that cannot serve requests.
func (c *Config) Validate() error {
	if c.BackendCmd == "" {
		return fmt.Errorf("bridge: MCP_BACKEND_CMD is required")
	}
	if c.RequireAuth && (c.OAuthClientID == "" || c.OAuthClientSecret == "") {
		return fmt.Errorf("bridge: OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET are required when auth is enabled")
	}
	if c.RequireAuth && len(c.RedirectURIs()) == 0 {
		return fmt.Errorf("bridge: OAUTH_REDIRECT_URIS is required when auth is enabled")
	}
	return nil
}

// Addr is the listen address derived from Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RedirectURIs splits the comma-separated allow-list, dropping empty
// entries.
func (c *Config) RedirectURIs() []string {
	var out []string
	for _, raw := range strings.Split(c.OAuthRedirectURIs, ",") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// TTLs maps the second-granularity settings onto the store's TTLConfig.
func (c *Config) TTLs() oauth.TTLConfig {
	return oauth.TTLConfig{
		Code:    time.Duration(c.CodeTTLSeconds) * time.Second,
		Access:  time.Duration(c.AccessTTLSeconds) * time.Second,
		Refresh: time.Duration(c.RefreshTTLSeconds) * time.Second,
		Pending: time.Duration(c.PendingTTLSeconds) * time.Second,
	}
}
