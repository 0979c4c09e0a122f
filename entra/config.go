package entra

import (
	"fmt"
	"strings"
)

// Config identifies the Entra ID app registration used for federated
// sign-in. Populate via envdecode or directly.
type Config struct {
	// TenantID is the directory (tenant) ID. ENV: ENTRA_TENANT_ID
	TenantID string `env:"ENTRA_TENANT_ID"`
	// ClientID is the application (client) ID. ENV: ENTRA_CLIENT_ID
	ClientID string `env:"ENTRA_CLIENT_ID"`
	// ClientSecret authenticates the code exchange. ENV: ENTRA_CLIENT_SECRET
	ClientSecret string `env:"ENTRA_CLIENT_SECRET"`
	// RedirectURI is this server's callback URL, as registered with
	// Entra. ENV: ENTRA_REDIRECT_URI
	RedirectURI string `env:"ENTRA_REDIRECT_URI"`
	// Scopes requested upstream, space separated. ENV: ENTRA_SCOPES
	Scopes string `env:"ENTRA_SCOPES,default=openid profile email"`
	// AuthorityHost allows pointing at sovereign clouds.
	// ENV: ENTRA_AUTHORITY_HOST
	AuthorityHost string `env:"ENTRA_AUTHORITY_HOST,default=https://login.microsoftonline.com"`
}

func (c *Config) validate() error {
	missing := []string{}
	if c.TenantID == "" {
		missing = append(missing, "tenant ID")
	}
	if c.ClientID == "" {
		missing = append(missing, "client ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "redirect URI")
	}
	if len(missing) > 0 {
		return fmt.Errorf("entra: config incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) authority() string {
	host := strings.TrimRight(c.AuthorityHost, "/")
	if host == "" {
		host = "https://login.microsoftonline.com"
	}
	return host + "/" + c.TenantID
}

// Endpoint derivation follows the v2.0 endpoint layout documented for
// the Microsoft identity platform.
func (c *Config) authorizeEndpoint() string { return c.authority() + "/oauth2/v2.0/authorize" }
func (c *Config) tokenEndpoint() string     { return c.authority() + "/oauth2/v2.0/token" }
func (c *Config) issuer() string            { return c.authority() + "/v2.0" }
func (c *Config) jwksURI() string           { return c.authority() + "/discovery/v2.0/keys" }
