package oauth

import (
	"context"
	"time"
)

// AuthorizationRequest is the normalized context of one authorization
// attempt, carried from /authorize through the adapter to code issuance.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	ClientState         string
	CodeChallenge       string
	CodeChallengeMethod string
}

// CodeRecord is a stored authorization code. Codes are single-use:
// the token endpoint deletes them on successful exchange.
type CodeRecord struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
}

// TokenRecord is a stored access token.
type TokenRecord struct {
	ClientID  string
	Scope     string
	ExpiresAt time.Time
}

// RefreshRecord is a stored refresh token. AccessToken records the
// access token minted alongside it; redemption does not invalidate
// either (multi-use refresh semantics).
type RefreshRecord struct {
	ClientID    string
	Scope       string
	ExpiresAt   time.Time
	AccessToken string
}

// PendingAuthRequest is the saved state of a federated authorization
// round-trip, keyed by an opaque state value that is distinct from any
// client-supplied state.
type PendingAuthRequest struct {
	AuthorizationRequest
	ExpiresAt    time.Time
	Nonce        string
	CodeVerifier string
}

// TokenPair is the result of a successful grant.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
}

// TTLConfig sets the lifetimes applied by a TokenStore at issuance.
type TTLConfig struct {
	Code    time.Duration
	Access  time.Duration
	Refresh time.Duration
	Pending time.Duration
}

// DefaultTTLs mirrors the documented defaults: 600s codes, 3600s access
// tokens, 86400s refresh tokens, 600s pending federated state.
func DefaultTTLs() TTLConfig {
	return TTLConfig{
		Code:    10 * time.Minute,
		Access:  time.Hour,
		Refresh: 24 * time.Hour,
		Pending: 10 * time.Minute,
	}
}

func (c *TTLConfig) normalize() {
	d := DefaultTTLs()
	if c.Code <= 0 {
		c.Code = d.Code
	}
	if c.Access <= 0 {
		c.Access = d.Access
	}
	if c.Refresh <= 0 {
		c.Refresh = d.Refresh
	}
	if c.Pending <= 0 {
		c.Pending = d.Pending
	}
}

// TokenStore owns all authorization state. Lookups never return an
// expired record: an expired record found during lookup is deleted and
// a nil record returned. A nil record with a nil error is a miss;
// errors are reserved for storage failures.
type TokenStore interface {
	IssueCode(ctx context.Context, req AuthorizationRequest) (string, error)
	IssueTokenPair(ctx context.Context, clientID, scope string) (*TokenPair, error)

	LookupCode(ctx context.Context, code string) (*CodeRecord, error)
	DeleteCode(ctx context.Context, code string) error

	LookupAccessToken(ctx context.Context, token string) (*TokenRecord, error)
	LookupRefreshToken(ctx context.Context, token string) (*RefreshRecord, error)

	PutPending(ctx context.Context, state string, req *PendingAuthRequest) error
	LookupPending(ctx context.Context, state string) (*PendingAuthRequest, error)
	DeletePending(ctx context.Context, state string) error

	// PurgeExpired sweeps every map. Callers invoke it defensively on
	// inbound requests to bound memory growth without a background task.
	PurgeExpired(ctx context.Context) error
}
