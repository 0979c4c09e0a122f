package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/mcpgate/mcpgate/oauth"
)

// Config for the Redis-backed token store. Defaults can be loaded via
// envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: OAUTH_KEY_PREFIX
	KeyPrefix string `env:"OAUTH_KEY_PREFIX,default=mcpgate:oauth:"`
}

var _ oauth.TokenStore = (*Store)(nil)

// Store implements oauth.TokenStore on a Redis client.
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       oauth.TTLConfig
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config, ttl oauth.TTLConfig) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcpgate:oauth:"
	}
	d := oauth.DefaultTTLs()
	if ttl.Code <= 0 {
		ttl.Code = d.Code
	}
	if ttl.Access <= 0 {
		ttl.Access = d.Access
	}
	if ttl.Refresh <= 0 {
		ttl.Refresh = d.Refresh
	}
	if ttl.Pending <= 0 {
		ttl.Pending = d.Pending
	}
	return &Store{client: cl, keyPrefix: prefix, ttl: ttl}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ttl oauth.TTLConfig) (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg, ttl)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) codeKey(code string) string     { return s.keyPrefix + "code:" + code }
func (s *Store) accessKey(token string) string  { return s.keyPrefix + "access:" + token }
func (s *Store) refreshKey(token string) string { return s.keyPrefix + "refresh:" + token }
func (s *Store) pendingKey(state string) string { return s.keyPrefix + "pending:" + state }

func (s *Store) putJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, raw, ttl).Err()
}

// getJSON loads key into out. Returns false on a miss.
func (s *Store) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) IssueCode(ctx context.Context, req oauth.AuthorizationRequest) (string, error) {
	code := oauth.RandomToken(oauth.CodeBytes)
	rec := oauth.CodeRecord{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           time.Now().Add(s.ttl.Code),
	}
	if err := s.putJSON(ctx, s.codeKey(code), &rec, s.ttl.Code); err != nil {
		return "", err
	}
	return code, nil
}

func (s *Store) IssueTokenPair(ctx context.Context, clientID, scope string) (*oauth.TokenPair, error) {
	accessToken := oauth.RandomToken(oauth.TokenBytes)
	refreshToken := oauth.RandomToken(oauth.TokenBytes)
	now := time.Now()

	access := oauth.TokenRecord{
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: now.Add(s.ttl.Access),
	}
	if err := s.putJSON(ctx, s.accessKey(accessToken), &access, s.ttl.Access); err != nil {
		return nil, err
	}
	refresh := oauth.RefreshRecord{
		ClientID:    clientID,
		Scope:       scope,
		ExpiresAt:   now.Add(s.ttl.Refresh),
		AccessToken: accessToken,
	}
	if err := s.putJSON(ctx, s.refreshKey(refreshToken), &refresh, s.ttl.Refresh); err != nil {
		return nil, err
	}
	return &oauth.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.ttl.Access / time.Second),
	}, nil
}

func (s *Store) LookupCode(ctx context.Context, code string) (*oauth.CodeRecord, error) {
	var rec oauth.CodeRecord
	ok, err := s.getJSON(ctx, s.codeKey(code), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) DeleteCode(ctx context.Context, code string) error {
	return s.client.Del(ctx, s.codeKey(code)).Err()
}

func (s *Store) LookupAccessToken(ctx context.Context, token string) (*oauth.TokenRecord, error) {
	var rec oauth.TokenRecord
	ok, err := s.getJSON(ctx, s.accessKey(token), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) LookupRefreshToken(ctx context.Context, token string) (*oauth.RefreshRecord, error) {
	var rec oauth.RefreshRecord
	ok, err := s.getJSON(ctx, s.refreshKey(token), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) PutPending(ctx context.Context, state string, req *oauth.PendingAuthRequest) error {
	cp := *req
	if cp.ExpiresAt.IsZero() {
		cp.ExpiresAt = time.Now().Add(s.ttl.Pending)
	}
	ttl := time.Until(cp.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.putJSON(ctx, s.pendingKey(state), &cp, ttl)
}

func (s *Store) LookupPending(ctx context.Context, state string) (*oauth.PendingAuthRequest, error) {
	var rec oauth.PendingAuthRequest
	ok, err := s.getJSON(ctx, s.pendingKey(state), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) DeletePending(ctx context.Context, state string) error {
	return s.client.Del(ctx, s.pendingKey(state)).Err()
}

// PurgeExpired is a no-op: Redis evicts each key at its own TTL.
func (s *Store) PurgeExpired(ctx context.Context) error { return nil }
