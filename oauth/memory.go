package oauth

import (
	"context"
	"sync"
	"time"
)

var _ TokenStore = (*MemoryStore)(nil)

// MemoryStore is the default TokenStore: plain maps guarded by a mutex.
// The single-writer discipline keeps the expiry-check-then-delete
// sequences atomic under concurrent HTTP requests.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     TTLConfig
	now     func() time.Time
	codes   map[string]*CodeRecord
	access  map[string]*TokenRecord
	refresh map[string]*RefreshRecord
	pending map[string]*PendingAuthRequest
}

// NewMemoryStore builds a MemoryStore with the given TTLs. Zero TTL
// fields fall back to the defaults.
func NewMemoryStore(ttl TTLConfig) *MemoryStore {
	ttl.normalize()
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		codes:   make(map[string]*CodeRecord),
		access:  make(map[string]*TokenRecord),
		refresh: make(map[string]*RefreshRecord),
		pending: make(map[string]*PendingAuthRequest),
	}
}

func (s *MemoryStore) IssueCode(ctx context.Context, req AuthorizationRequest) (string, error) {
	code := RandomToken(CodeBytes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = &CodeRecord{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           s.now().Add(s.ttl.Code),
	}
	return code, nil
}

func (s *MemoryStore) IssueTokenPair(ctx context.Context, clientID, scope string) (*TokenPair, error) {
	accessToken := RandomToken(TokenBytes)
	refreshToken := RandomToken(TokenBytes)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.access[accessToken] = &TokenRecord{
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: now.Add(s.ttl.Access),
	}
	s.refresh[refreshToken] = &RefreshRecord{
		ClientID:    clientID,
		Scope:       scope,
		ExpiresAt:   now.Add(s.ttl.Refresh),
		AccessToken: accessToken,
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.ttl.Access / time.Second),
	}, nil
}

func (s *MemoryStore) LookupCode(ctx context.Context, code string) (*CodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[code]
	if !ok {
		return nil, nil
	}
	if !rec.ExpiresAt.After(s.now()) {
		delete(s.codes, code)
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) DeleteCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}

func (s *MemoryStore) LookupAccessToken(ctx context.Context, token string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.access[token]
	if !ok {
		return nil, nil
	}
	if !rec.ExpiresAt.After(s.now()) {
		delete(s.access, token)
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) LookupRefreshToken(ctx context.Context, token string) (*RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[token]
	if !ok {
		return nil, nil
	}
	if !rec.ExpiresAt.After(s.now()) {
		delete(s.refresh, token)
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) PutPending(ctx context.Context, state string, req *PendingAuthRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	if cp.ExpiresAt.IsZero() {
		cp.ExpiresAt = s.now().Add(s.ttl.Pending)
	}
	s.pending[state] = &cp
	return nil
}

func (s *MemoryStore) LookupPending(ctx context.Context, state string) (*PendingAuthRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[state]
	if !ok {
		return nil, nil
	}
	if !rec.ExpiresAt.After(s.now()) {
		delete(s.pending, state)
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) DeletePending(ctx context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, state)
	return nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, rec := range s.codes {
		if !rec.ExpiresAt.After(now) {
			delete(s.codes, k)
		}
	}
	for k, rec := range s.access {
		if !rec.ExpiresAt.After(now) {
			delete(s.access, k)
		}
	}
	for k, rec := range s.refresh {
		if !rec.ExpiresAt.After(now) {
			delete(s.refresh, k)
		}
	}
	for k, rec := range s.pending {
		if !rec.ExpiresAt.After(now) {
			delete(s.pending, k)
		}
	}
	return nil
}

// PendingTTL reports the configured federated-state lifetime.
func (s *MemoryStore) PendingTTL() time.Duration {
	return s.ttl.Pending
}
