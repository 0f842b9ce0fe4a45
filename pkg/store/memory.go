package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/netcomhub/dashboard/pkg/core"

	"github.com/jellydator/ttlcache/v3"
)

var (
	// ErrCredentialNotFound is returned when no credential is stored for a provider.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrNilCredential is returned when attempting to save a nil credential.
	ErrNilCredential = errors.New("credential cannot be nil")
	// ErrEmptyProviderID is returned when the provider id string is empty.
	ErrEmptyProviderID = errors.New("provider id cannot be empty")
	// ErrAuthRequestNotFound is returned when a pending authorization request
	// is missing, expired, or already consumed.
	ErrAuthRequestNotFound = errors.New("authorization request not found")
	// ErrNilAuthRequest is returned when attempting to save a nil authorization request.
	ErrNilAuthRequest = errors.New("authorization request cannot be nil")
	// ErrEmptyState is returned when the state token string is empty.
	ErrEmptyState = errors.New("state token cannot be empty")
)

// MemoryStore implements the core.Store interface using an in-memory map for
// credentials and a TTL cache for pending authorization requests. Credentials
// are volatile and cleared on process restart.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*core.Credential

	requests *ttlcache.Cache[string, *core.AuthRequest]

	now func() time.Time
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	requests := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *core.AuthRequest](),
	)
	go requests.Start()

	return &MemoryStore{
		creds:    make(map[string]*core.Credential),
		requests: requests,
		now:      time.Now,
	}
}

// Close stops the TTL cache cleanup goroutine.
func (m *MemoryStore) Close() {
	m.requests.Stop()
}

// GetCredential retrieves the credential for a provider.
// It returns ErrCredentialNotFound if none is stored.
func (m *MemoryStore) GetCredential(ctx context.Context, providerID string) (*core.Credential, error) {
	if providerID == "" {
		return nil, ErrEmptyProviderID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, exists := m.creds[providerID]
	if !exists {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

// PutCredential stores a credential, replacing any prior one for the provider.
// The map entry is swapped under the write lock, so readers see the old value
// or the new one, never a partial write.
func (m *MemoryStore) PutCredential(ctx context.Context, cred *core.Credential) error {
	if cred == nil {
		return ErrNilCredential
	}
	if cred.ProviderID == "" {
		return ErrEmptyProviderID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds[cred.ProviderID] = cred
	return nil
}

// DeleteCredential removes the credential for a provider.
// It returns ErrCredentialNotFound if none was stored.
func (m *MemoryStore) DeleteCredential(ctx context.Context, providerID string) error {
	if providerID == "" {
		return ErrEmptyProviderID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.creds[providerID]; !exists {
		return ErrCredentialNotFound
	}
	delete(m.creds, providerID)
	return nil
}

// SaveAuthRequest stores a pending authorization request until its TTL elapses.
func (m *MemoryStore) SaveAuthRequest(ctx context.Context, req *core.AuthRequest) error {
	if req == nil {
		return ErrNilAuthRequest
	}
	if req.State == "" {
		return ErrEmptyState
	}

	ttl := time.Until(time.Unix(req.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("authorization request is already expired")
	}

	m.requests.Set(req.State, req, ttl)
	return nil
}

// TakeAuthRequest removes and returns the pending request for a state token.
// Each state is consumed at most once; a replayed state returns
// ErrAuthRequestNotFound.
func (m *MemoryStore) TakeAuthRequest(ctx context.Context, state string) (*core.AuthRequest, error) {
	if state == "" {
		return nil, ErrEmptyState
	}

	item, present := m.requests.GetAndDelete(state)
	if !present || item == nil {
		return nil, ErrAuthRequestNotFound
	}

	req := item.Value()
	// The cache evicts lazily, so double-check the deadline on read.
	if req.Stale(m.now()) {
		return nil, ErrAuthRequestNotFound
	}
	return req, nil
}
