package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/netcomhub/dashboard/pkg/core"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultFileTTL is how long a stored credential record stays readable.
// Records older than the TTL are treated as absent even if the underlying
// token might still be valid.
const DefaultFileTTL = 24 * time.Hour

// credentialRecord is the on-disk layout for one provider's credential.
type credentialRecord struct {
	Credential *core.Credential `json:"credential"`
	StoredAt   time.Time        `json:"stored_at"`
}

// FileStore implements the core.Store interface with one JSON file per
// provider credential. Credentials survive process restarts up to the
// declared TTL; pending authorization requests are kept in memory only, since
// a browser redirect never outlives the process that issued it.
type FileStore struct {
	mu  sync.Mutex
	dir string
	ttl time.Duration

	requests *ttlcache.Cache[string, *core.AuthRequest]

	now func() time.Time
}

// FileOptions contains configuration for the file-backed store.
type FileOptions struct {
	// Dir is the directory holding credential files.
	Dir string
	// TTL is the defensive expiry for stored records. Zero means DefaultFileTTL.
	TTL time.Duration
}

// NewFileStore creates a file-backed store rooted at opts.Dir.
func NewFileStore(opts FileOptions) (*FileStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("file store directory cannot be empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultFileTTL
	}

	requests := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *core.AuthRequest](),
	)
	go requests.Start()

	return &FileStore{
		dir:      opts.Dir,
		ttl:      ttl,
		requests: requests,
		now:      time.Now,
	}, nil
}

// Close stops the TTL cache cleanup goroutine.
func (f *FileStore) Close() {
	f.requests.Stop()
}

func (f *FileStore) credentialPath(providerID string) string {
	return filepath.Join(f.dir, providerID+"_credential.json")
}

// GetCredential reads the credential file for a provider. A record older than
// the store TTL is deleted and reported as absent.
func (f *FileStore) GetCredential(ctx context.Context, providerID string) (*core.Credential, error) {
	if providerID == "" {
		return nil, ErrEmptyProviderID
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.credentialPath(providerID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var record credentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential record: %w", err)
	}
	if record.Credential == nil {
		return nil, ErrCredentialNotFound
	}

	if f.now().Sub(record.StoredAt) > f.ttl {
		_ = os.Remove(path)
		return nil, ErrCredentialNotFound
	}
	return record.Credential, nil
}

// PutCredential writes the credential record to a temp file and renames it
// into place, so readers observe either the old record or the new one.
func (f *FileStore) PutCredential(ctx context.Context, cred *core.Credential) error {
	if cred == nil {
		return ErrNilCredential
	}
	if cred.ProviderID == "" {
		return ErrEmptyProviderID
	}

	record := credentialRecord{
		Credential: cred,
		StoredAt:   f.now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal credential record: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, cred.ProviderID+"_credential_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close credential file: %w", err)
	}
	if err := os.Rename(tmpName, f.credentialPath(cred.ProviderID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

// DeleteCredential removes the credential file for a provider.
// It returns ErrCredentialNotFound if no file exists.
func (f *FileStore) DeleteCredential(ctx context.Context, providerID string) error {
	if providerID == "" {
		return ErrEmptyProviderID
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.credentialPath(providerID))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("failed to delete credential file: %w", err)
	}
	return nil
}

// SaveAuthRequest stores a pending authorization request until its TTL elapses.
func (f *FileStore) SaveAuthRequest(ctx context.Context, req *core.AuthRequest) error {
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

	f.requests.Set(req.State, req, ttl)
	return nil
}

// TakeAuthRequest removes and returns the pending request for a state token.
func (f *FileStore) TakeAuthRequest(ctx context.Context, state string) (*core.AuthRequest, error) {
	if state == "" {
		return nil, ErrEmptyState
	}

	item, present := f.requests.GetAndDelete(state)
	if !present || item == nil {
		return nil, ErrAuthRequestNotFound
	}

	req := item.Value()
	if req.Stale(f.now()) {
		return nil, ErrAuthRequestNotFound
	}
	return req, nil
}
