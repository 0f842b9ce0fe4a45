package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/netcomhub/dashboard/pkg/core"

	"github.com/redis/rueidis"
)

const (
	// Key prefixes for Redis storage
	credentialPrefix  = "credential:"
	authRequestPrefix = "auth_request:"
)

// RedisStore implements the core.Store interface using Redis via rueidis.
// Credentials survive process restarts; pending authorization requests expire
// through native Redis TTLs.
type RedisStore struct {
	client rueidis.Client
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	clientOpts := rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}
	return NewRedisStoreFromClientOption(clientOpts)
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// GetCredential retrieves the credential for a provider.
// It returns ErrCredentialNotFound if none is stored.
func (r *RedisStore) GetCredential(ctx context.Context, providerID string) (*core.Credential, error) {
	if providerID == "" {
		return nil, ErrEmptyProviderID
	}

	key := credentialPrefix + providerID
	cmd := r.client.B().Get().Key(key).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential from redis: %w", err)
	}

	var cred core.Credential
	if err := json.Unmarshal([]byte(result), &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

// PutCredential stores a credential, replacing any prior one for the provider.
// The SET is a single command, so the replacement is atomic.
func (r *RedisStore) PutCredential(ctx context.Context, cred *core.Credential) error {
	if cred == nil {
		return ErrNilCredential
	}
	if cred.ProviderID == "" {
		return ErrEmptyProviderID
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	key := credentialPrefix + cred.ProviderID
	cmd := r.client.B().Set().Key(key).Value(string(data)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save credential to redis: %w", err)
	}
	return nil
}

// DeleteCredential removes the credential for a provider.
// It returns ErrCredentialNotFound if none was stored.
func (r *RedisStore) DeleteCredential(ctx context.Context, providerID string) error {
	if providerID == "" {
		return ErrEmptyProviderID
	}

	key := credentialPrefix + providerID
	cmd := r.client.B().Del().Key(key).Build()
	result, err := r.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete credential from redis: %w", err)
	}
	if result == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// SaveAuthRequest stores a pending authorization request in Redis with TTL.
func (r *RedisStore) SaveAuthRequest(ctx context.Context, req *core.AuthRequest) error {
	if req == nil {
		return ErrNilAuthRequest
	}
	if req.State == "" {
		return ErrEmptyState
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization request: %w", err)
	}

	ttl := time.Until(time.Unix(req.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("authorization request is already expired")
	}

	key := authRequestPrefix + req.State
	cmd := r.client.B().Set().Key(key).Value(string(data)).ExSeconds(int64(ttl.Seconds())).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save authorization request to redis: %w", err)
	}
	return nil
}

// TakeAuthRequest removes and returns the pending request for a state token.
// GETDEL makes the consume atomic, so a replayed state observes
// ErrAuthRequestNotFound even under concurrent callbacks.
func (r *RedisStore) TakeAuthRequest(ctx context.Context, state string) (*core.AuthRequest, error) {
	if state == "" {
		return nil, ErrEmptyState
	}

	key := authRequestPrefix + state
	cmd := r.client.B().Getdel().Key(key).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrAuthRequestNotFound
		}
		return nil, fmt.Errorf("failed to take authorization request from redis: %w", err)
	}

	var req core.AuthRequest
	if err := json.Unmarshal([]byte(result), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization request: %w", err)
	}

	// Redis TTL should have evicted stale entries, but being explicit
	if req.Stale(time.Now()) {
		return nil, ErrAuthRequestNotFound
	}
	return &req, nil
}
