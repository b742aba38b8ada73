package port

import (
	"context"
	"errors"
)

var ErrCacheMiss = errors.New("cache miss")

type CacheRepository interface {
	// GetRFQs returns the cached, canonically encoded RFQ list of a creator, ErrCacheMiss if absent
	GetRFQs(ctx context.Context, creatorID string) ([]byte, error)

	// SetRFQs replaces the cached RFQ list of a creator
	SetRFQs(ctx context.Context, creatorID string, data []byte) error

	// RestoreRFQs writes a snapshot back only if the cache still holds the optimistic value
	RestoreRFQs(ctx context.Context, creatorID string, optimistic, snapshot []byte) (bool, error)

	// DeleteRFQs drops a creator's cached list
	DeleteRFQs(ctx context.Context, creatorID string) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency drops a claimed key so the request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}
