package storage

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/genpire/rfq-service/internal/port"
)

// MemoryCache keeps RFQ lists in-process (single instance only).
type MemoryCache struct {
	mu          sync.Mutex
	rfqs        map[string][]byte
	idempotency map[string]time.Time
	now         func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		rfqs:        make(map[string][]byte),
		idempotency: make(map[string]time.Time),
		now:         time.Now,
	}
}

func (m *MemoryCache) GetRFQs(ctx context.Context, creatorID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.rfqs[creatorID]
	if !ok {
		return nil, port.ErrCacheMiss
	}
	return bytes.Clone(data), nil
}

func (m *MemoryCache) SetRFQs(ctx context.Context, creatorID string, data []byte) error {
	m.mu.Lock()
	m.rfqs[creatorID] = bytes.Clone(data)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) RestoreRFQs(ctx context.Context, creatorID string, optimistic, snapshot []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.rfqs[creatorID]; !ok || !bytes.Equal(current, optimistic) {
		return false, nil
	}
	m.rfqs[creatorID] = bytes.Clone(snapshot)
	return true, nil
}

func (m *MemoryCache) DeleteRFQs(ctx context.Context, creatorID string) error {
	m.mu.Lock()
	delete(m.rfqs, creatorID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if expiry, ok := m.idempotency[key]; ok && now.Before(expiry) {
		return false, nil
	}
	m.idempotency[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}

func (m *MemoryCache) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotency, key)
	return nil
}
