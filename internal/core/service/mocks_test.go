package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/genpire/rfq-service/internal/core/domain"
	"github.com/genpire/rfq-service/internal/port"
)

// Mock CacheRepository
type mockCacheRepo struct {
	mu             sync.Mutex
	entries        map[string][]byte
	idempotencySet map[string]bool
	sets           int
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		entries:        make(map[string][]byte),
		idempotencySet: make(map[string]bool),
	}
}

func (m *mockCacheRepo) GetRFQs(ctx context.Context, creatorID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[creatorID]
	if !ok {
		return nil, port.ErrCacheMiss
	}
	return append([]byte(nil), data...), nil
}

func (m *mockCacheRepo) SetRFQs(ctx context.Context, creatorID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.entries[creatorID] = append([]byte(nil), data...)
	return nil
}

func (m *mockCacheRepo) RestoreRFQs(ctx context.Context, creatorID string, optimistic, snapshot []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !bytes.Equal(m.entries[creatorID], optimistic) {
		return false, nil
	}
	m.entries[creatorID] = append([]byte(nil), snapshot...)
	return true, nil
}

func (m *mockCacheRepo) DeleteRFQs(ctx context.Context, creatorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, creatorID)
	return nil
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	return nil
}

func (m *mockCacheRepo) raw(creatorID string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.entries[creatorID]...)
}

type quoteUpdate struct {
	RFQID      string
	SupplierID string
	Status     domain.QuoteStatus
}

// Mock DatabaseRepository
type mockDatabaseRepo struct {
	mu           sync.Mutex
	rfqs         map[string][]domain.RFQ
	billing      map[string]*domain.BillingRecord
	listCalls    int
	quoteUpdates []quoteUpdate
	rfqUpdates   []domain.RFQStatus
	updateErr    error
	noRows       bool
	// onUpdate runs inside UpdateQuoteStatus/UpdateRFQStatus before it returns.
	onUpdate func()
	// listGate, when set, blocks ListRFQs until closed.
	listGate chan struct{}
}

func newMockDatabaseRepo(rfqs ...domain.RFQ) *mockDatabaseRepo {
	m := &mockDatabaseRepo{
		rfqs:    make(map[string][]domain.RFQ),
		billing: make(map[string]*domain.BillingRecord),
	}
	for _, r := range rfqs {
		m.rfqs[r.CreatorID] = append(m.rfqs[r.CreatorID], r)
	}
	return m
}

func (m *mockDatabaseRepo) ListRFQs(ctx context.Context, creatorID string) ([]domain.RFQ, error) {
	if m.listGate != nil {
		<-m.listGate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return domain.CloneRFQs(m.rfqs[creatorID]), nil
}

func (m *mockDatabaseRepo) UpdateQuoteStatus(ctx context.Context, rfqID, supplierID string, status domain.QuoteStatus) (bool, error) {
	if m.onUpdate != nil {
		m.onUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteUpdates = append(m.quoteUpdates, quoteUpdate{rfqID, supplierID, status})
	if m.updateErr != nil {
		return false, m.updateErr
	}
	if m.noRows {
		return false, nil
	}
	for creator, list := range m.rfqs {
		for i := range list {
			if list[i].ID != rfqID {
				continue
			}
			for j := range list[i].Suppliers {
				if list[i].Suppliers[j].SupplierID == supplierID {
					m.rfqs[creator][i].Suppliers[j].Status = status
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func (m *mockDatabaseRepo) UpdateRFQStatus(ctx context.Context, rfqID string, status domain.RFQStatus) (bool, error) {
	if m.onUpdate != nil {
		m.onUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rfqUpdates = append(m.rfqUpdates, status)
	if m.updateErr != nil {
		return false, m.updateErr
	}
	for creator, list := range m.rfqs {
		for i := range list {
			if list[i].ID == rfqID {
				m.rfqs[creator][i].Status = status
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *mockDatabaseRepo) GetBilling(ctx context.Context, userID string) (*domain.BillingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.billing[userID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *mockDatabaseRepo) SaveSubscription(ctx context.Context, record domain.BillingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := record
	m.billing[record.UserID] = &cp
	return nil
}

func (m *mockDatabaseRepo) CancelSubscription(ctx context.Context, userID, subscriptionID string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.billing[userID]
	if !ok || b.SubscriptionID != subscriptionID {
		return false, nil
	}
	b.SubscriptionStatusCanceled = true
	b.SubscriptionExpiresAt = &expiresAt
	return true, nil
}

// Mock Notifier
type mockNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (m *mockNotifier) SendNotification(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

var errGatewayDown = errors.New("gateway down")

func sampleRFQ() domain.RFQ {
	return domain.RFQ{
		ID:          "rfq-1",
		Title:       "Organic cotton hoodie",
		Status:      domain.RFQStatusOpen,
		CreatorID:   "creator-1",
		ProductIdea: "heavyweight hoodie",
		Quantity:    500,
		TargetPrice: 18.5,
		CreatedAt:   time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		Suppliers: []domain.SupplierQuote{
			{
				RFQID:       "rfq-1",
				SupplierID:  "sup-1",
				Status:      domain.QuoteStatusResponded,
				SamplePrice: 45,
				LeadTime:    "30 days",
				MOQ:         300,
				Supplier:    domain.SupplierProfile{ID: "sup-1", UserID: "user-sup-1", CompanyName: "Mill One"},
			},
			{
				RFQID:      "rfq-1",
				SupplierID: "sup-2",
				Status:     domain.QuoteStatusPending,
				Supplier:   domain.SupplierProfile{ID: "sup-2", UserID: "user-sup-2", CompanyName: "Mill Two"},
			},
		},
	}
}
