package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/genpire/rfq-service/internal/adapter/storage"
	"github.com/genpire/rfq-service/internal/core/domain"
	"github.com/genpire/rfq-service/internal/core/service"
	"github.com/genpire/rfq-service/internal/port"
)

var errBackendDown = errors.New("backend down")

// fakeDB is an in-memory gateway and notification sink.
type fakeDB struct {
	mu            sync.Mutex
	rfqs          []domain.RFQ
	listErr       error
	updateErr     error
	notifyErr     error
	notifications []domain.Notification
	billing       map[string]*domain.BillingRecord
}

func newFakeDB() *fakeDB {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return &fakeDB{
		rfqs: []domain.RFQ{
			{
				ID: "rfq-1", Title: "Bamboo tote", Status: domain.RFQStatusOpen, CreatorID: "creator-1",
				Quantity: 500, CreatedAt: created,
				Suppliers: []domain.SupplierQuote{
					{RFQID: "rfq-1", SupplierID: "sup-1", Status: domain.QuoteStatusResponded,
						Supplier: domain.SupplierProfile{ID: "sup-1", UserID: "user-sup-1", CompanyName: "Acme"}},
				},
			},
			{
				ID: "rfq-2", Title: "Linen shirt", Status: domain.RFQStatusDraft, CreatorID: "creator-1",
				Quantity: 100, CreatedAt: created.Add(time.Hour),
				Suppliers: []domain.SupplierQuote{
					{RFQID: "rfq-2", SupplierID: "sup-1", Status: domain.QuoteStatusPending,
						Supplier: domain.SupplierProfile{ID: "sup-1", UserID: "user-sup-1", CompanyName: "Acme"}},
				},
			},
		},
		billing: make(map[string]*domain.BillingRecord),
	}
}

func (f *fakeDB) ListRFQs(ctx context.Context, creatorID string) ([]domain.RFQ, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.RFQ
	for _, r := range f.rfqs {
		if r.CreatorID == creatorID {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateQuoteStatus(ctx context.Context, rfqID, supplierID string, status domain.QuoteStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return false, f.updateErr
	}
	for i := range f.rfqs {
		if f.rfqs[i].ID != rfqID {
			continue
		}
		if qi, ok := f.rfqs[i].Supplier(supplierID); ok {
			f.rfqs[i].Suppliers[qi].Status = status
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDB) UpdateRFQStatus(ctx context.Context, rfqID string, status domain.RFQStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return false, f.updateErr
	}
	for i := range f.rfqs {
		if f.rfqs[i].ID == rfqID {
			f.rfqs[i].Status = status
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDB) GetBilling(ctx context.Context, userID string) (*domain.BillingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.billing[userID]; ok {
		copied := *b
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeDB) SaveSubscription(ctx context.Context, record domain.BillingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.billing[record.UserID] = &record
	return nil
}

func (f *fakeDB) CancelSubscription(ctx context.Context, userID, subscriptionID string, expiresAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.billing[userID]
	if !ok || b.SubscriptionID != subscriptionID {
		return false, nil
	}
	b.SubscriptionStatusCanceled = true
	b.SubscriptionExpiresAt = &expiresAt
	return true, nil
}

func (f *fakeDB) SendNotification(ctx context.Context, n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeDB) quoteStatus(rfqID, supplierID string) domain.QuoteStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rfqs {
		if r.ID == rfqID {
			if qi, ok := r.Supplier(supplierID); ok {
				return r.Suppliers[qi].Status
			}
		}
	}
	return ""
}

type fakeProvider struct {
	configured bool
	err        error
}

func (p *fakeProvider) Configured() bool { return p.configured }

func (p *fakeProvider) CreateOrder(ctx context.Context, req port.OrderRequest) (port.CheckoutOrder, error) {
	if p.err != nil {
		return port.CheckoutOrder{}, p.err
	}
	return port.CheckoutOrder{ID: "ORDER-1", ApproveURL: "https://paypal.test/approve"}, nil
}

func (p *fakeProvider) CreateSubscription(ctx context.Context, planID, customID string) (port.Subscription, error) {
	if p.err != nil {
		return port.Subscription{}, p.err
	}
	return port.Subscription{ID: "I-SUB1", ApproveURL: "https://paypal.test/sub"}, nil
}

func (p *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	return p.err
}

type testEnv struct {
	db       *fakeDB
	cache    *storage.MemoryCache
	provider *fakeProvider
	rfqs     *service.RFQService
	sessions *service.SessionRegistry
	payments *service.PaymentService
	auth     *Authenticator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		db:       newFakeDB(),
		cache:    storage.NewMemoryCache(),
		provider: &fakeProvider{configured: true},
		auth:     NewAuthenticator("test-secret"),
	}
	env.rfqs = service.NewRFQService(env.db, env.cache, env.db)
	env.sessions = service.NewSessionRegistry(env.rfqs, time.Hour, 10)
	env.payments = service.NewPaymentService(env.provider, env.db, env.db)
	t.Cleanup(env.sessions.Close)
	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.auth.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}
