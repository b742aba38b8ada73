package port

import (
	"context"
	"time"

	"github.com/genpire/rfq-service/internal/core/domain"
)

// DatabaseRepository is the remote data gateway for RFQs, quotes and billing.
type DatabaseRepository interface {
	// ListRFQs returns every RFQ filed by the creator with its supplier quotes
	ListRFQs(ctx context.Context, creatorID string) ([]domain.RFQ, error)

	// UpdateQuoteStatus sets the status of the (rfq, supplier) quote, returns false if no row matched
	UpdateQuoteStatus(ctx context.Context, rfqID, supplierID string, status domain.QuoteStatus) (bool, error)

	// UpdateRFQStatus sets the top-level RFQ status, returns false if no row matched
	UpdateRFQStatus(ctx context.Context, rfqID string, status domain.RFQStatus) (bool, error)

	// GetBilling retrieves the billing record of a user, nil if absent
	GetBilling(ctx context.Context, userID string) (*domain.BillingRecord, error)

	// SaveSubscription stores a freshly created subscription on the user's billing record
	SaveSubscription(ctx context.Context, record domain.BillingRecord) error

	// CancelSubscription flags the subscription canceled with its expiry
	CancelSubscription(ctx context.Context, userID, subscriptionID string, expiresAt time.Time) (bool, error)
}
