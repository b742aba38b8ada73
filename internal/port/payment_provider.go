package port

import "context"

type CheckoutOrder struct {
	ID         string
	ApproveURL string
}

type Subscription struct {
	ID         string
	ApproveURL string
}

type OrderRequest struct {
	Amount      string
	Currency    string
	Description string
	CustomID    string
}

// PaymentProvider fetches a client-credentials token before every call.
type PaymentProvider interface {
	// Configured reports whether credentials and base URL are present
	Configured() bool

	CreateOrder(ctx context.Context, req OrderRequest) (CheckoutOrder, error)
	CreateSubscription(ctx context.Context, planID, customID string) (Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID, reason string) error
}
