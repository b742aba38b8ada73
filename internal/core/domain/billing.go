package domain

import "time"

type BillingRecord struct {
	UserID                     string
	SubscriptionID             string
	PlanID                     string
	SubscriptionStatusCanceled bool
	SubscriptionCreatedAt      time.Time
	SubscriptionExpiresAt      *time.Time
	UpdatedAt                  time.Time
}

// ExpiresAt is when a canceled subscription stops: the first day of the
// month after now, at the subscription's original time of day. time.Date
// normalizes December+1 into January of the next year.
func ExpiresAt(createdAt, now time.Time) time.Time {
	createdAt = createdAt.UTC()
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1,
		createdAt.Hour(), createdAt.Minute(), createdAt.Second(), 0, time.UTC)
}
