package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/genpire/rfq-service/internal/core/domain"
	"github.com/genpire/rfq-service/internal/logging"
	"github.com/genpire/rfq-service/internal/port"
)

var (
	ErrServerConfig          = errors.New("Server configuration error")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrSubscriptionCancelled = errors.New("subscription already canceled")
)

type PaymentService struct {
	provider port.PaymentProvider
	db       port.DatabaseRepository
	notifier port.Notifier
	now      func() time.Time
}

func NewPaymentService(provider port.PaymentProvider, db port.DatabaseRepository, notifier port.Notifier) *PaymentService {
	return &PaymentService{
		provider: provider,
		db:       db,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *PaymentService) CreateOrder(ctx context.Context, userID, amount, currency, description string) (port.CheckoutOrder, error) {
	if !s.provider.Configured() {
		return port.CheckoutOrder{}, ErrServerConfig
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
	if err != nil || value <= 0 {
		return port.CheckoutOrder{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if currency == "" {
		currency = "USD"
	}

	return s.provider.CreateOrder(ctx, port.OrderRequest{
		Amount:      strconv.FormatFloat(value, 'f', 2, 64),
		Currency:    strings.ToUpper(currency),
		Description: description,
		CustomID:    userID,
	})
}

func (s *PaymentService) CreateSubscription(ctx context.Context, userID, planID string) (port.Subscription, error) {
	if !s.provider.Configured() {
		return port.Subscription{}, ErrServerConfig
	}

	sub, err := s.provider.CreateSubscription(ctx, planID, userID)
	if err != nil {
		return port.Subscription{}, err
	}

	now := s.now().UTC()
	err = s.db.SaveSubscription(ctx, domain.BillingRecord{
		UserID:                userID,
		SubscriptionID:        sub.ID,
		PlanID:                planID,
		SubscriptionCreatedAt: now,
		UpdatedAt:             now,
	})
	if err != nil {
		logging.FromContext(ctx).Error("CRITICAL subscription created but not recorded",
			"user_id", userID, "subscription_id", sub.ID, "error", err)
		return port.Subscription{}, fmt.Errorf("save subscription: %w", err)
	}
	return sub, nil
}

// CancelSubscription cancels at the provider, then marks the billing record
// canceled. Access lasts until the start of next month.
func (s *PaymentService) CancelSubscription(ctx context.Context, userID, subscriptionID, reason string) (time.Time, error) {
	if !s.provider.Configured() {
		return time.Time{}, ErrServerConfig
	}

	billing, err := s.db.GetBilling(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("get billing: %w", err)
	}
	if billing == nil || billing.SubscriptionID == "" {
		return time.Time{}, ErrSubscriptionNotFound
	}
	if subscriptionID != "" && billing.SubscriptionID != subscriptionID {
		return time.Time{}, ErrSubscriptionNotFound
	}
	if billing.SubscriptionStatusCanceled {
		return time.Time{}, ErrSubscriptionCancelled
	}
	if reason == "" {
		reason = "Canceled by user"
	}

	if err := s.provider.CancelSubscription(ctx, billing.SubscriptionID, reason); err != nil {
		return time.Time{}, err
	}

	expiresAt := domain.ExpiresAt(billing.SubscriptionCreatedAt, s.now())
	ok, err := s.db.CancelSubscription(ctx, userID, billing.SubscriptionID, expiresAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("update billing: %w", err)
	}
	if !ok {
		return time.Time{}, ErrSubscriptionNotFound
	}

	err = s.notifier.SendNotification(ctx, domain.Notification{
		SenderID:   userID,
		ReceiverID: userID,
		Title:      "Subscription canceled",
		Message:    fmt.Sprintf("Your subscription remains active until %s.", expiresAt.Format("January 2, 2006")),
		Type:       domain.NotificationTypeBilling,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("cancel notification failed", "user_id", userID, "error", err)
	}
	return expiresAt, nil
}
