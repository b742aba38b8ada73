package port

import (
	"context"

	"github.com/genpire/rfq-service/internal/core/domain"
)

type Notifier interface {
	// SendNotification records a notification for the receiver; only the error is meaningful
	SendNotification(ctx context.Context, n domain.Notification) error
}
