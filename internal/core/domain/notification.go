package domain

import "time"

type NotificationType string

const (
	NotificationTypeRFQ     NotificationType = "rfq"
	NotificationTypeQuote   NotificationType = "quote"
	NotificationTypeBilling NotificationType = "billing"
)

type Notification struct {
	ID         string
	SenderID   string
	ReceiverID string
	Title      string
	Message    string
	Type       NotificationType
	IsRead     bool
	CreatedAt  time.Time
}
