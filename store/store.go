package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Providers a subscription can be delivered through.
const (
	ProviderWebPush = "webpush"
	ProviderFCM     = "fcm"
	ProviderMock    = "mock"
)

// Queue statuses.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusDropped   = "dropped"
)

// SubscriptionRecord is one device a user registered for push delivery.
// For FCM records Endpoint holds the registration token and the keys are empty.
type SubscriptionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Provider  string    `json:"provider"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh,omitempty"`
	Auth      string    `json:"auth,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type QueueItem struct {
	ID             int64     `json:"id"`
	SubscriptionID string    `json:"subscriptionId"`
	UserID         string    `json:"userId"`
	Provider       string    `json:"provider"`
	Endpoint       string    `json:"endpoint"`
	P256dh         string    `json:"-"`
	Auth           string    `json:"-"`
	Payload        []byte    `json:"payload"` // JSON push.Notification
	Attempts       int       `json:"attempts"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Record returns the subscription the item is addressed to.
func (q QueueItem) Record() SubscriptionRecord {
	return SubscriptionRecord{
		ID:       q.SubscriptionID,
		UserID:   q.UserID,
		Provider: q.Provider,
		Endpoint: q.Endpoint,
		P256dh:   q.P256dh,
		Auth:     q.Auth,
	}
}

// Ack is a synced delivery acknowledgement.
type Ack struct {
	NotificationID string    `json:"notificationId"`
	UserID         string    `json:"userId"`
	Event          string    `json:"event"`
	CreatedAt      time.Time `json:"createdAt"`
}

type User struct {
	Username     string
	PasswordHash string
	Role         string
}

type Store interface {
	// Subscriptions
	// SaveSubscription upserts by endpoint and returns the stored record.
	SaveSubscription(ctx context.Context, rec SubscriptionRecord) (SubscriptionRecord, error)
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error
	DeleteSubscriptionsByUser(ctx context.Context, userID string) (int64, error)
	GetSubscriptionsByUser(ctx context.Context, userID string) ([]SubscriptionRecord, error)
	GetSubscriptionCount(ctx context.Context) (int, error)

	// Retry queue
	EnqueueDelivery(ctx context.Context, subscriptionID string, payload []byte) (int64, error)
	GetPendingDeliveries(ctx context.Context, limit int) ([]QueueItem, error)
	UpdateDelivery(ctx context.Context, queueID int64, status string) error

	// Acknowledgements
	SaveAck(ctx context.Context, ack Ack) error
	GetAckCount(ctx context.Context, event string) (int64, error)

	// Users
	CreateUser(ctx context.Context, username, passwordHash, role string) error
	GetUser(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, username string) error
	HasAdminUser(ctx context.Context) (bool, error)
	UpdateUserRole(ctx context.Context, username, role string) error

	// Stats
	RecordSent(ctx context.Context, n int) error
	GetTotalNotificationsSent(ctx context.Context) (int64, error)

	Close() error
}
