// Package push holds the wire types shared by the page context, the service
// worker and the backend: subscriptions, notification payloads, the Firebase
// runtime config relayed into the worker, and delivery acknowledgements.
package push

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Keys are the client encryption keys of a push subscription.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription mirrors the browser's PushSubscription.toJSON() shape.
type Subscription struct {
	Endpoint       string `json:"endpoint"`
	ExpirationTime *int64 `json:"expirationTime,omitempty"`
	Keys           Keys   `json:"keys"`
}

// Validate checks that the subscription can be used for Web Push delivery.
func (s Subscription) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("subscription endpoint is required")
	}
	if !strings.HasPrefix(s.Endpoint, "https://") && !strings.HasPrefix(s.Endpoint, "http://") {
		return fmt.Errorf("subscription endpoint must be an http(s) URL")
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return fmt.Errorf("subscription keys are required")
	}
	return nil
}

// Notification is the payload handed to a push transport and rendered by the
// service worker as an OS notification.
type Notification struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	URL            string `json:"url,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

// ParseNotification decodes a raw push payload.
func ParseNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// ConfigMessageType tags the page-to-worker config message.
const ConfigMessageType = "FIREBASE_CONFIG"

// FirebaseConfig is the Firebase web configuration. The worker cannot read
// page environment variables, so the page relays it at runtime.
type FirebaseConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
}

// Validate reports the first missing field.
func (c FirebaseConfig) Validate() error {
	fields := []struct {
		name, value string
	}{
		{"apiKey", c.APIKey},
		{"authDomain", c.AuthDomain},
		{"projectId", c.ProjectID},
		{"storageBucket", c.StorageBucket},
		{"messagingSenderId", c.MessagingSenderID},
		{"appId", c.AppID},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("firebase config: %s is missing", f.name)
		}
	}
	return nil
}

// Message is posted from the page to the active service worker.
type Message struct {
	Type   string          `json:"type"`
	Config *FirebaseConfig `json:"config,omitempty"`
}

// NewConfigMessage wraps cfg in a FIREBASE_CONFIG message.
func NewConfigMessage(cfg FirebaseConfig) Message {
	return Message{Type: ConfigMessageType, Config: &cfg}
}

// Ack events recorded by the worker.
const (
	AckDelivered = "delivered"
	AckClicked   = "clicked"
)

// Ack is a not-yet-synced acknowledgement of a displayed or clicked
// notification.
type Ack struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notificationId"`
	UserID         string    `json:"userId,omitempty"`
	Event          string    `json:"event"`
	Timestamp      time.Time `json:"timestamp"`
}

// Validate checks the fields the backend requires.
func (a Ack) Validate() error {
	if a.NotificationID == "" {
		return fmt.Errorf("ack notificationId is required")
	}
	switch a.Event {
	case AckDelivered, AckClicked:
	default:
		return fmt.Errorf("ack event %q is not supported", a.Event)
	}
	return nil
}
