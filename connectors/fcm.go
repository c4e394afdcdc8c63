package connectors

import (
	"context"
	"fmt"
	"os"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"bloodlink-push/push"
	"bloodlink-push/store"
)

// FCMSender defines the interface for sending messages to FCM.
// This allows mocking the firebase messaging client.
type FCMSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMConnector sends messages via Google's Firebase Cloud Messaging. The
// record endpoint carries the FCM registration token.
type FCMConnector struct {
	client FCMSender
	logger *zap.SugaredLogger
}

// NewFCMConnector creates a new FCMConnector. An empty credentialsFile falls
// back to GOOGLE_APPLICATION_CREDENTIALS.
func NewFCMConnector(ctx context.Context, credentialsFile string, logger *zap.SugaredLogger) (*FCMConnector, error) {
	var opts []option.ClientOption

	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read FCM credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(data))
	} else {
		logger.Info("initializing FCM with default credentials")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}

	logger.Info("FCM connector initialized")
	return NewFCMConnectorWithSender(client, logger), nil
}

// NewFCMConnectorWithSender wraps an existing sender.
func NewFCMConnectorWithSender(sender FCMSender, logger *zap.SugaredLogger) *FCMConnector {
	return &FCMConnector{client: sender, logger: logger}
}

// Send sends a message via FCM.
func (f *FCMConnector) Send(ctx context.Context, sub store.SubscriptionRecord, payload []byte) error {
	if f.client == nil {
		return fmt.Errorf("FCM client is not initialized")
	}

	notif, err := push.ParseNotification(payload)
	if err != nil {
		return fmt.Errorf("failed to unmarshal notification for FCM: %w", err)
	}

	// The worker reads title/body from notification and url/notificationId from data.
	message := &messaging.Message{
		Token: sub.Endpoint,
		Notification: &messaging.Notification{
			Title: notif.Title,
			Body:  notif.Body,
		},
		Data: map[string]string{
			"url":            notif.URL,
			"notificationId": notif.NotificationID,
		},
	}
	if strings.HasPrefix(notif.URL, "https://") {
		message.Webpush = &messaging.WebpushConfig{
			FCMOptions: &messaging.WebpushFCMOptions{Link: notif.URL},
		}
	}

	response, err := f.client.Send(ctx, message)
	if err != nil {
		return &DeliveryError{Provider: store.ProviderFCM, Kind: classifyFCM(err), Err: err}
	}

	f.logger.Debugw("FCM message sent", "subscription", sub.ID, "response", response)
	return nil
}

func classifyFCM(err error) FailureKind {
	switch {
	case messaging.IsUnregistered(err):
		return Permanent
	case messaging.IsUnavailable(err), messaging.IsInternal(err), messaging.IsQuotaExceeded(err):
		return Retryable
	default:
		return Rejected
	}
}
