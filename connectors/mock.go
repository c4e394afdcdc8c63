package connectors

import (
	"context"

	"go.uber.org/zap"

	"bloodlink-push/store"
)

// MockConnector is a connector that simply logs the message.
type MockConnector struct {
	logger *zap.SugaredLogger
}

// NewMockConnector creates a new MockConnector.
func NewMockConnector(logger *zap.SugaredLogger) *MockConnector {
	return &MockConnector{logger: logger}
}

// Send logs the message payload.
func (m *MockConnector) Send(ctx context.Context, sub store.SubscriptionRecord, payload []byte) error {
	m.logger.Infow("mock delivery", "user", sub.UserID, "endpoint", sub.Endpoint, "payload", string(payload))
	return nil
}
