package hub

import (
	"context"
	"errors"
	"sync"

	"bloodlink-push/store"
)

// MockConnector implements connectors.Connector for testing
type MockConnector struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Attempts     int
	ShouldFail   bool
	// Errors maps an endpoint to the error returned for it.
	Errors map[string]error
}

type SentMessage struct {
	Endpoint string
	Payload  []byte
}

func NewMockConnector() *MockConnector {
	return &MockConnector{Errors: map[string]error{}}
}

func (m *MockConnector) Send(ctx context.Context, sub store.SubscriptionRecord, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Attempts++
	if m.ShouldFail {
		return errors.New("mock send error")
	}
	if err, ok := m.Errors[sub.Endpoint]; ok {
		return err
	}

	m.SentMessages = append(m.SentMessages, SentMessage{
		Endpoint: sub.Endpoint,
		Payload:  payload,
	})
	return nil
}

func (m *MockConnector) SetError(endpoint string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.Errors, endpoint)
		return
	}
	m.Errors[endpoint] = err
}

func (m *MockConnector) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
