package hub

import (
	"context"
	"errors"
	"sort"
	"sync"

	"bloodlink-push/store"
)

// MockStore is an in-memory implementation of store.Store for testing
type MockStore struct {
	mu            sync.Mutex
	Subscriptions map[string]store.SubscriptionRecord // Key: Endpoint
	Users         map[string]store.User
	Queue         []store.QueueItem
	QueueSeq      int64
	Acks          map[store.Ack]bool
	Sent          int64

	// Error simulation
	FailAll bool
}

var errMock = errors.New("mock error")

func NewMockStore() *MockStore {
	return &MockStore{
		Subscriptions: make(map[string]store.SubscriptionRecord),
		Users:         make(map[string]store.User),
		Acks:          make(map[store.Ack]bool),
	}
}

func (m *MockStore) SaveSubscription(ctx context.Context, rec store.SubscriptionRecord) (store.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return store.SubscriptionRecord{}, errMock
	}
	if existing, ok := m.Subscriptions[rec.Endpoint]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if existing.UserID != rec.UserID {
			m.dropLocked(existing.ID)
		}
	}
	m.Subscriptions[rec.Endpoint] = rec
	return rec, nil
}

func (m *MockStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return errMock
	}
	rec, ok := m.Subscriptions[endpoint]
	if !ok || rec.UserID != userID {
		return store.ErrNotFound
	}
	m.dropLocked(rec.ID)
	delete(m.Subscriptions, endpoint)
	return nil
}

func (m *MockStore) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return errMock
	}
	if rec, ok := m.Subscriptions[endpoint]; ok {
		m.dropLocked(rec.ID)
		delete(m.Subscriptions, endpoint)
	}
	return nil
}

func (m *MockStore) DeleteSubscriptionsByUser(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return 0, errMock
	}
	var n int64
	for endpoint, rec := range m.Subscriptions {
		if rec.UserID == userID {
			m.dropLocked(rec.ID)
			delete(m.Subscriptions, endpoint)
			n++
		}
	}
	return n, nil
}

func (m *MockStore) dropLocked(subscriptionID string) {
	for i := range m.Queue {
		if m.Queue[i].SubscriptionID == subscriptionID && m.Queue[i].Status == store.StatusPending {
			m.Queue[i].Status = store.StatusDropped
		}
	}
}

func (m *MockStore) GetSubscriptionsByUser(ctx context.Context, userID string) ([]store.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return nil, errMock
	}
	var recs []store.SubscriptionRecord
	for _, rec := range m.Subscriptions {
		if rec.UserID == userID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Endpoint < recs[j].Endpoint })
	return recs, nil
}

func (m *MockStore) GetSubscriptionCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return 0, errMock
	}
	return len(m.Subscriptions), nil
}

func (m *MockStore) EnqueueDelivery(ctx context.Context, subscriptionID string, payload []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return 0, errMock
	}
	m.QueueSeq++
	m.Queue = append(m.Queue, store.QueueItem{
		ID:             m.QueueSeq,
		SubscriptionID: subscriptionID,
		Payload:        payload,
		Attempts:       1,
		Status:         store.StatusPending,
	})
	return m.QueueSeq, nil
}

func (m *MockStore) GetPendingDeliveries(ctx context.Context, limit int) ([]store.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return nil, errMock
	}
	var items []store.QueueItem
	for _, item := range m.Queue {
		if item.Status != store.StatusPending {
			continue
		}
		for _, rec := range m.Subscriptions {
			if rec.ID == item.SubscriptionID {
				item.UserID = rec.UserID
				item.Provider = rec.Provider
				item.Endpoint = rec.Endpoint
				item.P256dh = rec.P256dh
				item.Auth = rec.Auth
				items = append(items, item)
				break
			}
		}
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}

func (m *MockStore) UpdateDelivery(ctx context.Context, queueID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return errMock
	}
	for i := range m.Queue {
		if m.Queue[i].ID == queueID {
			m.Queue[i].Status = status
			m.Queue[i].Attempts++
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *MockStore) QueueItem(id int64) store.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.Queue {
		if item.ID == id {
			return item
		}
	}
	return store.QueueItem{}
}

func (m *MockStore) SaveAck(ctx context.Context, ack store.Ack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return errMock
	}
	key := store.Ack{NotificationID: ack.NotificationID, UserID: ack.UserID, Event: ack.Event}
	m.Acks[key] = true
	return nil
}

func (m *MockStore) GetAckCount(ctx context.Context, event string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return 0, errMock
	}
	var n int64
	for ack := range m.Acks {
		if event == "" || ack.Event == event {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) CreateUser(ctx context.Context, username, passwordHash, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return errMock
	}
	m.Users[username] = store.User{Username: username, PasswordHash: passwordHash, Role: role}
	return nil
}

func (m *MockStore) GetUser(ctx context.Context, username string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return nil, errMock
	}
	u, ok := m.Users[username]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MockStore) ListUsers(ctx context.Context) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return nil, errMock
	}
	var users []store.User
	for _, u := range m.Users {
		users = append(users, u)
	}
	return users, nil
}

func (m *MockStore) DeleteUser(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return errMock
	}
	if _, ok := m.Users[username]; !ok {
		return store.ErrNotFound
	}
	delete(m.Users, username)
	return nil
}

func (m *MockStore) HasAdminUser(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Role == "admin" {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) UpdateUserRole(ctx context.Context, username, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Role = role
	m.Users[username] = u
	return nil
}

func (m *MockStore) RecordSent(ctx context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return errMock
	}
	m.Sent += int64(n)
	return nil
}

func (m *MockStore) GetTotalNotificationsSent(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return 0, errMock
	}
	return m.Sent, nil
}

func (m *MockStore) Close() error { return nil }
