package client

import (
	"context"
	"errors"
	"sync"

	"bloodlink-push/push"
)

type fakePushManager struct {
	mu          sync.Mutex
	current     *push.Subscription
	deny        bool
	unsubErr    error
	lastOptions SubscribeOptions
	subscribes  int
}

func (p *fakePushManager) GetSubscription(ctx context.Context) (*push.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	sub := *p.current
	return &sub, nil
}

func (p *fakePushManager) Subscribe(ctx context.Context, opts SubscribeOptions) (push.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribes++
	p.lastOptions = opts
	if p.deny {
		return push.Subscription{}, ErrPermissionDenied
	}
	sub := push.Subscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/device-1",
		Keys:     push.Keys{P256dh: "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM", Auth: "tBHItJI5svbpez7KI4CCXg"},
	}
	p.current = &sub
	return sub, nil
}

func (p *fakePushManager) Unsubscribe(ctx context.Context, sub push.Subscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubErr != nil {
		return p.unsubErr
	}
	p.current = nil
	return nil
}

type fakeWorker struct {
	messages []push.Message
}

func (w *fakeWorker) PostMessage(ctx context.Context, msg push.Message) error {
	w.messages = append(w.messages, msg)
	return nil
}

type fakeRegistration struct {
	pm     *fakePushManager
	worker *fakeWorker
}

func (r *fakeRegistration) PushManager() PushManager { return r.pm }

func (r *fakeRegistration) Active() Worker {
	if r.worker == nil {
		return nil
	}
	return r.worker
}

type fakeContainer struct {
	reg    *fakeRegistration
	readys int
}

func (c *fakeContainer) Ready(ctx context.Context) (Registration, error) {
	c.readys++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.reg, nil
}

// fakeBackend keeps records in memory, keyed by endpoint.
type fakeBackend struct {
	mu          sync.Mutex
	records     map[string]string
	calls       int
	registerErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{records: map[string]string{}}
}

func (b *fakeBackend) Register(ctx context.Context, userID string, sub push.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.registerErr != nil {
		return b.registerErr
	}
	b.records[sub.Endpoint] = userID
	return nil
}

func (b *fakeBackend) Unregister(ctx context.Context, userID, endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.records[endpoint] != userID {
		return errors.New("not found")
	}
	delete(b.records, endpoint)
	return nil
}
