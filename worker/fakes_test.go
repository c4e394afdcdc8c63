package worker

import (
	"context"
	"errors"
	"sync"

	"bloodlink-push/push"
)

type fakeNotifier struct {
	mu    sync.Mutex
	shown []NotificationOptions
	err   error
}

func (n *fakeNotifier) ShowNotification(ctx context.Context, opts NotificationOptions) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.shown = append(n.shown, opts)
	return nil
}

func (n *fakeNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var titles []string
	for _, s := range n.shown {
		titles = append(titles, s.Title)
	}
	return titles
}

type fakeWindow struct {
	url     string
	focused bool
}

func (w *fakeWindow) URL() string { return w.url }

func (w *fakeWindow) Focus(ctx context.Context) error {
	w.focused = true
	return nil
}

type fakeClients struct {
	windows []*fakeWindow
	opened  []string
}

func (c *fakeClients) MatchAll(ctx context.Context) ([]WindowClient, error) {
	out := make([]WindowClient, 0, len(c.windows))
	for _, w := range c.windows {
		out = append(out, w)
	}
	return out, nil
}

func (c *fakeClients) OpenWindow(ctx context.Context, url string) error {
	c.opened = append(c.opened, url)
	return nil
}

type fakeNotification struct {
	data   NotificationData
	closed bool
}

func (n *fakeNotification) Data() NotificationData { return n.data }
func (n *fakeNotification) Close()                 { n.closed = true }

// fakeSyncer fails acks whose notification id is in fail.
type fakeSyncer struct {
	mu     sync.Mutex
	synced []push.Ack
	fail   map[string]bool
}

func (s *fakeSyncer) SyncAck(ctx context.Context, ack push.Ack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[ack.NotificationID] {
		return errors.New("backend unavailable")
	}
	s.synced = append(s.synced, ack)
	return nil
}
