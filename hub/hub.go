package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"bloodlink-push/connectors"
	"bloodlink-push/push"
	"bloodlink-push/store"
)

var (
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidNotification = errors.New("invalid notification")
	ErrNoConnector         = errors.New("no connector for provider")
)

// Options tune delivery and the retry queue.
type Options struct {
	QueueInterval time.Duration
	MaxAttempts   int
	SendTimeout   time.Duration
	QueueBatch    int
}

func (o Options) withDefaults() Options {
	if o.QueueInterval <= 0 {
		o.QueueInterval = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.QueueBatch <= 0 {
		o.QueueBatch = 100
	}
	return o
}

// Result is the outcome of one delivery attempt within a fan-out.
type Result struct {
	SubscriptionID string `json:"subscriptionId"`
	Endpoint       string `json:"endpoint"`
	Provider       string `json:"provider"`
	Err            error  `json:"-"`
	Error          string `json:"error,omitempty"`
	Pruned         bool   `json:"pruned,omitempty"`
	Queued         bool   `json:"queued,omitempty"`
}

// Report summarizes a fan-out. Every record of the user is represented in
// Results, whatever its outcome.
type Report struct {
	NotificationID string   `json:"notificationId"`
	Attempted      int      `json:"attempted"`
	Delivered      int      `json:"delivered"`
	Failed         int      `json:"failed"`
	Pruned         int      `json:"pruned"`
	Queued         int      `json:"queued"`
	Results        []Result `json:"results"`
}

// Hub manages the routing of notifications to the appropriate connectors.
type Hub struct {
	mu         sync.RWMutex
	connectors map[string]connectors.Connector
	store      store.Store
	logger     *zap.SugaredLogger
	metrics    *metrics
	opts       Options
}

// NewHub initializes a new Hub. Metrics are registered with reg when it is
// not nil.
func NewHub(s store.Store, logger *zap.SugaredLogger, reg prometheus.Registerer, opts Options) *Hub {
	return &Hub{
		connectors: map[string]connectors.Connector{},
		store:      s,
		logger:     logger,
		metrics:    newMetrics(reg),
		opts:       opts.withDefaults(),
	}
}

// RegisterConnector adds a connector to the hub.
func (h *Hub) RegisterConnector(name string, c connectors.Connector) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectors[name] = c
}

func (h *Hub) GetConnector(name string) (connectors.Connector, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.connectors[name]
	return c, ok
}

// Subscribe stores a subscription record. An existing endpoint is moved to
// rec.UserID and its keys refreshed.
func (h *Hub) Subscribe(ctx context.Context, rec store.SubscriptionRecord) (store.SubscriptionRecord, error) {
	if rec.UserID == "" {
		return rec, fmt.Errorf("%w: user id is required", ErrInvalidSubscription)
	}
	if rec.Endpoint == "" {
		return rec, fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	switch rec.Provider {
	case store.ProviderWebPush:
		if rec.P256dh == "" || rec.Auth == "" {
			return rec, fmt.Errorf("%w: web push keys are required", ErrInvalidSubscription)
		}
	case store.ProviderFCM, store.ProviderMock:
	default:
		return rec, fmt.Errorf("%w: unknown provider %q", ErrInvalidSubscription, rec.Provider)
	}
	if _, ok := h.GetConnector(rec.Provider); !ok {
		return rec, fmt.Errorf("%w: provider %q is not enabled", ErrInvalidSubscription, rec.Provider)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	stored, err := h.store.SaveSubscription(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("save subscription: %w", err)
	}

	h.logger.Infow("subscription saved", "user", stored.UserID, "provider", stored.Provider)
	return stored, nil
}

// Unsubscribe removes one of the user's records.
func (h *Hub) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if err := h.store.DeleteSubscription(ctx, userID, endpoint); err != nil {
		return err
	}
	h.logger.Infow("subscription removed", "user", userID)
	return nil
}

// UnsubscribeAll removes every record of the user and reports how many.
func (h *Hub) UnsubscribeAll(ctx context.Context, userID string) (int64, error) {
	n, err := h.store.DeleteSubscriptionsByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	h.logger.Infow("subscriptions removed", "user", userID, "count", n)
	return n, nil
}

func (h *Hub) GetSubscriptionsByUser(ctx context.Context, userID string) ([]store.SubscriptionRecord, error) {
	return h.store.GetSubscriptionsByUser(ctx, userID)
}

// SendPushNotification sends a title/body notification to every device of
// the user.
func (h *Hub) SendPushNotification(ctx context.Context, userID, title, body string) (Report, error) {
	return h.Send(ctx, userID, push.Notification{Title: title, Body: body})
}

// Send fans n out to all of the user's records concurrently and waits for
// every attempt to settle. Individual failures never fail the call: records
// the push service reports as gone are pruned, transient failures are queued
// for retry, and all outcomes are returned in the report.
func (h *Hub) Send(ctx context.Context, userID string, n push.Notification) (Report, error) {
	if userID == "" {
		return Report{}, fmt.Errorf("%w: user id is required", ErrInvalidNotification)
	}
	if n.Title == "" {
		return Report{}, fmt.Errorf("%w: title is required", ErrInvalidNotification)
	}
	if n.NotificationID == "" {
		n.NotificationID = uuid.NewString()
	}
	n.UserID = userID

	payload, err := json.Marshal(n)
	if err != nil {
		return Report{}, fmt.Errorf("marshal notification: %w", err)
	}

	records, err := h.store.GetSubscriptionsByUser(ctx, userID)
	if err != nil {
		return Report{}, fmt.Errorf("load subscriptions: %w", err)
	}

	report := Report{NotificationID: n.NotificationID, Results: []Result{}}
	if len(records) == 0 {
		h.logger.Debugw("no subscriptions for user", "user", userID)
		return report, nil
	}

	results := make([]Result, len(records))
	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec store.SubscriptionRecord) {
			defer wg.Done()
			results[i] = h.deliver(ctx, rec, payload)
		}(i, rec)
	}
	wg.Wait()

	report.Results = results
	report.Attempted = len(results)
	for _, r := range results {
		switch {
		case r.Err == nil:
			report.Delivered++
		case r.Pruned:
			report.Pruned++
		case r.Queued:
			report.Queued++
		default:
			report.Failed++
		}
	}

	if report.Delivered > 0 {
		if err := h.store.RecordSent(ctx, report.Delivered); err != nil {
			h.logger.Warnw("failed to record sent count", "error", err)
		}
	}

	h.logger.Infow("notification dispatched",
		"user", userID,
		"notification", n.NotificationID,
		"attempted", report.Attempted,
		"delivered", report.Delivered,
		"pruned", report.Pruned,
		"queued", report.Queued,
		"failed", report.Failed,
	)
	return report, nil
}

func (h *Hub) deliver(ctx context.Context, rec store.SubscriptionRecord, payload []byte) Result {
	res := Result{SubscriptionID: rec.ID, Endpoint: rec.Endpoint, Provider: rec.Provider}

	err := h.send(ctx, rec, payload)
	if err == nil {
		h.metrics.deliveries.WithLabelValues(rec.Provider, "delivered").Inc()
		return res
	}
	res.Err = err
	res.Error = err.Error()

	switch {
	case connectors.IsPermanent(err):
		h.metrics.deliveries.WithLabelValues(rec.Provider, "gone").Inc()
		if derr := h.prune(ctx, rec); derr != nil {
			h.logger.Errorw("failed to prune subscription", "subscription", rec.ID, "error", derr)
		} else {
			res.Pruned = true
		}
	case connectors.IsRetryable(err):
		h.metrics.deliveries.WithLabelValues(rec.Provider, "retry").Inc()
		if _, qerr := h.store.EnqueueDelivery(ctx, rec.ID, payload); qerr != nil {
			h.logger.Errorw("failed to enqueue delivery", "subscription", rec.ID, "error", qerr)
		} else {
			res.Queued = true
		}
	default:
		h.metrics.deliveries.WithLabelValues(rec.Provider, "failed").Inc()
	}

	h.logger.Warnw("delivery failed", "subscription", rec.ID, "provider", rec.Provider, "error", err)
	return res
}

func (h *Hub) send(ctx context.Context, rec store.SubscriptionRecord, payload []byte) error {
	conn, ok := h.GetConnector(rec.Provider)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConnector, rec.Provider)
	}
	ctx, cancel := context.WithTimeout(ctx, h.opts.SendTimeout)
	defer cancel()
	return conn.Send(ctx, rec, payload)
}

func (h *Hub) prune(ctx context.Context, rec store.SubscriptionRecord) error {
	err := h.store.DeleteSubscriptionByEndpoint(ctx, rec.Endpoint)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	h.metrics.pruned.Inc()
	h.logger.Infow("pruned expired subscription", "subscription", rec.ID, "user", rec.UserID)
	return nil
}

// RecordAck stores a delivery acknowledgement synced from a service worker.
// Repeated acks for the same notification and event are ignored.
func (h *Hub) RecordAck(ctx context.Context, ack push.Ack) error {
	if err := ack.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	createdAt := ack.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return h.store.SaveAck(ctx, store.Ack{
		NotificationID: ack.NotificationID,
		UserID:         ack.UserID,
		Event:          ack.Event,
		CreatedAt:      createdAt,
	})
}

// GetQueue lists pending retries.
func (h *Hub) GetQueue(ctx context.Context) ([]store.QueueItem, error) {
	return h.store.GetPendingDeliveries(ctx, 0)
}

// Stats tracking proxies to store
func (h *Hub) GetTotalNotificationsSent(ctx context.Context) int64 {
	count, _ := h.store.GetTotalNotificationsSent(ctx)
	return count
}

func (h *Hub) GetSubscriptionCount(ctx context.Context) int {
	count, _ := h.store.GetSubscriptionCount(ctx)
	return count
}

func (h *Hub) GetPendingCount(ctx context.Context) int {
	items, _ := h.store.GetPendingDeliveries(ctx, 0)
	return len(items)
}

func (h *Hub) GetAckCount(ctx context.Context, event string) int64 {
	count, _ := h.store.GetAckCount(ctx, event)
	return count
}
