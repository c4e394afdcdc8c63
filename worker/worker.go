// Package worker is the service-worker side of push delivery: it renders
// incoming pushes as notifications, routes clicks to a window, and flushes
// delivery acknowledgements to the backend during background sync.
//
// Every entry point is safe to call concurrently. Dispatch never lets an
// error or panic escape, since a failing event handler can end the worker's
// processing of that event.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloodlink-push/push"
)

// SyncTag is the background sync tag that flushes pending acknowledgements.
const SyncTag = "sync-notifications"

// DefaultURL is opened when a clicked notification carries no url.
const DefaultURL = "/"

// DefaultAckTTL bounds how long an unsynced acknowledgement is kept when no
// cache is supplied.
const DefaultAckTTL = 7 * 24 * time.Hour

// ErrConfigNotReady is returned for background messages buffered before the
// Firebase config arrived.
var ErrConfigNotReady = errors.New("firebase config not received yet")

var errMissingTitle = errors.New("notification title is missing")

// ParseError is returned for push payloads that are not valid JSON.
type ParseError struct {
	Data []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid push payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NotificationData is stored on a displayed notification.
type NotificationData struct {
	URL            string `json:"url,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

type NotificationOptions struct {
	Title string
	Body  string
	Icon  string
	Badge string
	Data  NotificationData
}

// Notifier maps onto registration.showNotification.
type Notifier interface {
	ShowNotification(ctx context.Context, opts NotificationOptions) error
}

type WindowClient interface {
	URL() string
	Focus(ctx context.Context) error
}

// Clients maps onto the worker's clients object.
type Clients interface {
	MatchAll(ctx context.Context) ([]WindowClient, error)
	OpenWindow(ctx context.Context, url string) error
}

// Syncer posts acknowledgements to the backend.
type Syncer interface {
	SyncAck(ctx context.Context, ack push.Ack) error
}

// FirebaseMessage is the Firebase {notification, data} payload.
type FirebaseMessage struct {
	Notification *struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification,omitempty"`
	Data map[string]string `json:"data,omitempty"`
}

// DisplayedNotification is the notification attached to a click event.
type DisplayedNotification interface {
	Data() NotificationData
	Close()
}

type Options struct {
	// Origin resolves relative notification urls, e.g. https://bloodlink.example.
	Origin string
	Icon   string
	Badge  string
	// BufferSize bounds background messages held until config arrives.
	BufferSize int
}

// Handler processes worker events.
type Handler struct {
	notifier Notifier
	clients  Clients
	cache    PendingCache
	syncer   Syncer
	logger   *zap.SugaredLogger
	opts     Options

	mu      sync.Mutex
	config  *push.FirebaseConfig
	pending []FirebaseMessage
}

func NewHandler(notifier Notifier, clients Clients, cache PendingCache, syncer Syncer, logger *zap.SugaredLogger, opts Options) *Handler {
	if cache == nil {
		cache = NewMemoryCache(DefaultAckTTL)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 32
	}
	if opts.Icon == "" {
		opts.Icon = "/icons/icon-192x192.png"
	}
	if opts.Badge == "" {
		opts.Badge = "/icons/badge-72x72.png"
	}
	return &Handler{
		notifier: notifier,
		clients:  clients,
		cache:    cache,
		syncer:   syncer,
		logger:   logger,
		opts:     opts,
	}
}

// Config returns the relayed Firebase config, if any has arrived.
func (h *Handler) Config() (push.FirebaseConfig, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.config == nil {
		return push.FirebaseConfig{}, false
	}
	return *h.config, true
}

// HandleMessage stores a relayed Firebase config. The first valid config
// opens the gate and displays background messages buffered until then, in
// arrival order. Later configs replace it.
func (h *Handler) HandleMessage(ctx context.Context, msg push.Message) error {
	if msg.Type != push.ConfigMessageType {
		h.logger.Debugw("ignoring worker message", "type", msg.Type)
		return nil
	}
	if msg.Config == nil {
		return fmt.Errorf("config message without config")
	}
	if err := msg.Config.Validate(); err != nil {
		return fmt.Errorf("invalid firebase config: %w", err)
	}

	cfg := *msg.Config
	h.mu.Lock()
	h.config = &cfg
	buffered := h.pending
	h.pending = nil
	h.mu.Unlock()

	h.logger.Infow("firebase config received", "project", cfg.ProjectID, "buffered", len(buffered))

	var errs []error
	for _, m := range buffered {
		if err := h.showFirebase(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandlePush renders a raw Web Push payload. Invalid JSON or a payload
// without a title displays nothing and returns a *ParseError.
func (h *Handler) HandlePush(ctx context.Context, data []byte) error {
	n, err := push.ParseNotification(data)
	if err != nil {
		return &ParseError{Data: data, Err: err}
	}
	if n.Title == "" {
		return &ParseError{Data: data, Err: errMissingTitle}
	}
	return h.show(ctx, n.Title, n.Body, NotificationData{
		URL:            n.URL,
		NotificationID: n.NotificationID,
		UserID:         n.UserID,
	})
}

// HandleBackgroundMessage renders a Firebase message. Until the config has
// arrived the message is buffered and ErrConfigNotReady returned; when the
// buffer is full the oldest message is dropped.
func (h *Handler) HandleBackgroundMessage(ctx context.Context, msg FirebaseMessage) error {
	h.mu.Lock()
	if h.config == nil {
		if len(h.pending) >= h.opts.BufferSize {
			h.logger.Warnw("background message buffer full, dropping oldest", "size", len(h.pending))
			h.pending = h.pending[1:]
		}
		h.pending = append(h.pending, msg)
		h.mu.Unlock()
		return ErrConfigNotReady
	}
	h.mu.Unlock()

	return h.showFirebase(ctx, msg)
}

func (h *Handler) showFirebase(ctx context.Context, msg FirebaseMessage) error {
	var title, body string
	if msg.Notification != nil {
		title, body = msg.Notification.Title, msg.Notification.Body
	}
	if title == "" {
		title = msg.Data["title"]
	}
	if body == "" {
		body = msg.Data["body"]
	}
	return h.show(ctx, title, body, NotificationData{
		URL:            msg.Data["url"],
		NotificationID: msg.Data["notificationId"],
		UserID:         msg.Data["userId"],
	})
}

func (h *Handler) show(ctx context.Context, title, body string, data NotificationData) error {
	err := h.notifier.ShowNotification(ctx, NotificationOptions{
		Title: title,
		Body:  body,
		Icon:  h.opts.Icon,
		Badge: h.opts.Badge,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	h.recordAck(ctx, data, push.AckDelivered)
	return nil
}

// recordAck caches an acknowledgement for the next background sync.
func (h *Handler) recordAck(ctx context.Context, data NotificationData, event string) {
	if data.NotificationID == "" {
		return
	}
	ack := push.Ack{
		ID:             uuid.NewString(),
		NotificationID: data.NotificationID,
		UserID:         data.UserID,
		Event:          event,
		Timestamp:      time.Now().UTC(),
	}
	if err := h.cache.Put(ctx, ack); err != nil {
		h.logger.Warnw("failed to cache acknowledgement", "notification", data.NotificationID, "error", err)
	}
}

// HandleNotificationClick closes the notification and brings a window at the
// target url to the front, opening one if none exists. It returns only once
// the window work is done.
func (h *Handler) HandleNotificationClick(ctx context.Context, n DisplayedNotification) error {
	n.Close()
	data := n.Data()
	target := h.resolve(data.URL)

	windows, err := h.clients.MatchAll(ctx)
	if err != nil {
		return fmt.Errorf("match clients: %w", err)
	}

	focused := false
	for _, w := range windows {
		if h.resolve(w.URL()) == target {
			if err := w.Focus(ctx); err != nil {
				return fmt.Errorf("focus client: %w", err)
			}
			focused = true
			break
		}
	}
	if !focused {
		if err := h.clients.OpenWindow(ctx, target); err != nil {
			return fmt.Errorf("open window: %w", err)
		}
	}

	h.recordAck(ctx, data, push.AckClicked)
	return nil
}

// resolve turns a notification url into an absolute one on the app origin.
func (h *Handler) resolve(raw string) string {
	if raw == "" {
		raw = DefaultURL
	}
	if h.opts.Origin == "" {
		return raw
	}
	base, err := url.Parse(h.opts.Origin)
	if err != nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

// HandleSync flushes cached acknowledgements for SyncTag. Each entry is posted
// on its own and removed only after a successful post; failed entries stay
// cached for the next sync.
func (h *Handler) HandleSync(ctx context.Context, tag string) error {
	if tag != SyncTag {
		h.logger.Debugw("ignoring sync tag", "tag", tag)
		return nil
	}

	if h.syncer == nil {
		return fmt.Errorf("no syncer configured")
	}

	acks, err := h.cache.List(ctx)
	if err != nil {
		return fmt.Errorf("list pending acknowledgements: %w", err)
	}

	var errs []error
	synced := 0
	for _, ack := range acks {
		if err := h.syncer.SyncAck(ctx, ack); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", ack.ID, err))
			continue
		}
		if err := h.cache.Remove(ctx, ack.ID); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", ack.ID, err))
			continue
		}
		synced++
	}

	h.logger.Debugw("background sync finished", "synced", synced, "failed", len(errs))
	return errors.Join(errs...)
}
