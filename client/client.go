// Package client holds the page-side half of push registration: creating and
// removing the browser's push subscription, keeping the backend record in
// sync with it, and relaying runtime config into the service worker.
//
// Browser APIs are reached through the interfaces below; a binding layer maps
// them onto navigator.serviceWorker and PushManager.
package client

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"bloodlink-push/push"
	"bloodlink-push/vapid"
)

// ErrPermissionDenied is returned when the user declines notifications.
var ErrPermissionDenied = errors.New("notification permission denied")

// Capability is the result of push feature detection.
type Capability int

const (
	Unsupported Capability = iota
	Available
)

func (c Capability) String() string {
	if c == Available {
		return "available"
	}
	return "unsupported"
}

// Capabilities describes what the runtime exposes.
type Capabilities struct {
	ServiceWorker bool
	PushManager   bool
}

// Push reports whether push subscriptions can be created at all.
func (c Capabilities) Push() Capability {
	if c.ServiceWorker && c.PushManager {
		return Available
	}
	return Unsupported
}

// SubscribeOptions mirrors PushSubscriptionOptionsInit.
type SubscribeOptions struct {
	UserVisibleOnly      bool
	ApplicationServerKey []byte
}

type PushManager interface {
	// GetSubscription returns nil when the browser holds no subscription.
	GetSubscription(ctx context.Context) (*push.Subscription, error)
	// Subscribe may prompt the user. A refusal wraps ErrPermissionDenied.
	Subscribe(ctx context.Context, opts SubscribeOptions) (push.Subscription, error)
	Unsubscribe(ctx context.Context, sub push.Subscription) error
}

type Worker interface {
	PostMessage(ctx context.Context, msg push.Message) error
}

type Registration interface {
	PushManager() PushManager
	// Active returns nil when no worker is active.
	Active() Worker
}

type ServiceWorkerContainer interface {
	// Ready blocks until a registration has an active worker.
	Ready(ctx context.Context) (Registration, error)
}

// Backend keeps the server-side subscription records.
type Backend interface {
	Register(ctx context.Context, userID string, sub push.Subscription) error
	Unregister(ctx context.Context, userID, endpoint string) error
}

// NetworkError is returned when a backend call fails after the browser side
// already changed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Outcome is the user-visible result of a registration call.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeUnsupported
	OutcomeSubscribed
	OutcomeUnsubscribed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnsupported:
		return "unsupported"
	case OutcomeSubscribed:
		return "subscribed"
	case OutcomeUnsubscribed:
		return "unsubscribed"
	default:
		return "failed"
	}
}

// Client registers this browser for push delivery.
type Client struct {
	caps      Capabilities
	container ServiceWorkerContainer
	backend   Backend
	publicKey string
	logger    *zap.SugaredLogger
}

// New creates a Client. publicKey is the base64url VAPID public key.
func New(caps Capabilities, container ServiceWorkerContainer, backend Backend, publicKey string, logger *zap.SugaredLogger) *Client {
	return &Client{
		caps:      caps,
		container: container,
		backend:   backend,
		publicKey: publicKey,
		logger:    logger,
	}
}

// Subscribe creates a browser push subscription and registers it for userID.
// A backend failure does not undo the browser subscription; Reconcile
// registers it again later. Nothing is retried here.
func (c *Client) Subscribe(ctx context.Context, userID string) (Outcome, error) {
	if c.caps.Push() == Unsupported {
		c.logger.Debug("push is not supported, skipping subscribe")
		return OutcomeUnsupported, nil
	}

	key, err := vapid.DecodeKey(c.publicKey)
	if err != nil {
		return OutcomeFailed, err
	}

	reg, err := c.container.Ready(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("wait for service worker: %w", err)
	}

	sub, err := reg.PushManager().Subscribe(ctx, SubscribeOptions{
		UserVisibleOnly:      true,
		ApplicationServerKey: key,
	})
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			c.logger.Infow("notification permission denied", "user", userID)
		} else {
			c.logger.Errorw("push subscribe failed", "user", userID, "error", err)
		}
		return OutcomeFailed, err
	}

	if err := c.backend.Register(ctx, userID, sub); err != nil {
		c.logger.Errorw("backend registration failed, browser subscription kept", "user", userID, "error", err)
		return OutcomeFailed, &NetworkError{Op: "register", Err: err}
	}

	c.logger.Infow("push subscription registered", "user", userID)
	return OutcomeSubscribed, nil
}

// Unsubscribe removes the browser subscription and then its backend record.
// The backend is only called once the browser side succeeded.
func (c *Client) Unsubscribe(ctx context.Context, userID string) (Outcome, error) {
	if c.caps.Push() == Unsupported {
		return OutcomeUnsupported, nil
	}

	reg, err := c.container.Ready(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("wait for service worker: %w", err)
	}
	pm := reg.PushManager()

	sub, err := pm.GetSubscription(ctx)
	if err != nil {
		c.logger.Errorw("get push subscription failed", "user", userID, "error", err)
		return OutcomeFailed, err
	}
	if sub == nil {
		return OutcomeUnsubscribed, nil
	}

	if err := pm.Unsubscribe(ctx, *sub); err != nil {
		c.logger.Errorw("push unsubscribe failed", "user", userID, "error", err)
		return OutcomeFailed, err
	}

	if err := c.backend.Unregister(ctx, userID, sub.Endpoint); err != nil {
		c.logger.Errorw("backend unregister failed, record left behind", "user", userID, "error", err)
		return OutcomeFailed, &NetworkError{Op: "unregister", Err: err}
	}

	c.logger.Infow("push subscription removed", "user", userID)
	return OutcomeUnsubscribed, nil
}

// Reconcile registers an existing browser subscription with the backend
// again. Run on app load it repairs subscriptions whose registration failed;
// the backend upserts by endpoint so repeated calls are harmless. It never
// prompts the user.
func (c *Client) Reconcile(ctx context.Context, userID string) (Outcome, error) {
	if c.caps.Push() == Unsupported {
		return OutcomeUnsupported, nil
	}

	reg, err := c.container.Ready(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("wait for service worker: %w", err)
	}

	sub, err := reg.PushManager().GetSubscription(ctx)
	if err != nil {
		return OutcomeFailed, err
	}
	if sub == nil {
		return OutcomeUnsubscribed, nil
	}

	if err := c.backend.Register(ctx, userID, *sub); err != nil {
		c.logger.Warnw("reconcile registration failed", "user", userID, "error", err)
		return OutcomeFailed, &NetworkError{Op: "register", Err: err}
	}

	c.logger.Debugw("push subscription reconciled", "user", userID)
	return OutcomeSubscribed, nil
}
