package worker

import (
	"context"
	"errors"
	"fmt"

	"bloodlink-push/push"
)

// Event is one of the worker events below.
type Event interface {
	eventName() string
}

type MessageEvent struct{ Message push.Message }

type PushEvent struct{ Data []byte }

type BackgroundMessageEvent struct{ Message FirebaseMessage }

type ClickEvent struct{ Notification DisplayedNotification }

type SyncEvent struct{ Tag string }

func (MessageEvent) eventName() string           { return "message" }
func (PushEvent) eventName() string              { return "push" }
func (BackgroundMessageEvent) eventName() string { return "background-message" }
func (ClickEvent) eventName() string             { return "notificationclick" }
func (SyncEvent) eventName() string              { return "sync" }

// Dispatch routes an event to its handler and waits for it to finish.
// Errors and panics are logged and never returned.
func (h *Handler) Dispatch(ctx context.Context, ev Event) {
	name := "unknown"
	if ev != nil {
		name = ev.eventName()
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorw("worker event handler panicked", "event", name, "panic", fmt.Sprint(r))
		}
	}()

	var err error
	switch e := ev.(type) {
	case MessageEvent:
		err = h.HandleMessage(ctx, e.Message)
	case PushEvent:
		err = h.HandlePush(ctx, e.Data)
	case BackgroundMessageEvent:
		err = h.HandleBackgroundMessage(ctx, e.Message)
	case ClickEvent:
		err = h.HandleNotificationClick(ctx, e.Notification)
	case SyncEvent:
		err = h.HandleSync(ctx, e.Tag)
	default:
		err = fmt.Errorf("unknown event %T", ev)
	}

	var parseErr *ParseError
	switch {
	case err == nil:
	case errors.Is(err, ErrConfigNotReady):
		h.logger.Debugw("background message buffered until config arrives")
	case errors.As(err, &parseErr):
		h.logger.Warnw("dropping malformed push payload", "error", err)
	default:
		h.logger.Errorw("worker event failed", "event", name, "error", err)
	}
}
