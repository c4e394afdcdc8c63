package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"bloodlink-push/store"
)

// Connector defines the interface that all push providers must implement.
// It allows the Hub to route deliveries without knowing the transport details.
type Connector interface {
	// Send delivers an encoded push.Notification to one subscription record.
	Send(ctx context.Context, sub store.SubscriptionRecord, payload []byte) error
}

// FailureKind classifies a failed delivery.
type FailureKind int

const (
	// Rejected means the provider refused this message; retrying will not help.
	Rejected FailureKind = iota
	// Permanent means the subscription itself is gone and should be pruned.
	Permanent
	// Retryable means a later attempt may succeed.
	Retryable
)

func (k FailureKind) String() string {
	switch k {
	case Permanent:
		return "permanent"
	case Retryable:
		return "retryable"
	default:
		return "rejected"
	}
}

// DeliveryError is returned by connectors when a provider did not accept a
// message. StatusCode is zero for transport errors.
type DeliveryError struct {
	Provider   string
	StatusCode int
	Kind       FailureKind
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery failed (%s, status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s delivery failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err means the subscription no longer exists.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Kind == Permanent
}

// IsRetryable reports whether a later attempt of the same delivery may succeed.
func IsRetryable(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Kind == Retryable
}

// classifyStatus maps a push service response code to a failure kind.
func classifyStatus(code int) FailureKind {
	switch {
	case code == http.StatusNotFound, code == http.StatusGone:
		return Permanent
	case code == http.StatusTooManyRequests, code >= 500:
		return Retryable
	default:
		return Rejected
	}
}
