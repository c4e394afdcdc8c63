package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"bloodlink-push/store"
	"bloodlink-push/vapid"
)

// WebPushConnector delivers encrypted payloads straight to the browser push
// service named by the subscription endpoint, signed with the VAPID keys.
type WebPushConnector struct {
	keys    vapid.Keys
	ttl     int
	urgency webpush.Urgency
	client  webpush.HTTPClient
	logger  *zap.SugaredLogger
}

// NewWebPushConnector creates a WebPushConnector. ttl is in seconds.
func NewWebPushConnector(keys vapid.Keys, ttl int, logger *zap.SugaredLogger) *WebPushConnector {
	return &WebPushConnector{
		keys:    keys,
		ttl:     ttl,
		urgency: webpush.UrgencyHigh,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// WithHTTPClient replaces the client used to reach push services.
func (c *WebPushConnector) WithHTTPClient(client webpush.HTTPClient) *WebPushConnector {
	c.client = client
	return c
}

func (c *WebPushConnector) Send(ctx context.Context, sub store.SubscriptionRecord, payload []byte) error {
	if sub.Endpoint == "" || sub.P256dh == "" || sub.Auth == "" {
		return &DeliveryError{Provider: store.ProviderWebPush, Kind: Rejected, Err: errors.New("subscription is missing endpoint or keys")}
	}

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
		HTTPClient: c.client,
		// webpush-go adds the mailto: scheme itself.
		Subscriber:      strings.TrimPrefix(c.keys.Subject, "mailto:"),
		VAPIDPublicKey:  c.keys.Public,
		VAPIDPrivateKey: c.keys.Private,
		TTL:             c.ttl,
		Urgency:         c.urgency,
	})
	if err != nil {
		kind := Rejected
		if ctx.Err() != nil || isTransportError(err) {
			kind = Retryable
		}
		return &DeliveryError{Provider: store.ProviderWebPush, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debugw("web push delivered", "subscription", sub.ID, "status", resp.StatusCode)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &DeliveryError{
		Provider:   store.ProviderWebPush,
		StatusCode: resp.StatusCode,
		Kind:       classifyStatus(resp.StatusCode),
		Err:        fmt.Errorf("push service responded %q", strings.TrimSpace(string(body))),
	}
}

// isTransportError separates network failures from payload encryption errors,
// which webpush-go reports before any request is made.
func isTransportError(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}
