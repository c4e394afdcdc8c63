package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bloodlink-push/hub"
	"bloodlink-push/push"
	"bloodlink-push/store"
)

// APIError is a non-successful backend response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend responded with status %d: %s", e.StatusCode, e.Message)
}

// HTTPBackend talks to the notification API with a bearer token.
type HTTPBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPBackend(baseURL, token string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient replaces the default client.
func (b *HTTPBackend) WithHTTPClient(c *http.Client) *HTTPBackend {
	b.client = c
	return b
}

// SetToken replaces the bearer token, e.g. after a refresh.
func (b *HTTPBackend) SetToken(token string) {
	b.token = token
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// do sends body as JSON and decodes the envelope data into out when set.
func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach backend: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, body, out interface{}) error {
	return b.do(ctx, http.MethodPost, path, body, out)
}

// Login exchanges credentials for a token and keeps it for later calls.
func (b *HTTPBackend) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := b.post(ctx, "/auth/login", map[string]string{"username": username, "password": password}, &resp)
	if err != nil {
		return "", err
	}
	b.token = resp.Token
	return resp.Token, nil
}

func (b *HTTPBackend) Register(ctx context.Context, userID string, sub push.Subscription) error {
	return b.post(ctx, "/notifications/subscribe", map[string]interface{}{
		"subscription": sub,
		"userId":       userID,
	}, nil)
}

func (b *HTTPBackend) Unregister(ctx context.Context, userID, endpoint string) error {
	return b.post(ctx, "/notifications/unsubscribe", map[string]string{
		"userId":   userID,
		"endpoint": endpoint,
	}, nil)
}

// RegisterToken stores an FCM registration token for userID.
func (b *HTTPBackend) RegisterToken(ctx context.Context, userID, token string) error {
	return b.post(ctx, "/notifications/token/register", map[string]string{
		"token":  token,
		"userId": userID,
	}, nil)
}

func (b *HTTPBackend) RemoveToken(ctx context.Context, userID, token string) error {
	return b.post(ctx, "/notifications/token/remove", map[string]string{
		"token":  token,
		"userId": userID,
	}, nil)
}

// Subscriptions lists the caller's stored records.
func (b *HTTPBackend) Subscriptions(ctx context.Context) ([]store.SubscriptionRecord, error) {
	var recs []store.SubscriptionRecord
	if err := b.do(ctx, http.MethodGet, "/notifications/subscriptions", nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// SyncAck posts one pending acknowledgement.
func (b *HTTPBackend) SyncAck(ctx context.Context, ack push.Ack) error {
	return b.post(ctx, "/notifications/sync", ack, nil)
}

// Send asks the backend to deliver n to every device of userID. It needs a
// dispatcher token.
func (b *HTTPBackend) Send(ctx context.Context, userID string, n push.Notification) (hub.Report, error) {
	var report hub.Report
	err := b.post(ctx, "/notifications/send", map[string]string{
		"userId":         userID,
		"title":          n.Title,
		"body":           n.Body,
		"url":            n.URL,
		"notificationId": n.NotificationID,
	}, &report)
	return report, err
}
