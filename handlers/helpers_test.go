package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bloodlink-push/hub"
	"bloodlink-push/store"
)

// recordingConnector records deliveries and fails endpoints listed in errs.
type recordingConnector struct {
	mu   sync.Mutex
	sent []string
	errs map[string]error
}

func (r *recordingConnector) Send(ctx context.Context, sub store.SubscriptionRecord, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.errs[sub.Endpoint]; ok {
		return err
	}
	r.sent = append(r.sent, sub.Endpoint)
	return nil
}

func setupTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

// setupTestHub creates a hub over an in-memory store with web push and FCM
// routed to the same recording connector.
func setupTestHub(t *testing.T) (*hub.Hub, store.Store, *recordingConnector) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := hub.NewHub(s, zap.NewNop().Sugar(), nil, hub.Options{})
	rc := &recordingConnector{errs: map[string]error{}}
	h.RegisterConnector(store.ProviderWebPush, rc)
	h.RegisterConnector(store.ProviderFCM, rc)
	return h, s, rc
}

func jsonRequest(c *gin.Context, method, path string, body interface{}) {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	c.Request = httptest.NewRequest(method, path, &buf)
	c.Request.Header.Set("Content-Type", "application/json")
}

func as(c *gin.Context, username, role string) {
	c.Set("username", username)
	c.Set("role", role)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) Response {
	t.Helper()
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("Response is not an envelope: %v, body: %s", err, w.Body.String())
	}
	if data != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			t.Fatalf("Failed to decode data: %v", err)
		}
	}
	return Response{Success: raw.Success, Error: raw.Error}
}

func httpRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}
