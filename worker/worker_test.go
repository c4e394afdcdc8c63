package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bloodlink-push/push"
)

var testConfig = push.FirebaseConfig{
	APIKey:            "api-key",
	AuthDomain:        "bloodlink.firebaseapp.com",
	ProjectID:         "bloodlink",
	StorageBucket:     "bloodlink.appspot.com",
	MessagingSenderID: "1234",
	AppID:             "1:1234:web:abcd",
}

type testEnv struct {
	h        *Handler
	notifier *fakeNotifier
	clients  *fakeClients
	cache    *MemoryCache
	syncer   *fakeSyncer
}

func newTestEnv(opts Options) *testEnv {
	env := &testEnv{
		notifier: &fakeNotifier{},
		clients:  &fakeClients{},
		cache:    NewMemoryCache(time.Hour),
		syncer:   &fakeSyncer{fail: map[string]bool{}},
	}
	env.h = NewHandler(env.notifier, env.clients, env.cache, env.syncer, zap.NewNop().Sugar(), opts)
	return env
}

func firebaseMessage(title string, data map[string]string) FirebaseMessage {
	msg := FirebaseMessage{Data: data}
	msg.Notification = &struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}{Title: title, Body: title + " body"}
	return msg
}

func TestHandlePush(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()

	err := env.h.HandlePush(ctx, []byte(`{"title":"Urgent: O-","body":"City hospital","url":"/requests/9","notificationId":"n-9","userId":"donor-1"}`))
	require.NoError(t, err)

	require.Len(t, env.notifier.shown, 1)
	shown := env.notifier.shown[0]
	assert.Equal(t, "Urgent: O-", shown.Title)
	assert.Equal(t, "City hospital", shown.Body)
	assert.Equal(t, "/icons/icon-192x192.png", shown.Icon)
	assert.Equal(t, "/icons/badge-72x72.png", shown.Badge)
	assert.Equal(t, NotificationData{URL: "/requests/9", NotificationID: "n-9", UserID: "donor-1"}, shown.Data)

	acks, err := env.cache.List(ctx)
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.Equal(t, push.AckDelivered, acks[0].Event)
	assert.Equal(t, "n-9", acks[0].NotificationID)
	assert.Equal(t, "donor-1", acks[0].UserID)
}

func TestHandlePush_Malformed(t *testing.T) {
	env := newTestEnv(Options{})

	for _, payload := range []string{"", "not json", `{"title":`, "[1,2", "null", "{}", `{"body":"no title","notificationId":"n-1"}`} {
		err := env.h.HandlePush(context.Background(), []byte(payload))
		var parseErr *ParseError
		assert.ErrorAs(t, err, &parseErr, "payload %q", payload)
	}
	assert.Empty(t, env.notifier.shown)
	acks, _ := env.cache.List(context.Background())
	assert.Empty(t, acks, "nothing acknowledged for undisplayed payloads")

	// Through Dispatch the handler completes without surfacing anything.
	assert.NotPanics(t, func() {
		env.h.Dispatch(context.Background(), PushEvent{Data: []byte("garbage")})
	})
	assert.Empty(t, env.notifier.shown)
}

func TestNewHandler_NilCache(t *testing.T) {
	notifier := &fakeNotifier{}
	syncer := &fakeSyncer{fail: map[string]bool{}}
	h := NewHandler(notifier, &fakeClients{}, nil, syncer, zap.NewNop().Sugar(), Options{})
	ctx := context.Background()

	require.NoError(t, h.HandlePush(ctx, []byte(`{"title":"t","notificationId":"n-1"}`)))
	require.NotPanics(t, func() {
		require.NoError(t, h.HandleSync(ctx, SyncTag))
	})
	require.Len(t, syncer.synced, 1)
	assert.Equal(t, "n-1", syncer.synced[0].NotificationID)

	noSync := NewHandler(notifier, &fakeClients{}, nil, nil, zap.NewNop().Sugar(), Options{})
	assert.Error(t, noSync.HandleSync(ctx, SyncTag))
}

func TestHandlePush_NoNotificationIDSkipsAck(t *testing.T) {
	env := newTestEnv(Options{})
	require.NoError(t, env.h.HandlePush(context.Background(), []byte(`{"title":"t","body":"b"}`)))

	acks, _ := env.cache.List(context.Background())
	assert.Empty(t, acks)
}

func TestConfigGate(t *testing.T) {
	env := newTestEnv(Options{BufferSize: 2})
	ctx := context.Background()

	_, ok := env.h.Config()
	assert.False(t, ok)

	for _, title := range []string{"first", "second", "third"} {
		err := env.h.HandleBackgroundMessage(ctx, firebaseMessage(title, nil))
		assert.ErrorIs(t, err, ErrConfigNotReady)
	}
	assert.Empty(t, env.notifier.shown, "nothing displayed before config")

	require.NoError(t, env.h.HandleMessage(ctx, push.NewConfigMessage(testConfig)))

	cfg, ok := env.h.Config()
	require.True(t, ok)
	assert.Equal(t, testConfig, cfg)
	// Oldest dropped, the rest shown in arrival order.
	assert.Equal(t, []string{"second", "third"}, env.notifier.titles())

	require.NoError(t, env.h.HandleBackgroundMessage(ctx, firebaseMessage("fourth", map[string]string{"url": "/x", "notificationId": "n-4"})))
	assert.Equal(t, []string{"second", "third", "fourth"}, env.notifier.titles())
	assert.Equal(t, NotificationData{URL: "/x", NotificationID: "n-4"}, env.notifier.shown[2].Data)
}

func TestHandleMessage(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()

	assert.NoError(t, env.h.HandleMessage(ctx, push.Message{Type: "SKIP_WAITING"}))
	_, ok := env.h.Config()
	assert.False(t, ok, "unrelated messages do not open the gate")

	assert.Error(t, env.h.HandleMessage(ctx, push.Message{Type: push.ConfigMessageType}))
	assert.Error(t, env.h.HandleMessage(ctx, push.NewConfigMessage(push.FirebaseConfig{APIKey: "only"})))
	_, ok = env.h.Config()
	assert.False(t, ok, "invalid config does not open the gate")

	require.NoError(t, env.h.HandleMessage(ctx, push.NewConfigMessage(testConfig)))
	updated := testConfig
	updated.AppID = "1:1234:web:efgh"
	require.NoError(t, env.h.HandleMessage(ctx, push.NewConfigMessage(updated)))
	cfg, _ := env.h.Config()
	assert.Equal(t, "1:1234:web:efgh", cfg.AppID)
}

func TestBackgroundMessage_DataOnly(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()
	require.NoError(t, env.h.HandleMessage(ctx, push.NewConfigMessage(testConfig)))

	err := env.h.HandleBackgroundMessage(ctx, FirebaseMessage{Data: map[string]string{"title": "Drive", "body": "Saturday"}})
	require.NoError(t, err)
	require.Len(t, env.notifier.shown, 1)
	assert.Equal(t, "Drive", env.notifier.shown[0].Title)
	assert.Equal(t, "Saturday", env.notifier.shown[0].Body)
}

func TestNotificationClick(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		url        string
		windows    []string
		wantFocus  int
		wantOpened []string
	}{
		{"NoURLOpensRoot", "", "", nil, -1, []string{"/"}},
		{"NoURLFocusesRoot", "https://bloodlink.example", "", []string{"https://bloodlink.example/profile", "https://bloodlink.example/"}, 1, nil},
		{"RelativeURLOpensAbsolute", "https://bloodlink.example", "/requests/3", []string{"https://bloodlink.example/"}, -1, []string{"https://bloodlink.example/requests/3"}},
		{"FocusesMatchingWindow", "https://bloodlink.example", "/requests/3", []string{"https://bloodlink.example/requests/3"}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(Options{Origin: tt.origin})
			for _, u := range tt.windows {
				env.clients.windows = append(env.clients.windows, &fakeWindow{url: u})
			}
			n := &fakeNotification{data: NotificationData{URL: tt.url, NotificationID: "n-1"}}

			require.NoError(t, env.h.HandleNotificationClick(context.Background(), n))

			assert.True(t, n.closed)
			assert.Equal(t, tt.wantOpened, env.clients.opened)
			for i, w := range env.clients.windows {
				assert.Equal(t, i == tt.wantFocus, w.focused, "window %d", i)
			}

			acks, _ := env.cache.List(context.Background())
			require.Len(t, acks, 1)
			assert.Equal(t, push.AckClicked, acks[0].Event)
		})
	}
}

func TestHandleSync(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"n-1", "n-2", "n-3"} {
		require.NoError(t, env.cache.Put(ctx, push.Ack{
			ID:             "ack-" + id,
			NotificationID: id,
			Event:          push.AckDelivered,
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	env.syncer.fail["n-2"] = true

	err := env.h.HandleSync(ctx, SyncTag)
	require.Error(t, err, "partial failure is reported")

	assert.Len(t, env.syncer.synced, 2)
	remaining, _ := env.cache.List(ctx)
	require.Len(t, remaining, 1)
	assert.Equal(t, "n-2", remaining[0].NotificationID)

	// Next sync trigger retries only what is left.
	env.syncer.fail["n-2"] = false
	require.NoError(t, env.h.HandleSync(ctx, SyncTag))
	remaining, _ = env.cache.List(ctx)
	assert.Empty(t, remaining)
	assert.Len(t, env.syncer.synced, 3)
}

func TestHandleSync_OtherTag(t *testing.T) {
	env := newTestEnv(Options{})
	require.NoError(t, env.cache.Put(context.Background(), push.Ack{ID: "a", NotificationID: "n", Event: push.AckDelivered}))

	require.NoError(t, env.h.HandleSync(context.Background(), "sync-profile"))
	assert.Empty(t, env.syncer.synced)
}

type panickingNotifier struct{}

func (panickingNotifier) ShowNotification(ctx context.Context, opts NotificationOptions) error {
	panic("display crashed")
}

func TestDispatch_NeverPropagates(t *testing.T) {
	env := newTestEnv(Options{})
	env.h.notifier = panickingNotifier{}

	assert.NotPanics(t, func() {
		env.h.Dispatch(context.Background(), PushEvent{Data: []byte(`{"title":"t"}`)})
		env.h.Dispatch(context.Background(), nil)
	})

	env.h.notifier = &fakeNotifier{err: errors.New("permission revoked")}
	assert.NotPanics(t, func() {
		env.h.Dispatch(context.Background(), PushEvent{Data: []byte(`{"title":"t"}`)})
	})
}

func TestDispatch_Routes(t *testing.T) {
	env := newTestEnv(Options{})
	ctx := context.Background()

	env.h.Dispatch(ctx, BackgroundMessageEvent{Message: firebaseMessage("queued", nil)})
	env.h.Dispatch(ctx, MessageEvent{Message: push.NewConfigMessage(testConfig)})
	env.h.Dispatch(ctx, PushEvent{Data: []byte(`{"title":"raw","notificationId":"n-1"}`)})
	env.h.Dispatch(ctx, ClickEvent{Notification: &fakeNotification{}})
	env.h.Dispatch(ctx, SyncEvent{Tag: SyncTag})

	assert.Equal(t, []string{"queued", "raw"}, env.notifier.titles())
	assert.Equal(t, []string{"/"}, env.clients.opened)
	assert.Len(t, env.syncer.synced, 1)
}
