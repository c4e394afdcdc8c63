package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bloodlink-push/hub"
	"bloodlink-push/middleware"
	"bloodlink-push/push"
	"bloodlink-push/store"
	"bloodlink-push/vapid"
)

// targetUser returns the user the request acts on, defaulting to the caller,
// and writes a 403 when the caller may not act for them.
func targetUser(c *gin.Context, requested string) (string, bool) {
	if requested == "" {
		requested = middleware.GetUsername(c)
	}
	if !middleware.CanActFor(c, requested) {
		fail(c, http.StatusForbidden, "Cannot act on behalf of another user")
		return "", false
	}
	return requested, true
}

func VAPIDPublicKeyHandler(keys vapid.Keys) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok(c, http.StatusOK, gin.H{"publicKey": keys.Public})
	}
}

func FirebaseConfigHandler(cfg push.FirebaseConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := cfg.Validate(); err != nil {
			fail(c, http.StatusServiceUnavailable, "Firebase is not configured")
			return
		}
		ok(c, http.StatusOK, cfg)
	}
}

// SubscribeHandler stores a browser Web Push subscription.
func SubscribeHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Subscription push.Subscription `json:"subscription"`
			UserID       string            `json:"userId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request")
			return
		}
		if err := req.Subscription.Validate(); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}

		userID, allowed := targetUser(c, req.UserID)
		if !allowed {
			return
		}

		rec, err := h.Subscribe(c.Request.Context(), store.SubscriptionRecord{
			UserID:   userID,
			Provider: store.ProviderWebPush,
			Endpoint: req.Subscription.Endpoint,
			P256dh:   req.Subscription.Keys.P256dh,
			Auth:     req.Subscription.Keys.Auth,
		})
		if err != nil {
			failErr(c, err, "Failed to save subscription")
			return
		}

		ok(c, http.StatusCreated, rec)
	}
}

// RegisterTokenHandler stores an FCM registration token.
func RegisterTokenHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token  string `json:"token" binding:"required"`
			UserID string `json:"userId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Missing required field (token)")
			return
		}

		userID, allowed := targetUser(c, req.UserID)
		if !allowed {
			return
		}

		rec, err := h.Subscribe(c.Request.Context(), store.SubscriptionRecord{
			UserID:   userID,
			Provider: store.ProviderFCM,
			Endpoint: req.Token,
		})
		if err != nil {
			failErr(c, err, "Failed to save token")
			return
		}

		ok(c, http.StatusCreated, rec)
	}
}

// UnsubscribeHandler removes one endpoint, or every record of the user when
// no endpoint is given.
func UnsubscribeHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID   string `json:"userId"`
			Endpoint string `json:"endpoint"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request")
			return
		}

		userID, allowed := targetUser(c, req.UserID)
		if !allowed {
			return
		}
		ctx := c.Request.Context()

		if req.Endpoint == "" {
			n, err := h.UnsubscribeAll(ctx, userID)
			if err != nil {
				failErr(c, err, "Failed to remove subscriptions")
				return
			}
			ok(c, http.StatusOK, gin.H{"removed": n})
			return
		}

		if err := h.Unsubscribe(ctx, userID, req.Endpoint); err != nil {
			failErr(c, err, "Failed to remove subscription")
			return
		}
		ok(c, http.StatusOK, gin.H{"removed": 1})
	}
}

func RemoveTokenHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token  string `json:"token" binding:"required"`
			UserID string `json:"userId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Missing required field (token)")
			return
		}

		userID, allowed := targetUser(c, req.UserID)
		if !allowed {
			return
		}

		if err := h.Unsubscribe(c.Request.Context(), userID, req.Token); err != nil {
			failErr(c, err, "Failed to remove token")
			return
		}
		ok(c, http.StatusOK, gin.H{"removed": 1})
	}
}

// ListSubscriptionsHandler lists the caller's records. Admins may pass userId.
func ListSubscriptionsHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, allowed := targetUser(c, c.Query("userId"))
		if !allowed {
			return
		}

		recs, err := h.GetSubscriptionsByUser(c.Request.Context(), userID)
		if err != nil {
			failErr(c, err, "Failed to list subscriptions")
			return
		}
		if recs == nil {
			recs = []store.SubscriptionRecord{}
		}
		ok(c, http.StatusOK, recs)
	}
}

// SyncHandler records one acknowledgement flushed by a service worker.
func SyncHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ack push.Ack
		if err := c.ShouldBindJSON(&ack); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request")
			return
		}

		userID, allowed := targetUser(c, ack.UserID)
		if !allowed {
			return
		}
		ack.UserID = userID

		if err := h.RecordAck(c.Request.Context(), ack); err != nil {
			failErr(c, err, "Failed to record acknowledgement")
			return
		}
		ok(c, http.StatusOK, gin.H{"id": ack.ID})
	}
}

// SendHandler fans a notification out to every device of a user.
func SendHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID         string `json:"userId" binding:"required"`
			Title          string `json:"title" binding:"required"`
			Body           string `json:"body"`
			URL            string `json:"url"`
			NotificationID string `json:"notificationId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Missing required fields (userId, title)")
			return
		}

		report, err := h.Send(c.Request.Context(), req.UserID, push.Notification{
			Title:          req.Title,
			Body:           req.Body,
			URL:            req.URL,
			NotificationID: req.NotificationID,
		})
		if err != nil {
			failErr(c, err, "Failed to send notification")
			return
		}

		ok(c, http.StatusOK, report)
	}
}

func StatsHandler(h *hub.Hub, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ok(c, http.StatusOK, gin.H{
			"totalSent":     h.GetTotalNotificationsSent(ctx),
			"subscriptions": h.GetSubscriptionCount(ctx),
			"pending":       h.GetPendingCount(ctx),
			"acks": gin.H{
				push.AckDelivered: h.GetAckCount(ctx, push.AckDelivered),
				push.AckClicked:   h.GetAckCount(ctx, push.AckClicked),
			},
			"uptime": time.Since(startTime).Round(time.Second).String(),
		})
	}
}
