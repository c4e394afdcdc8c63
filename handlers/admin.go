package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bloodlink-push/hub"
	"bloodlink-push/store"
)

func UserSubscriptionsHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := h.GetSubscriptionsByUser(c.Request.Context(), c.Param("username"))
		if err != nil {
			failErr(c, err, "Failed to get subscriptions")
			return
		}
		if recs == nil {
			recs = []store.SubscriptionRecord{}
		}
		ok(c, http.StatusOK, recs)
	}
}

func PurgeUserSubscriptionsHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := h.UnsubscribeAll(c.Request.Context(), c.Param("username"))
		if err != nil {
			failErr(c, err, "Failed to purge subscriptions")
			return
		}
		ok(c, http.StatusOK, gin.H{"removed": n})
	}
}

func GetQueueHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		queue, err := h.GetQueue(c.Request.Context())
		if err != nil {
			failErr(c, err, "Failed to get queue")
			return
		}
		if queue == nil {
			queue = []store.QueueItem{}
		}
		ok(c, http.StatusOK, queue)
	}
}
