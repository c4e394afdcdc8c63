package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bloodlink-push/hub"
	"bloodlink-push/store"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Success: false, Error: msg})
}

// failErr maps domain errors to status codes. msg is used for unexpected errors.
func failErr(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, hub.ErrInvalidSubscription), errors.Is(err, hub.ErrInvalidNotification):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "Not found")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, msg)
	}
}
