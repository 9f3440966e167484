package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listNotifications handles GET /notifications?unread=true
func (h *Handler) listNotifications(c *gin.Context) {
	items, err := h.notifications.List(c.Request.Context(), principalOf(c), c.Query("unread") == "true")
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

func (h *Handler) markRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), principalOf(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markUnread(c *gin.Context) {
	if err := h.notifications.MarkUnread(c.Request.Context(), principalOf(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markAllRead(c *gin.Context) {
	n, err := h.notifications.MarkAllRead(c.Request.Context(), principalOf(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) clearNotifications(c *gin.Context) {
	n, err := h.notifications.ClearAll(c.Request.Context(), principalOf(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}
