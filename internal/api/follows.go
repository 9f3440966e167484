package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listDistributors handles GET /distributors
func (h *Handler) listDistributors(c *gin.Context) {
	distributors, err := h.identity.ListDistributors(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"distributors": distributors})
}

func (h *Handler) listFollows(c *gin.Context) {
	follows, err := h.identity.ListFollows(c.Request.Context(), principalOf(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"follows": follows})
}

func (h *Handler) follow(c *gin.Context) {
	var req struct {
		DistributorID string `json:"distributorId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	follow, err := h.identity.FollowDistributor(c.Request.Context(), principalOf(c), req.DistributorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, follow)
}

func (h *Handler) unfollow(c *gin.Context) {
	if err := h.identity.UnfollowDistributor(c.Request.Context(), principalOf(c), c.Param("distributorId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
