package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orderly-service/internal/service"
)

func (h *Handler) register(c *gin.Context) {
	var in service.UserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, err)
		return
	}

	user, err := h.identity.CreateUser(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) me(c *gin.Context) {
	user, err := h.identity.GetUser(c.Request.Context(), principalOf(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var patch service.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, err)
		return
	}

	user, err := h.identity.UpdateProfile(c.Request.Context(), principalOf(c), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
