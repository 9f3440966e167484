package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orderly-service/internal/apperr"
	"orderly-service/internal/models"
)

type linkRequestBody struct {
	DistributorID    string `json:"distributorId"`
	DistributorEmail string `json:"distributorEmail"`
}

// requestLink accepts either a distributor id or email
func (h *Handler) requestLink(c *gin.Context) {
	var req linkRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	var (
		link *models.SalespersonLink
		err  error
	)
	switch {
	case req.DistributorID != "":
		link, err = h.identity.RequestLink(c.Request.Context(), principalOf(c), req.DistributorID)
	case req.DistributorEmail != "":
		link, err = h.identity.RequestLinkByEmail(c.Request.Context(), principalOf(c), req.DistributorEmail)
	default:
		err = apperr.New(apperr.CodeInvalidInput, "distributorId or distributorEmail required")
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (h *Handler) linkStatus(c *gin.Context) {
	state, err := h.identity.CurrentLink(c.Request.Context(), principalOf(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) linkRequests(c *gin.Context) {
	requests, err := h.identity.PendingRequestsForDistributor(c.Request.Context(), principalOf(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (h *Handler) linkedSalespersons(c *gin.Context) {
	linked, err := h.identity.LinkedSalespersonsForDistributor(c.Request.Context(), principalOf(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"salespersons": linked})
}

func (h *Handler) approveLink(c *gin.Context) {
	link, err := h.identity.Approve(c.Request.Context(), principalOf(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

func (h *Handler) rejectLink(c *gin.Context) {
	link, err := h.identity.Reject(c.Request.Context(), principalOf(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

func (h *Handler) unlink(c *gin.Context) {
	var req struct {
		SalespersonID string `json:"salespersonId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	link, err := h.identity.Unlink(c.Request.Context(), principalOf(c), req.SalespersonID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}
