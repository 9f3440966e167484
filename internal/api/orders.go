package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"orderly-service/internal/models"
	"orderly-service/internal/service"
)

type itemsRequest struct {
	Items []service.CartItem `json:"items"`
}

// addToCart handles POST /orders/cart
func (h *Handler) addToCart(c *gin.Context) {
	var req itemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	orders, err := h.orders.AddItems(c.Request.Context(), principalOf(c), req.Items)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) updateItems(c *gin.Context) {
	var req itemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	order, err := h.orders.UpdateItems(c.Request.Context(), principalOf(c), c.Param("id"), req.Items)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) removeOrder(c *gin.Context) {
	if err := h.orders.RemoveOrder(c.Request.Context(), principalOf(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type orderCommand func(ctx context.Context, principal models.Principal, orderID string) (*models.Order, error)

func (h *Handler) runOrderCommand(c *gin.Context, cmd orderCommand) {
	order, err := cmd(c.Request.Context(), principalOf(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) confirmOrder(c *gin.Context)       { h.runOrderCommand(c, h.orders.Confirm) }
func (h *Handler) acceptOrder(c *gin.Context)        { h.runOrderCommand(c, h.orders.Accept) }
func (h *Handler) markPlaced(c *gin.Context)         { h.runOrderCommand(c, h.orders.MarkPlaced) }
func (h *Handler) markOutForDelivery(c *gin.Context) { h.runOrderCommand(c, h.orders.MarkOutForDelivery) }
func (h *Handler) markDelivered(c *gin.Context)      { h.runOrderCommand(c, h.orders.MarkDelivered) }
func (h *Handler) getOrder(c *gin.Context)           { h.runOrderCommand(c, h.orders.GetOrder) }

func (h *Handler) myOrders(c *gin.Context) {
	orders, err := h.orders.MyOrders(c.Request.Context(), principalOf(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// distributorOrders handles GET /orders/for-distributor?status=&q=&sort=&limit=&offset=
func (h *Handler) distributorOrders(c *gin.Context) {
	q := service.DistributorOrderQuery{
		Status: c.Query("status"),
		Q:      c.Query("q"),
		Sort:   c.Query("sort"),
	}
	var ok bool
	if q.Limit, ok = intQuery(c, "limit"); !ok {
		return
	}
	if q.Offset, ok = intQuery(c, "offset"); !ok {
		return
	}

	page, err := h.orders.DistributorOrders(c.Request.Context(), principalOf(c), q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func intQuery(c *gin.Context, name string) (*int, bool) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_INPUT",
			"message": name + " must be a non-negative integer",
		})
		return nil, false
	}
	return &n, true
}

func (h *Handler) invoice(c *gin.Context) {
	inv, err := h.invoices.InvoiceFor(c.Request.Context(), principalOf(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}
