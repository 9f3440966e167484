package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orderly-service/internal/apperr"
	"orderly-service/internal/service"
	"orderly-service/internal/util"
)

// ReadinessFunc reports whether the backing stores can serve requests
type ReadinessFunc func(ctx context.Context) error

// Services are the domain services behind the HTTP surface
type Services struct {
	Catalog       *service.CatalogService
	Identity      *service.IdentityService
	Orders        *service.OrderService
	Notifications *service.NotificationService
	Invoices      *service.InvoiceProjector
}

// Handler contains HTTP handlers
type Handler struct {
	catalog       *service.CatalogService
	identity      *service.IdentityService
	orders        *service.OrderService
	notifications *service.NotificationService
	invoices      *service.InvoiceProjector
	auth          *Authenticator
	ready         ReadinessFunc
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, auth *Authenticator, ready ReadinessFunc) *Handler {
	return &Handler{
		catalog:       svc.Catalog,
		identity:      svc.Identity,
		orders:        svc.Orders,
		notifications: svc.Notifications,
		invoices:      svc.Invoices,
		auth:          auth,
		ready:         ready,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/users", h.register)
		v1.GET("/distributors", h.listDistributors)
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
	}

	authed := v1.Group("")
	authed.Use(h.auth.Middleware())
	{
		authed.GET("/users/me", h.me)
		authed.PUT("/users/me", h.updateProfile)

		authed.GET("/products/mine", h.myProducts)
		authed.POST("/products", h.createProduct)
		authed.POST("/products/bulk", h.bulkCreateProducts)
		authed.PUT("/products/:id", h.updateProduct)
		authed.DELETE("/products/:id", h.deleteProduct)
		authed.POST("/products/:id/stock", h.adjustStock)

		authed.POST("/orders/cart", h.addToCart)
		authed.GET("/orders/my", h.myOrders)
		authed.GET("/orders/for-distributor", h.distributorOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.PUT("/orders/:id/items", h.updateItems)
		authed.DELETE("/orders/:id", h.removeOrder)
		authed.POST("/orders/:id/confirm", h.confirmOrder)
		authed.POST("/orders/:id/accept", h.acceptOrder)
		authed.POST("/orders/:id/mark-placed", h.markPlaced)
		authed.POST("/orders/:id/mark-out-for-delivery", h.markOutForDelivery)
		authed.POST("/orders/:id/mark-delivered", h.markDelivered)
		authed.GET("/orders/:id/invoice", h.invoice)

		authed.POST("/links/request", h.requestLink)
		authed.GET("/links/status", h.linkStatus)
		authed.GET("/links/requests", h.linkRequests)
		authed.GET("/links/linked", h.linkedSalespersons)
		authed.POST("/links/unlink", h.unlink)
		authed.POST("/links/:id/approve", h.approveLink)
		authed.POST("/links/:id/reject", h.rejectLink)

		authed.GET("/follows", h.listFollows)
		authed.POST("/follows", h.follow)
		authed.DELETE("/follows/:distributorId", h.unfollow)

		authed.GET("/notifications", h.listNotifications)
		authed.POST("/notifications/read-all", h.markAllRead)
		authed.DELETE("/notifications", h.clearNotifications)
		authed.POST("/notifications/:id/read", h.markRead)
		authed.POST("/notifications/:id/unread", h.markUnread)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports 503 while no store can serve reads
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unavailable",
				"message": apperr.MessageOf(err),
				"time":    time.Now().Unix(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError writes {"error": code, "message": text} with the status class of err
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	message := apperr.MessageOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			message = "Internal server error"
		}
	}
	c.JSON(status, gin.H{
		"error":   string(apperr.CodeOf(err)),
		"message": message,
	})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   string(apperr.CodeInvalidInput),
		"message": "Invalid request body",
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
