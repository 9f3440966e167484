package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orderly-service/internal/apperr"
	"orderly-service/internal/models"
	"orderly-service/internal/service"
)

// listProducts handles GET /products, optionally filtered by ?owner=
func (h *Handler) listProducts(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		products []models.Product
		err      error
	)
	if owner := c.Query("owner"); owner != "" {
		products, err = h.catalog.ListByOwner(ctx, owner)
	} else {
		products, err = h.catalog.ListAll(ctx)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) myProducts(c *gin.Context) {
	products, err := h.catalog.ListByOwner(c.Request.Context(), principalOf(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) createProduct(c *gin.Context) {
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, err)
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), principalOf(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) bulkCreateProducts(c *gin.Context) {
	var req struct {
		Products []service.ProductInput `json:"products"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	result, err := h.catalog.BulkCreate(c.Request.Context(), principalOf(c), req.Products)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var patch service.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, err)
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), principalOf(c), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), principalOf(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// adjustStock handles POST /products/:id/stock {"delta": n} for the owner
func (h *Handler) adjustStock(c *gin.Context) {
	var req struct {
		Delta int `json:"delta"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	principal := principalOf(c)
	product, err := h.catalog.GetProduct(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if product.OwnerID != principal.ID {
		h.respondError(c, apperr.New(apperr.CodeNotFound, "Product not found: %s", product.ID))
		return
	}

	product, err = h.catalog.AdjustStock(ctx, product.ID, req.Delta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}
