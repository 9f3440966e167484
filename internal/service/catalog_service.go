package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderly-service/internal/apperr"
	"orderly-service/internal/models"
	"orderly-service/internal/store"
	"orderly-service/internal/util"
)

// CatalogService handles distributor-owned products and their stock
type CatalogService struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewCatalogService creates a new catalog service
func NewCatalogService(s store.Store) *CatalogService {
	return &CatalogService{
		store:  s,
		logger: util.GetLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ProductInput is the writable part of a product
type ProductInput struct {
	Name        string          `json:"name" binding:"required"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.New(apperr.CodeInvalidInput, "Product name is required")
	}
	if in.Price.IsNegative() {
		return apperr.New(apperr.CodeInvalidInput, "Price must not be negative")
	}
	if in.Stock < 0 {
		return apperr.New(apperr.CodeInvalidInput, "Stock must not be negative")
	}
	return nil
}

// ProductPatch carries the fields to change. Nil fields are left alone.
type ProductPatch struct {
	Name        *string          `json:"name"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	Description *string          `json:"description"`
	Image       *string          `json:"image"`
}

func requireDistributor(principal models.Principal) error {
	if principal.Role != models.RoleDistributor {
		return apperr.New(apperr.CodeForbidden, "Only distributors can do this")
	}
	return nil
}

func (s *CatalogService) newProduct(ownerID string, in ProductInput) *models.Product {
	now := s.now()
	return &models.Product{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(in.Name),
		Price:       in.Price,
		Stock:       in.Stock,
		Description: in.Description,
		Image:       in.Image,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CreateProduct adds a product to the principal's catalog
func (s *CatalogService) CreateProduct(ctx context.Context, principal models.Principal, in ProductInput) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if err := requireDistributor(principal); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	product := s.newProduct(principal.ID, in)
	if err := store.UpsertRecord(ctx, s.store, store.CollectionProducts, product.ID, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created", zap.String("product_id", product.ID), zap.String("owner_id", product.OwnerID))
	return product, nil
}

// BulkResult reports the outcome of a bulk import
type BulkResult struct {
	Created []models.Product `json:"created"`
	Skipped []BulkSkip       `json:"skipped"`
}

// BulkSkip is one rejected row
type BulkSkip struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// BulkCreate adds every valid row in one write unit. Invalid rows are skipped.
func (s *CatalogService) BulkCreate(ctx context.Context, principal models.Principal, rows []ProductInput) (*BulkResult, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.BulkCreate")
	defer span.End()

	if err := requireDistributor(principal); err != nil {
		return nil, err
	}

	result := &BulkResult{Created: []models.Product{}, Skipped: []BulkSkip{}}
	products := make([]*models.Product, 0, len(rows))
	for i, row := range rows {
		if err := row.validate(); err != nil {
			result.Skipped = append(result.Skipped, BulkSkip{Row: i, Reason: apperr.MessageOf(err)})
			continue
		}
		products = append(products, s.newProduct(principal.ID, row))
	}

	err := s.store.Update(ctx, func(tx store.Tx) error {
		for _, p := range products {
			if err := store.Put(ctx, tx, store.CollectionProducts, p.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to import products: %w", err)
	}

	for _, p := range products {
		result.Created = append(result.Created, *p)
	}
	s.logger.Info("Products imported",
		zap.String("owner_id", principal.ID),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

// loadOwnedProduct reads a product for mutation by its owner
func loadOwnedProduct(ctx context.Context, tx store.Tx, principal models.Principal, id string) (*models.Product, error) {
	product, err := store.Get[models.Product](ctx, tx, store.CollectionProducts, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "Product not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	if product.OwnerID != principal.ID {
		return nil, apperr.New(apperr.CodeNotFound, "Product not found: %s", id)
	}
	return product, nil
}

// UpdateProduct changes a product owned by the principal
func (s *CatalogService) UpdateProduct(ctx context.Context, principal models.Principal, id string, patch ProductPatch) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct")
	defer span.End()

	if err := requireDistributor(principal); err != nil {
		return nil, err
	}

	var product *models.Product
	err := s.store.Update(ctx, func(tx store.Tx) error {
		p, err := loadOwnedProduct(ctx, tx, principal, id)
		if err != nil {
			return err
		}

		in := ProductInput{Name: p.Name, Price: p.Price, Stock: p.Stock, Description: p.Description, Image: p.Image}
		if patch.Name != nil {
			in.Name = *patch.Name
		}
		if patch.Price != nil {
			in.Price = *patch.Price
		}
		if patch.Stock != nil {
			in.Stock = *patch.Stock
		}
		if patch.Description != nil {
			in.Description = *patch.Description
		}
		if patch.Image != nil {
			in.Image = *patch.Image
		}
		if err := in.validate(); err != nil {
			return err
		}

		p.Name = strings.TrimSpace(in.Name)
		p.Price = in.Price
		p.Stock = in.Stock
		p.Description = in.Description
		p.Image = in.Image
		p.UpdatedAt = s.now()
		product = p
		return store.Put(ctx, tx, store.CollectionProducts, p.ID, p)
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// DeleteProduct removes a product owned by the principal
func (s *CatalogService) DeleteProduct(ctx context.Context, principal models.Principal, id string) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.DeleteProduct")
	defer span.End()

	if err := requireDistributor(principal); err != nil {
		return err
	}

	return s.store.Update(ctx, func(tx store.Tx) error {
		if _, err := loadOwnedProduct(ctx, tx, principal, id); err != nil {
			return err
		}
		_, err := tx.Delete(ctx, store.CollectionProducts, id)
		return err
	})
}

// GetProduct returns one product
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct")
	defer span.End()

	product, err := store.GetRecord[models.Product](ctx, s.store, store.CollectionProducts, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "Product not found: %s", id)
	}
	return product, err
}

// ListByOwner returns a distributor's catalog sorted by name
func (s *CatalogService) ListByOwner(ctx context.Context, ownerID string) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListByOwner")
	defer span.End()

	return s.list(ctx, store.Filter{"ownerId": ownerID})
}

// ListAll returns every product sorted by name
func (s *CatalogService) ListAll(ctx context.Context) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListAll")
	defer span.End()

	return s.list(ctx, nil)
}

func (s *CatalogService) list(ctx context.Context, filter store.Filter) ([]models.Product, error) {
	products, err := store.ListRecords[models.Product](ctx, s.store, store.CollectionProducts, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	sort.SliceStable(products, func(i, j int) bool {
		return strings.ToLower(products[i].Name) < strings.ToLower(products[j].Name)
	})
	return products, nil
}

// AdjustStock adds delta to a product's stock in one write unit. A result
// below zero fails with INSUFFICIENT_STOCK and leaves stock unchanged.
func (s *CatalogService) AdjustStock(ctx context.Context, id string, delta int) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.AdjustStock")
	defer span.End()

	var product *models.Product
	err := s.store.Update(ctx, func(tx store.Tx) error {
		p, err := store.Get[models.Product](ctx, tx, store.CollectionProducts, id)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.CodeNotFound, "Product not found: %s", id)
		}
		if err != nil {
			return err
		}
		if err := applyStockDelta(p, delta, s.now()); err != nil {
			return err
		}
		product = p
		return store.Put(ctx, tx, store.CollectionProducts, p.ID, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stock adjusted",
		zap.String("product_id", id),
		zap.Int("delta", delta),
		zap.Int("stock", product.Stock))
	return product, nil
}

// applyStockDelta is the single place stock changes. Stock never goes negative.
func applyStockDelta(p *models.Product, delta int, at time.Time) error {
	if p.Stock+delta < 0 {
		return apperr.New(apperr.CodeInsufficientStock,
			"Insufficient stock for %s. Available: %d, Requested: %d", p.Name, p.Stock, -delta)
	}
	p.Stock += delta
	p.UpdatedAt = at
	return nil
}
