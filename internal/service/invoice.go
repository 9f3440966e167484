package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orderly-service/internal/models"
	"orderly-service/internal/store"
	"orderly-service/internal/util"
)

// Party is one side of an invoice
type Party struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// InvoiceLine is a rendering-ready order line
type InvoiceLine struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Qty         int             `json:"qty"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// Invoice is a snapshot of an order and its parties
type Invoice struct {
	OrderID     string             `json:"orderId"`
	Status      models.OrderStatus `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
	AcceptedAt  *time.Time         `json:"acceptedAt,omitempty"`
	DeliveredAt *time.Time         `json:"deliveredAt,omitempty"`
	Shop        Party              `json:"shop"`
	Distributor Party              `json:"distributor"`
	Lines       []InvoiceLine      `json:"lines"`
	Total       decimal.Decimal    `json:"total"`
}

// InvoiceProjector builds invoices from stored orders
type InvoiceProjector struct {
	orders *OrderService
	store  store.Store
}

// NewInvoiceProjector creates a projector reading through the order service
func NewInvoiceProjector(orders *OrderService, s store.Store) *InvoiceProjector {
	return &InvoiceProjector{orders: orders, store: s}
}

// InvoiceFor projects the invoice of an order visible to the principal
func (p *InvoiceProjector) InvoiceFor(ctx context.Context, principal models.Principal, orderID string) (*Invoice, error) {
	ctx, span := util.StartSpan(ctx, "InvoiceProjector.InvoiceFor")
	defer span.End()

	order, err := p.orders.GetOrder(ctx, principal, orderID)
	if err != nil {
		return nil, err
	}

	var shop, distributor *models.User
	products := make(map[string]*models.Product)
	err = p.store.View(ctx, func(r store.Reader) error {
		var err error
		if shop, err = optional[models.User](store.Get[models.User](ctx, r, store.CollectionUsers, order.UserID)); err != nil {
			return err
		}
		if distributor, err = optional[models.User](store.Get[models.User](ctx, r, store.CollectionUsers, order.DistributorID)); err != nil {
			return err
		}
		for _, item := range order.Items {
			if item.Name != "" && item.Description != "" {
				continue
			}
			prod, err := optional[models.Product](store.Get[models.Product](ctx, r, store.CollectionProducts, item.ProductID))
			if err != nil {
				return err
			}
			if prod != nil {
				products[item.ProductID] = prod
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice parties: %w", err)
	}

	return ProjectInvoice(order, shop, distributor, products), nil
}

// ProjectInvoice builds an invoice. Missing name and description snapshots
// are back-filled from products. Prices always come from the order lines, so
// the invoice total equals the order total.
func ProjectInvoice(order *models.Order, shop, distributor *models.User, products map[string]*models.Product) *Invoice {
	inv := &Invoice{
		OrderID:     order.ID,
		Status:      order.Status,
		CreatedAt:   order.CreatedAt,
		AcceptedAt:  order.AcceptedAt,
		DeliveredAt: order.DeliveredAt,
		Shop:        party(order.UserID, order.ShopName, shop),
		Distributor: party(order.DistributorID, order.DistributorName, distributor),
		Lines:       make([]InvoiceLine, 0, len(order.Items)),
		Total:       decimal.Zero,
	}

	for _, item := range order.Items {
		line := InvoiceLine{
			ProductID:   item.ProductID,
			Name:        item.Name,
			Description: item.Description,
			Price:       item.Price,
			Qty:         item.Qty,
		}
		if prod, ok := products[item.ProductID]; ok {
			if line.Name == "" {
				line.Name = prod.Name
			}
			if line.Description == "" {
				line.Description = prod.Description
			}
		}
		if line.Name == "" {
			line.Name = item.ProductID
		}
		line.LineTotal = line.Price.Mul(decimal.NewFromInt(int64(line.Qty)))
		inv.Total = inv.Total.Add(line.LineTotal)
		inv.Lines = append(inv.Lines, line)
	}
	return inv
}

// optional turns a missing record into nil
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func party(id, fallbackName string, u *models.User) Party {
	p := Party{ID: id, Name: fallbackName}
	if u == nil {
		if p.Name == "" {
			p.Name = id
		}
		return p
	}
	p.Name = u.DisplayName()
	p.Email = u.Email
	p.Phone = u.Phone
	p.Address = u.Address
	return p
}
