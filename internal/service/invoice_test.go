package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderly-service/internal/apperr"
	"orderly-service/internal/models"
	"orderly-service/internal/store"
)

func TestProjectInvoiceBackfillsLines(t *testing.T) {
	order := &models.Order{
		ID:            "o1",
		UserID:        "s1",
		DistributorID: "d1",
		ShopName:      "Corner Shop",
		Status:        models.OrderStatusDelivered,
		CreatedAt:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Items: []models.OrderItem{
			{ProductID: "rice", Name: "Rice", Price: decimal.NewFromInt(100), Qty: 2},
			{ProductID: "oil", Qty: 1},
			{ProductID: "gone", Qty: 3},
		},
	}
	products := map[string]*models.Product{
		"rice": {ID: "rice", Name: "Rice Now", Price: decimal.NewFromInt(150), Description: "Long grain"},
		"oil":  {ID: "oil", Name: "Sunflower Oil", Price: decimal.NewFromInt(80), Description: "1L"},
	}
	distributor := &models.User{ID: "d1", Email: "d1@example.com", OrganizationName: "Grain Co"}

	inv := ProjectInvoice(order, nil, distributor, products)

	require.Len(t, inv.Lines, 3)
	assert.Equal(t, "Rice", inv.Lines[0].Name)
	assert.True(t, decimal.NewFromInt(100).Equal(inv.Lines[0].Price))
	assert.Equal(t, "Long grain", inv.Lines[0].Description)

	assert.Equal(t, "Sunflower Oil", inv.Lines[1].Name)
	assert.Equal(t, "1L", inv.Lines[1].Description)
	assert.True(t, inv.Lines[1].Price.IsZero())

	assert.Equal(t, "gone", inv.Lines[2].Name)
	assert.True(t, inv.Lines[2].Price.IsZero())

	assert.True(t, decimal.NewFromInt(200).Equal(inv.Total), inv.Total.String())
	assert.True(t, order.Total().Equal(inv.Total))
	assert.Equal(t, "Corner Shop", inv.Shop.Name)
	assert.Equal(t, "Grain Co", inv.Distributor.Name)
	assert.Equal(t, "d1@example.com", inv.Distributor.Email)
}

func TestInvoiceForRespectsVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "Grain Co")
	shop := f.user(t, "s1", models.RoleShopkeeper, "Corner Shop")
	stranger := f.user(t, "s2", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)
	order := f.confirmedOrder(t, shop, "rice", 2)

	inv, err := f.invoices.InvoiceFor(ctx, shop, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, inv.OrderID)
	assert.Equal(t, "Grain Co", inv.Distributor.Name)
	assert.True(t, decimal.NewFromInt(200).Equal(inv.Total))

	_, err = f.invoices.InvoiceFor(ctx, d1, order.ID)
	require.NoError(t, err)

	_, err = f.invoices.InvoiceFor(ctx, stranger, order.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestInvoiceKeepsZeroPriceSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "d1", models.RoleDistributor, "Grain Co")
	shop := f.user(t, "s1", models.RoleShopkeeper, "Corner Shop")
	f.product(t, "sample", "d1", "Sample Pack", "0", 10)
	order := f.confirmedOrder(t, shop, "sample", 2)

	sample, err := store.GetRecord[models.Product](ctx, f.db, store.CollectionProducts, "sample")
	require.NoError(t, err)
	sample.Price = decimal.NewFromInt(50)
	require.NoError(t, store.UpsertRecord(ctx, f.db, store.CollectionProducts, sample.ID, sample))

	inv, err := f.invoices.InvoiceFor(ctx, shop, order.ID)
	require.NoError(t, err)
	require.Len(t, inv.Lines, 1)
	assert.True(t, inv.Lines[0].Price.IsZero(), inv.Lines[0].Price.String())
	assert.True(t, inv.Total.IsZero(), inv.Total.String())
	assert.True(t, order.Total().Equal(inv.Total))
}

// unavailableReader fails every read of one collection
type unavailableReader struct {
	store.Reader
	collection string
}

func (r unavailableReader) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if collection == r.collection {
		return nil, apperr.Wrap(apperr.CodeStoreUnavailable, errors.New("dial tcp"), "remote store unavailable")
	}
	return r.Reader.Get(ctx, collection, id)
}

// flakyBackend serves one collection as unavailable
type flakyBackend struct {
	*store.BoltBackend
	collection string
}

func (b flakyBackend) View(ctx context.Context, fn func(store.Reader) error) error {
	return b.BoltBackend.View(ctx, func(r store.Reader) error {
		return fn(unavailableReader{Reader: r, collection: b.collection})
	})
}

func TestInvoiceSurfacesStoreErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "d1", models.RoleDistributor, "Grain Co")
	shop := f.user(t, "s1", models.RoleShopkeeper, "Corner Shop")
	f.product(t, "rice", "d1", "Rice", "100", 10)
	order := f.confirmedOrder(t, shop, "rice", 1)

	flaky := flakyBackend{BoltBackend: f.db, collection: store.CollectionUsers}
	_, err := NewInvoiceProjector(f.orders, flaky).InvoiceFor(ctx, shop, order.ID)
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)

	// through the accessor the read falls back to the local copy
	accessor := store.NewAccessor(f.db, flaky, zap.NewNop())
	inv, err := NewInvoiceProjector(f.orders, accessor.Primary()).InvoiceFor(ctx, shop, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grain Co", inv.Distributor.Name)
	assert.Equal(t, "Corner Shop", inv.Shop.Name)
}
