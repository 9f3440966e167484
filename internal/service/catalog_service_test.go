package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderly-service/internal/apperr"
	"orderly-service/internal/models"
)

func TestCreateAndListProducts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	d2 := f.user(t, "d2", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleShopkeeper, "")

	_, err := f.catalog.CreateProduct(ctx, shop, ProductInput{Name: "Rice"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.catalog.CreateProduct(ctx, d1, ProductInput{Name: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.catalog.CreateProduct(ctx, d1, ProductInput{Name: "Oil", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	rice, err := f.catalog.CreateProduct(ctx, d1, ProductInput{Name: "Rice", Price: decimal.NewFromInt(100), Stock: 10})
	require.NoError(t, err)
	assert.Equal(t, "d1", rice.OwnerID)
	assert.NotEmpty(t, rice.ID)

	_, err = f.catalog.CreateProduct(ctx, d1, ProductInput{Name: "Beans", Price: decimal.NewFromInt(50), Stock: 5})
	require.NoError(t, err)
	_, err = f.catalog.CreateProduct(ctx, d2, ProductInput{Name: "Atta", Price: decimal.NewFromInt(40), Stock: 5})
	require.NoError(t, err)

	mine, err := f.catalog.ListByOwner(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "Beans", mine[0].Name)
	assert.Equal(t, "Rice", mine[1].Name)

	all, err := f.catalog.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Atta", all[0].Name)

	got, err := f.catalog.GetProduct(ctx, rice.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(got.Price))

	_, err = f.catalog.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBulkCreateSkipsInvalidRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")

	result, err := f.catalog.BulkCreate(ctx, d1, []ProductInput{
		{Name: "Rice", Price: decimal.NewFromInt(100), Stock: 10},
		{Name: "", Price: decimal.NewFromInt(5)},
		{Name: "Salt", Price: decimal.NewFromInt(10), Stock: -1},
		{Name: "Oil", Price: decimal.NewFromInt(80), Stock: 3},
	})
	require.NoError(t, err)
	assert.Len(t, result.Created, 2)
	require.Len(t, result.Skipped, 2)
	assert.Equal(t, 1, result.Skipped[0].Row)
	assert.Equal(t, 2, result.Skipped[1].Row)

	listed, err := f.catalog.ListByOwner(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestUpdateAndDeleteOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	d2 := f.user(t, "d2", models.RoleDistributor, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)

	name := "Basmati Rice"
	_, err := f.catalog.UpdateProduct(ctx, d2, "rice", ProductPatch{Name: &name})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	negative := -3
	_, err = f.catalog.UpdateProduct(ctx, d1, "rice", ProductPatch{Stock: &negative})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	updated, err := f.catalog.UpdateProduct(ctx, d1, "rice", ProductPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, 10, updated.Stock)

	assert.ErrorIs(t, f.catalog.DeleteProduct(ctx, d2, "rice"), apperr.ErrNotFound)
	require.NoError(t, f.catalog.DeleteProduct(ctx, d1, "rice"))
	_, err = f.catalog.GetProduct(ctx, "rice")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAdjustStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "rice", "d1", "Rice", "100", 3)

	p, err := f.catalog.AdjustStock(ctx, "rice", 4)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)

	p, err = f.catalog.AdjustStock(ctx, "rice", -7)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)

	_, err = f.catalog.AdjustStock(ctx, "rice", -1)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 0, f.stockOf(t, "rice"))

	_, err = f.catalog.AdjustStock(ctx, "missing", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
