package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderly-service/internal/apperr"
	"orderly-service/internal/models"
	"orderly-service/internal/store"
)

func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "Grain Co")
	shop := f.user(t, "s1", models.RoleShopkeeper, "Corner Shop")
	f.product(t, "rice", "d1", "Rice", "100", 10)

	orders, err := f.orders.AddItems(ctx, shop, []CartItem{{ProductID: "rice", Qty: 2}})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	order := orders[0]
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "Corner Shop", order.ShopName)
	assert.True(t, decimal.NewFromInt(200).Equal(order.Total()), order.Total().String())

	confirmed, err := f.orders.Confirm(ctx, shop, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)
	assert.Equal(t, "d1", confirmed.DistributorID)
	assert.Equal(t, "Grain Co", confirmed.DistributorName)
	assert.NotNil(t, confirmed.ConfirmedAt)

	accepted, err := f.orders.Accept(ctx, d1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAccepted, accepted.Status)
	assert.Equal(t, 8, f.stockOf(t, "rice"))

	placed, err := f.orders.MarkPlaced(ctx, d1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPlaced, placed.Status)

	out, err := f.orders.MarkOutForDelivery(ctx, d1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOutForDelivery, out.Status)

	delivered, err := f.orders.MarkDelivered(ctx, d1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, delivered.Status)
	assert.NotNil(t, delivered.DeliveredAt)

	assert.Equal(t, []string{
		models.NotificationOrderNew,
		models.NotificationOrderAccepted,
		models.NotificationOrderPlaced,
		models.NotificationOrderOutForDelivery,
		models.NotificationOrderDelivered,
	}, f.notifier.types())
	assert.Equal(t, []string{"d1", "s1", "s1", "s1", "s1"}, f.notifier.recipients())
	assert.Equal(t, "200", f.notifier.events[0].Total)
	assert.Equal(t, order.ID, f.notifier.events[4].EntityID)
	assert.Equal(t, string(models.OrderStatusDelivered), f.notifier.events[4].Status)
}

func TestOutOfOrderTransitionFailsAndLeavesStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)
	order := f.confirmedOrder(t, shop, "rice", 1)

	for _, mark := range []func(context.Context, models.Principal, string) (*models.Order, error){
		f.orders.MarkPlaced, f.orders.MarkOutForDelivery, f.orders.MarkDelivered,
	} {
		_, err := mark(ctx, d1, order.ID)
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	}

	_, err := f.orders.Confirm(ctx, shop, order.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	got, err := f.orders.GetOrder(ctx, shop, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
	assert.Equal(t, 10, f.stockOf(t, "rice"))
}

func TestMarkDeliveredTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)
	order := f.confirmedOrder(t, shop, "rice", 1)

	_, err := f.orders.Accept(ctx, d1, order.ID)
	require.NoError(t, err)
	_, err = f.orders.MarkPlaced(ctx, d1, order.ID)
	require.NoError(t, err)
	_, err = f.orders.MarkOutForDelivery(ctx, d1, order.ID)
	require.NoError(t, err)

	first, err := f.orders.MarkDelivered(ctx, d1, order.ID)
	require.NoError(t, err)

	_, err = f.orders.MarkDelivered(ctx, d1, order.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	got, err := f.orders.GetOrder(ctx, d1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, first.DeliveredAt.Equal(*got.DeliveredAt))
}

func TestCartMergeRepricesAtCurrentPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)

	first, err := f.orders.AddItems(ctx, shop, []CartItem{{ProductID: "rice", Qty: 2}})
	require.NoError(t, err)

	price := decimal.NewFromInt(120)
	_, err = f.catalog.UpdateProduct(ctx, d1, "rice", ProductPatch{Price: &price})
	require.NoError(t, err)

	second, err := f.orders.AddItems(ctx, shop, []CartItem{{ProductID: "rice", Qty: 3}})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	require.Len(t, second[0].Items, 1)
	line := second[0].Items[0]
	assert.Equal(t, 5, line.Qty)
	assert.True(t, price.Equal(line.Price), line.Price.String())

	mine, err := f.orders.MyOrders(ctx, shop)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestAddItemsGroupsByDistributor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "d1", models.RoleDistributor, "")
	f.user(t, "d2", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleSalesperson, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)
	f.product(t, "oil", "d2", "Oil", "80", 10)
	f.product(t, "salt", "d1", "Salt", "10", 10)

	orders, err := f.orders.AddItems(ctx, shop, []CartItem{
		{ProductID: "rice", Qty: 1},
		{ProductID: "oil", Qty: 2},
		{ProductID: "salt", Qty: 3},
		{ProductID: "rice", Qty: 1},
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "d1", orders[0].DistributorID)
	require.Len(t, orders[0].Items, 2)
	assert.Equal(t, 2, orders[0].Items[0].Qty)
	assert.Equal(t, "d2", orders[1].DistributorID)
	assert.Equal(t, 2, orders[1].ItemCount())
}

func TestAddItemsValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 0)

	_, err := f.orders.AddItems(ctx, shop, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.orders.AddItems(ctx, shop, []CartItem{{ProductID: "rice", Qty: 0}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.orders.AddItems(ctx, shop, []CartItem{{ProductID: "nope", Qty: 1}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.orders.AddItems(ctx, shop, []CartItem{{ProductID: "rice", Qty: 1}})
	assert.ErrorIs(t, err, apperr.ErrOutOfStock)

	_, err = f.orders.AddItems(ctx, d1, []CartItem{{ProductID: "rice", Qty: 1}})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestConcurrentAcceptsNeverOversell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	shopA := f.user(t, "s1", models.RoleShopkeeper, "")
	shopB := f.user(t, "s2", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 5)

	orderA := f.confirmedOrder(t, shopA, "rice", 3)
	orderB := f.confirmedOrder(t, shopB, "rice", 3)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []string{orderA.ID, orderB.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.orders.Accept(ctx, d1, id)
		}(i, id)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.CodeOf(err) == apperr.CodeInsufficientStock:
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 2, f.stockOf(t, "rice"))
}

func TestConcurrentAcceptSameOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)
	order := f.confirmedOrder(t, shop, "rice", 4)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orders.Accept(ctx, d1, order.ID)
		}(i)
	}
	wg.Wait()

	invalid := 0
	for _, err := range errs {
		if apperr.CodeOf(err) == apperr.CodeInvalidState {
			invalid++
		}
	}
	assert.Equal(t, 1, invalid)
	assert.Equal(t, 6, f.stockOf(t, "rice"))
}

func TestAcceptIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)
	f.product(t, "oil", "d1", "Oil", "80", 1)

	orders, err := f.orders.AddItems(ctx, shop, []CartItem{
		{ProductID: "rice", Qty: 2},
		{ProductID: "oil", Qty: 3},
	})
	require.NoError(t, err)
	_, err = f.orders.Confirm(ctx, shop, orders[0].ID)
	require.NoError(t, err)

	_, err = f.orders.Accept(ctx, d1, orders[0].ID)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	assert.Equal(t, 10, f.stockOf(t, "rice"))
	assert.Equal(t, 1, f.stockOf(t, "oil"))
	got, err := f.orders.GetOrder(ctx, shop, orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
	assert.Nil(t, got.AcceptedAt)
}

func TestConfirmFailsWhenOutOfStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)

	orders, err := f.orders.AddItems(ctx, shop, []CartItem{{ProductID: "rice", Qty: 2}})
	require.NoError(t, err)

	zero := 0
	_, err = f.catalog.UpdateProduct(ctx, d1, "rice", ProductPatch{Stock: &zero})
	require.NoError(t, err)

	_, err = f.orders.Confirm(ctx, shop, orders[0].ID)
	assert.ErrorIs(t, err, apperr.ErrOutOfStock)
	assert.Empty(t, f.notifier.types())
}

func TestCartEditsOnlyWhilePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "d1", models.RoleDistributor, "")
	f.user(t, "d2", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleShopkeeper, "")
	other := f.user(t, "s2", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)
	f.product(t, "salt", "d1", "Salt", "10", 10)
	f.product(t, "oil", "d2", "Oil", "80", 10)

	orders, err := f.orders.AddItems(ctx, shop, []CartItem{{ProductID: "rice", Qty: 2}})
	require.NoError(t, err)
	id := orders[0].ID

	updated, err := f.orders.UpdateItems(ctx, shop, id, []CartItem{{ProductID: "salt", Qty: 4}})
	require.NoError(t, err)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, "Salt", updated.Items[0].Name)

	_, err = f.orders.UpdateItems(ctx, shop, id, []CartItem{{ProductID: "oil", Qty: 1}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.orders.UpdateItems(ctx, shop, id, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.orders.UpdateItems(ctx, other, id, []CartItem{{ProductID: "salt", Qty: 1}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.orders.Confirm(ctx, shop, id)
	require.NoError(t, err)

	_, err = f.orders.UpdateItems(ctx, shop, id, []CartItem{{ProductID: "salt", Qty: 1}})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.ErrorIs(t, f.orders.RemoveOrder(ctx, shop, id), apperr.ErrInvalidState)

	fresh, err := f.orders.AddItems(ctx, shop, []CartItem{{ProductID: "rice", Qty: 1}})
	require.NoError(t, err)
	assert.NotEqual(t, id, fresh[0].ID)
	require.NoError(t, f.orders.RemoveOrder(ctx, shop, fresh[0].ID))

	_, err = store.GetRecord[models.Order](ctx, f.db, store.CollectionOrders, fresh[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDistributorCommandGates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "d1", models.RoleDistributor, "")
	d2 := f.user(t, "d2", models.RoleDistributor, "")
	shop := f.user(t, "s1", models.RoleShopkeeper, "")
	f.product(t, "rice", "d1", "Rice", "100", 10)
	order := f.confirmedOrder(t, shop, "rice", 1)

	_, err := f.orders.Accept(ctx, shop, order.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.orders.Accept(ctx, d2, order.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.orders.Accept(ctx, models.Principal{ID: "d1", Role: models.RoleDistributor}, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDistributorOrdersQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "")
	alpha := f.user(t, "s1", models.RoleShopkeeper, "Alpha Mart")
	beta := f.user(t, "s2", models.RoleShopkeeper, "Beta Store")
	f.product(t, "rice", "d1", "Rice", "100", 100)

	first := f.confirmedOrder(t, alpha, "rice", 1)
	second := f.confirmedOrder(t, beta, "rice", 1)
	third := f.confirmedOrder(t, alpha, "rice", 1)
	_, err := f.orders.Accept(ctx, d1, third.ID)
	require.NoError(t, err)

	// a cart is never listed for the distributor
	_, err = f.orders.AddItems(ctx, beta, []CartItem{{ProductID: "rice", Qty: 1}})
	require.NoError(t, err)

	page, err := f.orders.DistributorOrders(ctx, d1, DistributorOrderQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Orders, 3)
	assert.Equal(t, third.ID, page.Orders[0].ID)

	page, err = f.orders.DistributorOrders(ctx, d1, DistributorOrderQuery{Status: "CONFIRMED", Sort: "createdAt_asc"})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, first.ID, page.Orders[0].ID)
	assert.Equal(t, second.ID, page.Orders[1].ID)

	page, err = f.orders.DistributorOrders(ctx, d1, DistributorOrderQuery{Q: "beta"})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, second.ID, page.Orders[0].ID)

	limit, offset := 1, 1
	page, err = f.orders.DistributorOrders(ctx, d1, DistributorOrderQuery{Limit: &limit, Offset: &offset})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, second.ID, page.Orders[0].ID)

	_, err = f.orders.DistributorOrders(ctx, alpha, DistributorOrderQuery{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
