package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orderly-service/internal/apperr"
	"orderly-service/internal/lock"
	"orderly-service/internal/models"
	"orderly-service/internal/store"
	"orderly-service/internal/util"
)

// OrderService runs the order lifecycle. Every transition is one write unit
// on the primary store, serialized per order by the locker.
type OrderService struct {
	store    store.Store
	locker   lock.Locker
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(s store.Store, locker lock.Locker, notifier Notifier) *OrderService {
	return &OrderService{
		store:    s,
		locker:   locker,
		notifier: notifier,
		logger:   util.GetLogger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CartItem is one requested line
type CartItem struct {
	ProductID string `json:"productId" binding:"required"`
	Qty       int    `json:"qty" binding:"required"`
}

// DistributorOrderQuery filters a distributor's order list
type DistributorOrderQuery struct {
	Status string
	Q      string
	Sort   string
	Limit  *int
	Offset *int
}

// OrderPage is one page of a filtered order list
type OrderPage struct {
	Total  int            `json:"total"`
	Orders []models.Order `json:"orders"`
}

const defaultPageSize = 20

func (s *OrderService) rejected(op string, err error) error {
	util.OrderRejectionsTotal.WithLabelValues(op, string(apperr.CodeOf(err))).Inc()
	return err
}

func (s *OrderService) lockOrder(ctx context.Context, orderID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, lock.Key("order", orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return unlock, nil
}

func requireOrderPlacer(principal models.Principal) error {
	if !principal.CanPlaceOrders() {
		return apperr.New(apperr.CodeForbidden, "Only shopkeepers and salespersons can place orders")
	}
	return nil
}

func orderNotFound(id string) error {
	return apperr.New(apperr.CodeNotFound, "Order not found: %s", id)
}

// normalizeItems validates quantities and merges duplicate product lines,
// keeping first-seen order
func normalizeItems(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "items array required")
	}
	index := make(map[string]int)
	out := make([]CartItem, 0, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, apperr.New(apperr.CodeInvalidInput, "productId required")
		}
		if it.Qty <= 0 {
			return nil, apperr.New(apperr.CodeInvalidInput, "qty must be positive for product %s", it.ProductID)
		}
		if i, ok := index[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// loadProducts reads every product id in sorted order so row locks are
// always taken in the same order
func loadProducts(ctx context.Context, r store.Reader, ids []string) (map[string]*models.Product, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	products := make(map[string]*models.Product, len(sorted))
	for _, id := range sorted {
		if _, ok := products[id]; ok {
			continue
		}
		p, err := store.Get[models.Product](ctx, r, store.CollectionProducts, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "Product not found: %s", id)
		}
		if err != nil {
			return nil, err
		}
		products[id] = p
	}
	return products, nil
}

func snapshotItem(p *models.Product, qty int) models.OrderItem {
	return models.OrderItem{
		ProductID:   p.ID,
		Name:        p.Name,
		Price:       p.Price,
		Qty:         qty,
		Description: p.Description,
		Image:       p.Image,
	}
}

func itemProductIDs(items []models.OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

// AddItems puts items into the principal's carts. Items are grouped by the
// distributor owning each product; each group merges into the pending order
// for that distributor (summing quantities and re-pricing every line at the
// current price) or starts a new pending order.
func (s *OrderService) AddItems(ctx context.Context, principal models.Principal, items []CartItem) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AddItems")
	defer span.End()

	if err := requireOrderPlacer(principal); err != nil {
		return nil, s.rejected("add_items", err)
	}
	items, err := normalizeItems(items)
	if err != nil {
		return nil, s.rejected("add_items", err)
	}

	unlock, err := s.locker.Lock(ctx, lock.Key("cart", principal.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}
	defer unlock()

	var touched []models.Order
	err = s.store.Update(ctx, func(tx store.Tx) error {
		touched = nil
		now := s.now()

		ids := make([]string, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ProductID)
		}
		products, err := loadProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		var owners []string
		groups := make(map[string][]CartItem)
		for _, it := range items {
			p := products[it.ProductID]
			if p.Stock <= 0 {
				return apperr.New(apperr.CodeOutOfStock, "%s is out of stock", p.Name)
			}
			if _, ok := groups[p.OwnerID]; !ok {
				owners = append(owners, p.OwnerID)
			}
			groups[p.OwnerID] = append(groups[p.OwnerID], it)
		}

		shopName := principal.ID
		if user, err := store.Get[models.User](ctx, tx, store.CollectionUsers, principal.ID); err == nil {
			shopName = user.DisplayName()
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		for _, owner := range owners {
			order, err := s.mergeIntoCart(ctx, tx, principal.ID, owner, shopName, groups[owner], products, now)
			if err != nil {
				return err
			}
			touched = append(touched, *order)
		}
		return nil
	})
	if err != nil {
		return nil, s.rejected("add_items", err)
	}

	for _, o := range touched {
		s.logger.Info("Cart updated",
			zap.String("order_id", o.ID),
			zap.String("user_id", o.UserID),
			zap.String("distributor_id", o.DistributorID),
			zap.Int("lines", len(o.Items)))
	}
	return touched, nil
}

func (s *OrderService) mergeIntoCart(ctx context.Context, tx store.Tx, userID, distributorID, shopName string,
	items []CartItem, products map[string]*models.Product, now time.Time) (*models.Order, error) {

	carts, err := store.Find[models.Order](ctx, tx, store.CollectionOrders, store.Filter{
		"userId":        userID,
		"distributorId": distributorID,
		"status":        string(models.OrderStatusPending),
	})
	if err != nil {
		return nil, err
	}

	if len(carts) == 0 {
		order := &models.Order{
			ID:              uuid.New().String(),
			UserID:          userID,
			DistributorID:   distributorID,
			DistributorName: displayName(ctx, tx, distributorID),
			ShopName:        shopName,
			Status:          models.OrderStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		for _, it := range items {
			order.Items = append(order.Items, snapshotItem(products[it.ProductID], it.Qty))
		}
		return order, store.Put(ctx, tx, store.CollectionOrders, order.ID, order)
	}

	sort.SliceStable(carts, func(i, j int) bool { return carts[i].CreatedAt.Before(carts[j].CreatedAt) })
	order := &carts[0]

	index := make(map[string]int, len(order.Items))
	for i, line := range order.Items {
		index[line.ProductID] = i
	}
	for _, it := range items {
		if i, ok := index[it.ProductID]; ok {
			order.Items[i].Qty += it.Qty
			continue
		}
		index[it.ProductID] = len(order.Items)
		order.Items = append(order.Items, snapshotItem(products[it.ProductID], it.Qty))
	}

	// re-price every line at the current catalog price
	current, err := loadExisting(ctx, tx, itemProductIDs(order.Items), products)
	if err != nil {
		return nil, err
	}
	for i, line := range order.Items {
		if p, ok := current[line.ProductID]; ok {
			order.Items[i] = snapshotItem(p, line.Qty)
		}
	}

	order.UpdatedAt = now
	return order, store.Put(ctx, tx, store.CollectionOrders, order.ID, order)
}

// loadExisting extends known with the products in ids that still exist
func loadExisting(ctx context.Context, r store.Reader, ids []string, known map[string]*models.Product) (map[string]*models.Product, error) {
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := known[id]; ok {
			continue
		}
		p, err := store.Get[models.Product](ctx, r, store.CollectionProducts, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		known[id] = p
	}
	return known, nil
}

// loadOwnOrder reads an order inside tx for a command by its placer
func loadOwnOrder(ctx context.Context, tx store.Tx, principal models.Principal, orderID string) (*models.Order, error) {
	order, err := store.Get[models.Order](ctx, tx, store.CollectionOrders, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, orderNotFound(orderID)
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != principal.ID {
		return nil, orderNotFound(orderID)
	}
	return order, nil
}

// loadDistributorOrder reads an order inside tx for a command by its
// distributor. Status is left to the caller's transition check.
func loadDistributorOrder(ctx context.Context, tx store.Tx, principal models.Principal, orderID string) (*models.Order, error) {
	order, err := store.Get[models.Order](ctx, tx, store.CollectionOrders, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, orderNotFound(orderID)
	}
	if err != nil {
		return nil, err
	}
	if order.DistributorID != principal.ID {
		return nil, orderNotFound(orderID)
	}
	return order, nil
}

func invalidTransition(order *models.Order, to models.OrderStatus) error {
	from, _ := to.Previous()
	return apperr.New(apperr.CodeInvalidState,
		"Cannot move order %s to %s: status is %s, expected %s", order.ID, to, order.Status, from)
}

// UpdateItems replaces the lines of a pending order, taking fresh name and
// price snapshots. Every product must belong to the order's distributor.
func (s *OrderService) UpdateItems(ctx context.Context, principal models.Principal, orderID string, items []CartItem) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateItems")
	defer span.End()

	if err := requireOrderPlacer(principal); err != nil {
		return nil, s.rejected("update_items", err)
	}

	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var updated models.Order
	err = s.store.Update(ctx, func(tx store.Tx) error {
		order, err := loadOwnOrder(ctx, tx, principal, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return apperr.New(apperr.CodeInvalidState, "Only pending orders can be edited")
		}

		lines, err := normalizeItems(items)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(lines))
		for _, it := range lines {
			ids = append(ids, it.ProductID)
		}
		products, err := loadProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		order.Items = order.Items[:0]
		for _, it := range lines {
			p := products[it.ProductID]
			if p.OwnerID != order.DistributorID {
				return apperr.New(apperr.CodeInvalidInput, "Product %s belongs to another distributor", p.ID)
			}
			order.Items = append(order.Items, snapshotItem(p, it.Qty))
		}
		order.UpdatedAt = s.now()
		updated = *order
		return store.Put(ctx, tx, store.CollectionOrders, order.ID, order)
	})
	if err != nil {
		return nil, s.rejected("update_items", err)
	}

	s.logger.Info("Cart order edited", zap.String("order_id", orderID), zap.Int("lines", len(updated.Items)))
	return &updated, nil
}

// RemoveOrder deletes a pending order
func (s *OrderService) RemoveOrder(ctx context.Context, principal models.Principal, orderID string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.RemoveOrder")
	defer span.End()

	if err := requireOrderPlacer(principal); err != nil {
		return s.rejected("remove", err)
	}

	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.store.Update(ctx, func(tx store.Tx) error {
		order, err := loadOwnOrder(ctx, tx, principal, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return apperr.New(apperr.CodeInvalidState, "Only pending orders can be removed")
		}
		_, err = tx.Delete(ctx, store.CollectionOrders, orderID)
		return err
	})
	if err != nil {
		return s.rejected("remove", err)
	}

	s.logger.Info("Cart order removed", zap.String("order_id", orderID))
	return nil
}

// Confirm sends a pending order to its distributor. Every product must still
// be in stock. The distributor is resolved from the first line's product.
func (s *OrderService) Confirm(ctx context.Context, principal models.Principal, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Confirm")
	defer span.End()

	if err := requireOrderPlacer(principal); err != nil {
		return nil, s.rejected("confirm", err)
	}

	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var confirmed models.Order
	err = s.store.Update(ctx, func(tx store.Tx) error {
		order, err := loadOwnOrder(ctx, tx, principal, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransition(models.OrderStatusConfirmed) {
			return invalidTransition(order, models.OrderStatusConfirmed)
		}
		if len(order.Items) == 0 {
			return apperr.New(apperr.CodeInvalidState, "Order has no items")
		}

		products, err := loadProducts(ctx, tx, itemProductIDs(order.Items))
		if err != nil {
			return err
		}
		for _, item := range order.Items {
			if p := products[item.ProductID]; p.Stock <= 0 {
				return apperr.New(apperr.CodeOutOfStock, "%s is out of stock", p.Name)
			}
		}

		order.DistributorID = products[order.Items[0].ProductID].OwnerID
		order.DistributorName = displayName(ctx, tx, order.DistributorID)
		order.SetStatus(models.OrderStatusConfirmed, s.now())
		confirmed = *order
		return store.Put(ctx, tx, store.CollectionOrders, order.ID, order)
	})
	if err != nil {
		return nil, s.rejected("confirm", err)
	}

	s.applied(&confirmed)
	s.notifier.Notify(ctx, orderEvent(&confirmed, confirmed.DistributorID, models.NotificationOrderNew,
		"New order received",
		fmt.Sprintf("New order %s from %s", confirmed.ID, confirmed.ShopName),
		confirmed.ShopName))
	return &confirmed, nil
}

// Accept takes a confirmed order. The stock check, every decrement and the
// status change commit together or not at all.
func (s *OrderService) Accept(ctx context.Context, principal models.Principal, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Accept")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderAcceptLatency.Observe(time.Since(start).Seconds())
	}()

	if err := requireDistributor(principal); err != nil {
		return nil, s.rejected("accept", err)
	}

	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var accepted models.Order
	err = s.store.Update(ctx, func(tx store.Tx) error {
		order, err := loadDistributorOrder(ctx, tx, principal, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransition(models.OrderStatusAccepted) {
			return invalidTransition(order, models.OrderStatusAccepted)
		}

		need := make(map[string]int)
		for _, item := range order.Items {
			need[item.ProductID] += item.Qty
		}
		products, err := loadProducts(ctx, tx, itemProductIDs(order.Items))
		if err != nil {
			return err
		}

		now := s.now()
		ids := make([]string, 0, len(need))
		for id := range need {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			if err := applyStockDelta(products[id], -need[id], now); err != nil {
				return err
			}
		}
		for _, id := range ids {
			if err := store.Put(ctx, tx, store.CollectionProducts, id, products[id]); err != nil {
				return err
			}
		}

		order.SetStatus(models.OrderStatusAccepted, now)
		accepted = *order
		return store.Put(ctx, tx, store.CollectionOrders, order.ID, order)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientStock) {
			util.StockConflictsTotal.Inc()
		}
		return nil, s.rejected("accept", err)
	}

	s.applied(&accepted)
	s.notifier.Notify(ctx, orderEvent(&accepted, accepted.UserID, models.NotificationOrderAccepted,
		"Order accepted",
		fmt.Sprintf("%s accepted your order %s", accepted.DistributorName, accepted.ID),
		accepted.DistributorName))
	return &accepted, nil
}

// MarkPlaced moves an accepted order to placed
func (s *OrderService) MarkPlaced(ctx context.Context, principal models.Principal, orderID string) (*models.Order, error) {
	return s.advance(ctx, principal, orderID, models.OrderStatusPlaced,
		models.NotificationOrderPlaced, "Order placed", "Your order %s has been confirmed and placed")
}

// MarkOutForDelivery moves a placed order to out_for_delivery
func (s *OrderService) MarkOutForDelivery(ctx context.Context, principal models.Principal, orderID string) (*models.Order, error) {
	return s.advance(ctx, principal, orderID, models.OrderStatusOutForDelivery,
		models.NotificationOrderOutForDelivery, "Order out for delivery", "Your order %s is out for delivery")
}

// MarkDelivered moves an out_for_delivery order to delivered
func (s *OrderService) MarkDelivered(ctx context.Context, principal models.Principal, orderID string) (*models.Order, error) {
	return s.advance(ctx, principal, orderID, models.OrderStatusDelivered,
		models.NotificationOrderDelivered, "Order delivered", "Your order %s has been delivered")
}

func (s *OrderService) advance(ctx context.Context, principal models.Principal, orderID string,
	to models.OrderStatus, notifType, title, messageFmt string) (*models.Order, error) {

	ctx, span := util.StartSpan(ctx, "OrderService.advance")
	defer span.End()

	op := "mark_" + string(to)
	if err := requireDistributor(principal); err != nil {
		return nil, s.rejected(op, err)
	}

	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var updated models.Order
	err = s.store.Update(ctx, func(tx store.Tx) error {
		order, err := loadDistributorOrder(ctx, tx, principal, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransition(to) {
			return invalidTransition(order, to)
		}
		order.SetStatus(to, s.now())
		updated = *order
		return store.Put(ctx, tx, store.CollectionOrders, order.ID, order)
	})
	if err != nil {
		return nil, s.rejected(op, err)
	}

	s.applied(&updated)
	s.notifier.Notify(ctx, orderEvent(&updated, updated.UserID, notifType, title,
		fmt.Sprintf(messageFmt, updated.ID), updated.DistributorName))
	return &updated, nil
}

func (s *OrderService) applied(order *models.Order) {
	util.OrderTransitionsTotal.WithLabelValues(string(order.Status)).Inc()
	s.logger.Info("Order status changed",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("distributor_id", order.DistributorID))
}

func orderEvent(order *models.Order, recipient, notifType, title, message, actor string) models.NotificationEvent {
	return models.NotificationEvent{
		EntityKind:      models.EntityOrder,
		EntityID:        order.ID,
		Status:          string(order.Status),
		RecipientUserID: recipient,
		Type:            notifType,
		Title:           title,
		Message:         message,
		ShopName:        order.ShopName,
		ActorName:       actor,
		Items:           models.ItemData(order.Items),
		Total:           order.Total().String(),
	}
}

// GetOrder returns an order visible to the principal: its placer, or its
// distributor once confirmed
func (s *OrderService) GetOrder(ctx context.Context, principal models.Principal, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := store.GetRecord[models.Order](ctx, s.store, store.CollectionOrders, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, orderNotFound(orderID)
	}
	if err != nil {
		return nil, err
	}
	if !visibleTo(order, principal) {
		return nil, orderNotFound(orderID)
	}
	return order, nil
}

func visibleTo(order *models.Order, principal models.Principal) bool {
	if order.UserID == principal.ID {
		return true
	}
	return principal.Role == models.RoleDistributor &&
		order.DistributorID == principal.ID &&
		order.Status != models.OrderStatusPending
}

// MyOrders lists the principal's orders, newest first
func (s *OrderService) MyOrders(ctx context.Context, principal models.Principal) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MyOrders")
	defer span.End()

	orders, err := store.ListRecords[models.Order](ctx, s.store, store.CollectionOrders,
		store.Filter{"userId": principal.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	sortByCreated(orders, true)
	return orders, nil
}

// DistributorOrders lists the confirmed-onward orders addressed to the
// principal with optional status filter, search, sort and paging
func (s *OrderService) DistributorOrders(ctx context.Context, principal models.Principal, q DistributorOrderQuery) (*OrderPage, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.DistributorOrders")
	defer span.End()

	if err := requireDistributor(principal); err != nil {
		return nil, err
	}

	all, err := store.ListRecords[models.Order](ctx, s.store, store.CollectionOrders,
		store.Filter{"distributorId": principal.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list distributor orders: %w", err)
	}

	status := strings.ToLower(strings.TrimSpace(q.Status))
	needle := strings.ToLower(strings.TrimSpace(q.Q))
	orders := make([]models.Order, 0, len(all))
	for _, o := range all {
		if o.Status == models.OrderStatusPending {
			continue
		}
		if status != "" && string(o.Status) != status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(o.ID), needle) &&
			!strings.Contains(strings.ToLower(o.ShopName), needle) {
			continue
		}
		orders = append(orders, o)
	}

	sortByCreated(orders, q.Sort != "createdAt_asc")

	page := &OrderPage{Total: len(orders), Orders: orders}
	if q.Limit != nil || q.Offset != nil {
		limit, offset := defaultPageSize, 0
		if q.Limit != nil && *q.Limit >= 0 {
			limit = *q.Limit
		}
		if q.Offset != nil && *q.Offset > 0 {
			offset = *q.Offset
		}
		if offset > len(orders) {
			offset = len(orders)
		}
		end := offset + limit
		if end > len(orders) {
			end = len(orders)
		}
		page.Orders = orders[offset:end]
	}
	return page, nil
}

func sortByCreated(orders []models.Order, desc bool) {
	sort.SliceStable(orders, func(i, j int) bool {
		if desc {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}
