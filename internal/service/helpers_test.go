package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"orderly-service/internal/lock"
	"orderly-service/internal/mailer"
	"orderly-service/internal/models"
	"orderly-service/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, event models.NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

func (n *recordingNotifier) recipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.RecipientUserID)
	}
	return out
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// steppingClock returns strictly increasing times
type steppingClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *steppingClock {
	return &steppingClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	db            *store.BoltBackend
	notifier      *recordingNotifier
	mailer        *recordingMailer
	clock         *steppingClock
	catalog       *CatalogService
	identity      *IdentityService
	orders        *OrderService
	notifications *NotificationService
	invoices      *InvoiceProjector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenBolt(filepath.Join(t.TempDir(), "orderly.db"), store.AllCollections)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:       db,
		notifier: &recordingNotifier{},
		mailer:   &recordingMailer{},
		clock:    newClock(),
	}
	locker := lock.NewLocal()

	f.catalog = NewCatalogService(db)
	f.catalog.now = f.clock.Now
	f.identity = NewIdentityService(db, db, locker, f.notifier)
	f.identity.now = f.clock.Now
	f.orders = NewOrderService(db, locker, f.notifier)
	f.orders.now = f.clock.Now
	f.notifications = NewNotificationService(db, db, f.mailer, "http://localhost:5173")
	f.notifications.now = f.clock.Now
	f.invoices = NewInvoiceProjector(f.orders, db)
	return f
}

func (f *fixture) user(t *testing.T, id string, role models.Role, org string) models.Principal {
	t.Helper()
	u := models.User{
		ID:               id,
		Email:            id + "@example.com",
		Role:             role,
		OrganizationName: org,
	}
	require.NoError(t, store.UpsertRecord(context.Background(), f.db, store.CollectionUsers, id, u))
	return models.Principal{ID: id, Role: role}
}

func (f *fixture) product(t *testing.T, id, owner, name, price string, stock int) {
	t.Helper()
	p := models.Product{
		ID:      id,
		OwnerID: owner,
		Name:    name,
		Price:   decimal.RequireFromString(price),
		Stock:   stock,
	}
	require.NoError(t, store.UpsertRecord(context.Background(), f.db, store.CollectionProducts, id, p))
}

func (f *fixture) stockOf(t *testing.T, id string) int {
	t.Helper()
	p, err := store.GetRecord[models.Product](context.Background(), f.db, store.CollectionProducts, id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) links(t *testing.T, salespersonID string) linkHistory {
	t.Helper()
	var h linkHistory
	require.NoError(t, f.db.View(context.Background(), func(r store.Reader) error {
		var err error
		h, err = loadLinkHistory(context.Background(), r, salespersonID)
		return err
	}))
	return h
}

// confirmedOrder places qty of productID for shop and confirms it
func (f *fixture) confirmedOrder(t *testing.T, shop models.Principal, productID string, qty int) models.Order {
	t.Helper()
	ctx := context.Background()
	orders, err := f.orders.AddItems(ctx, shop, []CartItem{{ProductID: productID, Qty: qty}})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	confirmed, err := f.orders.Confirm(ctx, shop, orders[0].ID)
	require.NoError(t, err)
	return *confirmed
}
