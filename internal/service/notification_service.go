package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orderly-service/internal/apperr"
	"orderly-service/internal/mailer"
	"orderly-service/internal/models"
	"orderly-service/internal/store"
	"orderly-service/internal/util"
)

// Notifier receives one event per applied state transition. Notify never
// returns an error and must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, event models.NotificationEvent)
}

// NotificationQueue hands events to an asynchronous delivery path
type NotificationQueue interface {
	Enqueue(ctx context.Context, event models.NotificationEvent) error
}

// Deliverer performs the side effects of one event
type Deliverer interface {
	Deliver(ctx context.Context, event models.NotificationEvent)
}

// Dispatcher is the Notifier used by the services. It stamps events and
// enqueues them, logging any enqueue failure.
type Dispatcher struct {
	queue  NotificationQueue
	logger *zap.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher over queue
func NewDispatcher(queue NotificationQueue) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		logger: util.GetLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Notify enqueues event
func (d *Dispatcher) Notify(ctx context.Context, event models.NotificationEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.now()
	}

	if err := d.queue.Enqueue(ctx, event); err != nil {
		util.NotificationFailuresTotal.WithLabelValues("enqueue").Inc()
		d.logger.Error("Failed to enqueue notification",
			zap.String("type", event.Type),
			zap.String("entity_id", event.EntityID),
			zap.String("recipient", event.RecipientUserID),
			zap.Error(err))
		return
	}
	util.NotificationsEnqueuedTotal.WithLabelValues(event.Type).Inc()
}

// NotificationService owns the inbox and delivers notification events
type NotificationService struct {
	inbox       store.Store
	users       store.Store
	mailer      mailer.Mailer
	frontendURL string
	logger      *zap.Logger
	now         func() time.Time
}

// NewNotificationService creates a notification service. inbox holds the
// notifications collection, users is read for recipient addresses.
func NewNotificationService(inbox, users store.Store, m mailer.Mailer, frontendURL string) *NotificationService {
	return &NotificationService{
		inbox:       inbox,
		users:       users,
		mailer:      m,
		frontendURL: frontendURL,
		logger:      util.GetLogger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Deliver persists the inbox entry and sends the email. Each step is best-effort.
func (s *NotificationService) Deliver(ctx context.Context, event models.NotificationEvent) {
	ctx, span := util.StartSpan(ctx, "NotificationService.Deliver")
	defer span.End()

	if err := s.persist(ctx, event); err != nil {
		util.NotificationFailuresTotal.WithLabelValues("persist").Inc()
		s.logger.Error("Failed to persist notification",
			zap.String("event_id", event.EventID),
			zap.String("recipient", event.RecipientUserID),
			zap.Error(err))
	}

	if err := s.email(ctx, event); err != nil {
		util.NotificationFailuresTotal.WithLabelValues("email").Inc()
		s.logger.Warn("Failed to send notification email",
			zap.String("event_id", event.EventID),
			zap.String("recipient", event.RecipientUserID),
			zap.Error(err))
	}
}

func (s *NotificationService) persist(ctx context.Context, event models.NotificationEvent) error {
	data := map[string]interface{}{
		event.EntityKind + "Id": event.EntityID,
		"status":               event.Status,
	}
	for k, v := range event.Data {
		data[k] = v
	}

	n := models.Notification{
		ID:        event.EventID,
		UserID:    event.RecipientUserID,
		Type:      event.Type,
		Title:     event.Title,
		Message:   event.Message,
		Data:      data,
		Read:      false,
		CreatedAt: event.OccurredAt,
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	return store.UpsertRecord(ctx, s.inbox, store.CollectionNotifications, n.ID, n)
}

func (s *NotificationService) email(ctx context.Context, event models.NotificationEvent) error {
	user, err := store.GetRecord[models.User](ctx, s.users, store.CollectionUsers, event.RecipientUserID)
	if err != nil {
		return fmt.Errorf("failed to load recipient: %w", err)
	}
	if user.Email == "" {
		return nil
	}

	msg, err := mailer.Render(event, s.frontendURL)
	if err != nil {
		return err
	}
	msg.To = user.Email
	return s.mailer.Send(ctx, msg)
}

// List returns the inbox of userID, newest first
func (s *NotificationService) List(ctx context.Context, principal models.Principal, unreadOnly bool) ([]models.Notification, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.List")
	defer span.End()

	filter := store.Filter{"userId": principal.ID}
	if unreadOnly {
		filter["read"] = "false"
	}

	items, err := store.ListRecords[models.Notification](ctx, s.inbox, store.CollectionNotifications, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// MarkRead marks one notification read
func (s *NotificationService) MarkRead(ctx context.Context, principal models.Principal, id string) error {
	return s.setRead(ctx, principal, id, true)
}

// MarkUnread marks one notification unread
func (s *NotificationService) MarkUnread(ctx context.Context, principal models.Principal, id string) error {
	return s.setRead(ctx, principal, id, false)
}

func (s *NotificationService) setRead(ctx context.Context, principal models.Principal, id string, read bool) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.setRead")
	defer span.End()

	return s.inbox.Update(ctx, func(tx store.Tx) error {
		n, err := store.Get[models.Notification](ctx, tx, store.CollectionNotifications, id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && n.UserID != principal.ID) {
			return apperr.New(apperr.CodeNotFound, "Notification not found")
		}
		if err != nil {
			return err
		}
		n.Read = read
		return store.Put(ctx, tx, store.CollectionNotifications, n.ID, n)
	})
}

// MarkAllRead marks every notification of the principal read and returns the count changed
func (s *NotificationService) MarkAllRead(ctx context.Context, principal models.Principal) (int, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.MarkAllRead")
	defer span.End()

	changed := 0
	err := s.inbox.Update(ctx, func(tx store.Tx) error {
		changed = 0
		items, err := store.Find[models.Notification](ctx, tx, store.CollectionNotifications,
			store.Filter{"userId": principal.ID, "read": "false"})
		if err != nil {
			return err
		}
		for _, n := range items {
			n.Read = true
			if err := store.Put(ctx, tx, store.CollectionNotifications, n.ID, n); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return changed, nil
}

// ClearAll removes every notification of the principal and returns the count removed
func (s *NotificationService) ClearAll(ctx context.Context, principal models.Principal) (int, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.ClearAll")
	defer span.End()

	removed := 0
	err := s.inbox.Update(ctx, func(tx store.Tx) error {
		removed = 0
		items, err := store.Find[models.Notification](ctx, tx, store.CollectionNotifications,
			store.Filter{"userId": principal.ID})
		if err != nil {
			return err
		}
		for _, n := range items {
			ok, err := tx.Delete(ctx, store.CollectionNotifications, n.ID)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear notifications: %w", err)
	}
	return removed, nil
}
