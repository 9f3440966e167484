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
	"orderly-service/internal/lock"
	"orderly-service/internal/models"
	"orderly-service/internal/store"
	"orderly-service/internal/util"
)

// linkHistory is the append log of one salesperson's link records, oldest
// first. The current state is the last record.
type linkHistory []models.SalespersonLink

func newLinkHistory(records []models.SalespersonLink) linkHistory {
	h := linkHistory(records)
	sort.SliceStable(h, func(i, j int) bool {
		if !h[i].UpdatedAt.Equal(h[j].UpdatedAt) {
			return h[i].UpdatedAt.Before(h[j].UpdatedAt)
		}
		if !h[i].CreatedAt.Equal(h[j].CreatedAt) {
			return h[i].CreatedAt.Before(h[j].CreatedAt)
		}
		return h[i].ID < h[j].ID
	})
	return h
}

func (h linkHistory) latest() (models.SalespersonLink, bool) {
	if len(h) == 0 {
		return models.SalespersonLink{}, false
	}
	return h[len(h)-1], true
}

func (h linkHistory) status() models.LinkStatus {
	if l, ok := h.latest(); ok {
		return l.Status
	}
	return models.LinkStatusUnlinked
}

// latestPerDistributor returns the last record for every distributor in the log
func (h linkHistory) latestPerDistributor() map[string]models.SalespersonLink {
	out := make(map[string]models.SalespersonLink)
	for _, l := range h {
		out[l.DistributorID] = l
	}
	return out
}

func loadLinkHistory(ctx context.Context, r store.Reader, salespersonID string) (linkHistory, error) {
	records, err := store.Find[models.SalespersonLink](ctx, r, store.CollectionLinks,
		store.Filter{"salespersonId": salespersonID})
	if err != nil {
		return nil, err
	}
	return newLinkHistory(records), nil
}

// LinkState is the projected link state of a salesperson
type LinkState struct {
	Linked        bool              `json:"linked"`
	Status        models.LinkStatus `json:"status"`
	DistributorID string            `json:"distributorId,omitempty"`
	RequestID     string            `json:"requestId,omitempty"`
}

// LinkRequest is a link record with the salesperson it belongs to
type LinkRequest struct {
	Link        models.SalespersonLink `json:"link"`
	Salesperson *models.User           `json:"salesperson,omitempty"`
}

func (s *IdentityService) lockSalesperson(ctx context.Context, salespersonID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, lock.Key("salesperson", salespersonID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock salesperson: %w", err)
	}
	return unlock, nil
}

func (s *IdentityService) linkEvent(link models.SalespersonLink, recipient, notifType, title, message, actor string) models.NotificationEvent {
	return models.NotificationEvent{
		EntityKind:      models.EntityLink,
		EntityID:        link.ID,
		Status:          string(link.Status),
		RecipientUserID: recipient,
		Type:            notifType,
		Title:           title,
		Message:         message,
		ActorName:       actor,
		Data: map[string]interface{}{
			"salespersonId": link.SalespersonID,
			"distributorId": link.DistributorID,
		},
	}
}

func (s *IdentityService) userName(ctx context.Context, id string) string {
	name := id
	_ = s.users.View(ctx, func(r store.Reader) error {
		name = displayName(ctx, r, id)
		return nil
	})
	return name
}

// RequestLinkByEmail resolves a distributor by email and requests a link to it
func (s *IdentityService) RequestLinkByEmail(ctx context.Context, principal models.Principal, distributorEmail string) (*models.SalespersonLink, error) {
	distributor, err := s.FindUserByEmail(ctx, distributorEmail)
	if err != nil {
		return nil, err
	}
	return s.RequestLink(ctx, principal, distributor.ID)
}

// RequestLink asks distributorID to approve the principal as its salesperson.
// A pending request to another distributor is moved to this one in place.
func (s *IdentityService) RequestLink(ctx context.Context, principal models.Principal, distributorID string) (*models.SalespersonLink, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.RequestLink")
	defer span.End()

	if principal.Role != models.RoleSalesperson {
		return nil, apperr.New(apperr.CodeForbidden, "Only salespersons can request a link")
	}

	distributor, err := s.GetUser(ctx, distributorID)
	if err != nil {
		return nil, err
	}
	if distributor.Role != models.RoleDistributor {
		return nil, apperr.New(apperr.CodeNotFound, "Distributor not found")
	}

	unlock, err := s.lockSalesperson(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var link models.SalespersonLink
	err = s.links.Update(ctx, func(tx store.Tx) error {
		h, err := loadLinkHistory(ctx, tx, principal.ID)
		if err != nil {
			return err
		}
		if h.status() == models.LinkStatusApproved {
			return apperr.New(apperr.CodeAlreadyLinkedActive, "Already linked to a distributor")
		}

		now := s.now()
		var reassign *models.SalespersonLink
		for i := range h {
			if h[i].Status != models.LinkStatusPending {
				continue
			}
			if h[i].DistributorID == distributorID {
				return apperr.New(apperr.CodeAlreadyRequested, "Link already requested")
			}
			if reassign == nil {
				reassign = &h[i]
			}
		}

		if reassign != nil {
			reassign.DistributorID = distributorID
			reassign.UpdatedAt = now
			link = *reassign
		} else {
			link = models.SalespersonLink{
				ID:            uuid.New().String(),
				SalespersonID: principal.ID,
				DistributorID: distributorID,
				Status:        models.LinkStatusPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
		}
		return store.Put(ctx, tx, store.CollectionLinks, link.ID, link)
	})
	if err != nil {
		return nil, err
	}

	util.LinkTransitionsTotal.WithLabelValues(string(models.LinkStatusPending)).Inc()
	s.logger.Info("Link requested",
		zap.String("request_id", link.ID),
		zap.String("salesperson_id", link.SalespersonID),
		zap.String("distributor_id", link.DistributorID))

	name := s.userName(ctx, principal.ID)
	s.notifier.Notify(ctx, s.linkEvent(link, distributorID, models.NotificationLinkRequested,
		"New salesperson link request",
		fmt.Sprintf("%s wants to link with you as a salesperson", name),
		name))

	return &link, nil
}

// getLink reads a link record for a distributor command
func (s *IdentityService) getLink(ctx context.Context, requestID string) (*models.SalespersonLink, error) {
	link, err := store.GetRecord[models.SalespersonLink](ctx, s.links, store.CollectionLinks, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeLinkNotFound, "Link request not found")
	}
	return link, err
}

// decidePending loads requestID inside tx and checks the approver may decide it
func decidePending(ctx context.Context, tx store.Tx, requestID, distributorID string) (*models.SalespersonLink, error) {
	link, err := store.Get[models.SalespersonLink](ctx, tx, store.CollectionLinks, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeLinkNotFound, "Link request not found")
	}
	if err != nil {
		return nil, err
	}
	if link.DistributorID != distributorID {
		return nil, apperr.New(apperr.CodeForbidden, "Link request belongs to another distributor")
	}
	if link.Status != models.LinkStatusPending {
		return nil, apperr.New(apperr.CodeInvalidState, "Link request is %s, not pending", link.Status)
	}
	return link, nil
}

// Approve accepts a pending request. Any other active link of the
// salesperson is ended and any other pending request is rejected, so at
// most one approved link is current.
func (s *IdentityService) Approve(ctx context.Context, principal models.Principal, requestID string) (*models.SalespersonLink, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.Approve")
	defer span.End()

	if err := requireDistributor(principal); err != nil {
		return nil, err
	}

	pre, err := s.getLink(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockSalesperson(ctx, pre.SalespersonID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var approved models.SalespersonLink
	superseded := 0
	err = s.links.Update(ctx, func(tx store.Tx) error {
		superseded = 0
		link, err := decidePending(ctx, tx, requestID, principal.ID)
		if err != nil {
			return err
		}
		h, err := loadLinkHistory(ctx, tx, link.SalespersonID)
		if err != nil {
			return err
		}

		now := s.now()
		// superseding records sort before the approval
		ended := now.Add(-time.Nanosecond)

		for _, l := range h {
			if l.ID != link.ID && l.Status == models.LinkStatusPending {
				l.Status = models.LinkStatusRejected
				l.UpdatedAt = ended
				if err := store.Put(ctx, tx, store.CollectionLinks, l.ID, l); err != nil {
					return err
				}
				superseded++
			}
		}
		for distributorID, last := range h.latestPerDistributor() {
			if last.ID == link.ID || last.Status != models.LinkStatusApproved {
				continue
			}
			end := models.SalespersonLink{
				ID:            uuid.New().String(),
				SalespersonID: link.SalespersonID,
				DistributorID: distributorID,
				Status:        models.LinkStatusUnlinked,
				CreatedAt:     ended,
				UpdatedAt:     ended,
			}
			if err := store.Put(ctx, tx, store.CollectionLinks, end.ID, end); err != nil {
				return err
			}
			superseded++
		}

		link.Status = models.LinkStatusApproved
		link.UpdatedAt = now
		approved = *link
		return store.Put(ctx, tx, store.CollectionLinks, link.ID, link)
	})
	if err != nil {
		return nil, err
	}

	util.LinkTransitionsTotal.WithLabelValues(string(models.LinkStatusApproved)).Inc()
	s.logger.Info("Link approved",
		zap.String("request_id", approved.ID),
		zap.String("salesperson_id", approved.SalespersonID),
		zap.String("distributor_id", approved.DistributorID),
		zap.Int("superseded", superseded))

	name := s.userName(ctx, principal.ID)
	s.notifier.Notify(ctx, s.linkEvent(approved, approved.SalespersonID, models.NotificationLinkApproved,
		"Link request approved",
		fmt.Sprintf("%s approved your link request", name),
		name))

	return &approved, nil
}

// Reject declines a pending request in place
func (s *IdentityService) Reject(ctx context.Context, principal models.Principal, requestID string) (*models.SalespersonLink, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.Reject")
	defer span.End()

	if err := requireDistributor(principal); err != nil {
		return nil, err
	}

	pre, err := s.getLink(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockSalesperson(ctx, pre.SalespersonID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var rejected models.SalespersonLink
	err = s.links.Update(ctx, func(tx store.Tx) error {
		link, err := decidePending(ctx, tx, requestID, principal.ID)
		if err != nil {
			return err
		}
		link.Status = models.LinkStatusRejected
		link.UpdatedAt = s.now()
		rejected = *link
		return store.Put(ctx, tx, store.CollectionLinks, link.ID, link)
	})
	if err != nil {
		return nil, err
	}

	util.LinkTransitionsTotal.WithLabelValues(string(models.LinkStatusRejected)).Inc()
	s.logger.Info("Link rejected",
		zap.String("request_id", rejected.ID),
		zap.String("salesperson_id", rejected.SalespersonID))
	return &rejected, nil
}

// Unlink appends an unlinked record for the pair, whatever its current state.
// An open request to this distributor is rejected. When the salesperson's
// current record belongs to another distributor, that record stays current.
func (s *IdentityService) Unlink(ctx context.Context, principal models.Principal, salespersonID string) (*models.SalespersonLink, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.Unlink")
	defer span.End()

	if err := requireDistributor(principal); err != nil {
		return nil, err
	}

	unlock, err := s.lockSalesperson(ctx, salespersonID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var link models.SalespersonLink
	err = s.links.Update(ctx, func(tx store.Tx) error {
		h, err := loadLinkHistory(ctx, tx, salespersonID)
		if err != nil {
			return err
		}
		if _, ok := h.latestPerDistributor()[principal.ID]; !ok {
			return apperr.New(apperr.CodeLinkNotFound, "No link between this salesperson and distributor")
		}

		// the record must not displace a current state owned by another distributor
		at := s.now()
		if cur, ok := h.latest(); ok && cur.DistributorID != principal.ID {
			at = cur.UpdatedAt.Add(-time.Nanosecond)
		}

		for _, l := range h {
			if l.DistributorID != principal.ID || l.Status != models.LinkStatusPending {
				continue
			}
			l.Status = models.LinkStatusRejected
			l.UpdatedAt = at.Add(-time.Nanosecond)
			if err := store.Put(ctx, tx, store.CollectionLinks, l.ID, l); err != nil {
				return err
			}
		}

		link = models.SalespersonLink{
			ID:            uuid.New().String(),
			SalespersonID: salespersonID,
			DistributorID: principal.ID,
			Status:        models.LinkStatusUnlinked,
			CreatedAt:     at,
			UpdatedAt:     at,
		}
		return store.Put(ctx, tx, store.CollectionLinks, link.ID, link)
	})
	if err != nil {
		return nil, err
	}

	util.LinkTransitionsTotal.WithLabelValues(string(models.LinkStatusUnlinked)).Inc()
	s.logger.Info("Salesperson unlinked",
		zap.String("salesperson_id", salespersonID),
		zap.String("distributor_id", principal.ID))

	name := s.userName(ctx, principal.ID)
	s.notifier.Notify(ctx, s.linkEvent(link, salespersonID, models.NotificationLinkUnlinked,
		"Distributor link removed",
		fmt.Sprintf("%s removed you as a salesperson", name),
		name))

	return &link, nil
}

// CurrentStatus projects the latest record of the salesperson's log
func (s *IdentityService) CurrentStatus(ctx context.Context, salespersonID string) (models.LinkStatus, error) {
	state, err := s.linkState(ctx, salespersonID)
	if err != nil {
		return "", err
	}
	return state.Status, nil
}

// CurrentLink returns the principal's own link state
func (s *IdentityService) CurrentLink(ctx context.Context, principal models.Principal) (*LinkState, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.CurrentLink")
	defer span.End()

	if principal.Role != models.RoleSalesperson {
		return nil, apperr.New(apperr.CodeForbidden, "Only salespersons have a link status")
	}
	return s.linkState(ctx, principal.ID)
}

func (s *IdentityService) linkState(ctx context.Context, salespersonID string) (*LinkState, error) {
	var h linkHistory
	err := s.links.View(ctx, func(r store.Reader) error {
		var err error
		h, err = loadLinkHistory(ctx, r, salespersonID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load link history: %w", err)
	}

	state := &LinkState{Status: h.status()}
	if l, ok := h.latest(); ok {
		state.Linked = l.Status == models.LinkStatusApproved
		state.DistributorID = l.DistributorID
		state.RequestID = l.ID
	}
	return state, nil
}

// PendingRequestsForDistributor lists requests awaiting the principal's decision, oldest first
func (s *IdentityService) PendingRequestsForDistributor(ctx context.Context, principal models.Principal) ([]LinkRequest, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.PendingRequestsForDistributor")
	defer span.End()

	if err := requireDistributor(principal); err != nil {
		return nil, err
	}

	records, err := store.ListRecords[models.SalespersonLink](ctx, s.links, store.CollectionLinks,
		store.Filter{"distributorId": principal.ID, "status": string(models.LinkStatusPending)})
	if err != nil {
		return nil, fmt.Errorf("failed to list link requests: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return s.withSalespersons(ctx, records), nil
}

// LinkedSalespersonsForDistributor lists salespersons whose current link is
// an approval by the principal
func (s *IdentityService) LinkedSalespersonsForDistributor(ctx context.Context, principal models.Principal) ([]LinkRequest, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.LinkedSalespersonsForDistributor")
	defer span.End()

	if err := requireDistributor(principal); err != nil {
		return nil, err
	}

	var current []models.SalespersonLink
	err := s.links.View(ctx, func(r store.Reader) error {
		current = nil
		records, err := store.Find[models.SalespersonLink](ctx, r, store.CollectionLinks,
			store.Filter{"distributorId": principal.ID})
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, rec := range records {
			if seen[rec.SalespersonID] {
				continue
			}
			seen[rec.SalespersonID] = true

			h, err := loadLinkHistory(ctx, r, rec.SalespersonID)
			if err != nil {
				return err
			}
			if l, ok := h.latest(); ok && l.Status == models.LinkStatusApproved && l.DistributorID == principal.ID {
				current = append(current, l)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list linked salespersons: %w", err)
	}

	sort.SliceStable(current, func(i, j int) bool {
		return current[i].UpdatedAt.Before(current[j].UpdatedAt)
	})
	return s.withSalespersons(ctx, current), nil
}

func (s *IdentityService) withSalespersons(ctx context.Context, records []models.SalespersonLink) []LinkRequest {
	out := make([]LinkRequest, 0, len(records))
	for _, rec := range records {
		req := LinkRequest{Link: rec}
		if user, err := store.GetRecord[models.User](ctx, s.users, store.CollectionUsers, rec.SalespersonID); err == nil {
			req.Salesperson = user
		}
		out = append(out, req)
	}
	return out
}
