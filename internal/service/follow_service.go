package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"orderly-service/internal/apperr"
	"orderly-service/internal/models"
	"orderly-service/internal/store"
	"orderly-service/internal/util"
)

// FollowedDistributor is a follow with the distributor it points at
type FollowedDistributor struct {
	Follow      models.Follow `json:"follow"`
	Distributor *models.User  `json:"distributor,omitempty"`
}

func requireFollower(principal models.Principal) error {
	switch principal.Role {
	case models.RoleShopkeeper, models.RoleSalesperson:
		return nil
	}
	return apperr.New(apperr.CodeForbidden, "Only shopkeepers and salespersons can follow distributors")
}

// ListDistributors returns every distributor account, ordered by display name
func (s *IdentityService) ListDistributors(ctx context.Context) ([]models.User, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.ListDistributors")
	defer span.End()

	users, err := store.ListRecords[models.User](ctx, s.users, store.CollectionUsers,
		store.Filter{"role": string(models.RoleDistributor)})
	if err != nil {
		return nil, fmt.Errorf("failed to list distributors: %w", err)
	}
	sort.Slice(users, func(i, j int) bool {
		a, b := users[i].DisplayName(), users[j].DisplayName()
		if a != b {
			return a < b
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// FollowDistributor records that the principal follows distributorID.
// Following twice returns the existing record.
func (s *IdentityService) FollowDistributor(ctx context.Context, principal models.Principal, distributorID string) (*models.Follow, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.FollowDistributor")
	defer span.End()

	if err := requireFollower(principal); err != nil {
		return nil, err
	}
	if distributorID == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "distributorId is required")
	}

	var follow *models.Follow
	err := s.users.Update(ctx, func(tx store.Tx) error {
		d, err := store.Get[models.User](ctx, tx, store.CollectionUsers, distributorID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && d.Role != models.RoleDistributor) {
			return apperr.New(apperr.CodeNotFound, "Distributor not found")
		}
		if err != nil {
			return err
		}

		id := models.FollowID(principal.ID, distributorID)
		existing, err := store.Get[models.Follow](ctx, tx, store.CollectionFollows, id)
		if err == nil {
			follow = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		follow = &models.Follow{
			ID:            id,
			UserID:        principal.ID,
			DistributorID: distributorID,
			CreatedAt:     s.now(),
		}
		return store.Put(ctx, tx, store.CollectionFollows, id, follow)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Distributor followed",
		zap.String("user_id", principal.ID),
		zap.String("distributor_id", distributorID))
	return follow, nil
}

// UnfollowDistributor removes the follow. Unfollowing a distributor that is
// not followed is a no-op.
func (s *IdentityService) UnfollowDistributor(ctx context.Context, principal models.Principal, distributorID string) error {
	ctx, span := util.StartSpan(ctx, "IdentityService.UnfollowDistributor")
	defer span.End()

	if err := requireFollower(principal); err != nil {
		return err
	}
	if distributorID == "" {
		return apperr.New(apperr.CodeInvalidInput, "distributorId is required")
	}

	if _, err := store.DeleteRecord(ctx, s.users, store.CollectionFollows, models.FollowID(principal.ID, distributorID)); err != nil {
		return fmt.Errorf("failed to unfollow distributor: %w", err)
	}
	return nil
}

// ListFollows returns the principal's followed distributors, oldest follow first
func (s *IdentityService) ListFollows(ctx context.Context, principal models.Principal) ([]FollowedDistributor, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.ListFollows")
	defer span.End()

	if err := requireFollower(principal); err != nil {
		return nil, err
	}

	var out []FollowedDistributor
	err := s.users.View(ctx, func(r store.Reader) error {
		out = nil
		follows, err := store.Find[models.Follow](ctx, r, store.CollectionFollows,
			store.Filter{"userId": principal.ID})
		if err != nil {
			return err
		}
		sort.Slice(follows, func(i, j int) bool {
			if !follows[i].CreatedAt.Equal(follows[j].CreatedAt) {
				return follows[i].CreatedAt.Before(follows[j].CreatedAt)
			}
			return follows[i].ID < follows[j].ID
		})
		for _, f := range follows {
			d, err := store.Get[models.User](ctx, r, store.CollectionUsers, f.DistributorID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			out = append(out, FollowedDistributor{Follow: f, Distributor: d})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list follows: %w", err)
	}
	if out == nil {
		out = []FollowedDistributor{}
	}
	return out, nil
}
