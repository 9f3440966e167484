package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
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

// IdentityService owns user accounts and the salesperson link state machine
type IdentityService struct {
	users    store.Store
	links    store.Store
	locker   lock.Locker
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewIdentityService creates a new identity service. users is the primary
// store view, links is the write-through view holding the link log.
func NewIdentityService(users, links store.Store, locker lock.Locker, notifier Notifier) *IdentityService {
	return &IdentityService{
		users:    users,
		links:    links,
		locker:   locker,
		notifier: notifier,
		logger:   util.GetLogger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UserInput registers a user
type UserInput struct {
	Email            string      `json:"email" binding:"required"`
	Role             models.Role `json:"role" binding:"required"`
	Name             string      `json:"name"`
	OrganizationName string      `json:"organizationName"`
	Phone            string      `json:"phone"`
	Address          string      `json:"address"`
}

// ProfilePatch carries profile fields to change. Nil fields are left alone.
type ProfilePatch struct {
	Name             *string `json:"name"`
	OrganizationName *string `json:"organizationName"`
	Phone            *string `json:"phone"`
	Address          *string `json:"address"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validRole(r models.Role) bool {
	switch r {
	case models.RoleDistributor, models.RoleShopkeeper, models.RoleSalesperson:
		return true
	}
	return false
}

// CreateUser registers a new account. Emails are unique.
func (s *IdentityService) CreateUser(ctx context.Context, in UserInput) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.CreateUser")
	defer span.End()

	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.New(apperr.CodeInvalidInput, "Invalid email address")
	}
	if !validRole(in.Role) {
		return nil, apperr.New(apperr.CodeInvalidInput, "Invalid role: %s", in.Role)
	}

	unlock, err := s.locker.Lock(ctx, lock.Key("email", email))
	if err != nil {
		return nil, fmt.Errorf("failed to lock email: %w", err)
	}
	defer unlock()

	now := s.now()
	user := &models.User{
		ID:               uuid.New().String(),
		Email:            email,
		Role:             in.Role,
		Name:             strings.TrimSpace(in.Name),
		OrganizationName: strings.TrimSpace(in.OrganizationName),
		Phone:            in.Phone,
		Address:          in.Address,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.users.Update(ctx, func(tx store.Tx) error {
		existing, err := tx.List(ctx, store.CollectionUsers, store.Filter{"email": email})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperr.New(apperr.CodeInvalidInput, "Email already registered")
		}
		return store.Put(ctx, tx, store.CollectionUsers, user.ID, user)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User created", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// GetUser returns one user
func (s *IdentityService) GetUser(ctx context.Context, id string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.GetUser")
	defer span.End()

	user, err := store.GetRecord[models.User](ctx, s.users, store.CollectionUsers, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "User not found")
	}
	return user, err
}

// FindUserByEmail looks a user up by email, ignoring case and surrounding space
func (s *IdentityService) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.FindUserByEmail")
	defer span.End()

	users, err := store.ListRecords[models.User](ctx, s.users, store.CollectionUsers,
		store.Filter{"email": normalizeEmail(email)})
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if len(users) == 0 {
		return nil, apperr.New(apperr.CodeNotFound, "User not found")
	}
	return &users[0], nil
}

// UpdateProfile changes the principal's own profile
func (s *IdentityService) UpdateProfile(ctx context.Context, principal models.Principal, patch ProfilePatch) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "IdentityService.UpdateProfile")
	defer span.End()

	var user *models.User
	err := s.users.Update(ctx, func(tx store.Tx) error {
		u, err := store.Get[models.User](ctx, tx, store.CollectionUsers, principal.ID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.CodeNotFound, "User not found")
		}
		if err != nil {
			return err
		}
		if patch.Name != nil {
			u.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.OrganizationName != nil {
			u.OrganizationName = strings.TrimSpace(*patch.OrganizationName)
		}
		if patch.Phone != nil {
			u.Phone = *patch.Phone
		}
		if patch.Address != nil {
			u.Address = *patch.Address
		}
		u.UpdatedAt = s.now()
		user = u
		return store.Put(ctx, tx, store.CollectionUsers, u.ID, u)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// displayName resolves a user's display name, falling back to the id
func displayName(ctx context.Context, r store.Reader, userID string) string {
	user, err := store.Get[models.User](ctx, r, store.CollectionUsers, userID)
	if err != nil {
		return userID
	}
	return user.DisplayName()
}
