package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderly-service/internal/apperr"
	"orderly-service/internal/models"
)

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.identity.CreateUser(ctx, UserInput{
		Email:            " Owner@Shop.com ",
		Role:             models.RoleShopkeeper,
		OrganizationName: "Corner Shop",
	})
	require.NoError(t, err)
	assert.Equal(t, "owner@shop.com", u.Email)
	assert.Equal(t, "Corner Shop", u.DisplayName())

	_, err = f.identity.CreateUser(ctx, UserInput{Email: "OWNER@shop.com", Role: models.RoleDistributor})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.identity.CreateUser(ctx, UserInput{Email: "not-an-email", Role: models.RoleDistributor})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.identity.CreateUser(ctx, UserInput{Email: "a@b.com", Role: "admin"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	found, err := f.identity.FindUserByEmail(ctx, "owner@SHOP.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shop := f.user(t, "s1", models.RoleShopkeeper, "Old Name")

	org, phone := " New Name ", "555-0100"
	u, err := f.identity.UpdateProfile(ctx, shop, ProfilePatch{OrganizationName: &org, Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "New Name", u.OrganizationName)
	assert.Equal(t, phone, u.Phone)
	assert.Equal(t, "s1@example.com", u.Email)

	_, err = f.identity.UpdateProfile(ctx, models.Principal{ID: "ghost"}, ProfilePatch{Phone: &phone})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.identity.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
