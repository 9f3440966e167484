package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderly-service/internal/apperr"
	"orderly-service/internal/models"
)

func TestListDistributors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "d2", models.RoleDistributor, "South Traders")
	f.user(t, "d1", models.RoleDistributor, "North Foods")
	f.user(t, "s1", models.RoleShopkeeper, "Corner Shop")
	f.user(t, "sp", models.RoleSalesperson, "")

	distributors, err := f.identity.ListDistributors(ctx)
	require.NoError(t, err)
	require.Len(t, distributors, 2)
	assert.Equal(t, "d1", distributors[0].ID)
	assert.Equal(t, "d2", distributors[1].ID)
}

func TestFollowDistributor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.user(t, "d1", models.RoleDistributor, "North Foods")
	f.user(t, "d2", models.RoleDistributor, "South Traders")
	shop := f.user(t, "s1", models.RoleShopkeeper, "Corner Shop")
	sp := f.user(t, "sp", models.RoleSalesperson, "")

	first, err := f.identity.FollowDistributor(ctx, shop, "d2")
	require.NoError(t, err)
	assert.Equal(t, models.FollowID("s1", "d2"), first.ID)

	again, err := f.identity.FollowDistributor(ctx, shop, "d2")
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.Equal(again.CreatedAt))

	_, err = f.identity.FollowDistributor(ctx, shop, "d1")
	require.NoError(t, err)

	follows, err := f.identity.ListFollows(ctx, shop)
	require.NoError(t, err)
	require.Len(t, follows, 2)
	assert.Equal(t, "d2", follows[0].Follow.DistributorID)
	require.NotNil(t, follows[0].Distributor)
	assert.Equal(t, "South Traders", follows[0].Distributor.OrganizationName)
	assert.Equal(t, "d1", follows[1].Follow.DistributorID)

	// follows are per user
	others, err := f.identity.ListFollows(ctx, sp)
	require.NoError(t, err)
	assert.Empty(t, others)

	require.NoError(t, f.identity.UnfollowDistributor(ctx, shop, "d2"))
	require.NoError(t, f.identity.UnfollowDistributor(ctx, shop, "d2"))

	follows, err = f.identity.ListFollows(ctx, shop)
	require.NoError(t, err)
	require.Len(t, follows, 1)
	assert.Equal(t, "d1", follows[0].Follow.DistributorID)

	_, err = f.identity.FollowDistributor(ctx, d1, "d2")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.identity.ListFollows(ctx, d1)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.identity.FollowDistributor(ctx, sp, "s1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.identity.FollowDistributor(ctx, sp, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.identity.FollowDistributor(ctx, sp, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}
