package usecase_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
)

func TestUserResolver_ResolveExisting(t *testing.T) {
	ctx := context.Background()

	t.Run("app account token wins over chain owner", func(t *testing.T) {
		h := newHarness()
		owner := h.subscribed(t)
		tokenUser := h.store.addUser(false)

		tx := transaction("1001", monthly, now)
		tx.AppAccountToken = tokenUser.UUID.String()

		user, err := h.resolver.ResolveExisting(ctx, tx)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, tokenUser.ID, user.ID)
		assert.NotEqual(t, owner.UserID, user.ID)
	})

	t.Run("unknown app account token falls back to chain owner", func(t *testing.T) {
		h := newHarness()
		owner := h.subscribed(t)

		tx := transaction("1001", monthly, now)
		tx.AppAccountToken = "6f1c2d4e-0000-4000-8000-000000000000"

		user, err := h.resolver.ResolveExisting(ctx, tx)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, owner.UserID, user.ID)
	})

	t.Run("tagged user", func(t *testing.T) {
		h := newHarness()
		tagged := h.store.addUser(false)
		require.NoError(t, h.store.stores().Users.SetMeta(ctx, tagged.ID, model.UserMetaOriginalTransactionID, cid))

		user, err := h.resolver.ResolveExisting(ctx, transaction("1000", monthly, now))
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, tagged.ID, user.ID)
	})

	t.Run("inactive owner is skipped", func(t *testing.T) {
		h := newHarness()
		owner := h.subscribed(t)
		claimer := h.store.addUser(false)
		require.NoError(t, h.store.stores().Users.Claim(ctx, owner.UserID, claimer.ID))

		user, err := h.resolver.ResolveExisting(ctx, transaction("1001", monthly, now))
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, claimer.ID, user.ID)
	})

	t.Run("nothing matches", func(t *testing.T) {
		h := newHarness()
		user, err := h.resolver.ResolveExisting(ctx, transaction("1000", monthly, now))
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("several tagged users", func(t *testing.T) {
		h := newHarness()
		for i := 0; i < 2; i++ {
			u := h.store.addUser(false)
			require.NoError(t, h.store.stores().Users.SetMeta(ctx, u.ID, model.UserMetaOriginalTransactionID, cid))
		}

		_, err := h.resolver.ResolveExisting(ctx, transaction("1000", monthly, now))
		assert.ErrorIs(t, err, domainErrors.ErrMultipleUsersForTransaction)
	})

	t.Run("inactive tagged user still makes the match ambiguous", func(t *testing.T) {
		h := newHarness()
		active := h.store.addUser(false)
		inactive := h.store.addUser(false)
		for _, u := range []*model.User{active, inactive} {
			require.NoError(t, h.store.stores().Users.SetMeta(ctx, u.ID, model.UserMetaOriginalTransactionID, cid))
		}
		h.store.mu.Lock()
		u := h.store.users[inactive.ID]
		u.Active = false
		h.store.users[inactive.ID] = u
		h.store.mu.Unlock()

		_, err := h.resolver.ResolveExisting(ctx, transaction("1000", monthly, now))
		assert.ErrorIs(t, err, domainErrors.ErrMultipleUsersForTransaction)
	})

	t.Run("claimed placeholder hands its tag to the claimer", func(t *testing.T) {
		h := newHarness()
		placeholder, err := h.resolver.Resolve(ctx, transaction("1000", monthly, now))
		require.NoError(t, err)
		claimer := h.store.addUser(false)
		require.NoError(t, h.store.stores().Users.SetMeta(ctx, claimer.ID, model.UserMetaOriginalTransactionID, cid))
		require.NoError(t, h.store.stores().Users.Claim(ctx, placeholder.ID, claimer.ID))

		user, err := h.resolver.ResolveExisting(ctx, transaction("1000", monthly, now))
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, claimer.ID, user.ID)
	})
}

func TestUserResolver_ResolveCreatesUnclaimedUser(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first, err := h.resolver.Resolve(ctx, transaction("1000", monthly, now))
	require.NoError(t, err)
	assert.True(t, first.Unclaimed)
	assert.True(t, strings.HasPrefix(first.Email, "unclaimed_1000_"))
	assert.True(t, strings.HasSuffix(first.Email, "@unclaimed.invalid"))

	// the new user is tagged, so the next lookup finds it
	second, err := h.resolver.Resolve(ctx, transaction("1001", monthly, now))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
