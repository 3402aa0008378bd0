package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkphotos/pkg/models"
	"vkphotos/pkg/store"
	"vkphotos/pkg/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.EnsureUsers(ctx, []uint64{1}))

	privacy := models.PrivacyEveryone
	album := storetest.Album(models.OwnerRef(1), 1, time.Now())
	album.Privacy = &privacy
	require.NoError(t, s.UpsertAlbum(ctx, album))

	privacy = models.PrivacyOwnerOnly
	album.Title = "mutated"

	got, err := s.GetAlbum(ctx, album.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, "album", got.Title)
	assert.Equal(t, models.PrivacyEveryone, *got.Privacy)

	*got.Privacy = models.PrivacyFriendsOnly
	again, err := s.GetAlbum(ctx, album.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, models.PrivacyEveryone, *again.Privacy)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New()
	assert.ErrorIs(t, s.EnsureUsers(ctx, []uint64{1}), context.Canceled)
	assert.ErrorIs(t, s.EnsureGroup(ctx, 1), context.Canceled)
}
