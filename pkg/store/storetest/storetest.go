// Package storetest holds the behavioural tests every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/models"
	"vkphotos/pkg/remoteid"
	"vkphotos/pkg/store"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Album builds a valid album for ref.
func Album(ref models.Referrer, localID uint64, created time.Time) *models.Album {
	return &models.Album{
		RemoteID: remoteID(ref, localID),
		Referrer: ref,
		LocalID:  localID,
		Title:    "album",
		Created:  created.UTC().Truncate(time.Second),
	}
}

// Photo builds a valid photo inside album.
func Photo(album *models.Album, localID uint64, created time.Time) *models.Photo {
	return &models.Photo{
		RemoteID: remoteID(album.Referrer, localID),
		Referrer: album.Referrer,
		LocalID:  localID,
		AlbumID:  album.RemoteID,
		Src:      "https://example.test/p.jpg",
		Created:  created.UTC().Truncate(time.Second),
	}
}

func remoteID(ref models.Referrer, localID uint64) string {
	id, err := remoteid.EncodeReferrer(ref, localID)
	if err != nil {
		panic(err)
	}
	return id
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnsureUsersIsIdempotent", testEnsureUsers},
		{"EnsureGroup", testEnsureGroup},
		{"UpsertAlbumReplaces", testUpsertAlbum},
		{"AlbumRequiresReferrer", testAlbumRequiresReferrer},
		{"AlbumIdentityValidated", testAlbumIdentity},
		{"ListAlbumsFilters", testListAlbums},
		{"PhotoRequiresAlbum", testPhotoRequiresAlbum},
		{"UpsertPhotoReplaces", testUpsertPhoto},
		{"UpdatePhotoCounters", testUpdatePhotoCounters},
		{"AddLikesUnion", testAddLikes},
		{"AddLikesUnknown", testAddLikesUnknown},
		{"ConcurrentEnsure", testConcurrentEnsure},
		{"Stats", testStats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// Base is the creation time used by the suite.
var Base = time.Date(2013, 5, 1, 12, 0, 0, 0, time.UTC)

func testEnsureUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUsers(ctx, []uint64{1, 2, 2}))
	first, err := s.GetUser(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, s.EnsureUsers(ctx, []uint64{1, 3}))
	again, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt.Unix(), again.CreatedAt.Unix(), "existing user must not be rewritten")

	_, err = s.GetUser(ctx, 99)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Users)

	require.NoError(t, s.EnsureUsers(ctx, nil))
}

func testEnsureGroup(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureGroup(ctx, 6492))
	require.NoError(t, s.EnsureGroup(ctx, 6492))

	g, err := s.GetGroup(ctx, 6492)
	require.NoError(t, err)
	assert.Equal(t, uint64(6492), g.ID)

	_, err = s.GetGroup(ctx, 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// Users and groups are separate namespaces
	_, err = s.GetUser(ctx, 6492)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func testUpsertAlbum(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := models.GroupRef(6492)
	require.NoError(t, s.EnsureGroup(ctx, ref.ID))

	album := Album(ref, 17071606, Base)
	require.NoError(t, s.UpsertAlbum(ctx, album))

	privacy := models.PrivacyFriendsOnly
	album.Title = "renamed"
	album.Size = 42
	album.ThumbSrc = "https://example.test/t.jpg"
	album.Updated = Base.Add(time.Hour)
	album.Privacy = &privacy
	require.NoError(t, s.UpsertAlbum(ctx, album))

	got, err := s.GetAlbum(ctx, "-6492_17071606")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, 42, got.Size)
	assert.Equal(t, ref, got.Referrer)
	assert.Equal(t, uint64(17071606), got.LocalID)
	assert.True(t, Base.Equal(got.Created))
	assert.True(t, Base.Add(time.Hour).Equal(got.Updated))
	require.NotNil(t, got.Privacy)
	assert.Equal(t, models.PrivacyFriendsOnly, *got.Privacy)
	assert.Equal(t, "https://example.test/t.jpg", got.ThumbSrc)

	all, err := s.ListAlbums(ctx, store.AlbumFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.GetAlbum(ctx, "-6492_1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func testAlbumRequiresReferrer(t *testing.T, s store.Store) {
	err := s.UpsertAlbum(context.Background(), Album(models.OwnerRef(6492), 1, Base))
	assert.ErrorIs(t, err, errs.ErrUnresolvedParent)
}

func testAlbumIdentity(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUsers(ctx, []uint64{6492}))

	album := Album(models.OwnerRef(6492), 1, Base)
	album.RemoteID = "-6492_1"
	assert.ErrorIs(t, s.UpsertAlbum(ctx, album), errs.ErrInvalidRecord)

	album = Album(models.OwnerRef(6492), 1, Base)
	album.Referrer = models.Referrer{}
	assert.ErrorIs(t, s.UpsertAlbum(ctx, album), errs.ErrInvalidRecord)
}

func testListAlbums(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUsers(ctx, []uint64{6492}))
	require.NoError(t, s.EnsureGroup(ctx, 6492))

	require.NoError(t, s.UpsertAlbum(ctx, Album(models.OwnerRef(6492), 2, Base.Add(time.Hour))))
	require.NoError(t, s.UpsertAlbum(ctx, Album(models.OwnerRef(6492), 1, Base)))
	require.NoError(t, s.UpsertAlbum(ctx, Album(models.GroupRef(6492), 1, Base)))

	owner, err := s.ListAlbums(ctx, store.AlbumFilter{Referrer: models.OwnerRef(6492)})
	require.NoError(t, err)
	require.Len(t, owner, 2)
	assert.Equal(t, "6492_1", owner[0].RemoteID)
	assert.Equal(t, "6492_2", owner[1].RemoteID)

	group, err := s.ListAlbums(ctx, store.AlbumFilter{Referrer: models.GroupRef(6492)})
	require.NoError(t, err)
	require.Len(t, group, 1)
	assert.Equal(t, "-6492_1", group[0].RemoteID)
	assert.True(t, group[0].Referrer.IsGroup())
}

func testPhotoRequiresAlbum(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUsers(ctx, []uint64{6492}))

	album := Album(models.OwnerRef(6492), 100001227, Base)
	photo := Photo(album, 5, Base)
	assert.ErrorIs(t, s.UpsertPhoto(ctx, photo), errs.ErrUnresolvedParent)

	_, err := s.GetPhoto(ctx, photo.RemoteID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	photo.AlbumID = ""
	assert.ErrorIs(t, s.UpsertPhoto(ctx, photo), errs.ErrInvalidRecord)
}

func testUpsertPhoto(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := models.OwnerRef(6492)
	require.NoError(t, s.EnsureUsers(ctx, []uint64{6492, 777}))
	album := Album(ref, 100001227, Base)
	require.NoError(t, s.UpsertAlbum(ctx, album))

	author := uint64(777)
	photo := Photo(album, 5, Base)
	photo.AuthorID = &author
	photo.Width, photo.Height = 604, 453
	photo.Likes, photo.Comments, photo.Tags = 7, 2, 1
	photo.Text = "hello"
	photo.SrcXXBig = "https://example.test/xxbig.jpg"
	require.NoError(t, s.UpsertPhoto(ctx, photo))

	photo.Text = "edited"
	require.NoError(t, s.UpsertPhoto(ctx, photo))

	got, err := s.GetPhoto(ctx, "6492_5")
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Text)
	assert.Equal(t, "6492_100001227", got.AlbumID)
	require.NotNil(t, got.AuthorID)
	assert.Equal(t, uint64(777), *got.AuthorID)
	assert.Equal(t, 604, got.Width)
	assert.Equal(t, 7, got.Likes)
	assert.Equal(t, 2, got.Comments)
	assert.Equal(t, 1, got.Tags)
	assert.Equal(t, "https://example.test/xxbig.jpg", got.SrcXXBig)
	assert.True(t, Base.Equal(got.Created))

	photos, err := s.ListPhotos(ctx, store.PhotoFilter{AlbumID: album.RemoteID})
	require.NoError(t, err)
	assert.Len(t, photos, 1)

	none, err := s.ListPhotos(ctx, store.PhotoFilter{AlbumID: "6492_1"})
	require.NoError(t, err)
	assert.Empty(t, none)

	missingAuthor := uint64(778)
	other := Photo(album, 6, Base)
	other.AuthorID = &missingAuthor
	assert.ErrorIs(t, s.UpsertPhoto(ctx, other), errs.ErrUnresolvedParent)
}

func testUpdatePhotoCounters(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUsers(ctx, []uint64{1}))
	album := Album(models.OwnerRef(1), 1, Base)
	require.NoError(t, s.UpsertAlbum(ctx, album))
	photo := Photo(album, 1, Base)
	photo.Likes, photo.Comments = 3, 4
	require.NoError(t, s.UpsertPhoto(ctx, photo))

	likes := 10
	require.NoError(t, s.UpdatePhotoCounters(ctx, photo.RemoteID, &likes, nil))
	got, err := s.GetPhoto(ctx, photo.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Likes)
	assert.Equal(t, 4, got.Comments)

	assert.ErrorIs(t, s.UpdatePhotoCounters(ctx, "1_999", &likes, nil), errs.ErrNotFound)
}

func testAddLikes(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUsers(ctx, []uint64{6492, 1, 2, 3, 4}))
	album := Album(models.OwnerRef(6492), 1, Base)
	require.NoError(t, s.UpsertAlbum(ctx, album))
	photo := Photo(album, 1, Base)
	require.NoError(t, s.UpsertPhoto(ctx, photo))

	n, err := s.AddLikes(ctx, photo.RemoteID, []uint64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.AddLikes(ctx, photo.RemoteID, []uint64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	likers, err := s.ListLikers(ctx, photo.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4}, likers)

	got, err := s.GetPhoto(ctx, photo.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Likes)

	n, err = s.AddLikes(ctx, photo.RemoteID, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func testAddLikesUnknown(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.AddLikes(ctx, "1_1", []uint64{1})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.ListLikers(ctx, "1_1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.EnsureUsers(ctx, []uint64{1}))
	album := Album(models.OwnerRef(1), 1, Base)
	require.NoError(t, s.UpsertAlbum(ctx, album))
	photo := Photo(album, 1, Base)
	require.NoError(t, s.UpsertPhoto(ctx, photo))

	_, err = s.AddLikes(ctx, photo.RemoteID, []uint64{404})
	assert.ErrorIs(t, err, errs.ErrUnresolvedParent)

	likers, err := s.ListLikers(ctx, photo.RemoteID)
	require.NoError(t, err)
	assert.Empty(t, likers)
}

func testConcurrentEnsure(t *testing.T, s store.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.EnsureUsers(ctx, []uint64{10, 11, 12}))
			assert.NoError(t, s.EnsureGroup(ctx, 10))
		}()
	}
	wg.Wait()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Users)
	assert.Equal(t, 1, st.Groups)
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUsers(ctx, []uint64{1, 2}))
	require.NoError(t, s.EnsureGroup(ctx, 5))
	album := Album(models.GroupRef(5), 1, Base)
	require.NoError(t, s.UpsertAlbum(ctx, album))
	require.NoError(t, s.UpsertPhoto(ctx, Photo(album, 1, Base)))
	require.NoError(t, s.UpsertPhoto(ctx, Photo(album, 2, Base)))
	_, err := s.AddLikes(ctx, "-5_1", []uint64{1, 2})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Stats{Users: 2, Groups: 1, Albums: 1, Photos: 2, Likes: 2}, st)
}
