package photosync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/models"
	"vkphotos/pkg/store"
	"vkphotos/pkg/store/storetest"
	"vkphotos/pkg/vkapi"
)

func TestFetchAlbumsOwnerAndGroup(t *testing.T) {
	remote := newFakeRemote(t)
	remote.addAlbums(6492, albumRecord(6492, 16178407, epoch))
	remote.addAlbums(-6492, albumRecord(-6492, 17071606, epoch))
	engine, st := newTestEngine(t, remote)
	ctx := context.Background()

	owned, err := engine.FetchAlbums(ctx, AlbumQuery{Referrer: models.OwnerRef(6492)})
	require.NoError(t, err)
	require.Len(t, owned.Albums, 1)
	assert.Equal(t, "6492_16178407", owned.Albums[0].RemoteID)
	assert.Equal(t, models.OwnerRef(6492), owned.Albums[0].Referrer)

	grouped, err := engine.FetchAlbums(ctx, AlbumQuery{Referrer: models.GroupRef(6492)})
	require.NoError(t, err)
	require.Len(t, grouped.Albums, 1)
	assert.Equal(t, "-6492_17071606", grouped.Albums[0].RemoteID)
	assert.Equal(t, models.GroupRef(6492), grouped.Albums[0].Referrer)

	_, err = st.GetUser(ctx, 6492)
	assert.NoError(t, err)
	_, err = st.GetGroup(ctx, 6492)
	assert.NoError(t, err)

	req := remote.lastRequest(vkapi.MethodAlbumsGet)
	assert.Equal(t, "-6492", req.Get("owner_id"))
	assert.Equal(t, "0", req.Get("offset"))
	assert.Equal(t, "100", req.Get("count"))
	assert.Equal(t, "5.131", req.Get("v"))
}

func TestFetchAlbumsIdempotent(t *testing.T) {
	remote := newFakeRemote(t)
	for i := uint64(1); i <= 5; i++ {
		remote.addAlbums(-6492, albumRecord(-6492, i, epoch))
	}
	engine, st := newTestEngine(t, remote)
	ctx := context.Background()

	first, err := engine.FetchAlbums(ctx, AlbumQuery{Referrer: models.GroupRef(6492)})
	require.NoError(t, err)
	second, err := engine.FetchAlbums(ctx, AlbumQuery{Referrer: models.GroupRef(6492)})
	require.NoError(t, err)

	ids := func(albums []models.Album) []string {
		out := make([]string, len(albums))
		for i, a := range albums {
			out[i] = a.RemoteID
		}
		return out
	}
	assert.Equal(t, ids(first.Albums), ids(second.Albums))

	stored, err := st.ListAlbums(ctx, store.AlbumFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 5)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Groups)
}

func TestFetchAlbumsTimeWindow(t *testing.T) {
	remote := newFakeRemote(t)
	updated := make([]time.Time, 21)
	// Item 1 is the most recently updated.
	for i := 1; i <= 20; i++ {
		updated[i] = epoch.Add(time.Duration(20-i) * time.Hour)
		remote.addAlbums(6492, albumRecord(6492, uint64(1000+i), updated[i]))
	}
	// Never updated: the creation time decides, and it is older than every bound.
	stale := albumRecord(6492, 999, epoch)
	stale["updated"] = 0
	remote.addAlbums(6492, stale)
	engine, _ := newTestEngine(t, remote)
	ctx := context.Background()

	after, err := engine.FetchAlbums(ctx, AlbumQuery{Referrer: models.OwnerRef(6492), After: updated[11]})
	require.NoError(t, err)
	require.Len(t, after.Albums, 11)
	assert.Equal(t, "6492_1001", after.Albums[0].RemoteID)
	assert.Equal(t, "6492_1011", after.Albums[10].RemoteID)

	narrowed, err := engine.FetchAlbums(ctx, AlbumQuery{
		Referrer: models.OwnerRef(6492),
		After:    updated[11],
		Before:   updated[6],
	})
	require.NoError(t, err)
	require.Len(t, narrowed.Albums, 6)
	assert.Equal(t, "6492_1006", narrowed.Albums[0].RemoteID)
	assert.Equal(t, "6492_1011", narrowed.Albums[5].RemoteID)
}

func TestFetchAlbumsExplicitIDs(t *testing.T) {
	remote := newFakeRemote(t)
	for i := uint64(1); i <= 4; i++ {
		remote.addAlbums(6492, albumRecord(6492, i, epoch))
	}
	engine, _ := newTestEngine(t, remote)

	res, err := engine.FetchAlbums(context.Background(), AlbumQuery{
		Referrer:   models.OwnerRef(6492),
		IDs:        []uint64{2, 4},
		NeedCovers: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Albums, 2)
	assert.Equal(t, StopExhausted, res.Summary.Stop)

	req := remote.lastRequest(vkapi.MethodAlbumsGet)
	assert.Equal(t, "2,4", req.Get("album_ids"))
	assert.Equal(t, "1", req.Get("need_covers"))
	assert.Empty(t, req.Get("offset"))
	assert.Equal(t, 1, remote.callCount(vkapi.MethodAlbumsGet))
}

func TestFetchAlbumsInvalidQuery(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote)
	ctx := context.Background()

	tests := []struct {
		name  string
		query AlbumQuery
	}{
		{"no referrer", AlbumQuery{}},
		{"ids with window", AlbumQuery{Referrer: models.OwnerRef(1), IDs: []uint64{1}, After: epoch}},
		{"inverted window", AlbumQuery{Referrer: models.OwnerRef(1), After: epoch, Before: epoch.Add(-time.Hour)}},
		{"negative limit", AlbumQuery{Referrer: models.OwnerRef(1), Limit: -1}},
		{"negative offset", AlbumQuery{Referrer: models.OwnerRef(1), Offset: -5}},
		{"ids with offset", AlbumQuery{Referrer: models.OwnerRef(1), IDs: []uint64{1}, Offset: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := engine.FetchAlbums(ctx, tt.query)
			assert.ErrorIs(t, err, errs.ErrInvalidQuery)
			assert.Nil(t, res)
		})
	}
	assert.Zero(t, remote.callCount(vkapi.MethodAlbumsGet))
}

func TestResolvePhotoParentBeforeChild(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	ctx := context.Background()

	rec, err := ParseRawRecord([]byte(`{"pid":"457239017","aid":"100001227","owner_id":"6492","created":1330603200}`))
	require.NoError(t, err)

	_, err = engine.Resolver().ResolvePhoto(ctx, rec)
	require.ErrorIs(t, err, errs.ErrUnresolvedParent)

	require.NoError(t, st.EnsureUsers(ctx, []uint64{6492}))
	require.NoError(t, st.UpsertAlbum(ctx, storetest.Album(models.OwnerRef(6492), 100001227, epoch)))

	photo, err := engine.Resolver().ResolvePhoto(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "6492_100001227", photo.AlbumID)
	assert.Equal(t, "6492_457239017", photo.RemoteID)
}

func TestFetchPhotosRequiresStoredAlbum(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote)
	ctx := context.Background()

	_, err := engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "6492_100001227"})
	assert.ErrorIs(t, err, errs.ErrUnresolvedParent)

	_, err = engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "album"})
	assert.ErrorIs(t, err, errs.ErrMalformedIdentifier)

	_, err = engine.FetchPhotos(ctx, PhotoQuery{})
	assert.ErrorIs(t, err, errs.ErrInvalidQuery)

	assert.Zero(t, remote.callCount(vkapi.MethodPhotosGet))
}

// seedAlbum stores an album through the engine so photos can reference it.
func seedAlbum(t *testing.T, engine *Engine, remote *fakeRemote, owner int64, aid uint64) {
	t.Helper()
	remote.addAlbums(owner, albumRecord(owner, aid, epoch))
	ref, err := models.ReferrerFromScope(owner)
	require.NoError(t, err)
	_, err = engine.FetchAlbums(context.Background(), AlbumQuery{Referrer: ref, IDs: []uint64{aid}})
	require.NoError(t, err)
}

func TestFetchPhotosPaging(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, -6492, 17071606)
	for i := 0; i < 250; i++ {
		remote.addPhotos(-6492, 17071606, photoRecord(-6492, 17071606, uint64(1+i), epoch.Add(time.Duration(i)*time.Minute)))
	}
	ctx := context.Background()

	res, err := engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "-6492_17071606", Extended: true})
	require.NoError(t, err)
	assert.Len(t, res.Photos, 250)
	assert.Equal(t, 3, res.Summary.Pages)
	assert.Equal(t, StopExhausted, res.Summary.Stop)
	assert.NotEmpty(t, res.Summary.RunID)
	assert.Equal(t, "-6492_1", res.Photos[0].RemoteID)
	assert.Equal(t, "-6492_17071606", res.Photos[0].AlbumID)
	assert.Equal(t, models.GroupRef(6492), res.Photos[0].Referrer)
	require.NotNil(t, res.Photos[0].AuthorID)
	assert.Equal(t, uint64(100), *res.Photos[0].AuthorID)

	req := remote.lastRequest(vkapi.MethodPhotosGet)
	assert.Equal(t, "17071606", req.Get("album_id"))
	assert.Equal(t, "1", req.Get("extended"))
	assert.Empty(t, req.Get("rev"))

	stored, err := st.ListPhotos(ctx, store.PhotoFilter{AlbumID: "-6492_17071606"})
	require.NoError(t, err)
	assert.Len(t, stored, 250)

	_, err = st.GetUser(ctx, 100)
	assert.NoError(t, err)
}

func TestFetchPhotosLimit(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, 6492, 1)
	for i := 0; i < 250; i++ {
		remote.addPhotos(6492, 1, photoRecord(6492, 1, uint64(1+i), epoch))
	}

	res, err := engine.FetchPhotos(context.Background(), PhotoQuery{AlbumID: "6492_1", Limit: 150})
	require.NoError(t, err)
	assert.Len(t, res.Photos, 150)
	assert.Equal(t, StopLimit, res.Summary.Stop)
	assert.Equal(t, 2, remote.callCount(vkapi.MethodPhotosGet))
	assert.Equal(t, "50", remote.lastRequest(vkapi.MethodPhotosGet).Get("count"))
}

func TestFetchPhotosOffset(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, 6492, 1)
	for i := 0; i < 250; i++ {
		remote.addPhotos(6492, 1, photoRecord(6492, 1, uint64(1+i), epoch))
	}
	ctx := context.Background()

	res, err := engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "6492_1", Offset: 200})
	require.NoError(t, err)
	require.Len(t, res.Photos, 50)
	assert.Equal(t, "6492_201", res.Photos[0].RemoteID)
	assert.Equal(t, 1, remote.callCount(vkapi.MethodPhotosGet))
	assert.Equal(t, "200", remote.lastRequest(vkapi.MethodPhotosGet).Get("offset"))

	_, err = engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "6492_1", Offset: -1})
	assert.ErrorIs(t, err, errs.ErrInvalidQuery)
	assert.Equal(t, 1, remote.callCount(vkapi.MethodPhotosGet))
}

func TestFetchPhotosTimeWindowBothBounds(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote, WithPageSize(10))
	seedAlbum(t, engine, remote, 6492, 1)
	created := make([]time.Time, 30)
	for i := range created {
		created[i] = epoch.Add(time.Duration(i) * time.Hour)
		remote.addPhotos(6492, 1, photoRecord(6492, 1, uint64(1+i), created[i]))
	}

	// The first newest-first page lies entirely after the upper bound.
	res, err := engine.FetchPhotos(context.Background(), PhotoQuery{
		AlbumID: "6492_1",
		After:   created[5],
		Before:  created[14],
	})
	require.NoError(t, err)
	require.Len(t, res.Photos, 10)
	assert.Equal(t, "6492_15", res.Photos[0].RemoteID)
	assert.Equal(t, "6492_6", res.Photos[9].RemoteID)
	assert.Equal(t, 30, res.Summary.Received)
	assert.Equal(t, StopWindow, res.Summary.Stop)
	assert.Equal(t, 3, remote.callCount(vkapi.MethodPhotosGet))
	assert.Equal(t, "20", remote.lastRequest(vkapi.MethodPhotosGet).Get("offset"))
}

func TestFetchPhotosTimeWindowStopsEarly(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote, WithPageSize(10))
	seedAlbum(t, engine, remote, 6492, 1)
	created := make([]time.Time, 30)
	for i := range created {
		created[i] = epoch.Add(time.Duration(i) * time.Hour)
		remote.addPhotos(6492, 1, photoRecord(6492, 1, uint64(1+i), created[i]))
	}

	res, err := engine.FetchPhotos(context.Background(), PhotoQuery{AlbumID: "6492_1", After: created[20]})
	require.NoError(t, err)
	require.Len(t, res.Photos, 10)
	assert.Equal(t, "6492_30", res.Photos[0].RemoteID)
	assert.Equal(t, "6492_21", res.Photos[9].RemoteID)
	assert.Equal(t, StopWindow, res.Summary.Stop)
	assert.Equal(t, 2, remote.callCount(vkapi.MethodPhotosGet))
	assert.Equal(t, "1", remote.lastRequest(vkapi.MethodPhotosGet).Get("rev"))
}

func TestFetchPhotosSkipsBadRecords(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, 6492, 1)
	remote.addPhotos(6492, 1,
		photoRecord(6492, 1, 10, epoch),
		photoRecord(6492, 999, 11, epoch), // album 999 is not stored
		record{"pid": 12, "aid": 1},       // no owner
		photoRecord(6492, 1, 13, epoch),
	)
	ctx := context.Background()

	res, err := engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "6492_1"})
	require.NoError(t, err)
	require.Len(t, res.Photos, 2)
	require.Len(t, res.Summary.Skipped, 2)

	unresolved := res.Summary.Skipped[0]
	assert.Equal(t, 1, unresolved.Index)
	assert.Equal(t, "6492_11", unresolved.RemoteID)
	assert.ErrorIs(t, unresolved, errs.ErrUnresolvedParent)
	assert.NotEmpty(t, unresolved.Reason)

	invalid := res.Summary.Skipped[1]
	assert.Equal(t, 2, invalid.Index)
	assert.ErrorIs(t, invalid, errs.ErrInvalidRecord)

	_, err = st.GetPhoto(ctx, "6492_11")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFetchPhotosIdempotent(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, 6492, 1)
	for i := 0; i < 3; i++ {
		remote.addPhotos(6492, 1, photoRecord(6492, 1, uint64(1+i), epoch))
	}
	// A duplicated record within the same pass is kept once.
	remote.addPhotos(6492, 1, photoRecord(6492, 1, 2, epoch))
	ctx := context.Background()

	for run := 0; run < 2; run++ {
		res, err := engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "6492_1"})
		require.NoError(t, err)
		assert.Len(t, res.Photos, 3)
	}

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Photos)
}

func TestCounterFlattening(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, 6492, 1)
	ctx := context.Background()

	withCounters := photoRecord(6492, 1, 5, epoch)
	withCounters["likes"] = record{"user_likes": 0, "count": 7}
	withCounters["comments"] = record{"count": "2"}
	remote.addPhotos(6492, 1, withCounters)

	_, err := engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "6492_1"})
	require.NoError(t, err)
	photo, err := st.GetPhoto(ctx, "6492_5")
	require.NoError(t, err)
	assert.Equal(t, 7, photo.Likes)
	assert.Equal(t, 2, photo.Comments)

	remote.replacePhotos(6492, 1, photoRecord(6492, 1, 5, epoch))
	_, err = engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "6492_1"})
	require.NoError(t, err)
	photo, err = st.GetPhoto(ctx, "6492_5")
	require.NoError(t, err)
	assert.Equal(t, 7, photo.Likes)
	assert.Equal(t, 2, photo.Comments)
}

func TestFetchPhotosRetriesTransientErrors(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, 6492, 1)
	remote.addPhotos(6492, 1, photoRecord(6492, 1, 1, epoch))
	remote.set(func(f *fakeRemote) { f.failures[vkapi.MethodPhotosGet] = 2 })

	res, err := engine.FetchPhotos(context.Background(), PhotoQuery{AlbumID: "6492_1"})
	require.NoError(t, err)
	assert.Len(t, res.Photos, 1)
	assert.Equal(t, 3, remote.callCount(vkapi.MethodPhotosGet))
}

func TestFetchPhotosPageFailureKeepsEarlierPages(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, 6492, 1)
	for i := 0; i < 250; i++ {
		remote.addPhotos(6492, 1, photoRecord(6492, 1, uint64(1+i), epoch))
	}
	remote.set(func(f *fakeRemote) { f.failAfter[vkapi.MethodPhotosGet] = 1 })
	ctx := context.Background()

	res, err := engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "6492_1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrTransientFetch)
	require.NotNil(t, res)
	assert.Len(t, res.Photos, 100)
	assert.Equal(t, StopFailed, res.Summary.Stop)
	assert.NotEmpty(t, res.Summary.Error)
	assert.Equal(t, 4, remote.callCount(vkapi.MethodPhotosGet))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, stats.Photos)
}

func TestFetchPhotosPermanentErrorNotRetried(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, 6492, 1)
	remote.set(func(f *fakeRemote) {
		f.failures[vkapi.MethodPhotosGet] = 5
		f.failCode = vkapi.CodeAlbumAccessDenied
	})

	_, err := engine.FetchPhotos(context.Background(), PhotoQuery{AlbumID: "6492_1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrTransientFetch)
	assert.Equal(t, errs.ErrorTypeAuth, errs.TypeOf(err))
	assert.Equal(t, 1, remote.callCount(vkapi.MethodPhotosGet))
}

func TestFetchPhotosTimeoutReturnsPartialResult(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote, WithTimeout(200*time.Millisecond))
	seedAlbum(t, engine, remote, 6492, 1)
	for i := 0; i < 250; i++ {
		remote.addPhotos(6492, 1, photoRecord(6492, 1, uint64(1+i), epoch))
	}
	remote.set(func(f *fakeRemote) { f.hangAfter[vkapi.MethodPhotosGet] = 1 })

	res, err := engine.FetchPhotos(context.Background(), PhotoQuery{AlbumID: "6492_1"})
	require.ErrorIs(t, err, errs.ErrTimeout)
	require.NotNil(t, res)
	assert.Len(t, res.Photos, 100)
	assert.Equal(t, StopTimeout, res.Summary.Stop)
}

func TestSyncLikesUnion(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, 6492, 1)
	remote.addPhotos(6492, 1, photoRecord(6492, 1, 5, epoch))
	ctx := context.Background()
	_, err := engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "6492_1"})
	require.NoError(t, err)

	users, err := engine.SyncLikes(ctx, "6492_5", []uint64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, users, 3)

	users, err = engine.SyncLikes(ctx, "6492_5", []uint64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []models.User{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}, users)

	photo, err := st.GetPhoto(ctx, "6492_5")
	require.NoError(t, err)
	assert.Equal(t, 4, photo.Likes)
}

func TestFetchLikes(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	seedAlbum(t, engine, remote, -6492, 1)
	remote.addPhotos(-6492, 1, photoRecord(-6492, 1, 77, epoch))
	ctx := context.Background()
	_, err := engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "-6492_1"})
	require.NoError(t, err)

	likers := make([]uint64, 2500)
	for i := range likers {
		likers[i] = uint64(10_000 + i)
	}
	remote.setLikes(-6492, 77, likers...)

	first, err := engine.FetchLikes(ctx, "-6492_77", false)
	require.NoError(t, err)
	assert.Len(t, first.Users, 1000)
	assert.Equal(t, StopSinglePage, first.Summary.Stop)

	req := remote.lastRequest(vkapi.MethodLikesGetList)
	assert.Equal(t, "photo", req.Get("type"))
	assert.Equal(t, "-6492", req.Get("owner_id"))
	assert.Equal(t, "77", req.Get("item_id"))
	assert.Equal(t, "1000", req.Get("count"))

	all, err := engine.FetchLikes(ctx, "-6492_77", true)
	require.NoError(t, err)
	assert.Len(t, all.Users, 2500)
	assert.Equal(t, 3, all.Summary.Pages)
	assert.Equal(t, 4, remote.callCount(vkapi.MethodLikesGetList))

	photo, err := st.GetPhoto(ctx, "-6492_77")
	require.NoError(t, err)
	assert.Equal(t, 2500, photo.Likes)

	tail, err := engine.FetchLikesFrom(ctx, "-6492_77", 2400, true)
	require.NoError(t, err)
	assert.Equal(t, 100, tail.Summary.Received)
	assert.Equal(t, "2400", remote.lastRequest(vkapi.MethodLikesGetList).Get("offset"))

	_, err = engine.FetchLikesFrom(ctx, "-6492_77", -1, true)
	assert.ErrorIs(t, err, errs.ErrInvalidQuery)
}

func TestFetchLikesUnknownPhoto(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote)

	_, err := engine.FetchLikes(context.Background(), "6492_1", true)
	assert.ErrorIs(t, err, errs.ErrUnresolvedParent)

	_, err = engine.FetchLikes(context.Background(), "bogus", true)
	assert.ErrorIs(t, err, errs.ErrMalformedIdentifier)
	assert.Zero(t, remote.callCount(vkapi.MethodLikesGetList))
}

type stubCounters struct {
	likes       int
	likesErr    error
	comments    int
	commentsErr error
	albumID     string
}

func (s *stubCounters) Likes(ctx context.Context, photoID, albumID string) (int, error) {
	s.albumID = albumID
	return s.likes, s.likesErr
}

func (s *stubCounters) Comments(ctx context.Context, photoID string) (int, error) {
	return s.comments, s.commentsErr
}

func TestRefreshCounters(t *testing.T) {
	remote := newFakeRemote(t)
	counters := &stubCounters{likes: 12, commentsErr: errors.New("markup changed")}
	engine, _ := newTestEngine(t, remote, WithCounterSource(counters))
	seedAlbum(t, engine, remote, 6492, 1)
	rec := photoRecord(6492, 1, 5, epoch)
	rec["comments"] = record{"count": 3}
	remote.addPhotos(6492, 1, rec)
	ctx := context.Background()
	_, err := engine.FetchPhotos(ctx, PhotoQuery{AlbumID: "6492_1"})
	require.NoError(t, err)

	photo, err := engine.RefreshCounters(ctx, "6492_5")
	require.NoError(t, err)
	assert.Equal(t, 12, photo.Likes)
	assert.Equal(t, 3, photo.Comments)
	assert.Equal(t, "6492_1", counters.albumID)
}

func TestRefreshCountersWithoutSource(t *testing.T) {
	remote := newFakeRemote(t)
	engine, _ := newTestEngine(t, remote)

	_, err := engine.RefreshCounters(context.Background(), "6492_5")
	assert.ErrorIs(t, err, errs.ErrInvalidQuery)
}

func TestSyncScope(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote, WithConcurrency(2))
	for aid := uint64(1); aid <= 3; aid++ {
		remote.addAlbums(-6492, albumRecord(-6492, aid, epoch))
		for pid := uint64(1); pid <= 5; pid++ {
			remote.addPhotos(-6492, aid, photoRecord(-6492, aid, aid*100+pid, epoch))
		}
	}
	remote.setLikes(-6492, 101, 1, 2, 3)
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]int{}
	res, err := engine.SyncScope(ctx, ScopeQuery{
		Referrer:   models.GroupRef(6492),
		WithPhotos: true,
		WithLikes:  true,
		OnAlbum: func(s AlbumSync, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 3, total)
			seen[s.AlbumID] = s.Photos.Stored
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"-6492_1": 5, "-6492_2": 5, "-6492_3": 5}, seen)
	assert.Len(t, res.AlbumSyncs, 3)
	assert.Equal(t, 15, res.Photos)
	assert.Equal(t, 3, res.Likes)
	assert.Equal(t, 3, res.Albums.Stored)
	assert.Equal(t, "-6492_1", res.AlbumSyncs[0].AlbumID)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Albums)
	assert.Equal(t, 15, stats.Photos)
	assert.Equal(t, 3, stats.Likes)
}

func TestSyncScopeCollectsAlbumFailures(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	remote.addAlbums(6492, albumRecord(6492, 1, epoch), albumRecord(6492, 2, epoch))
	remote.addPhotos(6492, 1, photoRecord(6492, 1, 10, epoch))
	remote.addPhotos(6492, 2, photoRecord(6492, 2, 20, epoch))
	remote.set(func(f *fakeRemote) {
		f.failures[vkapi.MethodPhotosGet] = 1
		f.failCode = vkapi.CodeAlbumAccessDenied
	})
	ctx := context.Background()

	res, err := engine.SyncScope(ctx, ScopeQuery{Referrer: models.OwnerRef(6492), WithPhotos: true, Concurrency: 1})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Photos)

	failed := 0
	for _, s := range res.AlbumSyncs {
		if s.Error != "" {
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Albums)
	assert.Equal(t, 1, stats.Photos)
}

func TestResolveReferrerConcurrent(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	ctx := context.Background()

	var wg sync.WaitGroup
	refs := make([]models.Referrer, 32)
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := engine.Resolver().ResolveReferrer(ctx, -6492)
			assert.NoError(t, err)
			refs[i] = ref
		}(i)
	}
	wg.Wait()

	for _, ref := range refs {
		assert.Equal(t, models.GroupRef(6492), ref)
	}
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Groups)
	assert.Equal(t, 0, stats.Users)

	_, err = engine.Resolver().ResolveReferrer(ctx, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidRecord)
}

func TestResolveUsersBatches(t *testing.T) {
	remote := newFakeRemote(t)
	engine, st := newTestEngine(t, remote)
	ctx := context.Background()

	users, err := engine.Resolver().ResolveUsers(ctx, []uint64{5, 3, 5, 0, 9})
	require.NoError(t, err)
	assert.Equal(t, []models.User{{ID: 5}, {ID: 3}, {ID: 9}}, users)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Users)
}
