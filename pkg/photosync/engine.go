package photosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/models"
	"vkphotos/pkg/ratelimit"
	"vkphotos/pkg/remoteid"
	"vkphotos/pkg/retry"
	"vkphotos/pkg/store"
	"vkphotos/pkg/vkapi"
)

const (
	defaultPageSize      = 100
	defaultLikesPageSize = 1000
	defaultConcurrency   = 3
)

// AlbumQuery selects albums of one owner or group. IDs and a time window
// are mutually exclusive.
type AlbumQuery struct {
	Referrer models.Referrer
	// IDs are album local ids.
	IDs    []uint64
	After  time.Time
	Before time.Time
	// Offset skips that many albums of the remote listing.
	Offset int
	Limit  int
	// NeedCovers asks for the cover thumbnail URL.
	NeedCovers bool
}

// PhotoQuery selects photos of one stored album.
type PhotoQuery struct {
	// AlbumID is the album's composite id.
	AlbumID string
	// IDs are photo local ids.
	IDs        []uint64
	After      time.Time
	Before     time.Time
	// Offset skips that many photos of the remote listing.
	Offset     int
	Limit      int
	Extended   bool
	PhotoSizes bool
}

// AlbumResult holds the albums fetched in one pass.
type AlbumResult struct {
	Albums  []models.Album `json:"albums" yaml:"albums"`
	Summary Summary        `json:"summary" yaml:"summary"`
}

// PhotoResult holds the photos fetched in one pass.
type PhotoResult struct {
	Photos  []models.Photo `json:"photos" yaml:"photos"`
	Summary Summary        `json:"summary" yaml:"summary"`
}

// LikesResult holds a photo's full like relation after a pass. Users carry
// ids only.
type LikesResult struct {
	Users   []models.User `json:"users" yaml:"users"`
	Summary Summary       `json:"summary" yaml:"summary"`
}

// Engine synchronizes albums, photos and likes from the API into a store.
type Engine struct {
	api      API
	store    store.Store
	counters CounterSource

	limiter ratelimit.Limiter
	retry   *retry.Config
	logger  logger.Logger
	now     func() time.Time

	pageSize        int
	likesPageSize   int
	concurrency     int
	timeout         time.Duration
	refreshCounters bool

	pager      *Pager
	resolver   *Resolver
	reconciler *Reconciler
}

// New creates an engine over api and st.
func New(api API, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		api:           api,
		store:         st,
		logger:        logger.NewNopLogger(),
		now:           time.Now,
		pageSize:      defaultPageSize,
		likesPageSize: defaultLikesPageSize,
		concurrency:   defaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.pager = NewPager(api, e.limiter, e.retry, e.logger)
	e.resolver = NewResolver(st, e.logger)
	e.reconciler = NewReconciler(st, e.resolver, e.logger)
	return e
}

// Resolver exposes the engine's resolver.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

func checkWindow(hasIDs bool, after, before time.Time, offset, limit int) error {
	if hasIDs && (!after.IsZero() || !before.IsZero()) {
		return fmt.Errorf("%w: explicit ids cannot be combined with a time window", errs.ErrInvalidQuery)
	}
	if !after.IsZero() && !before.IsZero() && before.Before(after) {
		return fmt.Errorf("%w: before %s precedes after %s", errs.ErrInvalidQuery,
			before.Format(time.RFC3339), after.Format(time.RFC3339))
	}
	if limit < 0 {
		return fmt.Errorf("%w: negative limit", errs.ErrInvalidQuery)
	}
	return checkOffset(hasIDs, offset)
}

func checkOffset(hasIDs bool, offset int) error {
	if offset < 0 {
		return fmt.Errorf("%w: negative offset", errs.ErrInvalidQuery)
	}
	if hasIDs && offset > 0 {
		return fmt.Errorf("%w: explicit ids cannot be combined with an offset", errs.ErrInvalidQuery)
	}
	return nil
}

func joinIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// rawRemoteID computes a record's composite id when possible, for reports.
func rawRemoteID(raw json.RawMessage, idKeys ...string) string {
	rec, err := ParseRawRecord(raw)
	if err != nil {
		return ""
	}
	scope, localID, err := identity(rec, "record", idKeys...)
	if err != nil {
		return ""
	}
	id, err := remoteid.Encode(scope, localID)
	if err != nil {
		return ""
	}
	return id
}

// FetchAlbums retrieves and stores the albums selected by q. A partial
// result is returned with the error when a page fails.
func (e *Engine) FetchAlbums(ctx context.Context, q AlbumQuery) (*AlbumResult, error) {
	if q.Referrer.IsZero() {
		return nil, fmt.Errorf("%w: albums need an owner or a group", errs.ErrInvalidQuery)
	}
	if err := checkWindow(len(q.IDs) > 0, q.After, q.Before, q.Offset, q.Limit); err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	req := Request{
		Kind:   "albums",
		Method: vkapi.MethodAlbumsGet,
		Params: map[string]string{
			"owner_id":    strconv.FormatInt(q.Referrer.Scope(), 10),
			"need_covers": flag(q.NeedCovers),
		},
		Paged: len(q.IDs) == 0,
		Window: Window{
			After:  q.After,
			Before: q.Before,
			Fields: []string{"updated", "created"},
		},
	}
	if len(q.IDs) > 0 {
		req.Params["album_ids"] = joinIDs(q.IDs)
	}

	driver := &Driver[models.Album]{
		Pager:  e.pager,
		Logger: e.logger,
		Handle: func(ctx context.Context, index int, raw json.RawMessage) (models.Album, string, error) {
			rec, err := ParseRawRecord(raw)
			if err != nil {
				return models.Album{}, "", err
			}
			album, err := e.resolver.ResolveAlbum(ctx, rec)
			if err != nil {
				return models.Album{}, rawRemoteID(raw, "aid", "id"), err
			}
			if err := e.store.UpsertAlbum(ctx, album); err != nil {
				return models.Album{}, album.RemoteID, err
			}
			return *album, album.RemoteID, nil
		},
	}

	summary := e.startSummary("fetch_albums", q.Referrer.String())
	res, err := driver.Run(ctx, req, Bounds{Offset: q.Offset, Limit: q.Limit, PageSize: e.pageSize})
	finishSummary(e, &summary, res, err)
	e.logSummary(summary)

	return &AlbumResult{Albums: nonNil(res.Items), Summary: summary}, err
}

// FetchPhotos retrieves and stores photos of a stored album.
func (e *Engine) FetchPhotos(ctx context.Context, q PhotoQuery) (*PhotoResult, error) {
	if q.AlbumID == "" {
		return nil, fmt.Errorf("%w: photos need an album", errs.ErrInvalidQuery)
	}
	ref, albumLocalID, err := remoteid.DecodeReferrer(q.AlbumID)
	if err != nil {
		return nil, err
	}
	if err := checkWindow(len(q.IDs) > 0, q.After, q.Before, q.Offset, q.Limit); err != nil {
		return nil, err
	}
	if _, err := e.resolver.ResolveParentAlbum(ctx, ref.Scope(), albumLocalID); err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	window := Window{
		After:      q.After,
		Before:     q.Before,
		Fields:     []string{"created", "date"},
		Descending: true,
	}
	req := Request{
		Kind:   "photos",
		Method: vkapi.MethodPhotosGet,
		Params: map[string]string{
			"owner_id":    strconv.FormatInt(ref.Scope(), 10),
			"album_id":    strconv.FormatUint(albumLocalID, 10),
			"extended":    flag(q.Extended),
			"photo_sizes": flag(q.PhotoSizes),
		},
		Paged:  len(q.IDs) == 0,
		Window: window,
	}
	if !window.IsZero() {
		req.Params["rev"] = "1"
	}
	if len(q.IDs) > 0 {
		req.Params["photo_ids"] = joinIDs(q.IDs)
	}

	driver := &Driver[models.Photo]{
		Pager:  e.pager,
		Logger: e.logger,
		Handle: func(ctx context.Context, index int, raw json.RawMessage) (models.Photo, string, error) {
			rec, err := ParseRawRecord(raw)
			if err != nil {
				return models.Photo{}, "", err
			}
			photo, err := e.resolver.ResolvePhoto(ctx, rec)
			if err != nil {
				return models.Photo{}, rawRemoteID(raw, "pid", "id"), err
			}
			if err := e.store.UpsertPhoto(ctx, photo); err != nil {
				return models.Photo{}, photo.RemoteID, err
			}
			return *photo, photo.RemoteID, nil
		},
	}

	summary := e.startSummary("fetch_photos", q.AlbumID)
	res, err := driver.Run(ctx, req, Bounds{Offset: q.Offset, Limit: q.Limit, PageSize: e.pageSize})
	finishSummary(e, &summary, res, err)
	e.logSummary(summary)

	return &PhotoResult{Photos: nonNil(res.Items), Summary: summary}, err
}

// FetchLikes retrieves the likers of a stored photo and merges them into its
// like relation page by page. With all unset only the first page is read.
func (e *Engine) FetchLikes(ctx context.Context, photoID string, all bool) (*LikesResult, error) {
	return e.FetchLikesFrom(ctx, photoID, 0, all)
}

// FetchLikesFrom is FetchLikes starting offset likers into the remote list.
func (e *Engine) FetchLikesFrom(ctx context.Context, photoID string, offset int, all bool) (*LikesResult, error) {
	ref, localID, err := remoteid.DecodeReferrer(photoID)
	if err != nil {
		return nil, err
	}
	if err := checkOffset(false, offset); err != nil {
		return nil, err
	}
	if _, err := e.store.GetPhoto(ctx, photoID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: photo %s is not stored", errs.ErrUnresolvedParent, photoID)
		}
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	req := Request{
		Kind:   "likes",
		Method: vkapi.MethodLikesGetList,
		Params: map[string]string{
			"type":     "photo",
			"owner_id": strconv.FormatInt(ref.Scope(), 10),
			"item_id":  strconv.FormatUint(localID, 10),
		},
		Paged: true,
	}

	driver := &Driver[uint64]{
		Pager:  e.pager,
		Logger: e.logger,
		Handle: func(ctx context.Context, index int, raw json.RawMessage) (uint64, string, error) {
			id, err := parseLiker(raw)
			if err != nil {
				return 0, "", err
			}
			return id, likerKey(id), nil
		},
		Flush: func(ctx context.Context, ids []uint64) error {
			_, err := e.reconciler.SyncLikes(ctx, photoID, ids)
			return err
		},
	}

	summary := e.startSummary("fetch_likes", photoID)
	res, err := driver.Run(ctx, req, Bounds{Offset: offset, PageSize: e.likesPageSize, SinglePage: !all})
	finishSummary(e, &summary, res, err)
	e.logSummary(summary)

	// The relation is read with a fresh context so a timeout still reports
	// what was stored.
	users, lerr := e.reconciler.Likers(context.WithoutCancel(ctx), photoID)
	if lerr != nil && err == nil {
		err = lerr
	}
	return &LikesResult{Users: nonNil(users), Summary: summary}, err
}

// SyncLikes merges likerIDs into a photo's like relation.
func (e *Engine) SyncLikes(ctx context.Context, photoID string, likerIDs []uint64) ([]models.User, error) {
	return e.reconciler.SyncLikes(ctx, photoID, likerIDs)
}

// RefreshCounters patches a photo's likes and comments from the counter
// source. Source failures are logged and leave the counter unchanged.
func (e *Engine) RefreshCounters(ctx context.Context, photoID string) (*models.Photo, error) {
	if e.counters == nil {
		return nil, fmt.Errorf("%w: no fallback counter source configured", errs.ErrInvalidQuery)
	}
	photo, err := e.store.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, err
	}

	log := e.logger.WithField("photo", photoID)
	var likes, comments *int
	if n, err := e.counters.Likes(ctx, photo.RemoteID, photo.AlbumID); err != nil {
		log.WithError(err).Warn("Fallback likes counter unavailable")
	} else {
		likes = &n
	}
	if n, err := e.counters.Comments(ctx, photo.RemoteID); err != nil {
		log.WithError(err).Warn("Fallback comments counter unavailable")
	} else {
		comments = &n
	}

	if likes == nil && comments == nil {
		return photo, nil
	}
	if err := e.store.UpdatePhotoCounters(ctx, photoID, likes, comments); err != nil {
		return nil, err
	}
	return e.store.GetPhoto(ctx, photoID)
}

func (e *Engine) logSummary(s Summary) {
	fields := map[string]interface{}{
		"run_id":    s.RunID,
		"operation": s.Operation,
		"scope":     s.Scope,
		"pages":     s.Pages,
		"stored":    s.Stored,
		"skipped":   len(s.Skipped),
		"stop":      string(s.Stop),
		"duration":  s.Duration(),
	}
	if s.Error != "" {
		fields["error"] = s.Error
		e.logger.WarnWithFields("Retrieval ended early", fields)
		return
	}
	e.logger.InfoWithFields("Retrieval finished", fields)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
