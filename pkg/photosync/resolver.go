package photosync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/models"
	"vkphotos/pkg/remoteid"
	"vkphotos/pkg/store"
)

// sharedCallTimeout bounds a collapsed store call, which runs detached from
// any single caller's context.
const sharedCallTimeout = 30 * time.Second

// Resolver turns raw references into stored entities, creating users and
// groups on first sight. The store's insert-if-absent keeps creation atomic
// across processes; singleflight collapses identical in-flight calls here.
type Resolver struct {
	store  store.Store
	flight singleflight.Group
	logger logger.Logger
}

// NewResolver creates a resolver backed by st.
func NewResolver(st store.Store, log logger.Logger) *Resolver {
	return &Resolver{store: st, logger: logger.OrNop(log)}
}

// ResolveReferrer maps a raw owner field onto an owner or group, creating
// the entity when missing. Zero is not a valid owner field.
func (r *Resolver) ResolveReferrer(ctx context.Context, raw int64) (models.Referrer, error) {
	ref, err := models.ReferrerFromScope(raw)
	if err != nil {
		return models.Referrer{}, fmt.Errorf("%w: %v", errs.ErrInvalidRecord, err)
	}

	shared, err := r.do(ctx, ref.String(), func(ctx context.Context) error {
		if ref.IsOwner() {
			return r.store.EnsureUsers(ctx, []uint64{ref.ID})
		}
		return r.store.EnsureGroup(ctx, ref.ID)
	})
	if err != nil {
		return models.Referrer{}, fmt.Errorf("resolve %s: %w", ref, err)
	}
	if shared {
		r.logger.DebugWithFields("Referrer resolution shared", map[string]interface{}{
			"referrer": ref,
		})
	}
	return ref, nil
}

// do collapses concurrent calls for key. The shared call runs on a context
// that outlives any one caller, so a caller giving up early never fails the
// others; each caller still returns as soon as its own ctx is done.
func (r *Resolver) do(ctx context.Context, key string, fn func(context.Context) error) (bool, error) {
	ch := r.flight.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	select {
	case res := <-ch:
		return res.Shared, res.Err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ResolveParentAlbum loads the album a photo belongs to. A missing album
// yields errors.ErrUnresolvedParent.
func (r *Resolver) ResolveParentAlbum(ctx context.Context, scope int64, albumLocalID uint64) (*models.Album, error) {
	id, err := remoteid.Encode(scope, albumLocalID)
	if err != nil {
		return nil, err
	}
	album, err := r.store.GetAlbum(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("%w: album %s is not stored", errs.ErrUnresolvedParent, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load album %s: %w", id, err)
	}
	return album, nil
}

// ResolveAuthor creates the author user when present. A nil id resolves to
// no author.
func (r *Resolver) ResolveAuthor(ctx context.Context, id *uint64) (*uint64, error) {
	if id == nil || *id == 0 {
		return nil, nil
	}
	key := models.OwnerRef(*id).String()
	_, err := r.do(ctx, key, func(ctx context.Context) error {
		return r.store.EnsureUsers(ctx, []uint64{*id})
	})
	if err != nil {
		return nil, fmt.Errorf("resolve author %d: %w", *id, err)
	}
	author := *id
	return &author, nil
}

// ResolveUsers creates every missing user among ids with one batched store
// call and returns them in input order without duplicates.
func (r *Resolver) ResolveUsers(ctx context.Context, ids []uint64) ([]models.User, error) {
	unique := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return []models.User{}, nil
	}

	if err := r.store.EnsureUsers(ctx, unique); err != nil {
		return nil, fmt.Errorf("resolve %d users: %w", len(unique), err)
	}

	users := make([]models.User, len(unique))
	for i, id := range unique {
		users[i] = models.User{ID: id}
	}
	return users, nil
}

// ResolveAlbum normalizes and resolves a raw album record. The result is not
// persisted.
func (r *Resolver) ResolveAlbum(ctx context.Context, raw RawRecord) (*models.Album, error) {
	draft, err := NormalizeAlbum(raw)
	if err != nil {
		return nil, err
	}
	ref, err := r.ResolveReferrer(ctx, draft.Scope)
	if err != nil {
		return nil, err
	}

	album := draft.Album
	album.Referrer = ref
	if album.RemoteID, err = remoteid.EncodeReferrer(ref, album.LocalID); err != nil {
		return nil, err
	}
	return &album, nil
}

// ResolvePhoto normalizes and resolves a raw photo record. Counters missing
// from the record keep the value already stored for the photo, or zero for a
// new one. The result is not persisted.
func (r *Resolver) ResolvePhoto(ctx context.Context, raw RawRecord) (*models.Photo, error) {
	draft, err := NormalizePhoto(raw)
	if err != nil {
		return nil, err
	}

	parent, err := r.ResolveParentAlbum(ctx, draft.Scope, draft.AlbumLocalID)
	if err != nil {
		return nil, err
	}
	ref, err := r.ResolveReferrer(ctx, draft.Scope)
	if err != nil {
		return nil, err
	}
	author, err := r.ResolveAuthor(ctx, draft.AuthorID)
	if err != nil {
		return nil, err
	}

	photo := draft.Photo
	photo.Referrer = ref
	photo.AlbumID = parent.RemoteID
	photo.AuthorID = author
	if photo.RemoteID, err = remoteid.EncodeReferrer(ref, photo.LocalID); err != nil {
		return nil, err
	}

	if draft.Likes == nil || draft.Comments == nil || draft.Tags == nil {
		prior, err := r.store.GetPhoto(ctx, photo.RemoteID)
		switch {
		case err == nil:
			photo.Likes, photo.Comments, photo.Tags = prior.Likes, prior.Comments, prior.Tags
		case !errors.Is(err, errs.ErrNotFound):
			return nil, fmt.Errorf("load photo %s: %w", photo.RemoteID, err)
		}
	}
	setCounter(&photo.Likes, draft.Likes)
	setCounter(&photo.Comments, draft.Comments)
	setCounter(&photo.Tags, draft.Tags)

	return &photo, nil
}

func setCounter(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
