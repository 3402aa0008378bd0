package photosync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/models"
	"vkphotos/pkg/store"
)

// Reconciler merges fetched likers into a photo's like relation.
type Reconciler struct {
	store    store.Store
	resolver *Resolver
	logger   logger.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(st store.Store, resolver *Resolver, log logger.Logger) *Reconciler {
	return &Reconciler{store: st, resolver: resolver, logger: logger.OrNop(log)}
}

// SyncLikes creates missing users in one batch, unions them into the
// relation and sets the photo's likes counter to the relation size. Users
// absent from likerIDs are never removed. It returns the whole relation.
func (r *Reconciler) SyncLikes(ctx context.Context, photoID string, likerIDs []uint64) ([]models.User, error) {
	users, err := r.resolver.ResolveUsers(ctx, likerIDs)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	total, err := r.store.AddLikes(ctx, photoID, ids)
	if err != nil {
		return nil, fmt.Errorf("add likes to %s: %w", photoID, err)
	}

	r.logger.DebugWithFields("Likes reconciled", map[string]interface{}{
		"photo": photoID,
		"added": len(ids),
		"likes": total,
	})

	return r.Likers(ctx, photoID)
}

// Likers returns the stored like relation of a photo.
func (r *Reconciler) Likers(ctx context.Context, photoID string) ([]models.User, error) {
	ids, err := r.store.ListLikers(ctx, photoID)
	if err != nil {
		return nil, fmt.Errorf("list likers of %s: %w", photoID, err)
	}
	users := make([]models.User, len(ids))
	for i, id := range ids {
		users[i] = models.User{ID: id}
	}
	return users, nil
}

// parseLiker reads one item of a likers list: a bare id, a quoted id, or an
// object carrying "id" or "uid".
func parseLiker(raw json.RawMessage) (uint64, error) {
	if len(raw) > 0 && raw[0] == '{' {
		rec, err := ParseRawRecord(raw)
		if err != nil {
			return 0, err
		}
		id, ok, err := rec.Uint64("id", "uid")
		if err != nil {
			return 0, err
		}
		if !ok || id == 0 {
			return 0, fmt.Errorf("%w: liker object has no id", errs.ErrInvalidRecord)
		}
		return id, nil
	}

	rec := RawRecord{"id": raw}
	id, _, err := rec.Uint64("id")
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("%w: liker id is zero", errs.ErrInvalidRecord)
	}
	return id, nil
}

func likerKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}
