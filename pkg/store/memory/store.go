// Package memory provides an in-process Store used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/models"
	"vkphotos/pkg/store"
)

// Store keeps every entity in maps guarded by one RWMutex. Values are
// copied on the way in and out so callers never share memory with it.
type Store struct {
	mu     sync.RWMutex
	users  map[uint64]models.User
	groups map[uint64]models.Group
	albums map[string]models.Album
	photos map[string]models.Photo
	likes  map[string]map[uint64]struct{}

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:  make(map[uint64]models.User),
		groups: make(map[uint64]models.Group),
		albums: make(map[string]models.Album),
		photos: make(map[string]models.Photo),
		likes:  make(map[string]map[uint64]struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) EnsureUsers(ctx context.Context, ids []uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if id == 0 {
			return fmt.Errorf("%w: user id 0", errs.ErrInvalidRecord)
		}
		if _, ok := s.users[id]; !ok {
			s.users[id] = models.User{ID: id, CreatedAt: s.now()}
		}
	}
	return nil
}

func (s *Store) EnsureGroup(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == 0 {
		return fmt.Errorf("%w: group id 0", errs.ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		s.groups[id] = models.Group{ID: id, CreatedAt: s.now()}
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, errs.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) GetGroup(ctx context.Context, id uint64) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %d: %w", id, errs.ErrNotFound)
	}
	return &g, nil
}

func (s *Store) UpsertAlbum(ctx context.Context, album *models.Album) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateAlbum(album); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasReferrer(album.Referrer) {
		return fmt.Errorf("album %s: %s is not stored: %w", album.RemoteID, album.Referrer, errs.ErrUnresolvedParent)
	}
	s.albums[album.RemoteID] = copyAlbum(*album)
	return nil
}

func (s *Store) GetAlbum(ctx context.Context, remoteID string) (*models.Album, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.albums[remoteID]
	if !ok {
		return nil, fmt.Errorf("album %s: %w", remoteID, errs.ErrNotFound)
	}
	a = copyAlbum(a)
	return &a, nil
}

func (s *Store) ListAlbums(ctx context.Context, filter store.AlbumFilter) ([]models.Album, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Album
	for _, a := range s.albums {
		if !filter.Referrer.IsZero() && a.Referrer != filter.Referrer {
			continue
		}
		out = append(out, copyAlbum(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].RemoteID < out[j].RemoteID
	})
	return out, nil
}

func (s *Store) UpsertPhoto(ctx context.Context, photo *models.Photo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidatePhoto(photo); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasReferrer(photo.Referrer) {
		return fmt.Errorf("photo %s: %s is not stored: %w", photo.RemoteID, photo.Referrer, errs.ErrUnresolvedParent)
	}
	if _, ok := s.albums[photo.AlbumID]; !ok {
		return fmt.Errorf("photo %s: album %s: %w", photo.RemoteID, photo.AlbumID, errs.ErrUnresolvedParent)
	}
	if photo.AuthorID != nil {
		if _, ok := s.users[*photo.AuthorID]; !ok {
			return fmt.Errorf("photo %s: author %d: %w", photo.RemoteID, *photo.AuthorID, errs.ErrUnresolvedParent)
		}
	}
	s.photos[photo.RemoteID] = copyPhoto(*photo)
	return nil
}

func (s *Store) GetPhoto(ctx context.Context, remoteID string) (*models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.photos[remoteID]
	if !ok {
		return nil, fmt.Errorf("photo %s: %w", remoteID, errs.ErrNotFound)
	}
	p = copyPhoto(p)
	return &p, nil
}

func (s *Store) ListPhotos(ctx context.Context, filter store.PhotoFilter) ([]models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Photo
	for _, p := range s.photos {
		if filter.AlbumID != "" && p.AlbumID != filter.AlbumID {
			continue
		}
		out = append(out, copyPhoto(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].RemoteID < out[j].RemoteID
	})
	return out, nil
}

func (s *Store) UpdatePhotoCounters(ctx context.Context, remoteID string, likes, comments *int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.photos[remoteID]
	if !ok {
		return fmt.Errorf("photo %s: %w", remoteID, errs.ErrNotFound)
	}
	if likes != nil {
		p.Likes = *likes
	}
	if comments != nil {
		p.Comments = *comments
	}
	s.photos[remoteID] = p
	return nil
}

func (s *Store) AddLikes(ctx context.Context, photoID string, userIDs []uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.photos[photoID]
	if !ok {
		return 0, fmt.Errorf("photo %s: %w", photoID, errs.ErrNotFound)
	}
	for _, id := range userIDs {
		if _, ok := s.users[id]; !ok {
			return 0, fmt.Errorf("liker %d: %w", id, errs.ErrUnresolvedParent)
		}
	}

	set := s.likes[photoID]
	if set == nil {
		set = make(map[uint64]struct{}, len(userIDs))
		s.likes[photoID] = set
	}
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	p.Likes = len(set)
	s.photos[photoID] = p
	return p.Likes, nil
}

func (s *Store) ListLikers(ctx context.Context, photoID string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.photos[photoID]; !ok {
		return nil, fmt.Errorf("photo %s: %w", photoID, errs.ErrNotFound)
	}
	out := make([]uint64, 0, len(s.likes[photoID]))
	for id := range s.likes[photoID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := store.Stats{
		Users:  len(s.users),
		Groups: len(s.groups),
		Albums: len(s.albums),
		Photos: len(s.photos),
	}
	for _, set := range s.likes {
		st.Likes += len(set)
	}
	return st, nil
}

func (s *Store) Close() error { return nil }

// hasReferrer must be called with s.mu held.
func (s *Store) hasReferrer(ref models.Referrer) bool {
	if ref.IsGroup() {
		_, ok := s.groups[ref.ID]
		return ok
	}
	_, ok := s.users[ref.ID]
	return ok
}

func copyAlbum(a models.Album) models.Album {
	if a.Privacy != nil {
		p := *a.Privacy
		a.Privacy = &p
	}
	return a
}

func copyPhoto(p models.Photo) models.Photo {
	if p.AuthorID != nil {
		id := *p.AuthorID
		p.AuthorID = &id
	}
	return p
}
