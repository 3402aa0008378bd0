// Package store defines the persistence boundary of the synchronization
// engine. Implementations live in the memory and sqlstore subpackages.
package store

import (
	"context"

	"vkphotos/pkg/models"
)

// AlbumFilter narrows ListAlbums. A zero Referrer lists every album.
type AlbumFilter struct {
	Referrer models.Referrer
}

// PhotoFilter narrows ListPhotos. An empty AlbumID lists every photo.
type PhotoFilter struct {
	AlbumID string
}

// Stats counts stored rows.
type Stats struct {
	Users  int `json:"users" yaml:"users"`
	Groups int `json:"groups" yaml:"groups"`
	Albums int `json:"albums" yaml:"albums"`
	Photos int `json:"photos" yaml:"photos"`
	Likes  int `json:"likes" yaml:"likes"`
}

// Store persists users, groups, albums, photos and the like relation.
//
// Albums and photos are keyed by their composite remote id and upserted: a
// second write of the same id replaces the row, never duplicates it. Users
// and groups are insert-if-absent. Get methods return an error wrapping
// errors.ErrNotFound when the row does not exist. Writing a photo whose album
// is missing returns an error wrapping errors.ErrUnresolvedParent.
type Store interface {
	EnsureUsers(ctx context.Context, ids []uint64) error
	EnsureGroup(ctx context.Context, id uint64) error
	GetUser(ctx context.Context, id uint64) (*models.User, error)
	GetGroup(ctx context.Context, id uint64) (*models.Group, error)

	UpsertAlbum(ctx context.Context, album *models.Album) error
	GetAlbum(ctx context.Context, remoteID string) (*models.Album, error)
	ListAlbums(ctx context.Context, filter AlbumFilter) ([]models.Album, error)

	UpsertPhoto(ctx context.Context, photo *models.Photo) error
	GetPhoto(ctx context.Context, remoteID string) (*models.Photo, error)
	ListPhotos(ctx context.Context, filter PhotoFilter) ([]models.Photo, error)
	// UpdatePhotoCounters overwrites the non-nil counters only.
	UpdatePhotoCounters(ctx context.Context, remoteID string, likes, comments *int) error

	// AddLikes unions userIDs into the photo's like relation, sets the
	// photo's likes counter to the relation size and returns that size, all
	// in one transaction. Users must already exist.
	AddLikes(ctx context.Context, photoID string, userIDs []uint64) (int, error)
	ListLikers(ctx context.Context, photoID string) ([]uint64, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
