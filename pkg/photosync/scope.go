package photosync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vkphotos/internal/workerpool"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/models"
)

// ScopeQuery synchronizes everything of one owner or group.
type ScopeQuery struct {
	Referrer models.Referrer
	// After limits albums by update time and photos by creation time.
	After      time.Time
	WithPhotos bool
	WithLikes  bool
	// Concurrency overrides the engine's album concurrency when positive.
	Concurrency int
	// OnAlbum, if set, is called from worker goroutines as each album
	// finishes.
	OnAlbum func(sync AlbumSync, total int)
}

// AlbumSync is the outcome of synchronizing one album's photos.
type AlbumSync struct {
	AlbumID string    `json:"album_id" yaml:"album_id"`
	Photos  Summary   `json:"photos" yaml:"photos"`
	Likes   []Summary `json:"likes,omitempty" yaml:"likes,omitempty"`
	Error   string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// ScopeResult reports a SyncScope run.
type ScopeResult struct {
	Referrer   models.Referrer `json:"referrer" yaml:"referrer"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	Albums     Summary         `json:"albums" yaml:"albums"`
	AlbumSyncs []AlbumSync     `json:"album_syncs,omitempty" yaml:"album_syncs,omitempty"`
	Photos     int             `json:"photos" yaml:"photos"`
	Likes      int             `json:"likes" yaml:"likes"`
}

// SyncScope fetches the albums of a referrer, then the photos of each album
// on a worker pool, and optionally every photo's likes. Albums are stored
// before any photo is requested. Per-album failures are joined into the
// returned error; the result is always returned once albums were fetched.
func (e *Engine) SyncScope(ctx context.Context, q ScopeQuery) (*ScopeResult, error) {
	res := &ScopeResult{Referrer: q.Referrer, StartedAt: e.now()}

	albums, err := e.FetchAlbums(ctx, AlbumQuery{Referrer: q.Referrer, After: q.After})
	if albums != nil {
		res.Albums = albums.Summary
	}
	if err != nil {
		res.FinishedAt = e.now()
		return res, fmt.Errorf("sync %s albums: %w", q.Referrer, err)
	}
	if !q.WithPhotos || len(albums.Albums) == 0 {
		res.FinishedAt = e.now()
		return res, nil
	}

	concurrency := e.concurrency
	if q.Concurrency > 0 {
		concurrency = q.Concurrency
	}

	syncs := make([]AlbumSync, len(albums.Albums))
	jobs := make([]workerpool.Job, len(albums.Albums))
	for i, album := range albums.Albums {
		albumID := album.RemoteID
		jobs[i] = workerpool.Job{
			Key: albumID,
			Run: func(ctx context.Context) (int, error) {
				n, err := e.syncAlbum(ctx, &syncs[i], albumID, q)
				if q.OnAlbum != nil {
					out := syncs[i]
					out.AlbumID = albumID
					q.OnAlbum(out, len(albums.Albums))
				}
				return n, err
			},
		}
	}

	var failures []error
	done := 0
	for _, r := range workerpool.Run(ctx, concurrency, jobs, e.logger) {
		done++
		logger.LogSyncProgress(e.logger, q.Referrer.String(), done, len(jobs))
		if r.Err != nil {
			failures = append(failures, fmt.Errorf("album %s: %w", r.Job.Key, r.Err))
		}
	}

	for i := range syncs {
		syncs[i].AlbumID = jobs[i].Key
		res.Photos += syncs[i].Photos.Stored
		for _, l := range syncs[i].Likes {
			res.Likes += l.Stored
		}
	}
	res.AlbumSyncs = syncs
	res.FinishedAt = e.now()
	return res, errors.Join(failures...)
}

// syncAlbum fills out with the album's outcome and returns the number of
// photos stored.
func (e *Engine) syncAlbum(ctx context.Context, out *AlbumSync, albumID string, q ScopeQuery) (int, error) {
	photos, err := e.FetchPhotos(ctx, PhotoQuery{AlbumID: albumID, After: q.After, Extended: true})
	if photos != nil {
		out.Photos = photos.Summary
	}
	if err != nil {
		out.Error = err.Error()
		return out.Photos.Stored, err
	}

	var failures []error
	for _, photo := range photos.Photos {
		if q.WithLikes {
			likes, err := e.FetchLikes(ctx, photo.RemoteID, true)
			if likes != nil {
				out.Likes = append(out.Likes, likes.Summary)
			}
			if err != nil {
				failures = append(failures, err)
				if ctx.Err() != nil {
					break
				}
			}
		}
		if e.refreshCounters && e.counters != nil {
			if _, err := e.RefreshCounters(ctx, photo.RemoteID); err != nil {
				failures = append(failures, err)
			}
		}
	}

	err = errors.Join(failures...)
	if err != nil {
		out.Error = err.Error()
	}
	return len(photos.Photos), err
}
