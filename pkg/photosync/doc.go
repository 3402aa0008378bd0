// Package photosync mirrors remote albums, photos and likes into a store.
//
// An Engine is built from an API client and a store:
//
//	engine := photosync.New(client, st,
//		photosync.WithLogger(log),
//		photosync.WithRateLimiter(ratelimit.New(cfg.RateLimit)),
//		photosync.WithRetry(retry.FromSettings(cfg.Retry, log)),
//	)
//	albums, err := engine.FetchAlbums(ctx, photosync.AlbumQuery{Referrer: models.GroupRef(6492)})
//
// Every Fetch call runs a Driver: pages are requested one after another,
// each record is normalized, its references resolved and the entity stored
// before the next page is requested. Records that fail are skipped and
// listed in the call's Summary. A page that keeps failing ends the call with
// the entities gathered so far.
//
// Albums must be stored before their photos; FetchPhotos on an unknown album
// fails with errors.ErrUnresolvedParent without calling the API.
package photosync
