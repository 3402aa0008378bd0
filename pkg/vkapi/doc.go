// Package vkapi is a thin client for the remote photo API.
//
// Each Call is a single form-encoded POST to {base}/{method}. The client
// unwraps the {"response": ...} envelope and turns {"error": ...} envelopes
// and HTTP failures into *errors.Error values typed by retryability:
//
//	raw, err := client.Call(ctx, vkapi.MethodPhotosGet, map[string]string{
//		"owner_id": "-6492",
//		"album_id": "17071606",
//	})
//	list, err := vkapi.DecodeList(raw)
//
// Pagination, retries and rate limiting live in the photosync package.
package vkapi
