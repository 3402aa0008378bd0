// Package retry provides exponential backoff and retry logic for transient
// failures of remote API calls.
//
//	cfg := retry.FromSettings(appCfg.Retry, log)
//	raw, err := retry.DoWithResult(ctx, func(ctx context.Context) (json.RawMessage, error) {
//		return api.Call(ctx, "photos.get", params)
//	}, cfg)
//
// Typed errors from pkg/errors decide both whether an attempt is retried and
// which backoff applies: rate limit errors wait longest, server errors less,
// network errors use the base strategy. Auth, not-found, parsing and API
// errors are returned immediately.
package retry
