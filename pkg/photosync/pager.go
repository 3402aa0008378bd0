package photosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/ratelimit"
	"vkphotos/pkg/retry"
	"vkphotos/pkg/vkapi"
)

// API is the remote boundary the engine depends on.
type API interface {
	Call(ctx context.Context, method string, params map[string]string) (json.RawMessage, error)
}

// Window bounds a request on a timestamp field. Both bounds are inclusive
// and a zero bound is open.
type Window struct {
	After  time.Time
	Before time.Time
	// Fields names the timestamp keys to read, first present wins.
	Fields []string
	// Descending means the remote returns records newest first, so the first
	// record older than After ends the scan.
	Descending bool
}

// IsZero reports whether the window has no bounds.
func (w Window) IsZero() bool {
	return w.After.IsZero() && w.Before.IsZero()
}

func (w Window) tooNew(t time.Time) bool {
	return !w.Before.IsZero() && t.After(w.Before)
}

func (w Window) tooOld(t time.Time) bool {
	return !w.After.IsZero() && t.Before(w.After)
}

// Request is one logical list query against the API.
type Request struct {
	// Kind names the records for logs and summaries.
	Kind   string
	Method string
	// Params are scoping parameters passed through unchanged.
	Params map[string]string
	// Paged requests carry offset and count; unpaged ones are a single call.
	Paged  bool
	Window Window
}

// Cursor is the position of the next page.
type Cursor struct {
	Offset int
}

// Page is one fetched page after window filtering.
type Page struct {
	Records []json.RawMessage
	// Received counts records the API returned before filtering.
	Received int
	Total    int
	HasTotal bool
	Next     Cursor
	// Exhausted means no further pages exist.
	Exhausted bool
	// Stopped means a record crossed the window's lower bound.
	Stopped bool
}

// Pager issues single page requests with rate limiting and retries.
type Pager struct {
	api     API
	limiter ratelimit.Limiter
	retry   *retry.Config
	logger  logger.Logger
}

// NewPager creates a pager. A nil limiter never waits and a nil retry config
// uses retry.DefaultConfig.
func NewPager(api API, limiter ratelimit.Limiter, retryCfg *retry.Config, log logger.Logger) *Pager {
	if limiter == nil {
		limiter = ratelimit.Chain()
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	log = logger.OrNop(log)
	if retryCfg.Logger == nil {
		cfg := *retryCfg
		cfg.Logger = log
		retryCfg = &cfg
	}
	return &Pager{api: api, limiter: limiter, retry: retryCfg, logger: log}
}

// FetchPage requests count records at cursor. Transient failures are
// retried; when retries run out the error wraps errors.ErrTransientFetch.
func (p *Pager) FetchPage(ctx context.Context, req Request, cursor Cursor, count int) (Page, error) {
	params := make(map[string]string, len(req.Params)+2)
	for k, v := range req.Params {
		params[k] = v
	}
	if req.Paged {
		params["offset"] = strconv.Itoa(cursor.Offset)
		params["count"] = strconv.Itoa(count)
	}

	raw, err := retry.DoWithResult[json.RawMessage](ctx, func(ctx context.Context) (json.RawMessage, error) {
		start := time.Now()
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if waited := time.Since(start); waited > time.Second {
			logger.LogRateLimit(p.logger, req.Method, waited)
		}
		return p.api.Call(ctx, req.Method, params)
	}, p.retry)
	if err != nil {
		return Page{}, p.wrapFetchError(ctx, req, cursor, err)
	}

	list, err := vkapi.DecodeList(raw)
	if err != nil {
		return Page{}, fmt.Errorf("%s page at offset %d: %w", req.Kind, cursor.Offset, err)
	}

	page := Page{
		Received: len(list.Items),
		Total:    list.Count,
		HasTotal: list.HasCount,
		Next:     Cursor{Offset: cursor.Offset + len(list.Items)},
	}
	switch {
	case !req.Paged, len(list.Items) == 0, len(list.Items) < count:
		page.Exhausted = true
	case list.HasCount && page.Next.Offset >= list.Count:
		page.Exhausted = true
	}

	if req.Window.IsZero() {
		page.Records = list.Items
	} else {
		p.filter(req, list.Items, &page)
	}

	logger.LogPage(p.logger, req.Kind, cursor.Offset, len(page.Records), page.Total)
	return page, nil
}

// filter keeps records inside the window and detects the lower bound.
func (p *Pager) filter(req Request, items []json.RawMessage, page *Page) {
	w := req.Window
	page.Records = make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		rec, err := ParseRawRecord(item)
		if err != nil {
			// Let the record handler report it.
			page.Records = append(page.Records, item)
			continue
		}
		ts, err := rec.Time(w.Fields...)
		if err != nil || ts.IsZero() {
			page.Records = append(page.Records, item)
			continue
		}
		if w.tooOld(ts) {
			if w.Descending {
				page.Stopped = true
				page.Exhausted = true
				return
			}
			continue
		}
		if w.tooNew(ts) {
			continue
		}
		page.Records = append(page.Records, item)
	}
}

func (p *Pager) wrapFetchError(ctx context.Context, req Request, cursor Cursor, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if retry.DefaultRetryIf(err) {
		return fmt.Errorf("%w: %s page at offset %d: %w", errs.ErrTransientFetch, req.Kind, cursor.Offset, err)
	}
	return fmt.Errorf("%s page at offset %d: %w", req.Kind, cursor.Offset, err)
}
