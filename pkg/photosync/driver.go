package photosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/logger"
)

// StopReason records why a retrieval pass ended.
type StopReason string

const (
	StopExhausted  StopReason = "exhausted"
	StopWindow     StopReason = "window"
	StopLimit      StopReason = "limit"
	StopSinglePage StopReason = "single_page"
	StopFailed     StopReason = "failed"
	StopTimeout    StopReason = "timeout"
	StopCancelled  StopReason = "cancelled"
)

// Bounds limits a retrieval pass.
type Bounds struct {
	// Offset is the starting cursor.
	Offset int
	// Limit caps the number of accepted items. Zero means no cap.
	Limit int
	// PageSize is the count requested per page.
	PageSize int
	// SinglePage stops after the first page.
	SinglePage bool
}

// Handler ingests one raw record. It returns the item and its dedupe key;
// on error the key is reported when known.
type Handler[T any] func(ctx context.Context, index int, raw json.RawMessage) (item T, key string, err error)

// Result is the outcome of a retrieval pass. Items are in remote order.
type Result[T any] struct {
	Items    []T
	Skipped  []errs.RecordError
	Pages    int
	Received int
	Stop     StopReason
}

// Driver pages through a request until a stop condition holds. Records are
// handled, and therefore persisted, before the next page is requested.
type Driver[T any] struct {
	Pager  *Pager
	Handle Handler[T]
	// Flush, when set, receives the new items of each page.
	Flush  func(ctx context.Context, items []T) error
	Logger logger.Logger
}

// Run executes the pass. On failure the items gathered so far are returned
// along with the error; a deadline yields errors.ErrTimeout.
func (d *Driver[T]) Run(ctx context.Context, req Request, bounds Bounds) (Result[T], error) {
	log := logger.OrNop(d.Logger)
	pageSize := bounds.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	var res Result[T]
	cursor := Cursor{Offset: bounds.Offset}
	seen := make(map[string]struct{})
	index := 0

	for {
		if err := ctx.Err(); err != nil {
			return res, d.abort(&res, err)
		}

		count := pageSize
		if bounds.Limit > 0 && bounds.Limit-len(res.Items) < count {
			count = bounds.Limit - len(res.Items)
		}

		page, err := d.Pager.FetchPage(ctx, req, cursor, count)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, d.abort(&res, ctxErr)
			}
			res.Stop = StopFailed
			return res, err
		}
		res.Pages++
		res.Received += page.Received

		fresh := make([]T, 0, len(page.Records))
		for _, raw := range page.Records {
			i := index
			index++

			item, key, err := d.Handle(ctx, i, raw)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return res, d.abort(&res, ctxErr)
				}
				res.Skipped = append(res.Skipped, errs.NewRecordError(i, key, err))
				logger.LogSkippedRecord(log, req.Kind, i, key, err)
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			res.Items = append(res.Items, item)
			fresh = append(fresh, item)

			if bounds.Limit > 0 && len(res.Items) >= bounds.Limit {
				break
			}
		}

		if d.Flush != nil && len(fresh) > 0 {
			if err := d.Flush(ctx, fresh); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return res, d.abort(&res, ctxErr)
				}
				res.Stop = StopFailed
				return res, fmt.Errorf("%s page at offset %d: %w", req.Kind, cursor.Offset, err)
			}
		}

		switch {
		case bounds.Limit > 0 && len(res.Items) >= bounds.Limit:
			res.Stop = StopLimit
		case page.Stopped:
			res.Stop = StopWindow
		case page.Exhausted:
			res.Stop = StopExhausted
		case bounds.SinglePage:
			res.Stop = StopSinglePage
		}
		if res.Stop != "" {
			return res, nil
		}
		cursor = page.Next
	}
}

func (d *Driver[T]) abort(res *Result[T], err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		res.Stop = StopTimeout
		return fmt.Errorf("%w after %d items: %w", errs.ErrTimeout, len(res.Items), err)
	}
	res.Stop = StopCancelled
	return err
}
