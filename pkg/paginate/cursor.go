package paginate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/catnip-data/catnip/pkg/checkpoint"
	"github.com/catnip-data/catnip/pkg/fetch"
)

// CursorFunc fetches the page addressed by a cursor. The empty cursor
// addresses the first page.
type CursorFunc func(ctx context.Context, cursor string) (*fetch.Page, error)

// NextFunc reads the continuation cursor out of a fetched page.
// more=false terminates the fetch; a present cursor that cannot be read
// is an error.
type NextFunc func(page *fetch.Page) (cursor string, more bool, err error)

// FetchCursor runs a cursor-based sequential fetch starting from the
// first page. Cursors are threaded strictly: each request uses exactly
// the token the previous response produced.
func (d *Driver) FetchCursor(ctx context.Context, fetchPage CursorFunc, next NextFunc) (*Result, error) {
	result, _, err := d.fetchCursorFrom(ctx, "", fetchPage, next)
	return result, err
}

// FetchCursorCheckpointed resumes a cursor fetch from a saved checkpoint
// and saves the last produced cursor on clean termination. A missing
// checkpoint starts from the beginning.
func (d *Driver) FetchCursorCheckpointed(ctx context.Context, store checkpoint.Store, name string, fetchPage CursorFunc, next NextFunc) (*Result, error) {
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}

	cursor, err := store.Load(ctx, name)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNotFound) {
			return nil, fmt.Errorf("load checkpoint %q: %w", name, err)
		}
		cursor = ""
	} else {
		d.logger.Info().Str("checkpoint", name).Msg("Resuming from checkpoint")
	}

	result, lastCursor, err := d.fetchCursorFrom(ctx, cursor, fetchPage, next)
	if err != nil {
		return result, err
	}

	// A truncated walk stops mid-stream; saving its cursor would make the
	// next run skip everything past the ceiling. Keep the old checkpoint so
	// the next run re-fetches instead.
	if result.Truncated {
		return result, nil
	}

	if lastCursor != "" {
		if err := store.Save(ctx, name, lastCursor); err != nil {
			return result, fmt.Errorf("save checkpoint %q: %w", name, err)
		}
		d.logger.Debug().Str("checkpoint", name).Msg("Checkpoint saved")
	}

	return result, nil
}

func (d *Driver) fetchCursorFrom(ctx context.Context, cursor string, fetchPage CursorFunc, next NextFunc) (*Result, string, error) {
	start := time.Now()
	var pages []*fetch.Page
	lastCursor := cursor

	for {
		if d.pageBudgetExceeded(len(pages)) || d.elapsedBudgetExceeded(start) {
			d.logger.Warn().
				Int("fetched", len(pages)).
				Dur("elapsed", time.Since(start)).
				Msg("Pagination ceiling reached, returning partial result")
			paginationTruncatedTotal.WithLabelValues("cursor").Inc()
			return &Result{Pages: pages, PagesFetched: len(pages), Truncated: true}, lastCursor, nil
		}

		page, err := fetchPage(ctx, cursor)
		if err != nil {
			return &Result{Pages: pages, PagesFetched: len(pages)}, lastCursor,
				fmt.Errorf("cursor %q: %w", cursor, err)
		}
		pages = append(pages, page)
		pagesFetchedTotal.WithLabelValues("cursor").Inc()

		nextCursor, more, err := next(page)
		if err != nil {
			return &Result{Pages: pages, PagesFetched: len(pages)}, lastCursor,
				fmt.Errorf("read next cursor: %w", err)
		}
		if !more {
			break
		}
		cursor = nextCursor
		lastCursor = nextCursor
	}

	d.logger.Info().
		Int("pages", len(pages)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return &Result{Pages: pages, PagesFetched: len(pages)}, lastCursor, nil
}
