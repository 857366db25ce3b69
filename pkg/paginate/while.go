package paginate

import (
	"context"
	"fmt"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
)

// MoreFunc inspects a fetched page and reports whether another page
// follows. An unreadable continuation flag is an error, not a stop.
type MoreFunc func(page *fetch.Page) (bool, error)

// FetchWhile runs a flag-based sequential fetch: pages are requested one
// at a time, starting at 1, until the predicate reads a stop signal out of
// the response. Vendors in this dialect signal the end with a boolean
// field or an empty record list.
func (d *Driver) FetchWhile(ctx context.Context, fetchPage PageFunc, more MoreFunc) (*Result, error) {
	start := time.Now()
	var pages []*fetch.Page

	for pageNum := 1; ; pageNum++ {
		if d.pageBudgetExceeded(len(pages)) || d.elapsedBudgetExceeded(start) {
			d.logger.Warn().
				Int("fetched", len(pages)).
				Dur("elapsed", time.Since(start)).
				Msg("Pagination ceiling reached, returning partial result")
			paginationTruncatedTotal.WithLabelValues("while").Inc()
			return &Result{Pages: pages, PagesFetched: len(pages), Truncated: true}, nil
		}

		page, err := fetchPage(ctx, pageNum)
		if err != nil {
			return &Result{Pages: pages, PagesFetched: len(pages)},
				fmt.Errorf("page %d: %w", pageNum, err)
		}
		pages = append(pages, page)
		pagesFetchedTotal.WithLabelValues("while").Inc()

		cont, err := more(page)
		if err != nil {
			return &Result{Pages: pages, PagesFetched: len(pages)},
				fmt.Errorf("page %d continuation: %w", pageNum, err)
		}
		if !cont {
			break
		}
	}

	d.logger.Info().
		Int("pages", len(pages)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return &Result{Pages: pages, PagesFetched: len(pages)}, nil
}
