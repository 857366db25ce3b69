package paginate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
)

// PageFunc fetches one numbered page. Page numbers start at 1.
type PageFunc func(ctx context.Context, page int) (*fetch.Page, error)

// TotalFunc reads the total page count out of the first response.
type TotalFunc func(first *fetch.Page) (int, error)

// FetchNumbered runs a count-based fetch: page 1 is fetched alone to learn
// the total, then pages 2..N are fetched concurrently in windows of
// BatchSize. A window is fully awaited before the next one starts, so at
// most BatchSize requests are ever in flight.
//
// A total of one page means exactly one request. A page that fails after
// retries aborts the fetch; the pages already gathered come back alongside
// the error.
func (d *Driver) FetchNumbered(ctx context.Context, fetchPage PageFunc, total TotalFunc) (*Result, error) {
	start := time.Now()

	first, err := fetchPage(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	pagesFetchedTotal.WithLabelValues("numbered").Inc()

	totalPages, err := total(first)
	if err != nil {
		return nil, fmt.Errorf("read total page count: %w", err)
	}

	if totalPages <= 1 {
		return &Result{Pages: []*fetch.Page{first}, PagesFetched: 1}, nil
	}

	limit := totalPages
	truncated := false
	if d.config.MaxPages > 0 && limit > d.config.MaxPages {
		d.logger.Warn().
			Int("total_pages", totalPages).
			Int("max_pages", d.config.MaxPages).
			Msg("Page count exceeds ceiling, truncating fetch")
		paginationTruncatedTotal.WithLabelValues("numbered").Inc()
		limit = d.config.MaxPages
		truncated = true
	}

	d.logger.Info().
		Int("total_pages", totalPages).
		Int("batch_size", d.config.BatchSize).
		Msg("Starting batched page fetch")

	// Index is pageNumber-1. Slots stay nil past a breaker trip.
	pages := make([]*fetch.Page, limit)
	pages[0] = first
	fetched := 1

	for windowStart := 2; windowStart <= limit; windowStart += d.config.BatchSize {
		if d.elapsedBudgetExceeded(start) {
			d.logger.Warn().
				Int("fetched", fetched).
				Int("total_pages", totalPages).
				Dur("elapsed", time.Since(start)).
				Msg("Elapsed ceiling reached, returning partial result")
			// A fetch counts as truncated once, even when the page-count
			// ceiling already tripped.
			if !truncated {
				paginationTruncatedTotal.WithLabelValues("numbered").Inc()
			}
			truncated = true
			break
		}

		windowEnd := windowStart + d.config.BatchSize - 1
		if windowEnd > limit {
			windowEnd = limit
		}

		var wg sync.WaitGroup
		errs := make(chan error, windowEnd-windowStart+1)

		for pageNum := windowStart; pageNum <= windowEnd; pageNum++ {
			wg.Add(1)
			go func(pageNum int) {
				defer wg.Done()
				page, err := fetchPage(ctx, pageNum)
				if err != nil {
					errs <- fmt.Errorf("page %d: %w", pageNum, err)
					return
				}
				pages[pageNum-1] = page
			}(pageNum)
		}

		wg.Wait()
		close(errs)

		if err := <-errs; err != nil {
			partial := compact(pages)
			d.logger.Error().
				Err(err).
				Int("fetched", len(partial)).
				Int("total_pages", totalPages).
				Msg("Batch failed, aborting fetch")
			return &Result{Pages: partial, PagesFetched: len(partial)}, err
		}

		windowSize := windowEnd - windowStart + 1
		fetched += windowSize
		pagesFetchedTotal.WithLabelValues("numbered").Add(float64(windowSize))

		d.logger.Debug().
			Int("fetched", fetched).
			Int("total_pages", totalPages).
			Msg("Batch complete")
	}

	result := &Result{
		Pages:        pages[:fetched],
		PagesFetched: fetched,
		Truncated:    truncated,
	}

	d.logger.Info().
		Int("pages", fetched).
		Int("total_pages", totalPages).
		Bool("truncated", truncated).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return result, nil
}

// compact drops the nil slots a failed or truncated fetch leaves behind.
func compact(pages []*fetch.Page) []*fetch.Page {
	out := make([]*fetch.Page, 0, len(pages))
	for _, p := range pages {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}
