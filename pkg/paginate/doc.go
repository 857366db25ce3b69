// Package paginate drives multi-page fetches across the three pagination
// dialects the vendor catalog uses.
//
// # Dialects
//
// Count-based (FetchNumbered): the first response reports the total page
// count, remaining pages are fetched concurrently in fixed-size batches.
// Used by vendors like formstack, bump and bigcommerce v3.
//
// Flag-based (FetchWhile): pages are fetched sequentially until a
// caller-supplied predicate reads a continuation flag (or an empty record
// list) out of the response. Used by cheq and tradablebits.
//
// Cursor-based (FetchCursor): each response carries an opaque token for
// the next request; absence of the token terminates. Strictly sequential,
// a cursor is never reused or skipped. Used by seatgeek, greenhouse
// (Link header URLs) and yellowdog.
//
// # Circuit breaker
//
// MaxPages and MaxElapsed bound runaway loops against buggy endpoints
// that cycle cursors or report absurd page counts. The breaker only
// trips at batch/iteration boundaries; in-flight requests always finish.
// A tripped breaker returns the partial result with Truncated set and a
// logged warning, not an error.
//
// # Failure
//
// A page that still fails after fetch-level retries aborts the fetch and
// surfaces the error. Pages are never silently skipped: a gap in the
// middle of a resource is worse than a failed sync.
package paginate
