// Package connectors holds the contract types shared by the vendor
// connector catalog in its subpackages.
//
// Every connector follows the same shape: an explicit Config struct
// carrying credentials and tuning, a validating New constructor, read
// methods returning tabular results and write methods returning per-batch
// outcomes. Credentials never appear in logs or error strings.
package connectors

// BatchResult is the outcome of one write batch. Write methods never stop
// at a failed batch: batch 2 failing must not prevent batches 1 and 3
// from being attempted, so callers get one result per batch and decide
// what to replay.
type BatchResult struct {
	// Batch is the 1-based batch number.
	Batch int

	// StatusCode is the vendor's HTTP status, 0 when the request never
	// completed.
	StatusCode int

	// Body is the vendor's response body, useful for per-row diagnostics.
	Body []byte

	// Err is set when the batch failed.
	Err error
}

// OK reports whether the batch succeeded.
func (r BatchResult) OK() bool {
	return r.Err == nil
}

// Failed counts the failed batches in a result set.
func Failed(results []BatchResult) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			n++
		}
	}
	return n
}
