// Package tabular turns JSON API payloads into flat tables.
//
// Connectors accumulate records page by page and hand the caller one Table
// per resource. Extraction is strict: a payload that does not decode, or
// that lacks the expected response key, is an error. An empty record list
// is not an error, it is how many vendors signal the last page.
package tabular

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common errors returned during extraction and validation.
var (
	// ErrMalformed indicates the payload was not valid JSON.
	ErrMalformed = errors.New("malformed payload")

	// ErrMissingKey indicates the response key was absent from the payload.
	ErrMissingKey = errors.New("response key not found")

	// ErrNotList indicates the response key held something other than a list.
	ErrNotList = errors.New("response key does not hold a list")
)

// Record is one row of vendor data, keyed by column name.
type Record = map[string]any

// Table is a flat, column-ordered result set.
type Table struct {
	Columns []string
	Rows    []Record
}

// NumRows returns the number of rows in the table.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// ExtractRecords locates the record list in a JSON payload.
//
// responseKey selects where the records live: "" means the payload itself
// is the list, "data" selects a top-level field, and dotted paths like
// "response.results" descend into nested objects. A payload where the key
// is missing or holds a non-list value is a hard error, never an empty
// result.
func ExtractRecords(body []byte, responseKey string) ([]Record, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	target := doc
	if responseKey != "" {
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: payload is not an object, cannot look up %q", ErrMissingKey, responseKey)
		}
		val, ok := Lookup(obj, responseKey)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingKey, responseKey)
		}
		target = val
	}

	list, ok := target.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T", ErrNotList, responseKey, target)
	}

	records := make([]Record, 0, len(list))
	for i, item := range list {
		rec, ok := item.(Record)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T, not an object", ErrNotList, i, item)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Lookup resolves a dotted path ("meta.pagination.total_pages") inside a
// decoded JSON object. Returns false if any segment is missing or a
// non-object is traversed.
func Lookup(doc map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = doc
	for _, seg := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// LookupInt resolves a dotted path to an integer. JSON numbers decode as
// float64, so both numeric forms are accepted.
func LookupInt(doc map[string]any, path string) (int, bool) {
	val, ok := Lookup(doc, path)
	if !ok {
		return 0, false
	}
	switch n := val.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// LookupString resolves a dotted path to a string.
func LookupString(doc map[string]any, path string) (string, bool) {
	val, ok := Lookup(doc, path)
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

// FromRecords builds a Table from accumulated records. The column set is
// the union of all row keys in sorted order, so the shape is stable no
// matter which order concurrent pages arrived in.
func FromRecords(records []Record) *Table {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for col := range rec {
			seen[col] = struct{}{}
		}
	}

	columns := make([]string, 0, len(seen))
	for col := range seen {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	return &Table{
		Columns: columns,
		Rows:    records,
	}
}

// Chunk splits rows into consecutive batches of at most size rows.
// The last batch may be shorter. Used by write methods bound to vendor
// batch ceilings.
func Chunk(rows []Record, size int) [][]Record {
	if size <= 0 || len(rows) == 0 {
		return nil
	}
	batches := make([][]Record, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}
	return batches
}
