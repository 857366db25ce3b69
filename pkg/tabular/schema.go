package tabular

import (
	"errors"
	"fmt"
)

// ErrSchemaViolation indicates a table does not match its declared shape.
var ErrSchemaViolation = errors.New("schema violation")

// Schema declares the expected column shape of a table.
// Validation checks column presence only; value types are the vendor's
// business and are passed through untouched.
type Schema struct {
	// Required columns that must appear in the table.
	Required []string

	// Closed rejects any column not listed in Required.
	Closed bool
}

// Validate checks the table against the schema.
func (s *Schema) Validate(t *Table) error {
	if s == nil {
		return nil
	}

	present := make(map[string]struct{}, len(t.Columns))
	for _, col := range t.Columns {
		present[col] = struct{}{}
	}

	for _, col := range s.Required {
		if _, ok := present[col]; !ok {
			return fmt.Errorf("%w: missing required column %q", ErrSchemaViolation, col)
		}
	}

	if s.Closed {
		allowed := make(map[string]struct{}, len(s.Required))
		for _, col := range s.Required {
			allowed[col] = struct{}{}
		}
		for _, col := range t.Columns {
			if _, ok := allowed[col]; !ok {
				return fmt.Errorf("%w: unexpected column %q", ErrSchemaViolation, col)
			}
		}
	}

	return nil
}
