// Package extract turns fetched listing pages into review entries.
package extract

import (
	"fmt"
	"io"
)

// Extractor parses page content and yields child entries in document order.
// Implementations must return an empty slice, not an error, when the page
// is well-formed but does not contain the expected structure.
type Extractor interface {
	Extract(r io.Reader) ([]string, error)
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(r io.Reader) ([]string, error)

// Extract calls f(r).
func (f ExtractorFunc) Extract(r io.Reader) ([]string, error) {
	return f(r)
}

// ParseError reports content that could not be parsed at all.
// Re-fetching will not fix it, so it is never retried.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse page: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
