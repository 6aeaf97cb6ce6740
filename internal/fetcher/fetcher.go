// Package fetcher retrieves listing pages over HTTP with bounded retry.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Page is the raw content of one fetched listing page. It is owned by the
// fetch-then-extract step and discarded afterwards.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Attempts    int
	FetchedAt   time.Time
}

// PageFetcher fetches a single URL and returns its content.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) (*Page, error)
}

// FetchError is the terminal failure of a fetch after the retry policy gave
// up. Err is the error of the final attempt.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// BodyTooLargeError reports a successful response whose body exceeded the
// configured cap. It is not retried.
type BodyTooLargeError struct {
	URL   string
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("response body from %s exceeds %d bytes", e.URL, e.Limit)
}
