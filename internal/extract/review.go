package extract

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Selectors locate review entries on a listing page.
//
// The marker check is a site-specific heuristic, not a semantic guarantee:
// the review site currently renders each review block as a direct child of
// the reviews container whose class attribute holds exactly two classes,
// while sibling widgets carry a different number. A markup change on the
// site breaks it silently, so every value is configurable.
type Selectors struct {
	// Container selects the element holding the current page's reviews.
	Container string
	// MarkerAttr is the attribute inspected on each direct child.
	MarkerAttr string
	// MarkerValues is the exact number of whitespace-separated values
	// MarkerAttr must carry for the child to count as a review entry.
	MarkerValues int
	// Entry selects the element, within a review entry, whose text is
	// collected. Only the first match is used.
	Entry string
}

// DefaultSelectors matches the review site's current layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Container:    `div[data-test-target="reviews-tab"]`,
		MarkerAttr:   "class",
		MarkerValues: 2,
		Entry:        "q",
	}
}

// ReviewExtractor collects review entries from a hotel review listing page.
type ReviewExtractor struct {
	sel Selectors
}

// NewReviewExtractor returns an extractor for sel. Empty fields fall back to
// DefaultSelectors.
func NewReviewExtractor(sel Selectors) *ReviewExtractor {
	def := DefaultSelectors()
	if sel.Container == "" {
		sel.Container = def.Container
	}
	if sel.MarkerAttr == "" {
		sel.MarkerAttr = def.MarkerAttr
	}
	if sel.MarkerValues <= 0 {
		sel.MarkerValues = def.MarkerValues
	}
	if sel.Entry == "" {
		sel.Entry = def.Entry
	}
	return &ReviewExtractor{sel: sel}
}

// Extract returns the text of the first Entry element inside every
// qualifying direct child of the first Container, in document order.
func (e *ReviewExtractor) Extract(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	entries := []string{}
	container := doc.Find(e.sel.Container).First()
	if container.Length() == 0 {
		zap.L().Debug("extract: review container not found", zap.String("selector", e.sel.Container))
		return entries, nil
	}

	container.Children().Each(func(i int, child *goquery.Selection) {
		if !e.isReviewEntry(child) {
			return
		}
		q := child.Find(e.sel.Entry).First()
		if q.Length() == 0 {
			zap.L().Debug("extract: review entry without text element", zap.Int("child", i))
			return
		}
		entries = append(entries, strings.TrimSpace(q.Text()))
	})

	return entries, nil
}

func (e *ReviewExtractor) isReviewEntry(s *goquery.Selection) bool {
	v, ok := s.Attr(e.sel.MarkerAttr)
	if !ok {
		return false
	}
	return len(strings.Fields(v)) == e.sel.MarkerValues
}
