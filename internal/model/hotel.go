package model

import (
	"fmt"
	"strings"
)

// Hotel identifies one hotel listing on the review site.
type Hotel struct {
	CityID  string `json:"city_id" yaml:"city_id"`
	HotelID string `json:"hotel_id" yaml:"hotel_id"`
	Name    string `json:"name" yaml:"name"`
}

// Key returns a stable identifier for the hotel, e.g. "g294265-d302294".
func (h Hotel) Key() string {
	return "g" + h.CityID + "-d" + h.HotelID
}

// Validate checks that all seed parameters are present and URL-safe.
func (h Hotel) Validate() error {
	fields := []struct {
		name, value string
	}{
		{"city_id", h.CityID},
		{"hotel_id", h.HotelID},
		{"name", h.Name},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ConfigError{Field: f.name, Reason: "is required"}
		}
		if strings.ContainsAny(f.value, "/?#% ") {
			return &ConfigError{Field: f.name, Reason: fmt.Sprintf("contains characters not allowed in a listing URL: %q", f.value)}
		}
	}
	return nil
}

// ReviewURL builds the first review listing page for the hotel.
func (h Hotel) ReviewURL(baseURL string) string {
	return joinBase(baseURL, fmt.Sprintf("Hotel_Review-g%s-d%s-Reviews-%s.html", h.CityID, h.HotelID, h.Name))
}

// PageURL builds the listing page at the given zero-based index. Page 0 is
// ReviewURL; later pages carry an "or<offset>" segment where offset counts
// the reviews shown on the preceding pages.
func (h Hotel) PageURL(baseURL string, index, pageSize int) string {
	if index <= 0 {
		return h.ReviewURL(baseURL)
	}
	return joinBase(baseURL, fmt.Sprintf("Hotel_Review-g%s-d%s-Reviews-or%d-%s.html", h.CityID, h.HotelID, index*pageSize, h.Name))
}

// SeedURLs returns the first pages listing pages in order. pages < 1 is
// treated as 1.
func (h Hotel) SeedURLs(baseURL string, pages, pageSize int) []string {
	if pages < 1 {
		pages = 1
	}
	urls := make([]string, 0, pages)
	for i := range pages {
		urls = append(urls, h.PageURL(baseURL, i, pageSize))
	}
	return urls
}

func joinBase(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + path
}
