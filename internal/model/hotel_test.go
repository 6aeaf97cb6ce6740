package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotel_ReviewURL(t *testing.T) {
	t.Parallel()

	h := Hotel{CityID: "294265", HotelID: "302294", Name: "Pan_Pacific_Singapore-Singapore"}

	assert.Equal(t,
		"http://www.tripadvisor.com.sg/Hotel_Review-g294265-d302294-Reviews-Pan_Pacific_Singapore-Singapore.html",
		h.ReviewURL("http://www.tripadvisor.com.sg/"))
	assert.Equal(t,
		"https://example.test/Hotel_Review-g294265-d302294-Reviews-Pan_Pacific_Singapore-Singapore.html",
		h.ReviewURL("https://example.test"))
}

func TestHotel_SeedURLs(t *testing.T) {
	t.Parallel()

	h := Hotel{CityID: "1", HotelID: "2", Name: "Inn"}

	tests := []struct {
		name  string
		pages int
		want  []string
	}{
		{"zero pages", 0, []string{"http://s/Hotel_Review-g1-d2-Reviews-Inn.html"}},
		{"one page", 1, []string{"http://s/Hotel_Review-g1-d2-Reviews-Inn.html"}},
		{"three pages", 3, []string{
			"http://s/Hotel_Review-g1-d2-Reviews-Inn.html",
			"http://s/Hotel_Review-g1-d2-Reviews-or5-Inn.html",
			"http://s/Hotel_Review-g1-d2-Reviews-or10-Inn.html",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, h.SeedURLs("http://s/", tt.pages, 5))
		})
	}
}

func TestHotel_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Hotel{CityID: "1", HotelID: "2", Name: "Inn"}.Validate())

	tests := []struct {
		name  string
		hotel Hotel
		field string
	}{
		{"missing city", Hotel{HotelID: "2", Name: "Inn"}, "city_id"},
		{"missing hotel", Hotel{CityID: "1", Name: "Inn"}, "hotel_id"},
		{"blank name", Hotel{CityID: "1", HotelID: "2", Name: "  "}, "name"},
		{"slash in name", Hotel{CityID: "1", HotelID: "2", Name: "a/b"}, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.hotel.Validate()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestHotel_Key(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "g294265-d302294", Hotel{CityID: "294265", HotelID: "302294"}.Key())
}
