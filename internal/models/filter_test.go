package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDefaultFilter(t *testing.T) {
	f := DefaultFilter()
	assert.Equal(t, date("1902-04-17"), f.DateFrom)
	assert.Equal(t, date("2021-03-24"), f.DateTo)
	assert.Equal(t, 11702.0, f.MaxPopularity)
	assert.Equal(t, 10.0, f.MaxRating)
	assert.Empty(t, f.ExcludeTitles)
}

func TestQueryFilterMatches(t *testing.T) {
	base := MovieRecord{
		Title:       "Heat",
		ReleaseDate: date("1995-12-15"),
		Popularity:  50,
		VoteAverage: 7.9,
	}

	tests := []struct {
		name   string
		modify func(f *QueryFilter)
		movie  MovieRecord
		want   bool
	}{
		{"defaults pass", func(f *QueryFilter) {}, base, true},
		{"date on lower bound", func(f *QueryFilter) { f.DateFrom = date("1995-12-15") }, base, true},
		{"date on upper bound", func(f *QueryFilter) { f.DateTo = date("1995-12-15") }, base, true},
		{"date before range", func(f *QueryFilter) { f.DateFrom = date("1995-12-16") }, base, false},
		{"date after range", func(f *QueryFilter) { f.DateTo = date("1995-12-14") }, base, false},
		{"popularity on bounds", func(f *QueryFilter) { f.MinPopularity, f.MaxPopularity = 50, 50 }, base, true},
		{"popularity below min", func(f *QueryFilter) { f.MinPopularity = 50.01 }, base, false},
		{"popularity above max", func(f *QueryFilter) { f.MaxPopularity = 49.99 }, base, false},
		{"inverted popularity range", func(f *QueryFilter) { f.MinPopularity, f.MaxPopularity = 100, 50 }, base, false},
		{"rating on bounds", func(f *QueryFilter) { f.MinRating, f.MaxRating = 7.9, 7.9 }, base, true},
		{"rating below min", func(f *QueryFilter) { f.MinRating = 8 }, base, false},
		{"rating above max", func(f *QueryFilter) { f.MaxRating = 7 }, base, false},
		{"excluded title", func(f *QueryFilter) { f.Exclude("Heat") }, base, false},
		{"other title excluded", func(f *QueryFilter) { f.Exclude("Ronin") }, base, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DefaultFilter()
			tt.modify(&f)
			assert.Equal(t, tt.want, f.Matches(tt.movie))
		})
	}
}

func TestExcludeNoTitles(t *testing.T) {
	f := DefaultFilter()
	f.Exclude()
	assert.Nil(t, f.ExcludeTitles)
}
