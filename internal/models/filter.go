package models

import "time"

// Default filter bounds applied when a request leaves them unspecified.
const (
	DefaultTopK          = 5
	DefaultMinPopularity = 0.0
	DefaultMaxPopularity = 11702.0
	DefaultMinRating     = 0.0
	DefaultMaxRating     = 10.0
)

var (
	// DefaultDateFrom is the earliest release date in the reference catalog.
	DefaultDateFrom = time.Date(1902, time.April, 17, 0, 0, 0, 0, time.UTC)
	// DefaultDateTo is the latest release date in the reference catalog.
	DefaultDateTo = time.Date(2021, time.March, 24, 0, 0, 0, 0, time.UTC)
)

// QueryFilter restricts which catalog rows may be recommended.
// All bounds are inclusive on both ends.
type QueryFilter struct {
	DateFrom      time.Time
	DateTo        time.Time
	MinPopularity float64
	MaxPopularity float64
	MinRating     float64
	MaxRating     float64
	ExcludeTitles map[string]struct{}
}

// DefaultFilter returns the filter used when a caller specifies no bounds.
func DefaultFilter() QueryFilter {
	return QueryFilter{
		DateFrom:      DefaultDateFrom,
		DateTo:        DefaultDateTo,
		MinPopularity: DefaultMinPopularity,
		MaxPopularity: DefaultMaxPopularity,
		MinRating:     DefaultMinRating,
		MaxRating:     DefaultMaxRating,
	}
}

// Exclude adds titles to the excluded set.
func (f *QueryFilter) Exclude(titles ...string) {
	if len(titles) == 0 {
		return
	}
	if f.ExcludeTitles == nil {
		f.ExcludeTitles = make(map[string]struct{}, len(titles))
	}
	for _, t := range titles {
		f.ExcludeTitles[t] = struct{}{}
	}
}

// Matches reports whether a record passes every predicate of the filter.
// An inverted range (min > max) matches nothing.
func (f QueryFilter) Matches(m MovieRecord) bool {
	if m.ReleaseDate.Before(f.DateFrom) || m.ReleaseDate.After(f.DateTo) {
		return false
	}
	if m.Popularity < f.MinPopularity || m.Popularity > f.MaxPopularity {
		return false
	}
	if m.VoteAverage < f.MinRating || m.VoteAverage > f.MaxRating {
		return false
	}
	if _, excluded := f.ExcludeTitles[m.Title]; excluded {
		return false
	}
	return true
}
