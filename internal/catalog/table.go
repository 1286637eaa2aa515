package catalog

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/raphaelgruber/movie-recommender/internal/models"
)

// RequiredColumns must appear in the catalog header. Other columns are ignored.
var RequiredColumns = []string{"title", "overview", "release_date", "popularity", "vote_average"}

var utf8BOM = []byte("\xef\xbb\xbf")

// csvMovie mirrors a catalog row before type conversion so one malformed
// date does not reject the whole file.
type csvMovie struct {
	Title       string `csv:"title"`
	Overview    string `csv:"overview"`
	ReleaseDate string `csv:"release_date"`
	Popularity  string `csv:"popularity"`
	VoteAverage string `csv:"vote_average"`
}

// Table is the movie catalog. Row i corresponds to embedding row i.
type Table struct {
	Movies []models.MovieRecord
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Movies)
}

// Find returns the index of the first row with the given title.
func (t *Table) Find(title string) (int, bool) {
	for i, m := range t.Movies {
		if m.Title == title {
			return i, true
		}
	}
	return -1, false
}

// Titles returns the sorted unique titles.
func (t *Table) Titles() []string {
	seen := make(map[string]struct{}, len(t.Movies))
	titles := make([]string, 0, len(t.Movies))
	for _, m := range t.Movies {
		if _, ok := seen[m.Title]; ok {
			continue
		}
		seen[m.Title] = struct{}{}
		titles = append(titles, m.Title)
	}
	slices.Sort(titles)
	return titles
}

// Overviews returns the overview of every row in catalog order.
func (t *Table) Overviews() []string {
	out := make([]string, len(t.Movies))
	for i, m := range t.Movies {
		out[i] = m.Overview
	}
	return out
}

// ParseCSV decodes a catalog file. Unparsable release dates become the zero
// time, which no date filter accepts. Empty numbers parse as 0.
func ParseCSV(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if err := checkHeader(data); err != nil {
		return nil, err
	}

	var rows []*csvMovie
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode catalog: %w", models.ErrConfiguration, err)
	}

	table := &Table{Movies: make([]models.MovieRecord, len(rows))}
	for i, row := range rows {
		popularity, err := parseNumber(row.Popularity)
		if err != nil {
			return nil, fmt.Errorf("%w: catalog row %d: popularity: %w", models.ErrConfiguration, i+1, err)
		}
		rating, err := parseNumber(row.VoteAverage)
		if err != nil {
			return nil, fmt.Errorf("%w: catalog row %d: vote_average: %w", models.ErrConfiguration, i+1, err)
		}
		table.Movies[i] = models.MovieRecord{
			Title:       row.Title,
			Overview:    row.Overview,
			ReleaseDate: parseDate(row.ReleaseDate),
			Popularity:  popularity,
			VoteAverage: rating,
		}
	}
	return table, nil
}

func checkHeader(data []byte) error {
	header, err := csv.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return fmt.Errorf("%w: read catalog header: %w", models.ErrConfiguration, err)
	}
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = struct{}{}
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: catalog is missing columns %s", models.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if len(s) > len(models.DateLayout) {
		s = s[:len(models.DateLayout)]
	}
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return d
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
