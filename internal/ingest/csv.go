// Package ingest loads the IMDB movie CSV into the vector store.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// CSV header columns.
const (
	ColOverview = "Overview"
	ColTitle    = "Series_Title"
	ColYear     = "Released_Year"
	ColGenre    = "Genre"
	ColRating   = "IMDB_Rating"
)

var requiredColumns = []string{ColOverview, ColTitle, ColYear, ColGenre, ColRating}

// ErrMissingColumn is returned when the CSV header lacks a required column.
var ErrMissingColumn = errors.New("missing csv column")

// Movie is one accepted CSV row.
type Movie struct {
	Title    string
	Year     string
	Genre    string
	Rating   float64
	Overview string
}

// ReadResult holds the accepted rows and how many were skipped.
type ReadResult struct {
	Movies  []Movie
	Read    int
	Skipped int
}

// ReadMovies parses the movie CSV. Rows with an empty overview are skipped.
// limit > 0 caps the number of accepted rows.
func ReadMovies(r io.Reader, limit int) (ReadResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ReadResult{}, fmt.Errorf("%w: empty file", ErrMissingColumn)
		}
		return ReadResult{}, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return ReadResult{}, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var result ReadResult
	for {
		if limit > 0 && len(result.Movies) >= limit {
			break
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read row %d: %w", result.Read+2, err)
		}
		result.Read++

		field := func(col string) string {
			i := index[col]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		overview := field(ColOverview)
		if overview == "" {
			result.Skipped++
			continue
		}

		movie := Movie{
			Title:    field(ColTitle),
			Year:     field(ColYear),
			Genre:    field(ColGenre),
			Overview: overview,
		}
		if raw := field(ColRating); raw != "" {
			rating, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				slog.Warn("invalid rating, using 0", "row", result.Read+1, "title", movie.Title, "value", raw)
			} else {
				movie.Rating = rating
			}
		}
		result.Movies = append(result.Movies, movie)
	}
	return result, nil
}
