package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures ReadCSV. Government extracts are messy; LazyQuotes
// and variable field counts are on for every connector.
type CSVOptions struct {
	Delimiter rune // default ','
	Comment   rune // 0 = none
	HasHeader bool // first row passed to the header callback, not the row callback
}

// CSVHandler receives one parsed row. Returning an error stops the read.
type CSVHandler func(row []string) error

// ReadCSV streams rows from r, trimming leading space in every field. When
// HasHeader is set the first row goes to onHeader (which may be nil).
// Checks ctx between rows so long pulls cancel promptly.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions, onHeader func([]string), onRow CSVHandler) error {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	first := true
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "csv: cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "csv: read row")
		}

		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}

		if first && opts.HasHeader {
			first = false
			if onHeader != nil {
				onHeader(record)
			}
			continue
		}
		first = false

		if err := onRow(record); err != nil {
			return err
		}
	}
}

// HeaderIndex maps lowercased header names to column positions.
func HeaderIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// Field returns the named column from a row, or "" when the column is
// missing or the row is short.
func Field(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}
