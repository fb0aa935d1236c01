package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_HeaderAndRows(t *testing.T) {
	input := "company, title ,salary\nAcme,Engineer,150000\nGlobex,Analyst,90000\n"

	var header []string
	var rows [][]string
	err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{HasHeader: true},
		func(h []string) { header = h },
		func(row []string) error {
			rows = append(rows, row)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"company", "title", "salary"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Acme", "Engineer", "150000"}, rows[0])
}

func TestReadCSV_LazyQuotesAndVariableFields(t *testing.T) {
	input := `Acme "Widgets",Engineer
Globex,Analyst,extra,fields
`
	var rows [][]string
	err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{},
		nil,
		func(row []string) error {
			rows = append(rows, row)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[1], 4)
}

func TestReadCSV_HandlerErrorStops(t *testing.T) {
	input := "a\nb\nc\n"
	var seen int
	err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{},
		nil,
		func(row []string) error {
			seen++
			if row[0] == "b" {
				return assert.AnError
			}
			return nil
		})
	require.Error(t, err)
	assert.Equal(t, 2, seen)
}

func TestReadCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ReadCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{}, nil,
		func([]string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}

func TestHeaderIndexAndField(t *testing.T) {
	idx := HeaderIndex([]string{" Company ", "TITLE", "salary"})
	row := []string{"Acme", "Engineer"}

	assert.Equal(t, "Acme", Field(row, idx, "company"))
	assert.Equal(t, "Engineer", Field(row, idx, "title"))
	assert.Equal(t, "", Field(row, idx, "salary")) // short row
	assert.Equal(t, "", Field(row, idx, "missing"))
}
