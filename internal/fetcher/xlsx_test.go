package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeWorkbook(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Data")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().Value = c
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"EMPLOYER_NAME", "JOB_TITLE", "WAGE"},
		{"Acme Widgets Inc", "Software Engineer", "150000"},
		{"Globex Corp", "Data Analyst", "95000"},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Acme Widgets Inc", rows[0][0])
	assert.Equal(t, "95000", rows[1][2])
}

func TestReadXLSX_SheetSelection(t *testing.T) {
	path := writeWorkbook(t, [][]string{{"x"}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Data"})
	assert.NoError(t, err)

	_, err = ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	assert.Error(t, err)

	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 5})
	assert.Error(t, err)
}

func TestReadXLSX_MissingFile(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), XLSXOptions{})
	assert.Error(t, err)
}
