package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type posting struct {
	Title  string  `json:"title"`
	Salary float64 `json:"salary"`
}

func TestDecodeJSONArray(t *testing.T) {
	input := `[{"title":"Engineer","salary":150000},{"title":"Analyst","salary":90000}]`

	var got []posting
	err := DecodeJSONArray(context.Background(), strings.NewReader(input), func(p posting) error {
		got = append(got, p)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Engineer", got[0].Title)
	assert.Equal(t, 90000.0, got[1].Salary)
}

func TestDecodeJSONArray_NotAnArray(t *testing.T) {
	err := DecodeJSONArray(context.Background(), strings.NewReader(`{"title":"x"}`), func(posting) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestDecodeJSONArray_HandlerErrorStops(t *testing.T) {
	input := `[{"title":"a"},{"title":"b"},{"title":"c"}]`
	var seen int
	err := DecodeJSONArray(context.Background(), strings.NewReader(input), func(p posting) error {
		seen++
		if p.Title == "b" {
			return assert.AnError
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 2, seen)
}

func TestDecodeJSONArray_Empty(t *testing.T) {
	var seen int
	err := DecodeJSONArray(context.Background(), strings.NewReader(`[]`), func(posting) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, seen)
}

func TestDecodeJSONObject(t *testing.T) {
	got, err := DecodeJSONObject[posting](strings.NewReader(`{"title":"Engineer","salary":1}`))
	require.NoError(t, err)
	assert.Equal(t, "Engineer", got.Title)

	_, err = DecodeJSONObject[posting](strings.NewReader(`not json`))
	assert.Error(t, err)
}
