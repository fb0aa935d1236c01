package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray streams elements of a top-level JSON array ([{...},{...}])
// through the handler without materializing the whole document. Returning an
// error from the handler stops the decode.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader, handle func(T) error) error {
	decoder := json.NewDecoder(r)

	tok, err := decoder.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return eris.Errorf("json: expected '[', got %v", tok)
	}

	for decoder.More() {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "json: cancelled")
		}
		var item T
		if err := decoder.Decode(&item); err != nil {
			return eris.Wrap(err, "json: decode element")
		}
		if err := handle(item); err != nil {
			return err
		}
	}

	if _, err := decoder.Token(); err != nil && err != io.EOF {
		return eris.Wrap(err, "json: read closing token")
	}
	return nil
}

// DecodeJSONObject decodes a single JSON object from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}
