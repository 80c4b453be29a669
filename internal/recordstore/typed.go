package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Decode unmarshals a stored row into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// ReadAs reads a collection and decodes every row into T.
func ReadAs[T any](ctx context.Context, s Store, c Collection, f Filter) ([]T, error) {
	raws, err := s.Read(ctx, c, f)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		v, err := Decode[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetAs reads the row with the given id. Missing rows yield ErrNotFound.
func GetAs[T any](ctx context.Context, s Store, c Collection, id string) (T, error) {
	var zero T
	rows, err := ReadAs[T](ctx, s, c, Filter{"id": id})
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, notFound(c, id)
	}
	return rows[0], nil
}

// InsertAs inserts record and decodes the stored row.
func InsertAs[T any](ctx context.Context, s Store, c Collection, record T) (T, error) {
	raw, err := s.Insert(ctx, c, record)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](raw)
}

// UpdateAs patches a row and decodes the result.
func UpdateAs[T any](ctx context.Context, s Store, c Collection, id string, p Patch) (T, error) {
	raw, err := s.Update(ctx, c, id, p)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](raw)
}
