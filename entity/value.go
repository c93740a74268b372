package entity

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrTypeMismatch is wrapped by Coerce when a value cannot represent a column type.
var ErrTypeMismatch = errors.New("type mismatch")

// Coerce normalizes raw to the Go representation of t: string, int64, bool or
// Instant. nil stays nil. Driver rows, cached snapshots and caller input all go
// through here so they compare equal for the same stored value.
func Coerce(t ColumnType, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch t {
	case TypeText:
		return coerceText(raw)
	case TypeInteger:
		return coerceInteger(raw)
	case TypeBoolean:
		return coerceBoolean(raw)
	case TypeInstant:
		return coerceInstant(raw)
	}
	return nil, fmt.Errorf("%w: unknown column type %d", ErrTypeMismatch, t)
}

// CoerceRow normalizes every column of row against d. Unknown columns are an error.
func CoerceRow(d *Descriptor, row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(row))
	for name, raw := range row {
		col, ok := d.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no column %q", ErrTypeMismatch, d.Name, name)
		}
		v, err := Coerce(col.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("column %s.%s: %w", d.Name, name, err)
		}
		out[name] = v
	}
	return out, nil
}

func coerceText(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return nil, mismatch(TypeText, raw)
}

func coerceInteger(raw any) (any, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, mismatch(TypeInteger, raw)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, mismatch(TypeInteger, raw)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, mismatch(TypeInteger, raw)
		}
		return int64(v), nil
	case []byte:
		return parseInteger(string(v), raw)
	case string:
		return parseInteger(v, raw)
	}
	return nil, mismatch(TypeInteger, raw)
}

func parseInteger(s string, raw any) (any, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, mismatch(TypeInteger, raw)
	}
	return n, nil
}

func coerceBoolean(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case []byte:
		return parseBoolean(string(v), raw)
	case string:
		return parseBoolean(v, raw)
	}
	return nil, mismatch(TypeBoolean, raw)
}

func parseBoolean(s string, raw any) (any, error) {
	switch s {
	case "t", "T", "1":
		return true, nil
	case "f", "F", "0":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, mismatch(TypeBoolean, raw)
	}
	return b, nil
}

func coerceInstant(raw any) (any, error) {
	switch v := raw.(type) {
	case Instant:
		return NewInstant(v.t), nil
	case time.Time:
		return NewInstant(v), nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return NewInstant(*v), nil
	case string:
		return ParseInstant(v)
	case []byte:
		return ParseInstant(string(v))
	}
	return nil, mismatch(TypeInstant, raw)
}

func mismatch(t ColumnType, raw any) error {
	return fmt.Errorf("%w: cannot use %T as %s", ErrTypeMismatch, raw, t)
}
