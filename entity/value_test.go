package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6000, time.FixedZone("X", -7200))
	id := uuid.MustParse("6f1c2a8e-1b1d-4a8e-9c43-3f4c1d2e5a6b")

	tests := []struct {
		name string
		typ  ColumnType
		in   any
		want any
	}{
		{"nil stays nil", TypeInteger, nil, nil},
		{"text from bytes", TypeText, []byte("abc"), "abc"},
		{"text from uuid", TypeText, id, id.String()},
		{"int from int", TypeInteger, 7, int64(7)},
		{"int from int32", TypeInteger, int32(7), int64(7)},
		{"int from integral float", TypeInteger, float64(9), int64(9)},
		{"int from string", TypeInteger, "42", int64(42)},
		{"bool from sqlite int", TypeBoolean, int64(1), true},
		{"bool from pg text", TypeBoolean, []byte("f"), false},
		{"instant from time", TypeInstant, ts, NewInstant(ts)},
		{"instant from sqlite text", TypeInstant, "2024-01-02 05:04:05.000006+00:00", NewInstant(ts)},
		{"instant from instant", TypeInstant, NewInstant(ts), NewInstant(ts)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerce_Mismatch(t *testing.T) {
	cases := []struct {
		typ ColumnType
		in  any
	}{
		{TypeInteger, 1.5},
		{TypeInteger, "x"},
		{TypeBoolean, "maybe"},
		{TypeInstant, 12},
		{TypeText, 3},
	}
	for _, c := range cases {
		_, err := Coerce(c.typ, c.in)
		assert.True(t, errors.Is(err, ErrTypeMismatch), "%s <- %T", c.typ, c.in)
	}
}

func TestCoerceRow_UnknownColumn(t *testing.T) {
	d := &Descriptor{Name: "Brand", PrimaryKey: "id", Columns: []Column{{Name: "id", Type: TypeInteger}}}

	_, err := CoerceRow(d, map[string]any{"id": 1, "name": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	row, err := CoerceRow(d, map[string]any{"id": int32(3)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(3)}, row)
}
