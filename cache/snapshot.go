package cache

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-repository-uow/entity"
)

// Record is one row of normalized column values.
type Record map[string]any

// Snapshot is what a cached query returns: the root row, if one was found,
// and the rows of every relation loaded with it.
type Snapshot struct {
	Found   bool
	Root    Record
	Related map[string][]Record
}

// RelationNames lists the loaded relations in sorted order.
func (s Snapshot) RelationNames() []string {
	names := make([]string, 0, len(s.Related))
	for name := range s.Related {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type valueKind uint8

const (
	kindNull valueKind = iota
	kindText
	kindInteger
	kindBoolean
	kindInstant
	kindFloat
)

// wireValue is a tagged column value. Instants travel as unix seconds and
// nanoseconds so the decoded value never depends on the local zone.
type wireValue struct {
	Kind valueKind `msgpack:"k"`
	Text string    `msgpack:"s,omitempty"`
	Int  int64     `msgpack:"i,omitempty"`
	Bool bool      `msgpack:"b,omitempty"`
	Nsec int64     `msgpack:"n,omitempty"`
	Num  float64   `msgpack:"f,omitempty"`
}

type wireRecord map[string]wireValue

type wireSnapshot struct {
	Found   bool                    `msgpack:"found"`
	Root    wireRecord              `msgpack:"root,omitempty"`
	Related map[string][]wireRecord `msgpack:"related,omitempty"`
}

// EncodeSnapshot serializes s with msgpack. Values must already be
// normalized scalars (see entity.Coerce).
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	w := wireSnapshot{Found: s.Found}

	var err error
	if s.Root != nil {
		if w.Root, err = encodeRecord(s.Root); err != nil {
			return nil, err
		}
	}
	if len(s.Related) > 0 {
		w.Related = make(map[string][]wireRecord, len(s.Related))
		for name, rows := range s.Related {
			encoded := make([]wireRecord, len(rows))
			for i, row := range rows {
				if encoded[i], err = encodeRecord(row); err != nil {
					return nil, fmt.Errorf("relation %s: %w", name, err)
				}
			}
			w.Related[name] = encoded
		}
	}

	data, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot restores a Snapshot written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	s := Snapshot{Found: w.Found}
	var err error
	if w.Root != nil {
		if s.Root, err = decodeRecord(w.Root); err != nil {
			return Snapshot{}, err
		}
	}
	if len(w.Related) > 0 {
		s.Related = make(map[string][]Record, len(w.Related))
		for name, rows := range w.Related {
			decoded := make([]Record, len(rows))
			for i, row := range rows {
				if decoded[i], err = decodeRecord(row); err != nil {
					return Snapshot{}, fmt.Errorf("relation %s: %w", name, err)
				}
			}
			s.Related[name] = decoded
		}
	}
	return s, nil
}

func encodeRecord(r Record) (wireRecord, error) {
	out := make(wireRecord, len(r))
	for col, v := range r {
		wv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		out[col] = wv
	}
	return out, nil
}

func decodeRecord(w wireRecord) (Record, error) {
	out := make(Record, len(w))
	for col, wv := range w {
		v, err := decodeValue(wv)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		out[col] = v
	}
	return out, nil
}

func encodeValue(v any) (wireValue, error) {
	switch x := v.(type) {
	case nil:
		return wireValue{Kind: kindNull}, nil
	case string:
		return wireValue{Kind: kindText, Text: x}, nil
	case int64:
		return wireValue{Kind: kindInteger, Int: x}, nil
	case int:
		return wireValue{Kind: kindInteger, Int: int64(x)}, nil
	case bool:
		return wireValue{Kind: kindBoolean, Bool: x}, nil
	case entity.Instant:
		sec, nsec := x.Unix()
		return wireValue{Kind: kindInstant, Int: sec, Nsec: nsec}, nil
	case float64:
		return wireValue{Kind: kindFloat, Num: x}, nil
	}
	return wireValue{}, fmt.Errorf("unsupported value %T", v)
}

func decodeValue(w wireValue) (any, error) {
	switch w.Kind {
	case kindNull:
		return nil, nil
	case kindText:
		return w.Text, nil
	case kindInteger:
		return w.Int, nil
	case kindBoolean:
		return w.Bool, nil
	case kindInstant:
		return entity.InstantFromUnix(w.Int, w.Nsec), nil
	case kindFloat:
		return w.Num, nil
	}
	return nil, fmt.Errorf("unknown value kind %d", w.Kind)
}
