package cache

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/goliatone/go-repository-uow/entity"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// QuerySignature identifies a query by its shape: the entity type, the
// equality filter and the relations loaded with it.
type QuerySignature struct {
	Entity    string
	Where     map[string]any
	Relations []string
}

// Key is the cache key of the signature, see DefaultKeySerializer.
func (s QuerySignature) Key() string {
	return DefaultKeySerializer().SerializeKey(s)
}

// Canonical renders the signature so that filter key order, relation order
// and duplicate relation names do not matter.
func (s QuerySignature) Canonical() string {
	var b strings.Builder
	b.WriteString(s.Entity)

	b.WriteString("|where{")
	cols := make([]string, 0, len(s.Where))
	for col := range s.Where {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for i, col := range cols {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(col))
		b.WriteByte('=')
		b.WriteString(canonicalValue(s.Where[col]))
	}

	b.WriteString("}|rel[")
	rels := append([]string(nil), s.Relations...)
	sort.Strings(rels)
	prev := ""
	for i, rel := range rels {
		if i > 0 && rel == prev {
			continue
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(rel))
		prev = rel
	}
	b.WriteByte(']')
	return b.String()
}

// KeySerializer builds a cache key from a query signature.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(sig QuerySignature) string
}

// defaultKeySerializer hashes the canonical signature with xxhash and
// prefixes the entity type so keys stay readable in the backend.
type defaultKeySerializer struct{}

var defaultSerializer KeySerializer = defaultKeySerializer{}

// DefaultKeySerializer returns the serializer used by QuerySignature.Key.
func DefaultKeySerializer() KeySerializer {
	return defaultSerializer
}

func (defaultKeySerializer) SerializeKey(sig QuerySignature) string {
	return fmt.Sprintf("%s%s%016x", sig.Entity, KeySeparator, xxhash.Sum64String(sig.Canonical()))
}

// canonicalValue renders one filter value with a type tag. Integer kinds
// share a tag, and time values are rendered as UTC instants.
func canonicalValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "s:" + strconv.Quote(x)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case entity.Instant:
		return "t:" + x.String()
	case *entity.Instant:
		if x == nil {
			return "null"
		}
		return "t:" + x.String()
	case time.Time:
		return "t:" + entity.NewInstant(x).String()
	case *time.Time:
		if x == nil {
			return "null"
		}
		return "t:" + entity.NewInstant(*x).String()
	case []byte:
		return "x:" + strconv.Quote(string(x))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "i:" + strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "i:" + strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return "f:" + strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.String:
		return "s:" + strconv.Quote(rv.String())
	case reflect.Bool:
		return "b:" + strconv.FormatBool(rv.Bool())
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "null"
		}
		return canonicalValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = canonicalValue(rv.Index(i).Interface())
		}
		return fmt.Sprintf("list[%d]:{%s}", len(parts), strings.Join(parts, ","))
	}
	return fmt.Sprintf("%T:%v", v, v)
}
