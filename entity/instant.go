package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// InstantResolution is the precision every Instant is truncated to. It matches
// PostgreSQL timestamptz and the timestamp literals bun renders.
const InstantResolution = time.Microsecond

// instantLayout is the canonical text form: fixed width, always UTC.
const instantLayout = "2006-01-02T15:04:05.000000Z"

// instantParseLayouts are the textual forms drivers hand back for timestamp columns.
var instantParseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Instant is a timezone independent point in time. The zero value is the zero instant.
//
// Instants are always held in UTC at InstantResolution, so two instants for the
// same point in time are == and render the same String regardless of the zone or
// column type that produced them.
type Instant struct {
	t time.Time
}

// NewInstant normalizes t to UTC at InstantResolution.
func NewInstant(t time.Time) Instant {
	return Instant{t: t.UTC().Truncate(InstantResolution)}
}

// InstantFromUnix builds an Instant from seconds and nanoseconds since the epoch.
func InstantFromUnix(sec int64, nsec int64) Instant {
	return NewInstant(time.Unix(sec, nsec))
}

// ParseInstant accepts RFC 3339 and the common SQL timestamp renderings.
// Values without an offset are read as UTC.
func ParseInstant(s string) (Instant, error) {
	s = strings.TrimSpace(s)
	for _, layout := range instantParseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewInstant(t), nil
		}
	}
	return Instant{}, fmt.Errorf("parse instant %q: unsupported format", s)
}

// Time returns the instant as a UTC time.Time.
func (i Instant) Time() time.Time { return i.t }

// IsZero reports whether i is the zero instant.
func (i Instant) IsZero() bool { return i.t.IsZero() }

// Equal reports whether both instants are the same point in time.
func (i Instant) Equal(o Instant) bool { return i.t.Equal(o.t) }

// EpochMillis returns milliseconds since the Unix epoch.
func (i Instant) EpochMillis() int64 { return i.t.UnixMilli() }

// Unix returns seconds and the nanosecond remainder since the Unix epoch.
func (i Instant) Unix() (sec int64, nsec int64) {
	return i.t.Unix(), int64(i.t.Nanosecond())
}

func (i Instant) String() string { return i.t.Format(instantLayout) }

func (i Instant) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseInstant(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
