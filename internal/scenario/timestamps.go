package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-repository-uow/engine"
	"github.com/goliatone/go-repository-uow/entity"
)

// DefaultInstant is the instant the timestamps scenario writes.
var DefaultInstant = time.Date(2024, 11, 23, 10, 30, 0, 123_000_000, time.UTC)

var instantColumns = []string{"timestamptz", "timestamp_with_timezone"}

// Timestamps inserts a Brand with at in both instant columns inside a
// transaction, then reads it back three times: a first read that may fill
// the result cache, a second that may be served from it, and one that
// bypasses it. Every read must render the written instant identically.
// e must use a registry built from BrandDescriptors.
func Timestamps(ctx context.Context, e *engine.Engine, at time.Time) (Report, error) {
	r := Report{Scenario: "timestamps"}
	want := entity.NewInstant(at)
	r.note("written instant %s (epoch ms %d), cache queries %t", want, want.EpochMillis(), e.Options().CacheQueries)

	id, err := engine.Transact(ctx, e, func(ctx context.Context, s *engine.Session) (any, error) {
		brand, err := e.Registry().New("Brand", map[string]any{
			"name":                    "timestamps",
			"timestamptz":             at,
			"timestamp_with_timezone": at,
		})
		if err != nil {
			return nil, err
		}
		return s.Insert(ctx, brand)
	})
	if err != nil {
		return r, fmt.Errorf("insert brand: %w", err)
	}
	r.note("inserted brand %v", id)

	reads := []struct {
		label string
		cache engine.CacheOption
	}{
		{"first read", engine.CacheDefault},
		{"second read", engine.CacheDefault},
		{"uncached read", engine.CacheDisabled},
	}

	var previous *entity.Instance
	for _, read := range reads {
		brand, err := e.FindOneOrFail(ctx, "Brand", engine.FindOptions{
			Where: map[string]any{"id": id},
			Cache: read.cache,
		})
		if err != nil {
			return r, fmt.Errorf("%s: %w", read.label, err)
		}

		for _, col := range instantColumns {
			got := instantOf(brand, col)
			r.expect(read.label+" "+col+" iso", want.String(), got)
			r.expect(read.label+" "+col+" epoch ms", want.EpochMillis(), millisOf(got))
		}
		r.expect(read.label+" columns agree", instantOf(brand, instantColumns[0]), instantOf(brand, instantColumns[1]))

		if previous != nil {
			for _, col := range instantColumns {
				r.expect(read.label+" "+col+" matches previous read", instantOf(previous, col), instantOf(brand, col))
			}
		}
		previous = brand
	}
	return r, nil
}

// instantOf returns the instant in col, or the value itself when the
// column did not hydrate as an instant.
func instantOf(inst *entity.Instance, col string) any {
	v, _ := inst.Get(col)
	if i, ok := v.(entity.Instant); ok {
		return i
	}
	return fmt.Sprintf("%T(%v)", v, v)
}

func millisOf(v any) any {
	if i, ok := v.(entity.Instant); ok {
		return i.EpochMillis()
	}
	return v
}
