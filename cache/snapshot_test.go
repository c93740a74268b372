package cache

import (
	"testing"
	"time"

	"github.com/goliatone/go-repository-uow/entity"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	created := entity.NewInstant(time.Date(2024, 11, 23, 10, 30, 0, 123456000, time.FixedZone("NST", -(3*3600 + 1800))))

	in := Snapshot{
		Found: true,
		Root: Record{
			"id":         int64(1),
			"name":       "acme",
			"active":     true,
			"deleted_at": nil,
			"created_at": created,
		},
		Related: map[string][]Record{
			"properties": {
				{"id": int64(10), "brand_id": int64(1)},
				{"id": int64(11), "brand_id": int64(1)},
			},
			"empty": {},
		},
	}

	data, err := EncodeSnapshot(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if !out.Found {
		t.Error("expected Found to survive")
	}
	for col, want := range in.Root {
		if got := out.Root[col]; got != want {
			t.Errorf("column %s: expected %#v, got %#v", col, want, got)
		}
	}
	if _, ok := out.Root["deleted_at"]; !ok {
		t.Error("expected null column to be kept")
	}
	if got := len(out.Related["properties"]); got != 2 {
		t.Fatalf("expected 2 related rows, got %d", got)
	}
	if out.Related["properties"][1]["id"] != int64(11) {
		t.Errorf("expected related order to be kept, got %#v", out.Related["properties"])
	}
	if names := out.RelationNames(); len(names) != 2 || names[0] != "empty" || names[1] != "properties" {
		t.Errorf("expected sorted relation names, got %v", names)
	}
}

func TestSnapshot_InstantIsZoneIndependent(t *testing.T) {
	zones := []*time.Location{
		time.UTC,
		time.FixedZone("JST", 9*3600),
		time.FixedZone("PST", -8*3600),
		time.FixedZone("NPT", 5*3600+2700),
	}
	precisions := []int{0, 1000, 123000, 123456000, 999999000}

	for _, loc := range zones {
		for _, nsec := range precisions {
			want := entity.NewInstant(time.Date(2024, 3, 10, 2, 30, 0, nsec, loc))

			data, err := EncodeSnapshot(Snapshot{Found: true, Root: Record{"created_at": want}})
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			out, err := DecodeSnapshot(data)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}

			got, ok := out.Root["created_at"].(entity.Instant)
			if !ok {
				t.Fatalf("expected entity.Instant, got %T", out.Root["created_at"])
			}
			if got != want {
				t.Errorf("%s/%d: expected %s, got %s", loc, nsec, want, got)
			}
			if got.Time().Location() != time.UTC {
				t.Errorf("expected UTC location, got %v", got.Time().Location())
			}
		}
	}
}

func TestSnapshot_NotFound(t *testing.T) {
	data, err := EncodeSnapshot(Snapshot{})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Found || out.Root != nil || out.Related != nil {
		t.Errorf("expected empty snapshot, got %#v", out)
	}
}

func TestEncodeSnapshot_UnsupportedValue(t *testing.T) {
	_, err := EncodeSnapshot(Snapshot{Found: true, Root: Record{"when": time.Now()}})
	if err == nil {
		t.Error("expected error for unnormalized time.Time")
	}
}

func TestDecodeSnapshot_Garbage(t *testing.T) {
	if _, err := DecodeSnapshot([]byte{0xc1}); err == nil {
		t.Error("expected error for invalid payload")
	}
}
