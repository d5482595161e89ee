package ingest

import (
	"fmt"
	"testing"

	"github.com/splax/apiwatch/internal/domain"
)

func ringRecord(id int64, service string) domain.MetricRecord {
	return domain.MetricRecord{
		ID:          id,
		Route:       fmt.Sprintf("/r/%d", id),
		Method:      "GET",
		Status:      200,
		ServiceName: service,
	}
}

func TestRingEvictsOldestWhenFull(t *testing.T) {
	ring := NewRing(3)
	for i := int64(1); i <= 5; i++ {
		ring.Push(ringRecord(i, "svc"))
	}

	if ring.Len() != 3 {
		t.Fatalf("expected ring bounded at 3, got %d", ring.Len())
	}
	got := ring.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for i, wantID := range []int64{5, 4, 3} {
		if got[i].ID != wantID {
			t.Fatalf("expected record %d at position %d, got %d", wantID, i, got[i].ID)
		}
	}
}

func TestRingRecentNewestFirstWithLimit(t *testing.T) {
	ring := NewRing(10)
	for i := int64(1); i <= 4; i++ {
		ring.Push(ringRecord(i, "svc"))
	}

	got := ring.Recent(2)
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 3 {
		t.Fatalf("expected [4 3], got %+v", got)
	}
}

func TestRingClearByService(t *testing.T) {
	ring := NewRing(10)
	ring.Push(ringRecord(1, "svc-a"))
	ring.Push(ringRecord(2, "svc-b"))
	ring.Push(ringRecord(3, "svc-a"))

	ring.Clear("svc-a")
	got := ring.Recent(0)
	if len(got) != 1 || got[0].ServiceName != "svc-b" {
		t.Fatalf("expected only svc-b left, got %+v", got)
	}

	// Pushing after a partial clear must not resurrect stale slots.
	ring.Push(ringRecord(4, "svc-c"))
	got = ring.Recent(0)
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 2 {
		t.Fatalf("expected [4 2], got %+v", got)
	}
}

func TestRingClearAll(t *testing.T) {
	ring := NewRing(4)
	for i := int64(1); i <= 4; i++ {
		ring.Push(ringRecord(i, "svc"))
	}
	ring.Clear("")
	if ring.Len() != 0 {
		t.Fatalf("expected empty ring, got %d", ring.Len())
	}
	if got := ring.Recent(0); len(got) != 0 {
		t.Fatalf("expected no records, got %+v", got)
	}
}
