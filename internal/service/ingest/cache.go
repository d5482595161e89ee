package ingest

import (
	"sync"

	"github.com/splax/apiwatch/internal/domain"
)

const defaultRingSize = 100

// Ring is a bounded buffer of the most recently accepted records. It is owned
// by the ingestion service; pushing beyond capacity evicts the oldest entry.
type Ring struct {
	mu   sync.Mutex
	buf  []domain.MetricRecord
	next int
	size int
}

// NewRing creates a ring holding at most capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultRingSize
	}
	return &Ring{buf: make([]domain.MetricRecord, capacity)}
}

// Push appends a record, evicting the oldest when full.
func (r *Ring) Push(record domain.MetricRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = record
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Recent returns up to limit records, newest first.
func (r *Ring) Recent(limit int) []domain.MetricRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]domain.MetricRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Len reports how many records the ring currently holds.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Clear drops entries for one service, or everything when service is empty.
func (r *Ring) Clear(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if service == "" {
		r.next = 0
		r.size = 0
		return
	}
	kept := make([]domain.MetricRecord, 0, r.size)
	for i := r.size; i >= 1; i-- {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		if r.buf[idx].ServiceName != service {
			kept = append(kept, r.buf[idx])
		}
	}
	capacity := len(r.buf)
	r.buf = make([]domain.MetricRecord, capacity)
	copy(r.buf, kept)
	r.size = len(kept)
	r.next = r.size % capacity
}
