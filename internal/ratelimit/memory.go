package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	Record
	// reported tracks whether the first denial of this window was already surfaced
	reported bool
}

// MemoryStore keeps records in process memory behind a single mutex.
// State is lost on restart, windows are short enough that this does not matter.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

// Take implements Store. It never returns an error.
func (s *MemoryStore) Take(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || now.After(rec.WindowEnd) {
		rec = &memoryRecord{Record: Record{Count: 1, WindowEnd: now.Add(window)}}
		s.records[key] = rec
		return Outcome{Allowed: true, Record: rec.Record, Fresh: true}, nil
	}

	if rec.Count < limit {
		rec.Count++
		return Outcome{Allowed: true, Record: rec.Record}, nil
	}

	first := !rec.reported
	rec.reported = true
	return Outcome{Allowed: false, Record: rec.Record, FirstDenial: first}, nil
}

// Sweep deletes every record whose window ended before now
func (s *MemoryStore) Sweep(now time.Time) (evicted, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.records {
		if rec.WindowEnd.Before(now) {
			delete(s.records, key)
			evicted++
		}
	}
	return evicted, len(s.records)
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Get returns a copy of the record for key, if present
func (s *MemoryStore) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return rec.Record, true
}
