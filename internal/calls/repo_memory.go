package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo keeps records in process; they are lost on restart.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
	bySID   map[string]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{bySID: make(map[string]int)}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[rec.CallSID]; ok {
		return nil
	}
	r.bySID[rec.CallSID] = len(r.records)
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, callSID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.bySID[callSID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r.records[i], nil
}

func (r *MemoryRepo) Recent(ctx context.Context, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}
	out := make([]Record, 0, limit)
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}

func (r *MemoryRepo) Between(ctx context.Context, from, to time.Time) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.EndedAt.Before(from) || !rec.EndedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
