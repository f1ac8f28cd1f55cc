package callflow

import (
	"context"
	"sort"
	"sync"
)

// Registry maps call identifiers to live sessions for this process.
// Sessions leave it only when the router observes a terminal status.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Register(s *Session) error {
	id := s.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return ErrDuplicateSession
	}
	r.sessions[id] = s
	return nil
}

func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove is idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns the live sessions ordered by creation time.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

// inflight tracks outbound calls whose id is not known yet.
type inflight struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]chan struct{}
}

// begin marks one creation in flight; the returned func ends it.
func (f *inflight) begin() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		f.pending = make(map[uint64]chan struct{})
	}
	id := f.next
	f.next++
	done := make(chan struct{})
	f.pending[id] = done
	return func() {
		f.mu.Lock()
		delete(f.pending, id)
		f.mu.Unlock()
		close(done)
	}
}

// wait blocks until every creation in flight when it was called has ended.
// Creations begun later are not waited for.
func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	chans := make([]chan struct{}, 0, len(f.pending))
	for _, c := range f.pending {
		chans = append(chans, c)
	}
	f.mu.Unlock()
	for _, c := range chans {
		select {
		case <-c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
