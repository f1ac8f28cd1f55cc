package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// OverrideEngine applies time-boxed routing overrides ahead of the route
// table. Decisions it makes carry no Reason, so they look like ordinary
// routing to the caller; each one is written to the audit log instead.
type OverrideEngine struct {
	Store OverrideStore
	Audit AuditLogger
	Now   func() time.Time
}

// OverrideStore resolves currently-active overrides by dialed number.
type OverrideStore interface {
	GetActiveOverride(ctx context.Context, number string, now time.Time) (Override, bool, error)
}

// AuditLogger records internal-only audit events.
type AuditLogger interface {
	LogOverrideApplied(ctx context.Context, e OverrideAuditEvent) error
}

type Override struct {
	ID     string            `json:"id"`
	Number string            `json:"number"`
	Script string            `json:"script"`
	Params map[string]string `json:"params,omitempty"`
	// Reject answers matching calls with <Reject/>; Script is then ignored.
	Reject bool              `json:"reject,omitempty"`

	// SetBy is the operator who created the override.
	SetBy     string    `json:"set_by,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type OverrideAuditEvent struct {
	OverrideID string
	CallSID    string
	From       string
	To         string
	IPAddress  string
	RequestID  string

	Script    string
	Reject    bool
	SetBy     string
	AppliedAt time.Time
	ExpiresAt time.Time
}

func NewOverrideEngine(store OverrideStore, audit AuditLogger) *OverrideEngine {
	return &OverrideEngine{Store: store, Audit: audit, Now: time.Now}
}

// Decide returns (decision, true, nil) if an active override was applied.
func (e *OverrideEngine) Decide(ctx context.Context, in RouteInput) (Decision, bool, error) {
	if e.Store == nil {
		return Decision{}, false, nil
	}
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}

	o, ok, err := e.Store.GetActiveOverride(ctx, in.To, now)
	if err != nil {
		return Decision{}, false, err
	}
	if !ok || !o.ExpiresAt.After(now) {
		return Decision{}, false, nil
	}
	d := Decision{Action: ActionRun, Script: o.Script, Params: o.Params}
	switch {
	case o.Reject:
		d = Decision{Action: ActionReject}
	case o.Script == "":
		return Decision{}, false, errors.New("routing: override script empty")
	}

	if e.Audit != nil {
		origin := OriginFrom(ctx)
		_ = e.Audit.LogOverrideApplied(ctx, OverrideAuditEvent{
			OverrideID: o.ID,
			CallSID:    in.CallSID,
			From:       in.From,
			To:         in.To,
			IPAddress:  origin.ClientIP,
			RequestID:  origin.RequestID,
			Script:     o.Script,
			Reject:     o.Reject,
			SetBy:      o.SetBy,
			AppliedAt:  now,
			ExpiresAt:  o.ExpiresAt,
		})
	}
	return d, true, nil
}

// MemoryOverrideStore keeps overrides in process, one per number.
type MemoryOverrideStore struct {
	mu   sync.RWMutex
	byNo map[string]Override
}

func NewMemoryOverrideStore() *MemoryOverrideStore {
	return &MemoryOverrideStore{byNo: map[string]Override{}}
}

func (m *MemoryOverrideStore) Put(o Override) error {
	o.Number = strings.TrimSpace(o.Number)
	if o.Number == "" {
		return errors.New("routing: override number required")
	}
	if o.Script == "" && !o.Reject {
		return errors.New("routing: override needs a script or reject")
	}
	if o.ExpiresAt.IsZero() {
		return errors.New("routing: override expiry required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byNo[o.Number] = o
	return nil
}

func (m *MemoryOverrideStore) Delete(number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byNo, strings.TrimSpace(number))
}

// Active lists unexpired overrides.
func (m *MemoryOverrideStore) Active(now time.Time) []Override {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Override, 0, len(m.byNo))
	for _, o := range m.byNo {
		if o.ExpiresAt.After(now) {
			out = append(out, o)
		}
	}
	return out
}

func (m *MemoryOverrideStore) GetActiveOverride(_ context.Context, number string, now time.Time) (Override, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byNo[number]
	if !ok || !o.ExpiresAt.After(now) {
		return Override{}, false, nil
	}
	return o, true, nil
}
