package routing

import (
	"context"

	"callscript/internal/audit"
)

// AuditAdapter bridges routing's override audit hook to the shared audit.Service.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) LogOverrideApplied(ctx context.Context, e OverrideAuditEvent) error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.Append(ctx, audit.Event{
		Type:        audit.EventTypeOverride,
		ActorUserID: e.SetBy,
		IPAddress:   e.IPAddress,
		CallID:      e.CallSID,
		OverrideID:  e.OverrideID,
		Message:     "routing override applied",
		Metadata:    overrideMeta(e),
	})
}

func overrideMeta(e OverrideAuditEvent) map[string]any {
	m := map[string]any{"from": e.From, "to": e.To, "expires_at": e.ExpiresAt.UTC()}
	if e.Reject {
		m["reject"] = true
	} else {
		m["script"] = e.Script
	}
	if e.RequestID != "" {
		m["request_id"] = e.RequestID
	}
	return m
}
