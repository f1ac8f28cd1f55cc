package routing

import (
	"context"
	"errors"
	"log/slog"

	"callscript/internal/callflow"
)

// ScriptSource builds a runnable script from its registered name.
type ScriptSource interface {
	Build(name string, params map[string]string) (callflow.Script, error)
}

// NewInboundResolver adapts the RoutingEngine to the call engine's inbound hook.
// A reject decision yields a nil script, which answers the call with <Reject/>.
func NewInboundResolver(engine *RoutingEngine, scripts ScriptSource, log *slog.Logger) callflow.InboundResolver {
	if log == nil {
		log = slog.Default()
	}
	return resolver{engine: engine, scripts: scripts, log: log}
}

type resolver struct {
	engine  *RoutingEngine
	scripts ScriptSource
	log     *slog.Logger
}

func (r resolver) ResolveInbound(ctx context.Context, s *callflow.Session) (callflow.Script, error) {
	if r.engine == nil || r.scripts == nil {
		return nil, errors.New("routing: resolver not configured")
	}
	p := s.Properties()
	d, err := r.engine.Route(ctx, RouteInput{CallSID: s.ID(), From: p.From, To: p.To})
	if err != nil {
		return nil, err
	}
	if d.Action != ActionRun {
		r.log.Info("inbound call not routed", "call_sid", s.ID(), "to", p.To, "reason", d.Reason)
		return nil, nil
	}
	r.log.Debug("inbound call routed", "call_sid", s.ID(), "to", p.To, "script", d.Script, "reason", d.Reason)
	return r.scripts.Build(d.Script, d.Params)
}
