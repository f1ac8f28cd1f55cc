// Package scripts holds the named call scripts that inbound routes and the
// operator API can start.
package scripts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"callscript/internal/callflow"
)

var ErrUnknownScript = errors.New("scripts: unknown script")

// Params are the per-route or per-request script settings.
type Params map[string]string

func (p Params) get(key, def string) string {
	if v := strings.TrimSpace(p[key]); v != "" {
		return v
	}
	return def
}

func (p Params) int(key string, def int) (int, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("scripts: %s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}

// Builder validates params and returns a ready-to-run script.
type Builder func(p Params) (callflow.Script, error)

// Definition is a registered script.
type Definition struct {
	Name  string
	Build Builder
	// CallOptions are merged into outbound call creation when this script
	// is started from the API (e.g. answering machine detection).
	CallOptions callflow.CallOptions
}

type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns a registry holding the built-in scripts.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, d := range builtins() {
		_ = r.Register(d)
	}
	return r
}

func builtins() []Definition {
	return []Definition{
		{Name: "greeting", Build: greeting},
		{Name: "menu", Build: menu},
		{Name: "forward", Build: forward},
		{
			Name:  "voicemail-drop",
			Build: voicemailDrop,
			CallOptions: callflow.CallOptions{
				"MachineDetection": "DetectMessageEnd",
				"AsyncAmd":         "true",
			},
		},
	}
}

func (r *Registry) Register(d Definition) error {
	if d.Name == "" || d.Build == nil {
		return errors.New("scripts: name and builder are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[d.Name]; ok {
		return fmt.Errorf("scripts: %q already registered", d.Name)
	}
	r.defs[d.Name] = d
	return nil
}

// Build implements routing.ScriptSource.
func (r *Registry) Build(name string, params map[string]string) (callflow.Script, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScript, name)
	}
	return d.Build(Params(params))
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for n := range r.defs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CallOptions merges the script's defaults under the caller's options.
func (r *Registry) CallOptions(name string, opts callflow.CallOptions) callflow.CallOptions {
	d, _ := r.Lookup(name)
	out := make(callflow.CallOptions, len(d.CallOptions)+len(opts))
	for k, v := range d.CallOptions {
		out[k] = v
	}
	for k, v := range opts {
		out[k] = v
	}
	return out
}

// answered waits for an outbound call to be picked up. Inbound calls are
// answered by the time a script runs. false means the call ended first.
func answered(ctx context.Context, s *callflow.Session) (bool, error) {
	if s.Direction() == callflow.DirectionInbound {
		return true, nil
	}
	if err := s.AwaitAnswer(ctx); err != nil {
		return false, err
	}
	return !s.Status().Terminal(), nil
}

// finish submits the final markup and waits for the call to end.
func finish(ctx context.Context, s *callflow.Session) error {
	next, err := s.SubmitResponse(true)
	if err != nil {
		return err
	}
	_, err = next.Wait(ctx)
	return err
}

func sayAttrs(p Params) callflow.Attrs {
	a := callflow.Attrs{}
	if v := p.get("voice", ""); v != "" {
		a["voice"] = v
	}
	if v := p.get("language", ""); v != "" {
		a["language"] = v
	}
	return a
}
