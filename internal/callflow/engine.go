package callflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Callback endpoints, relative to the public base URL.
const (
	PathVoice          = "/twilio/voice"
	PathStatus         = "/twilio/status"
	PathDial           = "/twilio/dial"
	PathInbound        = "/twilio/inbound"
	PathAsyncDetection = "/twilio/amd"
)

// Callback classes, used in warnings and metrics.
const (
	ClassVoice          = "voice"
	ClassStatus         = "status"
	ClassDial           = "dial"
	ClassInbound        = "inbound"
	ClassAsyncDetection = "amd"
)

const (
	defaultWebhookTimeout = 14 * time.Second
	defaultScriptGrace    = 2 * time.Second
)

// Links are the absolute callback URLs the engine hands to the provider.
type Links struct {
	Voice          string
	Status         string
	Dial           string
	Inbound        string
	AsyncDetection string
}

func NewLinks(baseURL string) Links {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return Links{
		Voice:          base + PathVoice,
		Status:         base + PathStatus,
		Dial:           base + PathDial,
		Inbound:        base + PathInbound,
		AsyncDetection: base + PathAsyncDetection,
	}
}

// Script is user code driving one call. It runs on its own goroutine.
type Script func(ctx context.Context, s *Session) error

// InboundResolver picks the script for a new inbound call. A nil Script
// rejects the call.
type InboundResolver interface {
	ResolveInbound(ctx context.Context, s *Session) (Script, error)
}

type InboundResolverFunc func(ctx context.Context, s *Session) (Script, error)

func (f InboundResolverFunc) ResolveInbound(ctx context.Context, s *Session) (Script, error) {
	return f(ctx, s)
}

// CallCreator is the provider REST surface the engine needs.
type CallCreator interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (CallRecord, error)
	CancelCall(ctx context.Context, callSID string) error
}

type CreateCallRequest struct {
	To   string
	From string

	URL                  string
	StatusCallback       string
	StatusCallbackEvents []string
	// AsyncAMDCallback is set when the options ask for asynchronous
	// answering machine detection.
	AsyncAMDCallback string

	Options CallOptions
}

// CallRecord is the provider's initial view of a created call.
type CallRecord struct {
	SID       string
	Status    string
	Direction string
	To        string
	From      string
}

// Limiter caps concurrent outbound calls per key (the origin number).
type Limiter interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Summary is what the engine knows about a call when it ends.
type Summary struct {
	CallSID    string
	Direction  Direction
	From       string
	To         string
	Status     Status
	Duration   int
	AnsweredBy string
	ChildCalls int
	StartedAt  time.Time
	EndedAt    time.Time
}

// Recorder receives a Summary for every call that reaches a terminal status.
type Recorder interface {
	RecordCall(ctx context.Context, s Summary) error
}

// Observer receives engine metrics.
type Observer interface {
	Callback(class, outcome string)
	CallStarted(result string)
	LiveSessions(n int)
}

type nopObserver struct{}

func (nopObserver) Callback(string, string) {}
func (nopObserver) CallStarted(string)      {}
func (nopObserver) LiveSessions(int)        {}

type Options struct {
	// BaseURL is the public URL the provider reaches this service on.
	BaseURL string

	Creator  CallCreator
	Inbound  InboundResolver
	Limiter  Limiter
	Recorder Recorder
	Observer Observer
	Logger   *slog.Logger

	// WebhookTimeout bounds how long a callback waits for script markup.
	WebhookTimeout time.Duration
	// ScriptGrace bounds how long a markup request waits for a running
	// script to reach its next suspension point.
	ScriptGrace time.Duration

	Now func() time.Time
}

// Engine owns the session registry and routes provider callbacks into it.
type Engine struct {
	ctx      context.Context
	registry *Registry
	links    Links

	creator  CallCreator
	inbound  InboundResolver
	limiter  Limiter
	recorder Recorder
	observer Observer
	log      *slog.Logger

	webhookTimeout time.Duration
	grace          time.Duration
	now            func() time.Time

	// creating tracks outbound calls between the REST request and
	// registration; callbacks for unknown ids wait for those in flight.
	creating inflight
	scripts  sync.WaitGroup
}

// NewEngine builds an engine. ctx is handed to every script and should be
// canceled on shutdown.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("callflow: base url required")
	}
	e := &Engine{
		ctx:            ctx,
		registry:       NewRegistry(),
		links:          NewLinks(opts.BaseURL),
		creator:        opts.Creator,
		inbound:        opts.Inbound,
		limiter:        opts.Limiter,
		recorder:       opts.Recorder,
		observer:       opts.Observer,
		log:            opts.Logger,
		webhookTimeout: opts.WebhookTimeout,
		grace:          opts.ScriptGrace,
		now:            opts.Now,
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.webhookTimeout <= 0 {
		e.webhookTimeout = defaultWebhookTimeout
	}
	if e.grace <= 0 {
		e.grace = defaultScriptGrace
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Links() Links { return e.links }

// Session returns a live session by call id.
func (e *Engine) Session(id string) (*Session, bool) {
	return e.registry.Lookup(id)
}

// --- outbound invocation ---

// CallOptions are extra provider call-creation parameters (Twilio REST names).
type CallOptions map[string]string

var reservedCallOptions = setOf(
	"Url", "Method", "FallbackUrl", "FallbackMethod",
	"StatusCallback", "StatusCallbackMethod", "StatusCallbackEvent",
	"ApplicationSid", "Twiml",
	"AsyncAmdStatusCallback", "AsyncAmdStatusCallbackMethod",
)

func (o CallOptions) validate() error {
	for k := range o {
		if reservedCallOptions.has(k) {
			return &ValidationError{Verb: "call", Field: k, Reason: ReasonReserved}
		}
		if k == "To" || k == "From" {
			return &ValidationError{Verb: "call", Field: k, Reason: ReasonUnsupported}
		}
	}
	return nil
}

// statusCallbackEvents leaves out "answered": the voice webhook already
// signals the answer, and an in-progress status racing it would wake the
// script without input.
var statusCallbackEvents = []string{"initiated", "ringing", "completed"}

// Call places an outbound call and registers its session before returning.
// The session comes back with its first script continuation armed, so the
// script should start with AwaitNextEvent or AwaitAnswer.
func (e *Engine) Call(ctx context.Context, to, from string, opts CallOptions) (*Session, error) {
	if strings.TrimSpace(to) == "" {
		return nil, &ValidationError{Verb: "call", Field: "To", Reason: ReasonRequired}
	}
	if strings.TrimSpace(from) == "" {
		return nil, &ValidationError{Verb: "call", Field: "From", Reason: ReasonRequired}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if e.creator == nil {
		return nil, &InvocationError{Op: "create", Err: errors.New("no call creator configured")}
	}

	if e.limiter != nil {
		ok, err := e.limiter.Acquire(ctx, from)
		if err != nil {
			e.observer.CallStarted("limiter_error")
			return nil, &InvocationError{Op: "create", Err: err}
		}
		if !ok {
			e.observer.CallStarted("limited")
			return nil, &InvocationError{Op: "create", Err: ErrConcurrencyLimit}
		}
	}

	req := CreateCallRequest{
		To:                   to,
		From:                 from,
		URL:                  e.links.Voice,
		StatusCallback:       e.links.Status,
		StatusCallbackEvents: statusCallbackEvents,
		Options:              opts,
	}
	if strings.EqualFold(opts["AsyncAmd"], "true") {
		req.AsyncAMDCallback = e.links.AsyncDetection
	}

	done := e.creating.begin()
	defer done()

	rec, err := e.creator.CreateCall(ctx, req)
	if err != nil {
		e.release(from)
		e.observer.CallStarted("failed")
		return nil, &InvocationError{Op: "create", Err: err}
	}

	s := newSession(e, rec.SID, DirectionOutboundAPI)
	s.onProviderEvent(Fields{
		"CallSid":    rec.SID,
		"CallStatus": rec.Status,
		"Direction":  rec.Direction,
		"To":         firstNonEmpty(rec.To, to),
		"From":       firstNonEmpty(rec.From, from),
	}, SourceAPI)
	if s.Status() == "" {
		s.onProviderEvent(Fields{"CallStatus": string(StatusQueued)}, SourceAPI)
	}
	if e.limiter != nil {
		s.limitKey = from
	}
	s.armInitial()

	if err := e.registry.Register(s); err != nil {
		e.release(from)
		e.observer.CallStarted("failed")
		return nil, &InvocationError{Op: "create", Err: fmt.Errorf("%s: %w", rec.SID, err)}
	}
	e.observer.CallStarted("ok")
	e.observer.LiveSessions(e.registry.Len())
	e.log.Info("outbound call created", "call_sid", rec.SID, "to", to, "from", from)
	return s, nil
}

// Run starts script for s on its own goroutine.
func (e *Engine) Run(s *Session, script Script) {
	e.scripts.Add(1)
	go func() {
		defer e.scripts.Done()
		log := e.log.With("call_sid", s.ID())
		defer func() {
			if p := recover(); p != nil {
				log.Error("script panicked", "panic", fmt.Sprint(p))
			}
		}()

		err := script(e.ctx, s)
		switch {
		case err == nil:
			log.Debug("script finished")
		case IsCallEnded(err):
			log.Info("script ended by far-end hangup")
		case errors.Is(err, context.Canceled):
			log.Info("script canceled")
		default:
			log.Error("script failed", "err", err)
		}
	}()
}

// Shutdown waits for running scripts until ctx is done. Cancel the context
// given to NewEngine first so suspended scripts return.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.scripts.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- callback router ---

// HandleVoice answers a next-markup request.
func (e *Engine) HandleVoice(ctx context.Context, f Fields) (string, error) {
	s, err := e.sessionFor(ctx, ClassVoice, f)
	if err != nil {
		return "", err
	}
	d, err := s.onWebhookEvent(f)
	return e.respond(ctx, ClassVoice, s, false, d, err)
}

// HandleDial answers the end of a dialed child leg.
func (e *Engine) HandleDial(ctx context.Context, f Fields) (string, error) {
	s, err := e.sessionFor(ctx, ClassDial, f)
	if err != nil {
		return "", err
	}
	d, err := s.onChildStatusEvent(f)
	return e.respond(ctx, ClassDial, s, true, d, err)
}

// HandleStatus applies a call status callback. No markup is produced.
func (e *Engine) HandleStatus(ctx context.Context, f Fields) error {
	s, err := e.sessionFor(ctx, ClassStatus, f)
	if err != nil {
		return err
	}
	terminal, err := s.onStatusEvent(f)
	if terminal {
		e.finish(ctx, s)
	}
	if errors.Is(err, errNotAwaiting) {
		e.log.Debug("status merged without waking script", "call_sid", s.ID(), "status", s.Status())
		err = nil
	}
	if err != nil {
		e.observer.Callback(ClassStatus, "error")
		return err
	}
	e.observer.Callback(ClassStatus, "ok")
	return nil
}

// HandleAsyncDetection merges an answering machine detection result.
func (e *Engine) HandleAsyncDetection(ctx context.Context, f Fields) error {
	s, err := e.sessionFor(ctx, ClassAsyncDetection, f)
	if err != nil {
		return err
	}
	s.onAsyncDetectionEvent(f)
	e.observer.Callback(ClassAsyncDetection, "ok")
	return nil
}

// HandleInbound creates a session for a new inbound call, starts its script
// and waits for the first markup.
func (e *Engine) HandleInbound(ctx context.Context, f Fields) (string, error) {
	id := f.CallSID()
	if id == "" {
		e.observer.Callback(ClassInbound, "bad_request")
		return "", ErrMissingCallID
	}
	if _, ok := e.registry.Lookup(id); ok {
		return "", e.warn(ClassInbound, id, "duplicate inbound notification")
	}

	s := newSession(e, id, DirectionInbound)
	s.onProviderEvent(f, SourceInbound)

	var script Script
	if e.inbound != nil {
		var err error
		if script, err = e.inbound.ResolveInbound(ctx, s); err != nil {
			e.observer.Callback(ClassInbound, "error")
			return "", err
		}
	}
	if script == nil {
		return e.rejectInbound(s)
	}

	t, err := s.expectMarkup()
	if err != nil {
		return "", err
	}
	if err := e.registry.Register(s); err != nil {
		return "", e.warn(ClassInbound, id, "duplicate inbound notification")
	}
	e.observer.LiveSessions(e.registry.Len())
	e.Run(s, script)
	return e.awaitTransport(ctx, ClassInbound, s, t)
}

// rejectInbound refuses a call no script claimed. The session stays
// registered until its terminal status so the call is still recorded.
func (e *Engine) rejectInbound(s *Session) (string, error) {
	if err := s.Reject(nil); err != nil {
		return "", err
	}
	body, err := s.takeMarkup()
	if err != nil {
		return "", err
	}
	if err := e.registry.Register(s); err != nil {
		return "", e.warn(ClassInbound, s.ID(), "duplicate inbound notification")
	}
	e.observer.LiveSessions(e.registry.Len())
	e.observer.Callback(ClassInbound, "rejected")
	e.log.Info("inbound call rejected, no script", "call_sid", s.ID(), "to", s.Properties().To)
	return body, nil
}

func (e *Engine) sessionFor(ctx context.Context, class string, f Fields) (*Session, error) {
	id := f.CallSID()
	if id == "" {
		e.observer.Callback(class, "bad_request")
		return nil, ErrMissingCallID
	}
	if s, ok := e.registry.Lookup(id); ok {
		return s, nil
	}
	// An outbound call may still be between creation and registration.
	if err := e.creating.wait(ctx); err != nil {
		return nil, err
	}
	if s, ok := e.registry.Lookup(id); ok {
		return s, nil
	}
	return nil, e.warn(class, id, "unknown or ended call")
}

func (e *Engine) warn(class, id, reason string) error {
	e.observer.Callback(class, "warning")
	return &RoutingWarning{Class: class, CallID: id, Reason: reason}
}

func (e *Engine) respond(ctx context.Context, class string, s *Session, child bool, d delivery, err error) (string, error) {
	if errors.Is(err, errNotAwaiting) && d.wait != nil {
		grace := time.NewTimer(e.grace)
		defer grace.Stop()
	wait:
		for errors.Is(err, errNotAwaiting) && d.wait != nil {
			select {
			case <-d.wait:
				d, err = s.redeliver(child)
			case <-grace.C:
				break wait
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	switch {
	case errors.Is(err, errNotAwaiting):
		return "", e.warn(class, s.ID(), "no script awaiting")
	case errors.Is(err, ErrContinuationPending):
		return "", e.warn(class, s.ID(), "markup request already pending")
	case err != nil:
		e.observer.Callback(class, "error")
		return "", err
	}
	if d.transport == nil {
		e.observer.Callback(class, "ok")
		return d.markup, nil
	}
	return e.awaitTransport(ctx, class, s, d.transport)
}

func (e *Engine) awaitTransport(ctx context.Context, class string, s *Session, t *Continuation[string]) (string, error) {
	wctx, cancel := context.WithTimeout(ctx, e.webhookTimeout)
	defer cancel()

	markup, err := t.Wait(wctx)
	if err == nil {
		e.observer.Callback(class, "ok")
		return markup, nil
	}
	s.abandonTransport(t)
	if errors.Is(err, ErrSessionClosed) {
		e.observer.Callback(class, "closed")
		return EmptyResponse(), nil
	}
	e.observer.Callback(class, "timeout")
	return "", fmt.Errorf("callflow: awaiting markup for %s: %w", s.ID(), err)
}

// finish removes a terminated session and records it.
func (e *Engine) finish(ctx context.Context, s *Session) {
	s.mu.Lock()
	sum := s.summaryLocked(e.now())
	key := s.limitKey
	s.mu.Unlock()

	e.registry.Remove(sum.CallSID)
	e.observer.LiveSessions(e.registry.Len())
	if key != "" {
		e.release(key)
	}
	e.log.Info("call ended", "call_sid", sum.CallSID, "status", sum.Status, "duration", sum.Duration)

	if e.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.recorder.RecordCall(rctx, sum); err != nil {
		e.log.Error("call record failed", "call_sid", sum.CallSID, "err", err)
	}
}

func (e *Engine) release(key string) {
	if e.limiter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), 2*time.Second)
	defer cancel()
	if err := e.limiter.Release(ctx, key); err != nil {
		e.log.Warn("limiter release failed", "key", key, "err", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
