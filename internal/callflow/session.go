package callflow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Session is the live state of one call leg and the pair of continuation
// slots that bridge provider callbacks and script code.
//
// Invariants, enforced under mu:
//   - at most one script continuation and one transport continuation are
//     pending; a slot is cleared before its continuation is settled.
//   - scriptContinues only ever goes from true to false.
type Session struct {
	engine    *Engine
	createdAt time.Time

	mu              sync.Mutex
	id              string
	status          Status
	direction       Direction
	source          EventSource
	scriptContinues bool
	props           Properties
	childCalls      []ChildCall
	dialTarget      string
	limitKey        string

	script    *Continuation[*Session]
	transport *Continuation[string]
	// unclaimed is a script continuation armed by the engine on the
	// script's behalf; the next AwaitNextEvent hands it out.
	unclaimed *Continuation[*Session]
	// armed is closed the next time a script continuation is installed.
	armed chan struct{}

	response *Response
}

func newSession(e *Engine, id string, dir Direction) *Session {
	return &Session{
		engine:          e,
		createdAt:       e.now(),
		id:              id,
		direction:       dir,
		scriptContinues: true,
	}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Direction() Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

// EventSource is the provenance of the most recent update.
func (s *Session) EventSource() EventSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// ScriptContinues is false once the script issued a terminating action.
func (s *Session) ScriptContinues() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scriptContinues
}

// Properties returns a copy of the mapped provider fields.
func (s *Session) Properties() Properties {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.props
}

// ChildCalls returns a copy of the dialed-leg records, oldest first.
func (s *Session) ChildCalls() []ChildCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChildCall, len(s.childCalls))
	copy(out, s.childCalls)
	return out
}

// CreatedAt is when the engine first saw the call.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Snapshot is a point-in-time, JSON friendly view of a session.
type Snapshot struct {
	CallSID         string      `json:"call_sid"`
	Status          Status      `json:"status"`
	Direction       Direction   `json:"direction"`
	EventSource     EventSource `json:"event_source"`
	ScriptContinues bool        `json:"script_continues"`
	Properties      Properties  `json:"properties"`
	ChildCalls      []ChildCall `json:"child_calls"`
	CreatedAt       time.Time   `json:"created_at"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	children := make([]ChildCall, len(s.childCalls))
	copy(children, s.childCalls)
	return Snapshot{
		CallSID:         s.id,
		Status:          s.status,
		Direction:       s.direction,
		EventSource:     s.source,
		ScriptContinues: s.scriptContinues,
		Properties:      s.props,
		ChildCalls:      children,
		CreatedAt:       s.createdAt,
	}
}

// --- script-facing operations ---

// Append adds a top-level verb to the markup under construction. Unsupported
// verbs and reserved attributes fail with a ValidationError.
func (s *Session) Append(verb, text string, attrs Attrs) (*Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markupLocked().Append(verb, text, attrs)
}

func (s *Session) Say(text string, attrs Attrs) error {
	_, err := s.Append("Say", text, attrs)
	return err
}

func (s *Session) Play(url string, attrs Attrs) error {
	_, err := s.Append("Play", url, attrs)
	return err
}

func (s *Session) Pause(attrs Attrs) error {
	_, err := s.Append("Pause", "", attrs)
	return err
}

// Gather starts an input collection verb. Previously collected digits and
// speech are cleared so the next webhook reports only fresh input.
func (s *Session) Gather(attrs Attrs) (*Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.markupLocked().Append("Gather", "", attrs)
	if err != nil {
		return nil, err
	}
	s.props.Digits = ""
	s.props.FinishedOnKey = ""
	s.props.SpeechResult = ""
	s.props.Confidence = 0
	return g, nil
}

// Dial bridges the call to target. An empty target leaves the nouns to the
// caller (Number, Sip, Client on the returned element).
func (s *Session) Dial(target string, attrs Attrs) (*Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.markupLocked().Append("Dial", target, attrs)
	if err != nil {
		return nil, err
	}
	s.dialTarget = target
	return d, nil
}

// Hangup ends the call; the script will not produce further markup.
func (s *Session) Hangup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.markupLocked().Append("Hangup", "", nil); err != nil {
		return err
	}
	s.scriptContinues = false
	return nil
}

// Reject refuses an inbound call before it is answered.
func (s *Session) Reject(attrs Attrs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.markupLocked().Append("Reject", "", attrs); err != nil {
		return err
	}
	s.scriptContinues = false
	return nil
}

// SubmitResponse hands the markup built so far to the HTTP request that is
// waiting for it and returns the continuation that resumes the script on the
// next provider update. Unless final, the markup ends with a redirect back to
// the engine.
func (s *Session) SubmitResponse(final bool) (*Continuation[*Session], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return s.endedContinuationLocked(), nil
	}
	if s.transport == nil {
		return nil, ErrNoPendingRequest
	}
	if s.script != nil {
		return nil, ErrContinuationPending
	}

	if final {
		s.scriptContinues = false
	}
	r := s.markupLocked()
	if s.scriptContinues {
		if err := r.redirect(s.engine.links.Voice); err != nil {
			return nil, err
		}
	}
	body, err := r.Render()
	if err != nil {
		return nil, err
	}

	next := newContinuation[*Session]()
	s.armLocked(next)
	s.unclaimed = nil

	t := s.transport
	s.transport = nil
	s.response = nil
	if err := t.resolve(body); err != nil {
		return nil, err
	}
	return next, nil
}

// AwaitNextEvent suspends the script until the next provider update without
// producing markup, e.g. while an outbound call is still ringing.
func (s *Session) AwaitNextEvent() (*Continuation[*Session], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.unclaimed; c != nil {
		s.unclaimed = nil
		return c, nil
	}
	if s.script != nil {
		return nil, ErrContinuationPending
	}
	if s.status.Terminal() {
		return s.endedContinuationLocked(), nil
	}
	c := newContinuation[*Session]()
	s.armLocked(c)
	return c, nil
}

// Cancel asks the provider to drop a call that has not been answered yet.
// Nothing is resumed here; the terminal status callback does that.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.status.Terminal():
		s.mu.Unlock()
		return &ValidationError{Verb: "cancel", Reason: ReasonEnded}
	case s.status.answered():
		s.mu.Unlock()
		return &ValidationError{Verb: "cancel", Reason: ReasonAnswered}
	}
	s.scriptContinues = false
	id := s.id
	s.mu.Unlock()

	if s.engine.creator == nil {
		return &InvocationError{Op: "cancel", Err: errors.New("no call creator configured")}
	}
	if err := s.engine.creator.CancelCall(ctx, id); err != nil {
		return &InvocationError{Op: "cancel", Err: err}
	}
	return nil
}

// AwaitAnswer waits through progress events until the provider asks for
// markup (the call was answered) or the call reaches a terminal status.
func (s *Session) AwaitAnswer(ctx context.Context) error {
	for {
		next, err := s.AwaitNextEvent()
		if err != nil {
			return err
		}
		if _, err := next.Wait(ctx); err != nil {
			return err
		}
		if s.answerable() {
			return nil
		}
	}
}

// answerable reports whether markup is being requested or the call is over.
func (s *Session) answerable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil || s.status.Terminal()
}

// AwaitDetection polls until an answering machine classification arrives or
// ctx is done. Detection results never resume the script by themselves.
func (s *Session) AwaitDetection(ctx context.Context, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if by := s.Properties().AnsweredBy; by != "" {
			return by, nil
		}
		if s.Status().Terminal() {
			return "", ErrSessionClosed
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

// --- engine-facing operations ---

func (s *Session) markupLocked() *Response {
	if s.response == nil {
		s.response = newResponse(scriptProfile, &s.engine.links)
	}
	return s.response
}

// takeMarkup renders the markup under construction as is and clears it.
func (s *Session) takeMarkup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, err := s.markupLocked().Render()
	s.response = nil
	return body, err
}

func (s *Session) armLocked(c *Continuation[*Session]) {
	s.script = c
	if s.armed != nil {
		close(s.armed)
		s.armed = nil
	}
}

// armInitial installs a script continuation on the script's behalf so events
// arriving before the script first awaits are not lost.
func (s *Session) armInitial() {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := newContinuation[*Session]()
	s.armLocked(c)
	s.unclaimed = c
}

func (s *Session) armSignalLocked() <-chan struct{} {
	if s.armed == nil {
		s.armed = make(chan struct{})
	}
	return s.armed
}

func (s *Session) endedContinuationLocked() *Continuation[*Session] {
	if s.status == StatusCompleted && s.scriptContinues {
		return settledContinuation[*Session](nil, &CallEndedError{Session: s})
	}
	return settledContinuation(s, nil)
}

func (s *Session) applyLocked(f Fields, src EventSource) {
	for k, v := range f {
		if set, ok := fieldMap[k]; ok {
			set(s, v)
		}
	}
	s.source = src
}

// onProviderEvent merges fields without touching either continuation.
func (s *Session) onProviderEvent(f Fields, src EventSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(f, src)
}

func (s *Session) onAsyncDetectionEvent(f Fields) {
	s.onProviderEvent(f, SourceAsyncDetection)
}

// delivery tells the router how to answer a markup-requesting callback.
type delivery struct {
	// transport is awaited for the markup to return.
	transport *Continuation[string]
	// markup is returned immediately when transport is nil.
	markup string
	// wait is closed when a script continuation is armed; set only when
	// the script is still running but between suspension points.
	wait <-chan struct{}
}

func (s *Session) onWebhookEvent(f Fields) (delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(f, SourceWebhook)
	return s.deliverLocked(false)
}

func (s *Session) onChildStatusEvent(f Fields) (delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(f, SourceDial)
	s.childCalls = append(s.childCalls, childCallFrom(f, s.dialTarget))
	s.dialTarget = ""
	return s.deliverLocked(true)
}

// redeliver retries the continuation step of a callback whose fields were
// already merged.
func (s *Session) redeliver(child bool) (delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliverLocked(child)
}

func (s *Session) deliverLocked(child bool) (delivery, error) {
	if s.script == nil {
		if s.scriptContinues && !s.status.Terminal() {
			return delivery{wait: s.armSignalLocked()}, errNotAwaiting
		}
		return delivery{}, errNotAwaiting
	}
	if s.transport != nil {
		return delivery{}, ErrContinuationPending
	}

	sc := s.script
	s.script = nil
	if child && !s.scriptContinues {
		if err := sc.resolve(s); err != nil {
			return delivery{}, err
		}
		return delivery{markup: EmptyResponse()}, nil
	}

	t := newContinuation[string]()
	s.transport = t
	if err := sc.resolve(s); err != nil {
		s.transport = nil
		return delivery{}, err
	}
	return delivery{transport: t}, nil
}

// expectMarkup installs a transport continuation for a callback that arrives
// before any script runs (inbound calls).
func (s *Session) expectMarkup() (*Continuation[string], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport != nil {
		return nil, ErrContinuationPending
	}
	t := newContinuation[string]()
	s.transport = t
	return t, nil
}

// abandonTransport clears t if it is still the pending transport continuation.
func (s *Session) abandonTransport(t *Continuation[string]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == t {
		s.transport = nil
		_ = t.reject(ErrSessionClosed)
	}
}

// onStatusEvent merges a status callback and settles the pending script
// continuation for progress before the answer and for the terminal status.
// It reports whether the call reached a terminal status.
func (s *Session) onStatusEvent(f Fields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(f, SourceStatus)

	sc := s.script
	if !s.status.Terminal() {
		// Once answered, the script advances on markup requests only.
		if sc == nil || s.status.answered() {
			return false, errNotAwaiting
		}
		s.script = nil
		return false, sc.resolve(s)
	}
	s.script = nil

	if t := s.transport; t != nil {
		s.transport = nil
		_ = t.reject(ErrSessionClosed)
	}
	// Wake a router waiting for the script to arm; it will see the terminal status.
	if s.armed != nil {
		close(s.armed)
		s.armed = nil
	}
	if sc == nil {
		return true, errNotAwaiting
	}
	if s.status == StatusCompleted && s.scriptContinues {
		return true, sc.reject(&CallEndedError{Session: s})
	}
	return true, sc.resolve(s)
}

func (s *Session) summaryLocked(now time.Time) Summary {
	return Summary{
		CallSID:    s.id,
		Direction:  s.direction,
		From:       s.props.From,
		To:         s.props.To,
		Status:     s.status,
		Duration:   s.props.CallDuration,
		AnsweredBy: s.props.AnsweredBy,
		ChildCalls: len(s.childCalls),
		StartedAt:  s.createdAt,
		EndedAt:    now,
	}
}
