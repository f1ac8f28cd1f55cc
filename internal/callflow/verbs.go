package callflow

// route names the engine callback a verb is wired to.
type route int

const (
	routeNone route = iota
	routeVoice
	routeDial
)

type verbRules struct {
	attrs    set
	reserved set
	children set
	route    route
}

type profile struct {
	name  string
	root  set
	verbs map[string]verbRules
}

type set map[string]struct{}

func setOf(keys ...string) set {
	s := make(set, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s set) has(k string) bool {
	_, ok := s[k]
	return ok
}

// Routing attributes on dialed nouns. Twilio would call these URLs itself,
// bypassing the engine.
var nounReserved = setOf(
	"url", "method",
	"statusCallback", "statusCallbackMethod", "statusCallbackEvent",
	"amdStatusCallback", "amdStatusCallbackMethod",
)

// scriptProfile is the vocabulary available to script code.
var scriptProfile = &profile{
	name: "script",
	root: setOf("Say", "Play", "Pause", "Gather", "Dial", "Hangup", "Reject"),
	verbs: map[string]verbRules{
		"Say": {
			attrs: setOf("voice", "language", "loop"),
		},
		"Play": {
			attrs: setOf("loop", "digits"),
		},
		"Pause": {
			attrs: setOf("length"),
		},
		"Gather": {
			attrs: setOf(
				"input", "timeout", "speechTimeout", "maxSpeechTime", "finishOnKey",
				"numDigits", "hints", "language", "speechModel", "enhanced",
				"profanityFilter", "actionOnEmptyResult", "bargeIn",
			),
			reserved: setOf("action", "method", "partialResultCallback", "partialResultCallbackMethod"),
			children: setOf("Say", "Play", "Pause"),
			route:    routeVoice,
		},
		"Dial": {
			attrs: setOf(
				"answerOnBridge", "callerId", "hangupOnStar", "timeLimit", "timeout",
				"record", "trim", "ringTone", "recordingTrack", "sequential",
			),
			reserved: setOf(
				"action", "method",
				"recordingStatusCallback", "recordingStatusCallbackMethod", "recordingStatusCallbackEvent",
				"referUrl", "referMethod",
			),
			children: setOf("Number", "Sip", "Client", "Queue"),
			route:    routeDial,
		},
		"Number": {
			attrs:    setOf("sendDigits", "machineDetection", "byoc"),
			reserved: nounReserved,
		},
		"Sip": {
			attrs:    setOf("username", "password", "machineDetection"),
			reserved: nounReserved,
		},
		"Client": {
			reserved: nounReserved,
		},
		"Queue": {
			reserved: setOf("url", "method"),
		},
		"Hangup": {},
		"Reject": {
			attrs: setOf("reason"),
		},
	},
}

// redirectProfile is used by the engine alone to hand control back to itself.
var redirectProfile = &profile{
	name: "redirect",
	root: setOf("Redirect"),
	verbs: map[string]verbRules{
		"Redirect": {attrs: setOf("method")},
	},
}

func (p *profile) rules(verb string, nested bool, parent verbRules) (verbRules, error) {
	allowed := p.root
	if nested {
		allowed = parent.children
	}
	r, ok := p.verbs[verb]
	if !ok || !allowed.has(verb) {
		return verbRules{}, &ValidationError{Verb: verb, Reason: ReasonUnsupported}
	}
	return r, nil
}

func (r verbRules) check(verb, attr string) error {
	if r.reserved.has(attr) {
		return &ValidationError{Verb: verb, Field: attr, Reason: ReasonReserved}
	}
	if !r.attrs.has(attr) {
		return &ValidationError{Verb: verb, Field: attr, Reason: ReasonUnsupported}
	}
	return nil
}
