package callflow

import (
	"strconv"
	"strings"
)

// Status is the provider-reported call status.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
	StatusFailed     Status = "failed"
)

func (s Status) valid() bool {
	switch s {
	case StatusQueued, StatusInitiated, StatusRinging, StatusInProgress,
		StatusCompleted, StatusBusy, StatusNoAnswer, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further progress events are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}

// answered reports whether the call has been picked up and is still live.
func (s Status) answered() bool {
	switch s {
	case "", StatusQueued, StatusInitiated, StatusRinging:
		return false
	default:
		return !s.Terminal()
	}
}

type Direction string

const (
	DirectionInbound      Direction = "inbound"
	DirectionOutboundAPI  Direction = "outbound-api"
	DirectionOutboundDial Direction = "outbound-dial"
)

// EventSource tags where the most recent update to a session came from.
type EventSource string

const (
	SourceAPI            EventSource = "api"
	SourceWebhook        EventSource = "webhook"
	SourceStatus         EventSource = "status"
	SourceDial           EventSource = "dial"
	SourceInbound        EventSource = "inbound"
	SourceAsyncDetection EventSource = "async-detection"
)

// Fields is the flat field-value payload of a provider callback.
type Fields map[string]string

// CallSID returns the call identifier carried by the payload.
func (f Fields) CallSID() string { return strings.TrimSpace(f["CallSid"]) }

// Properties holds the mapped subset of provider fields for one call leg.
type Properties struct {
	To            string `json:"to,omitempty"`
	From          string `json:"from,omitempty"`
	CallerName    string `json:"caller_name,omitempty"`
	ParentCallSID string `json:"parent_call_sid,omitempty"`
	ForwardedFrom string `json:"forwarded_from,omitempty"`

	Digits        string  `json:"digits,omitempty"`
	FinishedOnKey string  `json:"finished_on_key,omitempty"`
	SpeechResult  string  `json:"speech_result,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`

	SIPResponseCode int    `json:"sip_response_code,omitempty"`
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`

	// AnsweredBy is the answering machine detection classification.
	AnsweredBy               string `json:"answered_by,omitempty"`
	MachineDetectionDuration int    `json:"machine_detection_duration_ms,omitempty"`

	StirVerstat       string `json:"stir_verstat,omitempty"`
	StirPassportToken string `json:"stir_passport_token,omitempty"`

	CallDuration int `json:"call_duration,omitempty"`

	DialCallStatus      string `json:"dial_call_status,omitempty"`
	DialCallSID         string `json:"dial_call_sid,omitempty"`
	DialCallDuration    int    `json:"dial_call_duration,omitempty"`
	DialSIPResponseCode int    `json:"dial_sip_response_code,omitempty"`
}

// ChildCall is a snapshot of one dialed leg at the moment it ended.
type ChildCall struct {
	SID             string `json:"sid,omitempty"`
	To              string `json:"to,omitempty"`
	Status          string `json:"status"`
	Duration        int    `json:"duration"`
	SIPResponseCode int    `json:"sip_response_code,omitempty"`
}

// fieldMap is the only path from a provider payload into a session.
// Fields missing from this table are dropped.
var fieldMap = map[string]func(s *Session, v string){
	"CallSid": func(s *Session, v string) {
		if s.id == "" {
			s.id = v
		}
	},
	"Direction": func(s *Session, v string) {
		switch d := Direction(v); d {
		case DirectionInbound, DirectionOutboundAPI, DirectionOutboundDial:
			s.direction = d
		}
	},
	"CallStatus": func(s *Session, v string) {
		if st := Status(v); st.valid() {
			s.status = st
		}
	},
	"To":            func(s *Session, v string) { s.props.To = v },
	"From":          func(s *Session, v string) { s.props.From = v },
	"CallerName":    func(s *Session, v string) { s.props.CallerName = v },
	"ParentCallSid": func(s *Session, v string) { s.props.ParentCallSID = v },
	"ForwardedFrom": func(s *Session, v string) { s.props.ForwardedFrom = v },
	"Digits":        func(s *Session, v string) { s.props.Digits = v },
	"FinishedOnKey": func(s *Session, v string) { s.props.FinishedOnKey = v },
	"SpeechResult":  func(s *Session, v string) { s.props.SpeechResult = v },
	"Confidence": func(s *Session, v string) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.props.Confidence = f
		}
	},
	"SipResponseCode":          intField(func(p *Properties, n int) { p.SIPResponseCode = n }),
	"ErrorCode":                func(s *Session, v string) { s.props.ErrorCode = v },
	"ErrorMessage":             func(s *Session, v string) { s.props.ErrorMessage = v },
	"AnsweredBy":               func(s *Session, v string) { s.props.AnsweredBy = v },
	"MachineDetectionDuration": intField(func(p *Properties, n int) { p.MachineDetectionDuration = n }),
	"StirVerstat":              func(s *Session, v string) { s.props.StirVerstat = v },
	"StirPassportToken":        func(s *Session, v string) { s.props.StirPassportToken = v },
	"CallDuration":             intField(func(p *Properties, n int) { p.CallDuration = n }),
	"DialCallStatus":           func(s *Session, v string) { s.props.DialCallStatus = v },
	"DialCallSid":              func(s *Session, v string) { s.props.DialCallSID = v },
	"DialCallDuration":         intField(func(p *Properties, n int) { p.DialCallDuration = n }),
	"DialSipResponseCode":      intField(func(p *Properties, n int) { p.DialSIPResponseCode = n }),
}

func intField(set func(p *Properties, n int)) func(s *Session, v string) {
	return func(s *Session, v string) {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return
		}
		set(&s.props, n)
	}
}

// childCallFrom snapshots the dialed-leg fields present in a child status payload.
func childCallFrom(f Fields, to string) ChildCall {
	c := ChildCall{
		SID:    f["DialCallSid"],
		To:     to,
		Status: f["DialCallStatus"],
	}
	if n, err := strconv.Atoi(f["DialCallDuration"]); err == nil {
		c.Duration = n
	}
	if n, err := strconv.Atoi(f["DialSipResponseCode"]); err == nil {
		c.SIPResponseCode = n
	}
	return c
}
