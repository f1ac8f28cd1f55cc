package routing

// Decision is the output of inbound routing: which named script answers the
// call and with what parameters.
//
// It carries no provider-specific fields.

type Decision struct {
	Action Action            `json:"action"`
	Script string            `json:"script,omitempty"`
	Params map[string]string `json:"params,omitempty"`

	// Reason is optional and intended for internal logs/metrics.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionRun    Action = "run"
	ActionReject Action = "reject"
)
