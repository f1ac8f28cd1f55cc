package reporting

import (
	"time"

	"callscript/internal/callflow"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics over finished calls.
// An empty Direction covers every direction.
type CallsSummaryRequest struct {
	Range     TimeRange          `json:"range"`
	Direction callflow.Direction `json:"direction,omitempty"`
}

type CallsSummary struct {
	Range     TimeRange          `json:"range"`
	Direction callflow.Direction `json:"direction,omitempty"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	BusyCalls      int `json:"busy_calls"`
	CanceledCalls  int `json:"canceled_calls"`

	// MachineAnswered counts completed calls classified as an answering machine.
	MachineAnswered int `json:"machine_answered"`
	// ChildLegs is the number of dialed legs across all calls.
	ChildLegs       int `json:"child_legs"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// ConnectionRate is completed calls over all calls.
	ConnectionRate float64 `json:"connection_rate"`
}
