package calls

import (
	"time"

	"callscript/internal/callflow"
)

// Record is the call detail record kept after a session ends.
//
// Records are written once, when the call reaches a terminal status; a
// repeated terminal callback for the same CallSid is ignored by the store.
type Record struct {
	ID      string `json:"id" db:"id"`
	CallSID string `json:"call_sid" db:"call_sid"`

	Direction callflow.Direction `json:"direction" db:"direction"`
	From      string             `json:"from" db:"from_number"`
	To        string             `json:"to" db:"to_number"`

	Status callflow.Status `json:"status" db:"status"`

	// DurationSeconds is Twilio's CallDuration; zero for unanswered calls.
	DurationSeconds int `json:"duration" db:"duration_seconds"`

	AnsweredBy string `json:"answered_by,omitempty" db:"answered_by"`
	ChildCalls int    `json:"child_calls" db:"child_calls"`

	StartedAt time.Time `json:"started_at" db:"started_at"`
	EndedAt   time.Time `json:"ended_at" db:"ended_at"`
}

func fromSummary(id string, s callflow.Summary) Record {
	return Record{
		ID:              id,
		CallSID:         s.CallSID,
		Direction:       s.Direction,
		From:            s.From,
		To:              s.To,
		Status:          s.Status,
		DurationSeconds: s.Duration,
		AnsweredBy:      s.AnsweredBy,
		ChildCalls:      s.ChildCalls,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
	}
}
