package calls

import "time"

// Record is the history row kept for every inbound call the gate answered.
//
// The gate decision (Allowed/Pattern/Reason) is captured at record time so
// history stays truthful even after the allowlist changes.

type Record struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// CallerID is the raw user part of the From URI; Normalized is the
	// digits-only form the allowlist was matched against.
	CallerID   string `json:"caller_id" db:"caller_id"`
	Normalized string `json:"normalized" db:"normalized"`

	Outcome Outcome `json:"outcome" db:"outcome"`

	Allowed bool   `json:"allowed" db:"allowed"`
	Pattern string `json:"pattern,omitempty" db:"pattern"`
	Reason  string `json:"reason" db:"reason"`

	StartedAt time.Time `json:"started_at" db:"started_at"`

	// DurationSeconds keeps JSON friendly; store as INT in Postgres.
	DurationSeconds int `json:"duration" db:"duration"`
}

type Outcome string

const (
	// OutcomeEnded covers calls that rang, were answered, and hung up
	// normally from either side.
	OutcomeEnded Outcome = "ended"
	// OutcomeCanceled covers callers who gave up before the answer. Canceled
	// calls never trigger the gate.
	OutcomeCanceled Outcome = "canceled"
)
