package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Actor and ip capture are best-effort; do not block call handling on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorSubject is the authenticated API user causing the event, when the
	// event originates from the control API rather than a call.
	ActorSubject string `json:"actor_subject,omitempty" db:"actor_subject"`
	ActorRole    string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress captures the original client IP for API-driven events.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Call context (set for gate decisions).
	CallID   string `json:"call_id,omitempty" db:"call_id"`
	CallerID string `json:"caller_id,omitempty" db:"caller_id"`
	Pattern  string `json:"pattern,omitempty" db:"pattern"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeGateOpened records a caller that matched the allowlist and
	// triggered the relay.
	EventTypeGateOpened EventType = "gate_opened"
	// EventTypeGateDenied records a caller that rang the gate but did not
	// match any pattern.
	EventTypeGateDenied EventType = "gate_denied"
	// EventTypeAllowlistRefresh records allowlist reloads, manual or timed.
	EventTypeAllowlistRefresh EventType = "allowlist_refresh"
	// EventTypeAdminAction records control API actions (manual pulse,
	// simulated calls, forced refreshes).
	EventTypeAdminAction EventType = "admin_action"
)
