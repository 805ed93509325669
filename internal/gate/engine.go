// Package gate decides whether an inbound caller opens the door and applies
// the side effects of that decision: relay pulse, call history, audit trail.
package gate

import (
	"doorgate/internal/match"
)

// Decision is the output of evaluating one caller against the allowlist.
//
// Return decision only. No side effects (no relay, no DB writes); those
// belong to Service.

type Decision struct {
	Allowed bool `json:"allowed"`

	// Pattern is the allowlist entry that matched, when one did.
	Pattern string `json:"pattern,omitempty"`

	// Normalized is the digits-only caller the match ran against.
	Normalized string `json:"normalized,omitempty"`

	// Reason is intended for internal logs and the audit trail.
	Reason string `json:"reason"`
}

const (
	ReasonMatched     = "matched"
	ReasonNoMatch     = "no_match"
	ReasonEmptyCaller = "empty_caller"
	ReasonCanceled    = "canceled"
)

// Engine evaluates callers. It holds no state of its own; the matcher is
// swapped atomically by allowlist refreshes.
type Engine struct {
	matcher *match.Matcher
}

func NewEngine(matcher *match.Matcher) *Engine {
	return &Engine{matcher: matcher}
}

// Decide evaluates a raw caller ID.
//
// Rules:
//  1. A caller that normalizes to nothing (anonymous, host-only From) is
//     always denied; wildcards never match an empty caller.
//  2. First matching pattern wins; its raw form is reported back.
func (e *Engine) Decide(callerID string) Decision {
	normalized := match.Normalize(callerID)
	if normalized == "" {
		return Decision{Allowed: false, Reason: ReasonEmptyCaller}
	}

	ok, pattern := e.matcher.Match(callerID)
	if !ok {
		return Decision{Allowed: false, Normalized: normalized, Reason: ReasonNoMatch}
	}
	return Decision{Allowed: true, Pattern: pattern, Normalized: normalized, Reason: ReasonMatched}
}
