package circuit

import (
	"time"
)

// Outcome classifies the result of one auto-entry attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS" // an entry was executed
	OutcomeSkip    Outcome = "SKIP"    // admission control declined, no attempt made
	OutcomeFail    Outcome = "FAIL"    // an execution attempt failed
)

// Transition actions
const (
	ActionIncrement = "increment"
	ActionReset     = "reset"
	ActionNone      = "none"
)

// Transition is the result of applying one outcome to the guardrail counter.
type Transition struct {
	FailuresAfter int
	Action        string
	ShouldDisable bool
	ClearDisabled bool
}

// Apply is the pure guardrail transition. FAIL increments the consecutive
// failure counter and disables auto-entry exactly when the post-increment
// count reaches maxFailures. SUCCESS resets the counter and clears any
// disabled flag. SKIP never changes the counter, whatever the reason:
// benign admission-control skips must not spend the failure budget.
func Apply(outcome Outcome, reason string, failuresBefore, maxFailures int) Transition {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if failuresBefore < 0 {
		failuresBefore = 0
	}

	switch outcome {
	case OutcomeFail:
		after := failuresBefore + 1
		return Transition{
			FailuresAfter: after,
			Action:        ActionIncrement,
			ShouldDisable: after >= maxFailures,
		}
	case OutcomeSuccess:
		return Transition{
			FailuresAfter: 0,
			Action:        ActionReset,
			ClearDisabled: true,
		}
	default:
		return Transition{
			FailuresAfter: failuresBefore,
			Action:        ActionNone,
		}
	}
}

// FailureRecord captures the metadata of the most recent breaker-tripping
// failure.
type FailureRecord struct {
	At      time.Time `json:"at"`
	RunID   string    `json:"run_id"`
	TradeID string    `json:"trade_id"`
	Reason  string    `json:"reason"`
}

// State is the guardrail state for one trading day. It is owned by the
// external store and mutated only through Apply transitions.
type State struct {
	Day            string         `json:"day"`
	Failures       int            `json:"failures"`
	DisabledReason string         `json:"disabled_reason,omitempty"`
	LastLossAt     *time.Time     `json:"last_loss_at,omitempty"`
	LastFailure    *FailureRecord `json:"last_failure,omitempty"`
}

// Disabled reports whether auto-entry is currently disabled.
func (s *State) Disabled() bool {
	return s != nil && s.DisabledReason != ""
}
