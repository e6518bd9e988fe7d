// Package eligibility decides whether a pending candidate may be acted on
// this cycle, and collapses a noisy candidate stream to one canonical
// candidate per ticker.
package eligibility

import (
	"time"

	"tradegate/internal/database"
)

// Verdict is the closed set of eligibility outcomes. Exactly one verdict is
// produced per (candidate, now) pair.
type Verdict string

const (
	VerdictEligible         Verdict = "eligible"
	VerdictStaleSession     Verdict = "stale_session"
	VerdictCarryoverSession Verdict = "carryover_session"
	VerdictInvalidTrade     Verdict = "invalid_trade"
	VerdictNotScored        Verdict = "not_scored"
	VerdictStaleTrade       Verdict = "stale_trade"
	VerdictRescoreRequired  Verdict = "rescore_required"
	VerdictRescoreFailed    Verdict = "rescore_failed"
)

// SessionContext is the trading-session frame of the current run.
type SessionContext struct {
	SessionDate string // YYYY-MM-DD
	SessionTag  string
	MarketOpen  bool
}

// Config holds the age windows and session policy for evaluation.
type Config struct {
	// RescoreAfter is the age past which a candidate needs a fresh score.
	RescoreAfter time.Duration
	// StaleAfter is the absolute age ceiling.
	StaleAfter time.Duration
	// BlockCarryover rejects candidates scored under a prior session date.
	BlockCarryover bool
}

// Evaluate returns the single verdict for a candidate at the given instant.
// Checks run in strict order and the first match wins. Session mismatch is
// checked before staleness: a candidate from a prior session is categorically
// invalid for this run, not merely old.
func Evaluate(t *database.Trade, now time.Time, sess SessionContext, cfg Config) Verdict {
	if t.SessionDate != "" && sess.SessionDate != "" && t.SessionDate != sess.SessionDate {
		if cfg.BlockCarryover {
			return VerdictCarryoverSession
		}
	} else if t.SessionTag != "" && sess.SessionTag != "" && t.SessionTag != sess.SessionTag {
		return VerdictStaleSession
	}

	if !t.PricesValid() {
		return VerdictInvalidTrade
	}

	if !t.HasScore() {
		return VerdictNotScored
	}

	age := now.Sub(t.EffectiveTime())

	if cfg.StaleAfter > 0 && age > cfg.StaleAfter {
		return VerdictStaleTrade
	}

	if cfg.RescoreAfter > 0 && age > cfg.RescoreAfter {
		if t.RescoreAttempted {
			return VerdictRescoreFailed
		}
		return VerdictRescoreRequired
	}

	return VerdictEligible
}
