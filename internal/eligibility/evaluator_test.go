package eligibility

import (
	"testing"
	"time"

	"tradegate/internal/database"
)

func scoredLong(id string, age time.Duration, now time.Time) *database.Trade {
	score := 82.5
	scoredAt := now.Add(-age)
	return &database.Trade{
		ID:          id,
		Ticker:      "AAPL",
		Side:        database.SideLong,
		EntryPrice:  100,
		StopPrice:   97,
		TakeProfit:  109,
		Status:      database.StatusPending,
		Score:       &score,
		Grade:       "A",
		CreatedAt:   now.Add(-age - time.Minute),
		ScoredAt:    &scoredAt,
		SessionDate: "2026-03-02",
		SessionTag:  database.SessionRegular,
	}
}

func defaultConfig() Config {
	return Config{
		RescoreAfter:   10 * time.Minute,
		StaleAfter:     15 * time.Minute,
		BlockCarryover: true,
	}
}

func currentSession() SessionContext {
	return SessionContext{
		SessionDate: "2026-03-02",
		SessionTag:  database.SessionRegular,
		MarketOpen:  true,
	}
}

// TestEvaluateFreshCandidate verifies a valid recently scored candidate is
// eligible.
func TestEvaluateFreshCandidate(t *testing.T) {
	now := time.Now().UTC()
	trade := scoredLong("t1", 3*time.Minute, now)

	if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != VerdictEligible {
		t.Errorf("Expected eligible, got %s", v)
	}
}

// TestEvaluateAgeWindows walks a candidate through the rescore and staleness
// boundaries.
func TestEvaluateAgeWindows(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name string
		age  time.Duration
		want Verdict
	}{
		{"well inside rescore window", 5 * time.Minute, VerdictEligible},
		{"exactly at rescore boundary", 10 * time.Minute, VerdictEligible},
		{"past rescore boundary", 10*time.Minute + time.Second, VerdictRescoreRequired},
		{"exactly at stale boundary", 15 * time.Minute, VerdictRescoreRequired},
		{"past stale boundary", 15*time.Minute + time.Second, VerdictStaleTrade},
		{"far past stale boundary", 2 * time.Hour, VerdictStaleTrade},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trade := scoredLong("t1", tc.age, now)
			if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != tc.want {
				t.Errorf("age %s: expected %s, got %s", tc.age, tc.want, v)
			}
		})
	}
}

// TestEvaluateRescoreAttemptedOnce verifies a candidate whose rescore already
// failed does not loop through rescore_required again.
func TestEvaluateRescoreAttemptedOnce(t *testing.T) {
	now := time.Now().UTC()
	trade := scoredLong("t1", 12*time.Minute, now)
	trade.RescoreAttempted = true

	if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != VerdictRescoreFailed {
		t.Errorf("Expected rescore_failed, got %s", v)
	}
}

// TestEvaluateSessionBeforeStaleness verifies the session check runs before
// any age check: a carryover candidate from yesterday is carryover_session,
// not stale_trade, even when it is hours old.
func TestEvaluateSessionBeforeStaleness(t *testing.T) {
	now := time.Now().UTC()
	trade := scoredLong("t1", 18*time.Hour, now)
	trade.SessionDate = "2026-03-01"

	if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != VerdictCarryoverSession {
		t.Errorf("Expected carryover_session, got %s", v)
	}
}

// TestEvaluateCarryoverAllowed verifies a prior-day candidate falls through
// to the ordinary checks when carryover blocking is off.
func TestEvaluateCarryoverAllowed(t *testing.T) {
	now := time.Now().UTC()
	cfg := defaultConfig()
	cfg.BlockCarryover = false

	trade := scoredLong("t1", 3*time.Minute, now)
	trade.SessionDate = "2026-03-01"

	if v := Evaluate(trade, now, currentSession(), cfg); v != VerdictEligible {
		t.Errorf("Expected eligible with carryover allowed, got %s", v)
	}
}

// TestEvaluateCarryoverAllowedIgnoresTag pins the classification order for
// cross-day candidates: the session-tag check only applies within the same
// trading day, so a prior-day candidate with a different tag is still
// eligible when carryover is allowed, and carryover_session when it isn't.
func TestEvaluateCarryoverAllowedIgnoresTag(t *testing.T) {
	now := time.Now().UTC()
	trade := scoredLong("t1", 3*time.Minute, now)
	trade.SessionDate = "2026-03-01"
	trade.SessionTag = database.SessionPreMarket

	cfg := defaultConfig()
	cfg.BlockCarryover = false
	if v := Evaluate(trade, now, currentSession(), cfg); v != VerdictEligible {
		t.Errorf("Expected eligible across days despite tag mismatch, got %s", v)
	}

	cfg.BlockCarryover = true
	if v := Evaluate(trade, now, currentSession(), cfg); v != VerdictCarryoverSession {
		t.Errorf("Expected carryover_session, not a stale-tag verdict, got %s", v)
	}
}

// TestEvaluateSessionTagMismatch verifies a same-day candidate scored under a
// different session tag is stale_session.
func TestEvaluateSessionTagMismatch(t *testing.T) {
	now := time.Now().UTC()
	trade := scoredLong("t1", 2*time.Minute, now)
	trade.SessionTag = database.SessionPreMarket

	if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != VerdictStaleSession {
		t.Errorf("Expected stale_session, got %s", v)
	}
}

// TestEvaluateInvalidPrices verifies the directional price invariant is
// checked before scoring and age.
func TestEvaluateInvalidPrices(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name   string
		mutate func(*database.Trade)
	}{
		{"long stop above entry", func(tr *database.Trade) { tr.StopPrice = 105 }},
		{"long target below entry", func(tr *database.Trade) { tr.TakeProfit = 95 }},
		{"zero entry", func(tr *database.Trade) { tr.EntryPrice = 0 }},
		{"negative stop", func(tr *database.Trade) { tr.StopPrice = -1 }},
		{"unknown side", func(tr *database.Trade) { tr.Side = "SIDEWAYS" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trade := scoredLong("t1", time.Minute, now)
			tc.mutate(trade)
			if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != VerdictInvalidTrade {
				t.Errorf("Expected invalid_trade, got %s", v)
			}
		})
	}
}

// TestEvaluateShortSideInvariant covers the mirrored price invariant for
// shorts.
func TestEvaluateShortSideInvariant(t *testing.T) {
	now := time.Now().UTC()
	trade := scoredLong("t1", time.Minute, now)
	trade.Side = database.SideShort
	trade.StopPrice = 103
	trade.TakeProfit = 92

	if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != VerdictEligible {
		t.Errorf("Expected eligible short, got %s", v)
	}

	trade.StopPrice = 98 // stop below entry is wrong for a short
	if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != VerdictInvalidTrade {
		t.Errorf("Expected invalid_trade for short with stop below entry, got %s", v)
	}
}

// TestEvaluateNotScored verifies a candidate without score or grade is
// not_scored rather than eligible or stale.
func TestEvaluateNotScored(t *testing.T) {
	now := time.Now().UTC()
	trade := scoredLong("t1", time.Minute, now)
	trade.Score = nil
	trade.Grade = ""

	if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != VerdictNotScored {
		t.Errorf("Expected not_scored, got %s", v)
	}

	// A grade alone counts as scored.
	trade.Grade = "B"
	if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != VerdictEligible {
		t.Errorf("Expected eligible with grade only, got %s", v)
	}
}

// TestEvaluateDeterministic verifies repeated evaluation of the same
// candidate at the same instant always yields the same verdict.
func TestEvaluateDeterministic(t *testing.T) {
	now := time.Now().UTC()
	trade := scoredLong("t1", 12*time.Minute, now)

	first := Evaluate(trade, now, currentSession(), defaultConfig())
	for i := 0; i < 50; i++ {
		if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != first {
			t.Fatalf("Verdict changed on repeat evaluation: %s then %s", first, v)
		}
	}
}

// TestEvaluateEffectiveTimeFallback verifies an unscored timestamp falls
// back to creation time for age checks.
func TestEvaluateEffectiveTimeFallback(t *testing.T) {
	now := time.Now().UTC()
	trade := scoredLong("t1", time.Minute, now)
	trade.ScoredAt = nil
	trade.CreatedAt = now.Add(-20 * time.Minute)

	if v := Evaluate(trade, now, currentSession(), defaultConfig()); v != VerdictStaleTrade {
		t.Errorf("Expected stale_trade from creation-time age, got %s", v)
	}
}
