// Package stops manages the protective-stop lifecycle for open positions:
// grade-tiered tightening, rescue of unprotected positions, and synchronized
// replacement of broker-side stop orders.
package stops

import (
	"math"

	"tradegate/internal/database"
	"tradegate/internal/grades"
)

// lockInR is the R-multiple past which one full R of profit gets locked in,
// independent of grade.
const lockInR = 2.0

// UnrealizedR is the signed favorable price move expressed in multiples of
// the initial risk-per-share. Zero risk yields zero R.
func UnrealizedR(side string, entry, riskPerShare, last float64) float64 {
	if riskPerShare <= 0 || entry <= 0 || last <= 0 {
		return 0
	}
	move := last - entry
	if side == database.SideShort {
		move = entry - last
	}
	return move / riskPerShare
}

// MoreProtective returns whichever of a and b shields the holder better:
// the higher stop for LONG, the lower for SHORT.
func MoreProtective(side string, a, b float64) float64 {
	if side == database.SideShort {
		return math.Min(a, b)
	}
	return math.Max(a, b)
}

// StrictlyMoreProtective reports whether next improves on current.
func StrictlyMoreProtective(side string, next, current float64) bool {
	if side == database.SideShort {
		return next < current
	}
	return next > current
}

// NormalizeTick snaps a stop price onto the instrument's tick grid without
// letting rounding move it past the computed level: floor for LONG, ceil for
// SHORT.
func NormalizeTick(side string, price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	steps := price / tick
	if side == database.SideShort {
		return math.Ceil(steps-1e-9) * tick
	}
	return math.Floor(steps+1e-9) * tick
}

// NextStop derives the tightened stop for a position from its grade rule,
// the unrealized R, and the live price. It can only return the current stop
// or something more protective; it never moves against the holder.
func NextStop(t *database.Trade, rule grades.Rule, r, last float64) float64 {
	next := t.StopPrice
	risk := t.RiskPerShare()

	if r >= rule.BreakEvenR {
		next = MoreProtective(t.Side, next, t.EntryPrice)
	}

	if r >= lockInR && risk > 0 {
		lock := t.EntryPrice + risk
		if t.Side == database.SideShort {
			lock = t.EntryPrice - risk
		}
		next = MoreProtective(t.Side, next, lock)
	}

	if rule.TrailingEnabled && rule.TrailingPercent > 0 && r >= rule.TrailingStartR {
		trail := last * (1 - rule.TrailingPercent/100)
		if t.Side == database.SideShort {
			trail = last * (1 + rule.TrailingPercent/100)
		}
		next = MoreProtective(t.Side, next, trail)
	}

	return MoreProtective(t.Side, next, t.StopPrice)
}
