package eligibility

import (
	"sort"
	"time"

	"tradegate/internal/database"
)

// Policy names a canonical-selection strategy.
type Policy string

const (
	// PolicyNewest picks the newest candidate per ticker regardless of its
	// verdict. Suitable for duplicate accounting and diagnostics only.
	PolicyNewest Policy = "newest"

	// PolicyNewestEligible picks the newest candidate whose verdict is
	// eligible, skipping ineligible newer ones. Anything that can lead to
	// an order placement must use this policy.
	PolicyNewestEligible Policy = "newest_eligible"
)

// ReasonDuplicateTicker marks a candidate displaced by a newer one for the
// same ticker.
const ReasonDuplicateTicker = "duplicate_ticker"

// Rejected pairs a non-canonical candidate with the reason it was set aside:
// its own verdict when ineligible, duplicate_ticker otherwise.
type Rejected struct {
	Trade  *database.Trade
	Reason string
}

// Selection is the result of canonicalizing one pending set.
type Selection struct {
	// Canonical holds at most one candidate per ticker, in order of each
	// ticker's first appearance in the input.
	Canonical []*database.Trade
	// Verdicts maps canonical trade ids to their (eligible) verdicts under
	// PolicyNewestEligible, or whatever the newest verdict was under
	// PolicyNewest.
	Verdicts map[string]Verdict
	// Rejected holds everything else with a per-candidate reason.
	Rejected []Rejected
}

// Select groups the pending set by uppercased ticker, orders each group by
// effective timestamp descending, and applies the policy. Group order follows
// first appearance in the input so repeated runs over the same input produce
// identical output.
func Select(pending []*database.Trade, policy Policy, now time.Time, sess SessionContext, cfg Config) Selection {
	groups := make(map[string][]*database.Trade)
	var order []string

	for _, t := range pending {
		sym := t.Symbol()
		if _, seen := groups[sym]; !seen {
			order = append(order, sym)
		}
		groups[sym] = append(groups[sym], t)
	}

	sel := Selection{Verdicts: make(map[string]Verdict)}

	for _, sym := range order {
		group := groups[sym]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].EffectiveTime().After(group[j].EffectiveTime())
		})

		switch policy {
		case PolicyNewest:
			sel.Canonical = append(sel.Canonical, group[0])
			sel.Verdicts[group[0].ID] = Evaluate(group[0], now, sess, cfg)
			for _, t := range group[1:] {
				sel.Rejected = append(sel.Rejected, Rejected{Trade: t, Reason: ReasonDuplicateTicker})
			}

		default: // PolicyNewestEligible
			picked := -1
			verdicts := make([]Verdict, len(group))
			for i, t := range group {
				verdicts[i] = Evaluate(t, now, sess, cfg)
				if picked < 0 && verdicts[i] == VerdictEligible {
					picked = i
				}
			}
			for i, t := range group {
				if i == picked {
					sel.Canonical = append(sel.Canonical, t)
					sel.Verdicts[t.ID] = verdicts[i]
					continue
				}
				reason := string(verdicts[i])
				if verdicts[i] == VerdictEligible {
					reason = ReasonDuplicateTicker
				}
				sel.Rejected = append(sel.Rejected, Rejected{Trade: t, Reason: reason})
			}
		}
	}

	return sel
}
