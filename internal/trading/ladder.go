// Package trading implements the per-symbol trading engine: ladder
// evaluation, order execution and the event loop tying them together.
package trading

import (
	"sort"

	"dca_trader/internal/core"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// entryTriggerPrice returns the price at which a tier fires, relative to the
// reference price.
func entryTriggerPrice(ref decimal.Decimal, tier core.EntryTier) decimal.Decimal {
	return ref.Mul(hundred.Add(tier.TriggerPct)).Div(hundred)
}

// exitTriggerPrice returns the price at which a tier fires, relative to the
// average cost.
func exitTriggerPrice(avgCost decimal.Decimal, tier core.ExitTier) decimal.Decimal {
	return avgCost.Mul(hundred.Add(tier.TriggerPct)).Div(hundred)
}

// CrossedEntryTiers returns the unexecuted entry tiers whose trigger price the
// current price has reached or crossed below. A single bar that gaps through
// several triggers returns them all, ordered by trigger magnitude so the
// shallowest tier fills first.
func CrossedEntryTiers(tiers []core.EntryTier, ref, price decimal.Decimal, executed func(id int) bool) []core.EntryTier {
	if !ref.IsPositive() {
		return nil
	}

	var crossed []core.EntryTier
	for _, tier := range tiers {
		if executed(tier.ID) {
			continue
		}
		if price.LessThanOrEqual(entryTriggerPrice(ref, tier)) {
			crossed = append(crossed, tier)
		}
	}

	sort.Slice(crossed, func(i, j int) bool {
		return crossed[i].TriggerPct.Abs().LessThan(crossed[j].TriggerPct.Abs())
	})
	return crossed
}

// CrossedExitTiers returns the unexecuted exit tiers the current price has
// crossed: take-profit tiers (positive trigger) fire at or above their
// trigger price, stop-loss tiers (negative trigger) at or below. Ordered by
// trigger magnitude.
func CrossedExitTiers(tiers []core.ExitTier, avgCost, price decimal.Decimal, executed func(id int) bool) []core.ExitTier {
	if !avgCost.IsPositive() {
		return nil
	}

	var crossed []core.ExitTier
	for _, tier := range tiers {
		if executed(tier.ID) {
			continue
		}
		trigger := exitTriggerPrice(avgCost, tier)
		if tier.TriggerPct.IsPositive() {
			if price.GreaterThanOrEqual(trigger) {
				crossed = append(crossed, tier)
			}
		} else if price.LessThanOrEqual(trigger) {
			crossed = append(crossed, tier)
		}
	}

	sort.Slice(crossed, func(i, j int) bool {
		return crossed[i].TriggerPct.Abs().LessThan(crossed[j].TriggerPct.Abs())
	})
	return crossed
}
