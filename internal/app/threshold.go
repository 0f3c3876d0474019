package app

import "flowsentry/config"

// EffectiveThreshold scales the base whale notional threshold by recent
// realized volatility so "large" stays relative to market conditions: quiet
// markets lower the bar, volatile markets raise it. Defined for every input;
// zero or negative volatility counts as quiet.
func EffectiveThreshold(base, volatilityPct float64, cfg config.ThresholdConfig) float64 {
	switch {
	case volatilityPct < cfg.QuietVolPct:
		return base * cfg.QuietMultiplier
	case volatilityPct > cfg.VolatileVolPct:
		return base * cfg.VolatileMultiplier
	default:
		return base
	}
}
