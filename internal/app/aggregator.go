package app

import "time"

// TimeframeSnapshot summarizes one rolling window of market activity. Every
// entry stamped at or after now-window is included.
type TimeframeSnapshot struct {
	WindowMinutes int `json:"window_minutes"`

	WhaleCount       int     `json:"whale_count"`
	BuyCount         int     `json:"buy_count"`
	SellCount        int     `json:"sell_count"`
	BuyNotionalUSD   float64 `json:"buy_notional_usd"`
	SellNotionalUSD  float64 `json:"sell_notional_usd"`
	NetFlowUSD       float64 `json:"net_flow_usd"`
	TotalNotionalUSD float64 `json:"total_notional_usd"`

	FlushCount      int `json:"flush_count"`
	BurstCount      int `json:"burst_count"`
	AbsorptionCount int `json:"absorption_count"`
	ReclaimedCount  int `json:"reclaimed_count"`

	PriceChangePct float64 `json:"price_change_pct"`
	VolatilityPct  float64 `json:"volatility_pct"`
	SampleCount    int     `json:"sample_count"`
}

// DominantSide reports which side moved more whale notional in the window.
func (s TimeframeSnapshot) DominantSide() string {
	switch {
	case s.NetFlowUSD > 0:
		return DirectionLong
	case s.NetFlowUSD < 0:
		return DirectionShort
	default:
		return "balanced"
	}
}

// ComputeSnapshot aggregates the buffers over one window ending at now. It
// never mutates its inputs. The window boundary is inclusive: an entry
// stamped exactly now-window counts.
func ComputeSnapshot(whales []WhaleTrade, events []ClassifiedEvent, prices []PriceSample, window time.Duration, now time.Time) TimeframeSnapshot {
	cutoff := now.Add(-window)
	snap := TimeframeSnapshot{WindowMinutes: int(window.Minutes())}

	for _, w := range whales {
		if w.Time.Before(cutoff) {
			continue
		}
		snap.WhaleCount++
		snap.TotalNotionalUSD += w.Notional
		if w.IsBuy {
			snap.BuyCount++
			snap.BuyNotionalUSD += w.Notional
		} else {
			snap.SellCount++
			snap.SellNotionalUSD += w.Notional
		}
	}
	snap.NetFlowUSD = snap.BuyNotionalUSD - snap.SellNotionalUSD

	for _, ev := range events {
		if ev.Time.Before(cutoff) {
			continue
		}
		switch ev.Kind {
		case EventFlush:
			snap.FlushCount++
		case EventBurst:
			snap.BurstCount++
		case EventAbsorption:
			snap.AbsorptionCount++
		}
		if ev.Reclaimed {
			snap.ReclaimedCount++
		}
	}

	var (
		oldest, newest PriceSample
		low, high      float64
	)
	for _, p := range prices {
		if p.Time.Before(cutoff) || p.Price <= 0 {
			continue
		}
		if snap.SampleCount == 0 {
			oldest, newest = p, p
			low, high = p.Price, p.Price
		} else {
			if p.Time.Before(oldest.Time) {
				oldest = p
			}
			if p.Time.After(newest.Time) {
				newest = p
			}
			if p.Price < low {
				low = p.Price
			}
			if p.Price > high {
				high = p.Price
			}
		}
		snap.SampleCount++
	}

	if snap.SampleCount > 1 && oldest.Price > 0 {
		snap.PriceChangePct = (newest.Price - oldest.Price) / oldest.Price * 100
	}
	if mid := (high + low) / 2; snap.SampleCount > 1 && mid > 0 {
		snap.VolatilityPct = (high - low) / mid * 100
	}

	return snap
}
