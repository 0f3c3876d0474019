package app

import (
	"math"
	"time"

	"flowsentry/config"
)

// Aggregation windows. The long window also bounds buffer retention.
const (
	WindowShort  = 10 * time.Minute
	WindowMedium = time.Hour
	WindowLong   = 4 * time.Hour
)

// Signal directions as reported to the oracle and notifiers.
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// EventKind identifies a derived signal variant.
type EventKind string

const (
	EventFlush      EventKind = "flush"
	EventBurst      EventKind = "burst"
	EventAbsorption EventKind = "absorption"
)

// Trade is one executed fill, normalized from the wire format. Identity is
// the delivery hash, which dedups retransmissions after a reconnect.
type Trade struct {
	Instrument string    `json:"instrument"`
	IsBuy      bool      `json:"is_buy"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Notional   float64   `json:"notional"` // price × size in USD
	Hash       string    `json:"hash"`
	Time       time.Time `json:"time"`
}

// WhaleTrade is a trade whose notional cleared the effective threshold at
// classification time.
type WhaleTrade struct {
	Trade
	Threshold float64 `json:"threshold"` // effective threshold it cleared
}

// ClassifiedEvent is a derived market signal. Reclaimed is the one mutable
// field: a flush flips to reclaimed when a later large buy returns to its
// price level.
type ClassifiedEvent struct {
	Kind       EventKind `json:"kind"`
	Direction  string    `json:"direction"`
	Magnitude  float64   `json:"magnitude"` // USD notional behind the signal
	Confidence float64   `json:"confidence"`
	Price      float64   `json:"price"`
	Time       time.Time `json:"time"`
	Reclaimed  bool      `json:"reclaimed,omitempty"`
}

// PriceSample is one point of price history, kept to measure intra-window
// spread and percent change.
type PriceSample struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// MarketBuffers holds the rolling per-instrument market state: whale trades,
// classified events, and price samples. Capacities are fixed, the newest
// entry is always first, and the oldest entry falls off on overflow. Not
// safe for concurrent use; the owning collector serializes access.
type MarketBuffers struct {
	whaleCap int
	eventCap int
	priceCap int

	whales []WhaleTrade
	events []ClassifiedEvent
	prices []PriceSample
}

func NewMarketBuffers(cfg config.BuffersConfig) *MarketBuffers {
	return &MarketBuffers{
		whaleCap: cfg.TradeBufferSize,
		eventCap: cfg.EventBufferSize,
		priceCap: cfg.PriceBufferSize,
	}
}

// AddWhale prepends a whale trade, evicting the oldest past capacity.
func (b *MarketBuffers) AddWhale(w WhaleTrade) {
	if b.whaleCap <= 0 {
		return
	}
	b.whales = append(b.whales, WhaleTrade{})
	copy(b.whales[1:], b.whales)
	b.whales[0] = w
	if len(b.whales) > b.whaleCap {
		b.whales = b.whales[:b.whaleCap]
	}
}

// AddEvent prepends a classified event, evicting the oldest past capacity.
func (b *MarketBuffers) AddEvent(ev ClassifiedEvent) {
	if b.eventCap <= 0 {
		return
	}
	b.events = append(b.events, ClassifiedEvent{})
	copy(b.events[1:], b.events)
	b.events[0] = ev
	if len(b.events) > b.eventCap {
		b.events = b.events[:b.eventCap]
	}
}

// AddPrice prepends a price sample, evicting the oldest past capacity.
func (b *MarketBuffers) AddPrice(p PriceSample) {
	if b.priceCap <= 0 {
		return
	}
	b.prices = append(b.prices, PriceSample{})
	copy(b.prices[1:], b.prices)
	b.prices[0] = p
	if len(b.prices) > b.priceCap {
		b.prices = b.prices[:b.priceCap]
	}
}

// ReclaimFlushes marks unreclaimed flushes whose recorded price level is
// within proximityPct of price. Returns how many were marked.
func (b *MarketBuffers) ReclaimFlushes(price, proximityPct float64) int {
	if price <= 0 || proximityPct <= 0 {
		return 0
	}
	marked := 0
	for i := range b.events {
		ev := &b.events[i]
		if ev.Kind != EventFlush || ev.Reclaimed || ev.Price <= 0 {
			continue
		}
		distPct := math.Abs(price-ev.Price) / ev.Price * 100
		if distPct <= proximityPct {
			ev.Reclaimed = true
			marked++
		}
	}
	return marked
}

// PruneBefore drops entries stamped strictly before cutoff from every
// buffer.
func (b *MarketBuffers) PruneBefore(cutoff time.Time) {
	whales := b.whales[:0]
	for _, w := range b.whales {
		if !w.Time.Before(cutoff) {
			whales = append(whales, w)
		}
	}
	b.whales = whales

	events := b.events[:0]
	for _, ev := range b.events {
		if !ev.Time.Before(cutoff) {
			events = append(events, ev)
		}
	}
	b.events = events

	prices := b.prices[:0]
	for _, p := range b.prices {
		if !p.Time.Before(cutoff) {
			prices = append(prices, p)
		}
	}
	b.prices = prices
}

// Whales returns the live whale buffer, newest first. Callers must not
// mutate or retain it past the owning lock.
func (b *MarketBuffers) Whales() []WhaleTrade { return b.whales }

// Events returns the live event buffer, newest first.
func (b *MarketBuffers) Events() []ClassifiedEvent { return b.events }

// Prices returns the live price history, newest first.
func (b *MarketBuffers) Prices() []PriceSample { return b.prices }

func (b *MarketBuffers) WhaleCount() int { return len(b.whales) }
func (b *MarketBuffers) EventCount() int { return len(b.events) }
func (b *MarketBuffers) PriceCount() int { return len(b.prices) }

// LatestPrice returns the most recently recorded price, or 0 when empty.
func (b *MarketBuffers) LatestPrice() float64 {
	if len(b.prices) == 0 {
		return 0
	}
	return b.prices[0].Price
}

// Snapshot aggregates the buffers over one window ending at now.
func (b *MarketBuffers) Snapshot(window time.Duration, now time.Time) TimeframeSnapshot {
	return ComputeSnapshot(b.whales, b.events, b.prices, window, now)
}
