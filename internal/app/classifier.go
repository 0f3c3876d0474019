package app

import (
	"flowsentry/config"
)

// Classification is the outcome of running one trade through the classifier.
type Classification struct {
	Duplicate bool
	Whale     *WhaleTrade
	Events    []ClassifiedEvent
	Reclaims  int
}

// Classifier turns raw trades into whale trades and derived flush/burst
// events, deduplicating repeat deliveries by hash. The dedup set is bounded;
// when it grows past its cap the oldest half is forgotten. Not safe for
// concurrent use; the owning collector serializes access.
type Classifier struct {
	cfg   config.ClassifierConfig
	seen  map[string]struct{}
	order []string // insertion order, oldest first, drives eviction
}

func NewClassifier(cfg config.ClassifierConfig) *Classifier {
	if cfg.DedupCap <= 0 {
		cfg.DedupCap = 500
	}
	return &Classifier{
		cfg:  cfg,
		seen: make(map[string]struct{}),
	}
}

// Classify runs one trade through dedup and signal extraction, appending any
// whale trade or derived event to buf. effectiveThreshold is the
// volatility-adjusted whale bar in USD. A duplicate delivery is discarded
// before any further processing.
func (c *Classifier) Classify(t Trade, effectiveThreshold float64, buf *MarketBuffers) Classification {
	var out Classification

	if t.Hash != "" {
		if _, ok := c.seen[t.Hash]; ok {
			out.Duplicate = true
			return out
		}
		c.remember(t.Hash)
	}

	if effectiveThreshold <= 0 || t.Notional < effectiveThreshold {
		return out
	}

	whale := WhaleTrade{Trade: t, Threshold: effectiveThreshold}
	buf.AddWhale(whale)
	out.Whale = &whale

	if t.IsBuy {
		out.Reclaims = buf.ReclaimFlushes(t.Price, c.cfg.ReclaimProximityPct)
	}

	multiple := nz(c.cfg.FlushMultiple, 2)
	if t.Notional > multiple*effectiveThreshold {
		divisor := nz(c.cfg.ConfidenceDivisor, 5)
		conf := t.Notional / (divisor * effectiveThreshold)
		if conf > 1 {
			conf = 1
		}
		ev := ClassifiedEvent{
			Kind:       EventBurst,
			Direction:  DirectionLong,
			Magnitude:  t.Notional,
			Confidence: conf,
			Price:      t.Price,
			Time:       t.Time,
		}
		if !t.IsBuy {
			ev.Kind = EventFlush
			ev.Direction = DirectionShort
		}
		buf.AddEvent(ev)
		out.Events = append(out.Events, ev)
	}

	return out
}

// remember records a hash, evicting the oldest half once the set exceeds
// its cap.
func (c *Classifier) remember(hash string) {
	if _, ok := c.seen[hash]; ok {
		return
	}
	c.seen[hash] = struct{}{}
	c.order = append(c.order, hash)

	if len(c.order) <= c.cfg.DedupCap {
		return
	}
	half := len(c.order) / 2
	for _, h := range c.order[:half] {
		delete(c.seen, h)
	}
	remaining := make([]string, len(c.order)-half)
	copy(remaining, c.order[half:])
	c.order = remaining
}

// SeenCount returns the current size of the dedup set.
func (c *Classifier) SeenCount() int {
	return len(c.seen)
}

// ExportSeenHashes returns the dedup set in insertion order, oldest first,
// for snapshotting.
func (c *Classifier) ExportSeenHashes() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// ImportSeenHashes merges previously seen hashes, oldest first. Returns how
// many were new.
func (c *Classifier) ImportSeenHashes(hashes []string) int {
	added := 0
	for _, h := range hashes {
		if h == "" {
			continue
		}
		if _, ok := c.seen[h]; ok {
			continue
		}
		c.remember(h)
		added++
	}
	return added
}
