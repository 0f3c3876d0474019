package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"flowsentry/clients/marketcache"
)

// StatePersister periodically snapshots gate windows and per-instrument seen
// hashes into the market cache so restarts do not double-fire alerts or
// reclassify trades already counted.
type StatePersister struct {
	logger     *zap.Logger
	cache      marketcache.Store
	gate       *AlertGate
	collectors []*Collector
	interval   time.Duration
}

func NewStatePersister(logger *zap.Logger, cache marketcache.Store, gate *AlertGate, collectors []*Collector, interval time.Duration) *StatePersister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StatePersister{
		logger:     logger,
		cache:      cache,
		gate:       gate,
		collectors: collectors,
		interval:   interval,
	}
}

// Restore loads the persisted gate snapshot and seen hashes. Returns how many
// gate windows and hashes were restored. A cold cache is not an error.
func (p *StatePersister) Restore(ctx context.Context) (int, int) {
	if p.cache == nil || !p.cache.IsEnabled() {
		return 0, 0
	}

	windows := 0
	var snap GateSnapshot
	if err := p.cache.LoadGateState(ctx, &snap); err != nil {
		if !errors.Is(err, marketcache.ErrCacheMiss) {
			p.logger.Warn("gate state restore failed", zap.Error(err))
		}
	} else {
		windows = p.gate.Import(snap)
	}

	hashes := 0
	for _, col := range p.collectors {
		loaded, err := p.cache.LoadSeenHashes(ctx, col.Instrument())
		if err != nil {
			p.logger.Warn("seen hash restore failed",
				zap.String("instrument", col.Instrument()),
				zap.Error(err))
			continue
		}
		hashes += col.ImportSeenHashes(loaded)
	}

	if windows > 0 || hashes > 0 {
		p.logger.Info("warm state restored",
			zap.Int("gate_windows", windows),
			zap.Int("seen_hashes", hashes))
	}
	return windows, hashes
}

// SaveAll writes the current gate snapshot and seen hashes to the cache.
func (p *StatePersister) SaveAll(ctx context.Context) {
	if p.cache == nil || !p.cache.IsEnabled() {
		return
	}

	if err := p.cache.SaveGateState(ctx, p.gate.Export()); err != nil {
		p.logger.Warn("gate state save failed", zap.Error(err))
	}
	for _, col := range p.collectors {
		hashes := col.ExportSeenHashes()
		if len(hashes) == 0 {
			continue
		}
		if err := p.cache.SaveSeenHashes(ctx, col.Instrument(), hashes); err != nil {
			p.logger.Warn("seen hash save failed",
				zap.String("instrument", col.Instrument()),
				zap.Error(err))
		}
	}
}

// Run snapshots on the configured interval until ctx is done, then takes one
// final snapshot so shutdown state survives the restart.
func (p *StatePersister) Run(ctx context.Context) {
	if p.cache == nil || !p.cache.IsEnabled() {
		p.logger.Info("market cache disabled, state snapshots off")
		return
	}

	p.logger.Info("state persister started", zap.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			p.SaveAll(saveCtx)
			cancel()
			p.logger.Info("state persister stopped")
			return
		case <-ticker.C:
			p.SaveAll(ctx)
		}
	}
}
