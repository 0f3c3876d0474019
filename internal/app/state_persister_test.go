package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"flowsentry/clients/hyperliquid"
	"flowsentry/clients/oracle"
	"flowsentry/config"
)

// newBareCollector builds a collector with no backing services, enough to
// exercise its classifier state.
func newBareCollector(instrument string) *Collector {
	return NewCollector(zap.NewNop(), config.Defaults(), instrument, CollectorDeps{})
}

func seedHashes(c *Collector, hashes ...string) {
	now := time.Now()
	trades := make([]hyperliquid.Trade, 0, len(hashes))
	for _, h := range hashes {
		trades = append(trades, wireTrade(c.Instrument(), hyperliquid.SideBuy, "100", "0.01", h, now))
	}
	c.handleTrades(trades)
}

func TestStatePersister_SaveAndRestore(t *testing.T) {
	cache := NewMockCacheStore()
	gate := NewAlertGate(config.Defaults().Gate)
	btc := newBareCollector("BTC")
	eth := newBareCollector("ETH")

	seedHashes(btc, "0xa", "0xb")
	seedHashes(eth, "0xc")
	now := time.Now()
	gate.RecordEmit("BTC", oracle.KindTradeAlert, "alert-1", now)

	persister := NewStatePersister(zap.NewNop(), cache, gate, []*Collector{btc, eth}, time.Minute)
	persister.SaveAll(context.Background())

	if !cache.HasGateState() {
		t.Fatal("expected the gate snapshot written")
	}

	// A fresh process restores from the same cache.
	freshGate := NewAlertGate(config.Defaults().Gate)
	freshBTC := newBareCollector("BTC")
	freshETH := newBareCollector("ETH")
	restorer := NewStatePersister(zap.NewNop(), cache, freshGate, []*Collector{freshBTC, freshETH}, time.Minute)

	windows, hashes := restorer.Restore(context.Background())
	if windows != 1 {
		t.Errorf("expected 1 restored window, got %d", windows)
	}
	if hashes != 3 {
		t.Errorf("expected 3 restored hashes, got %d", hashes)
	}

	// The restored window still holds its alert, so the next candidate in
	// the same window is an update, not a fresh emit.
	dec := freshGate.CheckWindow("BTC", oracle.KindTradeAlert, now)
	if dec.Action != GateUpdate || dec.ExistingID != "alert-1" {
		t.Errorf("expected restored window to route to an update of alert-1, got %+v", dec)
	}
	if _, ok := freshGate.LastAccepted("BTC", oracle.KindTradeAlert); !ok {
		t.Error("expected the cooldown clock restored")
	}

	// Restored hashes still dedup replayed trades.
	seedHashes(freshBTC, "0xa")
	if freshBTC.Stats().Duplicates != 1 {
		t.Error("expected the replayed trade deduplicated after restore")
	}
}

func TestStatePersister_RestoreColdCache(t *testing.T) {
	cache := NewMockCacheStore()
	gate := NewAlertGate(config.Defaults().Gate)
	persister := NewStatePersister(zap.NewNop(), cache, gate, []*Collector{newBareCollector("BTC")}, time.Minute)

	windows, hashes := persister.Restore(context.Background())
	if windows != 0 || hashes != 0 {
		t.Errorf("expected nothing restored from a cold cache, got %d/%d", windows, hashes)
	}
}

func TestStatePersister_DisabledCache(t *testing.T) {
	cache := NewMockCacheStore()
	cache.SetEnabled(false)
	gate := NewAlertGate(config.Defaults().Gate)
	gate.RecordEmit("BTC", oracle.KindTradeAlert, "alert-1", time.Now())

	persister := NewStatePersister(zap.NewNop(), cache, gate, nil, time.Minute)
	persister.SaveAll(context.Background())
	if cache.HasGateState() {
		t.Error("expected no writes to a disabled cache")
	}

	windows, hashes := persister.Restore(context.Background())
	if windows != 0 || hashes != 0 {
		t.Errorf("expected nothing restored from a disabled cache, got %d/%d", windows, hashes)
	}

	// Run bails out immediately rather than ticking against a dead cache.
	persister.Run(context.Background())
}

func TestStatePersister_NilCache(t *testing.T) {
	gate := NewAlertGate(config.Defaults().Gate)
	persister := NewStatePersister(zap.NewNop(), nil, gate, nil, time.Minute)

	persister.SaveAll(context.Background())
	if windows, hashes := persister.Restore(context.Background()); windows != 0 || hashes != 0 {
		t.Errorf("expected no-op without a cache, got %d/%d", windows, hashes)
	}
	persister.Run(context.Background())
}

func TestStatePersister_LoadErrorsTolerated(t *testing.T) {
	cache := NewMockCacheStore()
	cache.SetLoadError(errors.New("connection refused"))
	gate := NewAlertGate(config.Defaults().Gate)
	persister := NewStatePersister(zap.NewNop(), cache, gate, []*Collector{newBareCollector("BTC")}, time.Minute)

	windows, hashes := persister.Restore(context.Background())
	if windows != 0 || hashes != 0 {
		t.Errorf("expected a failing cache to restore nothing, got %d/%d", windows, hashes)
	}
}

func TestStatePersister_SaveErrorsTolerated(t *testing.T) {
	cache := NewMockCacheStore()
	cache.SetSaveError(errors.New("connection refused"))
	gate := NewAlertGate(config.Defaults().Gate)
	btc := newBareCollector("BTC")
	seedHashes(btc, "0xa")

	persister := NewStatePersister(zap.NewNop(), cache, gate, []*Collector{btc}, time.Minute)
	persister.SaveAll(context.Background())

	if cache.HasGateState() {
		t.Error("expected no snapshot recorded through a failing save")
	}
}

func TestStatePersister_SaveSkipsEmptyHashSets(t *testing.T) {
	cache := NewMockCacheStore()
	gate := NewAlertGate(config.Defaults().Gate)
	persister := NewStatePersister(zap.NewNop(), cache, gate, []*Collector{newBareCollector("BTC")}, time.Minute)

	persister.SaveAll(context.Background())

	stored, err := cache.LoadSeenHashes(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("expected no hash set written for an empty classifier, got %d", len(stored))
	}
}

func TestStatePersister_RunTakesFinalSnapshot(t *testing.T) {
	cache := NewMockCacheStore()
	gate := NewAlertGate(config.Defaults().Gate)
	gate.RecordEmit("BTC", oracle.KindTradeAlert, "alert-1", time.Now())
	persister := NewStatePersister(zap.NewNop(), cache, gate, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		persister.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected Run to stop on cancellation")
	}

	if !cache.HasGateState() {
		t.Error("expected a final snapshot taken on shutdown")
	}
}
