package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"flowsentry/clients/hyperliquid"
	"flowsentry/clients/oracle"
	"flowsentry/clients/recordstore"
	"flowsentry/config"
)

// oracleTestServer fakes the decision oracle, replaying a canned response
// body per call.
type oracleTestServer struct {
	*httptest.Server

	mu       sync.Mutex
	calls    int
	status   int
	response string
}

func newOracleTestServer(t *testing.T, response string) *oracleTestServer {
	t.Helper()
	s := &oracleTestServer{status: http.StatusOK, response: response}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls++
		status, body := s.status, s.response
		s.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "oracle unavailable", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *oracleTestServer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *oracleTestServer) setStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

func (s *oracleTestServer) setResponse(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response = body
}

const oracleTradeAlertResponse = `{
	"schema_version": 2,
	"decision": "ALERT",
	"confidence": 0.9,
	"alerts": [{
		"kind": "TRADE_ALERT",
		"confidence": 0.9,
		"direction": "long",
		"headline": "aggressive bid absorption at the lows",
		"pattern": {"name": "flush_reclaim", "direction": "long", "strength": 0.8},
		"thesis": {"bias": "long", "narrative": "sellers exhausted into size", "key_levels": [97, 100]},
		"execution": {"direction": "long", "ideal_entry": 100, "stop_loss": 97, "take_profits": [106], "expiry_minutes": 45}
	}],
	"usage": {"input_tokens": 1200, "output_tokens": 300, "cost_usd": 0.012}
}`

const oracleNoAlertResponse = `{"schema_version": 2, "decision": "NO_ALERT", "confidence": 0.2}`

// testCollector bundles a collector with the fakes behind it.
type testCollector struct {
	collector *Collector
	store     *recordstore.MemoryStore
	notifier  *MockNotifier
	cache     *MockCacheStore
	gate      *AlertGate
	oracle    *oracleTestServer
}

func newTestCollector(t *testing.T, oracleResponse string) *testCollector {
	t.Helper()

	cfg := config.Defaults()
	cfg.Symbols = []string{"BTC"}

	tc := &testCollector{
		store:    recordstore.NewMemoryStore(),
		notifier: NewMockNotifier(),
		cache:    NewMockCacheStore(),
		gate:     NewAlertGate(cfg.Gate),
	}

	var oracleClient *oracle.Client
	if oracleResponse != "" {
		tc.oracle = newOracleTestServer(t, oracleResponse)
		cfg.Oracle.Endpoint = tc.oracle.URL
		oracleClient = oracle.NewClient(zap.NewNop(), cfg)
	}

	tc.collector = NewCollector(zap.NewNop(), cfg, "BTC", CollectorDeps{
		Oracle:    oracleClient,
		Store:     tc.store,
		Cache:     tc.cache,
		Notifier:  tc.notifier,
		Gate:      tc.gate,
		Validator: NewValidator(cfg.Validation),
	})
	return tc
}

func wireTrade(coin, side, px, sz, hash string, at time.Time) hyperliquid.Trade {
	return hyperliquid.Trade{
		Coin: coin,
		Side: side,
		Px:   px,
		Sz:   sz,
		Time: at.UnixMilli(),
		Hash: hash,
	}
}

func TestTradeFromWire(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	wire := wireTrade("BTC", hyperliquid.SideBuy, "60000.5", "0.5", "0xhash", at)

	trade := tradeFromWire("BTC", &wire)
	if !trade.IsBuy {
		t.Error("expected buy side")
	}
	if trade.Price != 60000.5 {
		t.Errorf("expected price 60000.5, got %.2f", trade.Price)
	}
	if trade.Notional != 60000.5*0.5 {
		t.Errorf("expected notional %.2f, got %.2f", 60000.5*0.5, trade.Notional)
	}
	if trade.Hash != "0xhash" {
		t.Errorf("expected hash carried over, got %s", trade.Hash)
	}
	if !trade.Time.Equal(at) {
		t.Errorf("expected time %v, got %v", at, trade.Time)
	}
}

func TestTradeFromWire_TIDFallback(t *testing.T) {
	wire := hyperliquid.Trade{Coin: "BTC", Side: hyperliquid.SideSell, Px: "100", Sz: "1", TID: 987654}

	trade := tradeFromWire("BTC", &wire)
	if trade.Hash != "987654" {
		t.Errorf("expected TID fallback hash, got %s", trade.Hash)
	}
	if trade.IsBuy {
		t.Error("expected sell side")
	}

	// No hash and no TID leaves the key empty.
	wire = hyperliquid.Trade{Coin: "BTC", Px: "100", Sz: "1"}
	if trade := tradeFromWire("BTC", &wire); trade.Hash != "" {
		t.Errorf("expected empty hash, got %s", trade.Hash)
	}
}

func TestCollector_HandleTrades(t *testing.T) {
	tc := newTestCollector(t, "")
	now := time.Now()

	// The first batch recomputes the threshold from an empty buffer, which
	// reads as a quiet market: 50k base drops to a 30k bar.
	tc.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xa", now),    // 40k whale
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xa", now),    // duplicate
		wireTrade("BTC", hyperliquid.SideSell, "100", "700", "0xb", now),   // 70k flush
		wireTrade("BTC", hyperliquid.SideBuy, "100", "10", "0xc", now),     // below the bar
		wireTrade("ETH", hyperliquid.SideBuy, "100", "5000", "0xeth", now), // wrong coin
	})

	if got := tc.collector.EffectiveThresholdNow(); got != 30000 {
		t.Fatalf("expected quiet-market threshold 30000, got %.0f", got)
	}

	stats := tc.collector.Stats()
	if stats.TradesSeen != 4 {
		t.Errorf("expected 4 trades seen, got %d", stats.TradesSeen)
	}
	if stats.Duplicates != 1 {
		t.Errorf("expected 1 duplicate, got %d", stats.Duplicates)
	}
	if stats.WhaleTrades != 2 {
		t.Errorf("expected 2 whales, got %d", stats.WhaleTrades)
	}
	if stats.FlushEvents != 1 {
		t.Errorf("expected 1 flush, got %d", stats.FlushEvents)
	}
	if stats.BurstEvents != 0 {
		t.Errorf("expected no bursts, got %d", stats.BurstEvents)
	}

	sizes := tc.collector.BufferSizes()
	if sizes.Whales != 2 {
		t.Errorf("expected 2 buffered whales, got %d", sizes.Whales)
	}
	if sizes.Events != 1 {
		t.Errorf("expected 1 buffered event, got %d", sizes.Events)
	}
	if sizes.Prices == 0 {
		t.Error("expected at least one price sample")
	}
	if sizes.SeenHashes != 3 {
		t.Errorf("expected 3 remembered hashes, got %d", sizes.SeenHashes)
	}
}

func TestCollector_HandleFrame_RoutesByChannel(t *testing.T) {
	tc := newTestCollector(t, "")
	now := time.Now()

	trades := []hyperliquid.Trade{wireTrade("BTC", hyperliquid.SideBuy, "100", "500", "0xa", now)}
	data, _ := json.Marshal(trades)
	tc.collector.handleFrame(hyperliquid.Frame{Channel: hyperliquid.ChannelTrades, Data: data})

	if tc.collector.Stats().TradesSeen != 1 {
		t.Error("expected trades frame routed to the classifier")
	}

	ctxData, _ := json.Marshal(hyperliquid.ActiveAssetCtx{
		Coin: "BTC",
		Ctx:  hyperliquid.AssetCtx{MarkPx: "101.5", MidPx: "101.4"},
	})
	tc.collector.handleFrame(hyperliquid.Frame{Channel: hyperliquid.ChannelActiveAssetCtx, Data: ctxData})

	tc.collector.mu.Lock()
	lastCtx := tc.collector.lastCtx
	tc.collector.mu.Unlock()
	if lastCtx == nil || lastCtx.MarkPrice() != 101.5 {
		t.Error("expected asset context stored from the frame")
	}

	// A context for another coin is ignored.
	otherData, _ := json.Marshal(hyperliquid.ActiveAssetCtx{
		Coin: "ETH",
		Ctx:  hyperliquid.AssetCtx{MarkPx: "3000"},
	})
	tc.collector.handleFrame(hyperliquid.Frame{Channel: hyperliquid.ChannelActiveAssetCtx, Data: otherData})

	tc.collector.mu.Lock()
	lastCtx = tc.collector.lastCtx
	tc.collector.mu.Unlock()
	if lastCtx.MarkPrice() != 101.5 {
		t.Error("expected other coin's context ignored")
	}
}

func TestCollector_HandleAssetCtx_SavesToCache(t *testing.T) {
	tc := newTestCollector(t, "")

	tc.collector.handleAssetCtx(&hyperliquid.AssetCtx{MarkPx: "102", MidPx: "101.9"})

	// The cache write happens off the hot path.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var cached hyperliquid.AssetCtx
		if err := tc.cache.GetAssetCtx(context.Background(), "BTC", &cached); err == nil {
			if cached.MarkPrice() != 102 {
				t.Errorf("expected cached mark price 102, got %.2f", cached.MarkPrice())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected asset context written to the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if tc.collector.BufferSizes().Prices != 1 {
		t.Error("expected the mark price sampled")
	}
}

func TestCollector_RunCycle_OracleNotConfigured(t *testing.T) {
	tc := newTestCollector(t, "")

	report, err := tc.collector.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Skipped || report.SkipReason != "oracle not configured" {
		t.Errorf("expected oracle-not-configured skip, got %+v", report)
	}
	if tc.collector.Stats().CyclesSkipped != 1 {
		t.Errorf("expected 1 skipped cycle, got %d", tc.collector.Stats().CyclesSkipped)
	}
}

func TestCollector_RunCycle_NoMarketData(t *testing.T) {
	tc := newTestCollector(t, oracleTradeAlertResponse)

	report, err := tc.collector.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Skipped || report.SkipReason != "no market data yet" {
		t.Errorf("expected no-market-data skip, got %+v", report)
	}
	if tc.oracle.callCount() != 0 {
		t.Errorf("expected the oracle untouched, got %d calls", tc.oracle.callCount())
	}
}

func TestCollector_RunCycle_SkipsWhileInFlight(t *testing.T) {
	tc := newTestCollector(t, oracleTradeAlertResponse)
	tc.collector.analyzing.Store(true)

	report, err := tc.collector.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Skipped || report.SkipReason != "analysis already in progress" {
		t.Errorf("expected in-progress skip, got %+v", report)
	}

	tc.collector.analyzing.Store(false)
}

func TestCollector_RunCycle_EmitsAlert(t *testing.T) {
	tc := newTestCollector(t, oracleTradeAlertResponse)
	now := time.Now()

	tc.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xa", now),
	})

	report, err := tc.collector.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Skipped {
		t.Fatalf("unexpected skip: %s", report.SkipReason)
	}
	if report.Decision != oracle.DecisionAlert {
		t.Errorf("expected ALERT decision, got %s", report.Decision)
	}
	if report.Emitted != 1 || report.Rejected != 0 {
		t.Errorf("expected 1 emit, got %+v", report)
	}

	alerts := tc.notifier.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(alerts))
	}
	sent := alerts[0]
	if sent.ID == "" {
		t.Error("expected a pre-assigned alert id")
	}
	if sent.Updated {
		t.Error("expected a fresh alert, not an update")
	}
	if sent.Kind != "TRADE_ALERT" || sent.Direction != DirectionLong {
		t.Errorf("expected long trade alert, got %s %s", sent.Kind, sent.Direction)
	}
	if sent.StopLoss != 97 || sent.IdealEntry != 100 {
		t.Errorf("expected execution plan carried, got entry %.0f stop %.0f", sent.IdealEntry, sent.StopLoss)
	}
	if sent.ExpiresAt.IsZero() {
		t.Error("expected expiry derived from expiry_minutes")
	}

	count, err := tc.store.CountAlertsSince(context.Background(), "BTC", "TRADE_ALERT", now.Add(-time.Minute))
	if err != nil || count != 1 {
		t.Errorf("expected 1 accepted record, got %d err=%v", count, err)
	}
	latest, err := tc.store.LatestAcceptedSince(context.Background(), "BTC", "TRADE_ALERT", now.Add(-time.Minute))
	if err != nil || latest == nil {
		t.Fatalf("expected the stored alert, err=%v", err)
	}
	if latest.ID != sent.ID {
		t.Error("expected stored id to match the notification")
	}
	if !strings.Contains(latest.Payload, `"stop_loss":97`) {
		t.Errorf("expected execution in the payload, got %s", latest.Payload)
	}

	if _, ok := tc.gate.LastAccepted("BTC", oracle.KindTradeAlert); !ok {
		t.Error("expected the gate cooldown clock started")
	}

	traces := tc.store.Traces()
	if len(traces) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(traces))
	}
	if traces[0].Decision != "ALERT" || traces[0].InputTokens != 1200 {
		t.Errorf("expected trace to carry the verdict, got %+v", traces[0])
	}

	stats := tc.collector.Stats()
	if stats.CyclesRun != 1 || stats.AlertsEmitted != 1 {
		t.Errorf("expected cycle and emit counted, got %+v", stats)
	}
}

func TestCollector_RunCycle_ValidationRejection(t *testing.T) {
	// Confidence 0.5 is under the 0.8 trade floor.
	response := strings.ReplaceAll(oracleTradeAlertResponse, `"confidence": 0.9`, `"confidence": 0.5`)
	tc := newTestCollector(t, response)
	now := time.Now()

	tc.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xa", now),
	})

	report, err := tc.collector.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Rejected != 1 || report.Emitted != 0 {
		t.Errorf("expected 1 rejection, got %+v", report)
	}

	if tc.notifier.AlertCount() != 0 {
		t.Error("expected no notification for a rejected alert")
	}

	// The rejection is recorded but consumes no window capacity.
	count, _ := tc.store.CountAlertsSince(context.Background(), "BTC", "TRADE_ALERT", now.Add(-time.Minute))
	if count != 0 {
		t.Errorf("expected no accepted records, got %d", count)
	}
	recs := tc.store.Alerts()
	if len(recs) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(recs))
	}
	if recs[0].Status != recordstore.StatusRejected {
		t.Errorf("expected rejected status, got %s", recs[0].Status)
	}
	if !strings.Contains(recs[0].Notes, "confidence") {
		t.Errorf("expected the rejection reason in notes, got %q", recs[0].Notes)
	}

	dec := tc.gate.CheckWindow("BTC", oracle.KindTradeAlert, time.Now())
	if dec.Action != GateEmit || dec.CountInWindow != 0 {
		t.Errorf("expected window capacity untouched, got %+v", dec)
	}
	if tc.collector.Stats().AlertsRejected != 1 {
		t.Errorf("expected rejection counted, got %d", tc.collector.Stats().AlertsRejected)
	}
}

func TestCollector_RunCycle_UpdatesInWindow(t *testing.T) {
	tc := newTestCollector(t, oracleTradeAlertResponse)
	now := time.Now()

	tc.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xa", now),
	})

	first, err := tc.collector.RunCycle(context.Background())
	if err != nil || first.Emitted != 1 {
		t.Fatalf("expected first cycle to emit, got %+v err=%v", first, err)
	}

	// The trade window holds one alert, so the second cycle refreshes it in
	// place. The refresh also sidesteps the cooldown that a fresh emit would
	// trip on.
	tc.oracle.setResponse(strings.ReplaceAll(oracleTradeAlertResponse, `"confidence": 0.9`, `"confidence": 0.95`))
	second, err := tc.collector.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Updated != 1 || second.Emitted != 0 || second.Rejected != 0 {
		t.Errorf("expected 1 update, got %+v", second)
	}

	alerts := tc.notifier.Alerts()
	if len(alerts) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(alerts))
	}
	if !alerts[1].Updated {
		t.Error("expected the second notification flagged as an update")
	}
	if alerts[1].ID != alerts[0].ID {
		t.Error("expected the update to reuse the original alert id")
	}
	if alerts[1].Confidence != 0.95 {
		t.Errorf("expected refreshed confidence, got %.2f", alerts[1].Confidence)
	}

	// The stored record was refreshed, not duplicated.
	recs := tc.store.Alerts()
	if len(recs) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(recs))
	}
	if recs[0].Confidence != 0.95 {
		t.Errorf("expected stored confidence refreshed, got %.2f", recs[0].Confidence)
	}
	if tc.collector.Stats().AlertsUpdated != 1 {
		t.Errorf("expected update counted, got %d", tc.collector.Stats().AlertsUpdated)
	}
}

func TestCollector_RunCycle_NoAlertPrunesShortWindow(t *testing.T) {
	tc := newTestCollector(t, oracleNoAlertResponse)
	now := time.Now()

	tc.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xold", now.Add(-35*time.Minute)),
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xnew", now.Add(-5*time.Minute)),
	})
	if tc.collector.BufferSizes().Whales != 2 {
		t.Fatal("expected both whales buffered")
	}

	report, err := tc.collector.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Decision != oracle.DecisionNoAlert {
		t.Fatalf("expected NO_ALERT, got %s", report.Decision)
	}

	if got := tc.collector.BufferSizes().Whales; got != 1 {
		t.Errorf("expected buffers trimmed to the short window, got %d whales", got)
	}
}

func TestCollector_RunCycle_NeedMoreDataKeepsBuffers(t *testing.T) {
	tc := newTestCollector(t, `{"schema_version": 2, "decision": "NEED_MORE_DATA", "confidence": 0.1}`)
	now := time.Now()

	tc.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xold", now.Add(-35*time.Minute)),
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xnew", now.Add(-5*time.Minute)),
	})

	report, err := tc.collector.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Decision != oracle.DecisionNeedMoreData {
		t.Fatalf("expected NEED_MORE_DATA, got %s", report.Decision)
	}

	if got := tc.collector.BufferSizes().Whales; got != 2 {
		t.Errorf("expected buffers kept for the next cycle, got %d whales", got)
	}
}

func TestCollector_RunCycle_OracleFailure(t *testing.T) {
	tc := newTestCollector(t, oracleTradeAlertResponse)
	tc.oracle.setStatus(http.StatusInternalServerError)
	now := time.Now()

	tc.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xa", now),
	})

	_, err := tc.collector.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected an error from the failing oracle")
	}
	if !strings.Contains(err.Error(), "oracle evaluation") {
		t.Errorf("expected wrapped oracle error, got %v", err)
	}
	if tc.collector.Stats().CyclesFailed != 1 {
		t.Errorf("expected failure counted, got %d", tc.collector.Stats().CyclesFailed)
	}
	if tc.collector.analyzing.Load() {
		t.Error("expected the in-flight flag released after a failure")
	}

	// The next cycle recovers once the oracle does.
	tc.oracle.setStatus(http.StatusOK)
	report, err := tc.collector.RunCycle(context.Background())
	if err != nil || report.Emitted != 1 {
		t.Errorf("expected recovery to emit, got %+v err=%v", report, err)
	}
}

func TestCollector_BuildBundle(t *testing.T) {
	tc := newTestCollector(t, "")
	now := time.Now()

	tc.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "100", "700", "0xburst", now.Add(-2*time.Minute)),
		wireTrade("BTC", hyperliquid.SideSell, "100", "350", "0xsell", now.Add(-time.Minute)),
	})
	tc.collector.handleAssetCtx(&hyperliquid.AssetCtx{
		MarkPx: "100.5", MidPx: "100.4", Funding: "0.0001", OpenInterest: "5000",
	})

	bundle, snap, price := tc.collector.buildBundle(context.Background(), time.Now())
	if bundle == nil {
		t.Fatal("expected a bundle with live data")
	}
	if price != 100.5 {
		t.Errorf("expected mark price preferred, got %.2f", price)
	}
	if bundle.Market.FundingRate != 0.0001 {
		t.Errorf("expected funding carried, got %f", bundle.Market.FundingRate)
	}
	if bundle.Instrument != "BTC" {
		t.Errorf("expected instrument BTC, got %s", bundle.Instrument)
	}
	if bundle.Snapshots.Short.WhaleCount != 2 {
		t.Errorf("expected 2 whales in the short window, got %d", bundle.Snapshots.Short.WhaleCount)
	}
	if snap.WindowMinutes != 60 {
		t.Errorf("expected the 1h snapshot returned, got %d minutes", snap.WindowMinutes)
	}
	if bundle.WhaleFlow.NetUSD != 35000 {
		t.Errorf("expected net flow 35000, got %.0f", bundle.WhaleFlow.NetUSD)
	}
	if bundle.WhaleFlow.DominantSide != DirectionLong {
		t.Errorf("expected long dominant side, got %s", bundle.WhaleFlow.DominantSide)
	}
	if bundle.Thresholds.BaseWhaleUSD != 50000 {
		t.Errorf("expected base threshold in bundle, got %.0f", bundle.Thresholds.BaseWhaleUSD)
	}
	if len(bundle.RecentWhales) != 2 || len(bundle.RecentEvents) != 1 {
		t.Errorf("expected recent history bounded copies, got %d/%d",
			len(bundle.RecentWhales), len(bundle.RecentEvents))
	}
	if bundle.Account != nil {
		t.Error("expected no account block without a position tracker")
	}

	// The bundle must serialize cleanly for the oracle request.
	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("bundle does not marshal: %v", err)
	}
	for _, key := range []string{`"10m"`, `"1h"`, `"4h"`, `"whale_flow"`, `"effective_whale_usd"`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("expected %s in bundle json", key)
		}
	}
}

func TestCollector_BuildBundle_FallsBackToTradePrice(t *testing.T) {
	tc := newTestCollector(t, "")
	now := time.Now()

	// No asset context: the newest sampled trade price carries the bundle.
	tc.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "99.5", "400", "0xa", now),
	})

	bundle, _, price := tc.collector.buildBundle(context.Background(), time.Now())
	if bundle == nil {
		t.Fatal("expected a bundle from trade prices alone")
	}
	if price != 99.5 {
		t.Errorf("expected the sampled trade price, got %.2f", price)
	}
}

func TestCollector_SeenHashExportImport(t *testing.T) {
	tc := newTestCollector(t, "")
	now := time.Now()

	tc.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "100", "1", "0xa", now),
		wireTrade("BTC", hyperliquid.SideBuy, "100", "1", "0xb", now),
	})

	hashes := tc.collector.ExportSeenHashes()
	if len(hashes) != 2 {
		t.Fatalf("expected 2 exported hashes, got %d", len(hashes))
	}

	fresh := newTestCollector(t, "")
	if added := fresh.collector.ImportSeenHashes(hashes); added != 2 {
		t.Errorf("expected 2 imported, got %d", added)
	}

	fresh.collector.handleTrades([]hyperliquid.Trade{
		wireTrade("BTC", hyperliquid.SideBuy, "100", "400", "0xa", now),
	})
	if fresh.collector.Stats().Duplicates != 1 {
		t.Error("expected the restored hash to dedup the replayed trade")
	}
}

func TestCollector_StatsConcurrency(t *testing.T) {
	tc := newTestCollector(t, "")
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tc.collector.handleTrades([]hyperliquid.Trade{
					wireTrade("BTC", hyperliquid.SideBuy, "100", "1", fmt.Sprintf("0x%d-%d", n, j), now),
				})
			}
		}(i)
	}
	wg.Wait()

	if got := tc.collector.Stats().TradesSeen; got != 200 {
		t.Errorf("expected 200 trades seen, got %d", got)
	}
}
