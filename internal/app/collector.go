package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowsentry/clients/hyperliquid"
	"flowsentry/clients/marketcache"
	"flowsentry/clients/notifier"
	"flowsentry/clients/oracle"
	"flowsentry/clients/recordstore"
	"flowsentry/config"
)

const (
	// priceSampleInterval throttles price samples so the ring covers hours,
	// not seconds, at its configured capacity.
	priceSampleInterval = 15 * time.Second

	// thresholdRefreshInterval bounds how often the trade path recomputes the
	// effective whale threshold.
	thresholdRefreshInterval = 30 * time.Second

	// assetCtxSaveInterval throttles asset context writes to the market cache.
	assetCtxSaveInterval = 30 * time.Second

	// staleCtxAfter is how old a streamed asset context may be before a cycle
	// falls back to fetching a fresh one.
	staleCtxAfter = 2 * time.Minute

	// bundleEventLimit and bundleWhaleLimit cap how much recent history goes
	// into an oracle bundle.
	bundleEventLimit = 25
	bundleWhaleLimit = 25
)

// CollectorStats counts what one collector has seen and done.
type CollectorStats struct {
	TradesSeen     uint64 `json:"trades_seen"`
	Duplicates     uint64 `json:"duplicates"`
	WhaleTrades    uint64 `json:"whale_trades"`
	FlushEvents    uint64 `json:"flush_events"`
	BurstEvents    uint64 `json:"burst_events"`
	Reclaims       uint64 `json:"reclaims"`
	CyclesRun      uint64 `json:"cycles_run"`
	CyclesSkipped  uint64 `json:"cycles_skipped"`
	CyclesFailed   uint64 `json:"cycles_failed"`
	AlertsEmitted  uint64 `json:"alerts_emitted"`
	AlertsUpdated  uint64 `json:"alerts_updated"`
	AlertsRejected uint64 `json:"alerts_rejected"`
}

// CycleReport summarizes one analysis cycle.
type CycleReport struct {
	Instrument string
	Skipped    bool
	SkipReason string
	Decision   oracle.Decision
	Candidates int
	Emitted    int
	Updated    int
	Rejected   int
	Elapsed    time.Duration
}

// CollectorDeps bundles the shared services a collector runs against.
type CollectorDeps struct {
	Stream    *hyperliquid.StreamClient
	Info      *hyperliquid.InfoClient
	Oracle    *oracle.Client
	Store     recordstore.Store
	Cache     marketcache.Store
	Notifier  notifier.Notifier
	Gate      *AlertGate
	Positions *PositionTracker
	Validator *Validator
}

// Collector owns the full pipeline for one instrument: it classifies the
// trade stream into buffers, periodically bundles the buffered state for the
// oracle, and walks the verdict through gating and validation. All buffer
// and classifier access goes through c.mu; cycle exclusivity is a separate
// CAS flag so a slow oracle call never blocks the trade path.
type Collector struct {
	logger     *zap.Logger
	cfg        *config.Config
	instrument string

	stream    *hyperliquid.StreamClient
	info      *hyperliquid.InfoClient
	oracle    *oracle.Client
	store     recordstore.Store
	cache     marketcache.Store
	notifier  notifier.Notifier
	gate      *AlertGate
	positions *PositionTracker
	validator *Validator

	mu          sync.Mutex
	classifier  *Classifier
	buffers     *MarketBuffers
	effective   float64
	lastCtx     *hyperliquid.AssetCtx
	lastCtxAt   time.Time
	lastSample  time.Time
	lastRefresh time.Time
	lastCtxSave time.Time

	analyzing atomic.Bool

	statsMu sync.Mutex
	stats   CollectorStats
}

func NewCollector(logger *zap.Logger, cfg *config.Config, instrument string, deps CollectorDeps) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		logger:     logger.With(zap.String("instrument", instrument)),
		cfg:        cfg,
		instrument: instrument,
		stream:     deps.Stream,
		info:       deps.Info,
		oracle:     deps.Oracle,
		store:      deps.Store,
		cache:      deps.Cache,
		notifier:   deps.Notifier,
		gate:       deps.Gate,
		positions:  deps.Positions,
		validator:  deps.Validator,
		classifier: NewClassifier(cfg.Classifier),
		buffers:    NewMarketBuffers(cfg.Buffers),
		effective:  cfg.Classifier.BaseWhaleThreshold,
	}
}

func (c *Collector) Instrument() string {
	return c.instrument
}

// Run attaches to the stream and drives analysis cycles until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	c.attach()
	defer c.detach()

	interval := c.cfg.Collector.AnalysisInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("collector started", zap.Duration("analysis_interval", interval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopped")
			return
		case <-ticker.C:
			report, err := c.RunCycle(ctx)
			if err != nil {
				c.logger.Error("analysis cycle failed", zap.Error(err))
				continue
			}
			if report.Skipped {
				c.logger.Debug("analysis cycle skipped", zap.String("reason", report.SkipReason))
			}
		}
	}
}

func (c *Collector) listenerName() string {
	return "collector:" + c.instrument
}

func (c *Collector) attach() {
	c.stream.AddListener(c.listenerName(), c.handleFrame)
	if err := c.stream.Subscribe(hyperliquid.TradesSubscription(c.instrument)); err != nil {
		c.logger.Warn("trades subscribe failed", zap.Error(err))
	}
	if err := c.stream.Subscribe(hyperliquid.AssetCtxSubscription(c.instrument)); err != nil {
		c.logger.Warn("asset context subscribe failed", zap.Error(err))
	}
}

func (c *Collector) detach() {
	if err := c.stream.Unsubscribe(hyperliquid.TradesSubscription(c.instrument)); err != nil {
		c.logger.Debug("trades unsubscribe failed", zap.Error(err))
	}
	if err := c.stream.Unsubscribe(hyperliquid.AssetCtxSubscription(c.instrument)); err != nil {
		c.logger.Debug("asset context unsubscribe failed", zap.Error(err))
	}
	c.stream.RemoveListener(c.listenerName())
}

func (c *Collector) handleFrame(frame hyperliquid.Frame) {
	switch frame.Channel {
	case hyperliquid.ChannelTrades:
		if trades := hyperliquid.ParseTrades(frame.Data); len(trades) > 0 {
			c.handleTrades(trades)
		}
	case hyperliquid.ChannelActiveAssetCtx:
		if msg := hyperliquid.ParseActiveAssetCtx(frame.Data); msg != nil && msg.Coin == c.instrument {
			c.handleAssetCtx(&msg.Ctx)
		}
	}
}

func (c *Collector) handleTrades(wire []hyperliquid.Trade) {
	var seen, dups, whales, flushes, bursts, reclaims uint64

	c.mu.Lock()
	c.maybeRefreshThresholdLocked(time.Now())
	effective := c.effective
	for i := range wire {
		if wire[i].Coin != c.instrument {
			continue
		}
		t := tradeFromWire(c.instrument, &wire[i])
		seen++

		cls := c.classifier.Classify(t, effective, c.buffers)
		if cls.Duplicate {
			dups++
			continue
		}
		if cls.Whale != nil {
			whales++
		}
		for _, ev := range cls.Events {
			switch ev.Kind {
			case EventFlush:
				flushes++
			case EventBurst:
				bursts++
			}
		}
		reclaims += uint64(cls.Reclaims)
		c.maybeSamplePriceLocked(t.Price, t.Time)
	}
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats.TradesSeen += seen
	c.stats.Duplicates += dups
	c.stats.WhaleTrades += whales
	c.stats.FlushEvents += flushes
	c.stats.BurstEvents += bursts
	c.stats.Reclaims += reclaims
	c.statsMu.Unlock()

	if whales > 0 {
		c.logger.Debug("whale trades classified",
			zap.Uint64("whales", whales),
			zap.Uint64("flushes", flushes),
			zap.Uint64("bursts", bursts),
			zap.Float64("effective_threshold", effective))
	}
}

// maybeSamplePriceLocked appends a price sample at most once per
// priceSampleInterval. Callers hold c.mu.
func (c *Collector) maybeSamplePriceLocked(price float64, at time.Time) {
	if price <= 0 {
		return
	}
	if !c.lastSample.IsZero() && at.Sub(c.lastSample) < priceSampleInterval {
		return
	}
	c.lastSample = at
	c.buffers.AddPrice(PriceSample{Time: at, Price: price})
}

// maybeRefreshThresholdLocked recomputes the effective whale threshold from
// 1h volatility, throttled. Callers hold c.mu.
func (c *Collector) maybeRefreshThresholdLocked(now time.Time) {
	if !c.lastRefresh.IsZero() && now.Sub(c.lastRefresh) < thresholdRefreshInterval {
		return
	}
	c.lastRefresh = now
	snap := c.buffers.Snapshot(WindowMedium, now)
	c.effective = EffectiveThreshold(c.cfg.Classifier.BaseWhaleThreshold, snap.VolatilityPct, c.cfg.Threshold)
}

func (c *Collector) handleAssetCtx(assetCtx *hyperliquid.AssetCtx) {
	now := time.Now()

	c.mu.Lock()
	c.lastCtx = assetCtx
	c.lastCtxAt = now
	c.maybeSamplePriceLocked(assetCtx.MarkPrice(), now)
	save := c.cache != nil && c.cache.IsEnabled() && now.Sub(c.lastCtxSave) >= assetCtxSaveInterval
	if save {
		c.lastCtxSave = now
	}
	c.mu.Unlock()

	if save {
		go c.saveAssetCtx(assetCtx)
	}
}

func (c *Collector) saveAssetCtx(assetCtx *hyperliquid.AssetCtx) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cache.SetAssetCtx(ctx, c.instrument, assetCtx); err != nil {
		c.logger.Debug("asset context cache write failed", zap.Error(err))
	}
}

// RunCycle performs one analysis pass: bundle the buffered market state,
// ask the oracle, and route any candidates through the gate and validator.
// At most one cycle runs at a time per collector; an overlapping trigger is
// a silent skip.
func (c *Collector) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{Instrument: c.instrument}

	if !c.analyzing.CompareAndSwap(false, true) {
		report.Skipped = true
		report.SkipReason = "analysis already in progress"
		c.bumpSkipped()
		return report, nil
	}
	defer c.analyzing.Store(false)

	if c.oracle == nil || !c.oracle.Enabled() {
		report.Skipped = true
		report.SkipReason = "oracle not configured"
		c.bumpSkipped()
		return report, nil
	}

	start := time.Now()
	bundle, snap, price := c.buildBundle(ctx, start)
	if bundle == nil {
		report.Skipped = true
		report.SkipReason = "no market data yet"
		c.bumpSkipped()
		return report, nil
	}

	verdict, err := c.oracle.Evaluate(ctx, c.instrument, bundle)
	if err != nil {
		c.statsMu.Lock()
		c.stats.CyclesFailed++
		c.statsMu.Unlock()
		return nil, fmt.Errorf("oracle evaluation: %w", err)
	}
	c.recordTrace(ctx, verdict)

	report.Decision = verdict.Decision
	report.Candidates = len(verdict.Candidates)

	if verdict.Decision != oracle.DecisionAlert || len(verdict.Candidates) == 0 {
		if verdict.Decision == oracle.DecisionNoAlert {
			c.mu.Lock()
			c.buffers.PruneBefore(start.Add(-WindowShort))
			c.mu.Unlock()
		}
	} else {
		for i := range verdict.Candidates {
			c.processCandidate(ctx, &verdict.Candidates[i], snap, price, report)
		}
	}

	report.Elapsed = time.Since(start)
	c.statsMu.Lock()
	c.stats.CyclesRun++
	c.statsMu.Unlock()

	c.logger.Info("analysis cycle complete",
		zap.String("decision", string(verdict.Decision)),
		zap.Int("candidates", report.Candidates),
		zap.Int("emitted", report.Emitted),
		zap.Int("updated", report.Updated),
		zap.Int("rejected", report.Rejected),
		zap.Duration("elapsed", report.Elapsed))

	return report, nil
}

// MarketState is the bundle's view of the instrument's current market.
type MarketState struct {
	Price        float64   `json:"price"`
	MarkPrice    float64   `json:"mark_price,omitempty"`
	MidPrice     float64   `json:"mid_price,omitempty"`
	OraclePrice  float64   `json:"oracle_price,omitempty"`
	FundingRate  float64   `json:"funding_rate,omitempty"`
	OpenInterest float64   `json:"open_interest,omitempty"`
	DayVolume    float64   `json:"day_volume,omitempty"`
	PrevDayPrice float64   `json:"prev_day_price,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// MarketBundle is the full payload handed to the oracle for one cycle.
type MarketBundle struct {
	Instrument  string      `json:"instrument"`
	GeneratedAt time.Time   `json:"generated_at"`
	Market      MarketState `json:"market"`
	Snapshots   struct {
		Short  TimeframeSnapshot `json:"10m"`
		Medium TimeframeSnapshot `json:"1h"`
		Long   TimeframeSnapshot `json:"4h"`
	} `json:"snapshots"`
	WhaleFlow struct {
		NetUSD       float64 `json:"net_usd"`
		DominantSide string  `json:"dominant_side"`
	} `json:"whale_flow"`
	RecentEvents []ClassifiedEvent `json:"recent_events"`
	RecentWhales []WhaleTrade      `json:"recent_whales"`
	Account      *AccountSnapshot  `json:"account,omitempty"`
	Thresholds   struct {
		BaseWhaleUSD      float64 `json:"base_whale_usd"`
		EffectiveWhaleUSD float64 `json:"effective_whale_usd"`
		Volatility1hPct   float64 `json:"volatility_1h_pct"`
		FlushMultiple     float64 `json:"flush_multiple"`
	} `json:"thresholds"`
}

// buildBundle assembles the oracle payload from the live buffers. Returns a
// nil bundle when no price is known yet, which skips the cycle.
func (c *Collector) buildBundle(ctx context.Context, now time.Time) (*MarketBundle, TimeframeSnapshot, float64) {
	c.mu.Lock()
	c.buffers.PruneBefore(now.Add(-WindowLong))
	short := c.buffers.Snapshot(WindowShort, now)
	medium := c.buffers.Snapshot(WindowMedium, now)
	long := c.buffers.Snapshot(WindowLong, now)
	c.effective = EffectiveThreshold(c.cfg.Classifier.BaseWhaleThreshold, medium.VolatilityPct, c.cfg.Threshold)
	c.lastRefresh = now
	effective := c.effective

	events := make([]ClassifiedEvent, 0, bundleEventLimit)
	for i, ev := range c.buffers.Events() {
		if i == bundleEventLimit {
			break
		}
		events = append(events, ev)
	}
	whales := make([]WhaleTrade, 0, bundleWhaleLimit)
	for i, w := range c.buffers.Whales() {
		if i == bundleWhaleLimit {
			break
		}
		whales = append(whales, w)
	}

	assetCtx := c.lastCtx
	ctxAt := c.lastCtxAt
	fallbackPrice := c.buffers.LatestPrice()
	c.mu.Unlock()

	if assetCtx == nil || now.Sub(ctxAt) > staleCtxAfter {
		if fetched := c.fetchAssetCtx(ctx); fetched != nil {
			assetCtx = fetched
			ctxAt = now
		}
	}

	price := fallbackPrice
	market := MarketState{ObservedAt: ctxAt}
	if assetCtx != nil {
		market.MarkPrice = assetCtx.MarkPrice()
		market.MidPrice = assetCtx.MidPrice()
		market.OraclePrice = assetCtx.OraclePrice()
		market.FundingRate = assetCtx.FundingRate()
		market.OpenInterest = assetCtx.OpenInterestFloat()
		market.DayVolume = assetCtx.DayVolume()
		market.PrevDayPrice = assetCtx.PrevDayPrice()
		switch {
		case market.MarkPrice > 0:
			price = market.MarkPrice
		case market.MidPrice > 0:
			price = market.MidPrice
		}
	}
	if price <= 0 {
		return nil, TimeframeSnapshot{}, 0
	}
	market.Price = price

	bundle := &MarketBundle{
		Instrument:   c.instrument,
		GeneratedAt:  now.UTC(),
		Market:       market,
		RecentEvents: events,
		RecentWhales: whales,
	}
	bundle.Snapshots.Short = short
	bundle.Snapshots.Medium = medium
	bundle.Snapshots.Long = long
	bundle.WhaleFlow.NetUSD = medium.NetFlowUSD
	bundle.WhaleFlow.DominantSide = medium.DominantSide()
	bundle.Thresholds.BaseWhaleUSD = c.cfg.Classifier.BaseWhaleThreshold
	bundle.Thresholds.EffectiveWhaleUSD = effective
	bundle.Thresholds.Volatility1hPct = medium.VolatilityPct
	bundle.Thresholds.FlushMultiple = c.cfg.Classifier.FlushMultiple

	if c.positions != nil && c.positions.Enabled() {
		account, err := c.positions.Snapshot(ctx)
		if err != nil {
			c.logger.Warn("account snapshot unavailable", zap.Error(err))
		} else {
			bundle.Account = account
		}
	}

	return bundle, medium, price
}

// fetchAssetCtx recovers a market snapshot when the stream has not delivered
// one recently: cache first, then the info endpoint.
func (c *Collector) fetchAssetCtx(ctx context.Context) *hyperliquid.AssetCtx {
	if c.cache != nil && c.cache.IsEnabled() {
		var cached hyperliquid.AssetCtx
		if err := c.cache.GetAssetCtx(ctx, c.instrument, &cached); err == nil {
			return &cached
		}
	}
	if c.info == nil {
		return nil
	}
	fetched, err := c.info.AssetCtxForCoin(ctx, c.instrument)
	if err != nil {
		c.logger.Warn("asset context fetch failed", zap.Error(err))
		return nil
	}
	c.mu.Lock()
	c.lastCtx = fetched
	c.lastCtxAt = time.Now()
	c.mu.Unlock()
	return fetched
}

func (c *Collector) recordTrace(ctx context.Context, verdict *oracle.Verdict) {
	if c.store == nil {
		return
	}
	rec := &recordstore.TraceRecord{
		Instrument:   c.instrument,
		Decision:     string(verdict.Decision),
		Confidence:   verdict.Confidence,
		Candidates:   len(verdict.Candidates),
		LatencyMs:    verdict.Latency.Milliseconds(),
		InputTokens:  verdict.Usage.InputTokens,
		OutputTokens: verdict.Usage.OutputTokens,
		CostUSD:      verdict.Usage.CostUSD,
	}
	if err := c.store.InsertTrace(ctx, rec); err != nil {
		c.logger.Warn("trace write failed", zap.Error(err))
	}
}

func (c *Collector) processCandidate(ctx context.Context, cand *oracle.AlertCandidate, snap TimeframeSnapshot, price float64, report *CycleReport) {
	if cand.Kind == "" {
		cand.Kind = oracle.KindTradeAlert
	}
	now := time.Now()
	decision := c.gate.CheckWindow(c.instrument, cand.Kind, now)

	switch decision.Action {
	case GateReject:
		c.recordRejected(ctx, cand, decision.WindowStart, decision.Reason)
		report.Rejected++
		c.bumpRejected()
		c.logger.Info("alert gated",
			zap.String("kind", string(cand.Kind)),
			zap.String("reason", decision.Reason))
	case GateUpdate:
		c.updateAlert(ctx, cand, decision, snap, price, now, report)
	case GateEmit:
		c.emitAlert(ctx, cand, decision, snap, price, now, report)
	}
}

func (c *Collector) emitAlert(ctx context.Context, cand *oracle.AlertCandidate, decision GateDecision, snap TimeframeSnapshot, price float64, now time.Time, report *CycleReport) {
	in := c.validationInput(ctx, cand, price, now, false)
	if res := c.validator.Validate(cand, in); !res.OK {
		c.recordRejected(ctx, cand, decision.WindowStart, res.Reason)
		report.Rejected++
		c.bumpRejected()
		c.logger.Info("alert rejected",
			zap.String("kind", string(cand.Kind)),
			zap.String("rule", res.Rule),
			zap.String("reason", res.Reason))
		return
	}

	rec := c.alertRecord(cand, decision.WindowStart, recordstore.StatusAccepted, "")
	if err := c.store.InsertAlert(ctx, rec); err != nil {
		c.logger.Warn("alert write failed", zap.Error(err))
	}
	c.gate.RecordEmit(c.instrument, cand.Kind, rec.ID, now)
	c.notify(cand, snap, price, rec.ID, false)

	report.Emitted++
	c.statsMu.Lock()
	c.stats.AlertsEmitted++
	c.statsMu.Unlock()

	c.logger.Info("alert emitted",
		zap.String("alert", shortID(rec.ID)),
		zap.String("kind", string(cand.Kind)),
		zap.String("direction", cand.Direction),
		zap.Float64("confidence", cand.Confidence))
}

func (c *Collector) updateAlert(ctx context.Context, cand *oracle.AlertCandidate, decision GateDecision, snap TimeframeSnapshot, price float64, now time.Time, report *CycleReport) {
	in := c.validationInput(ctx, cand, price, now, true)
	if res := c.validator.Validate(cand, in); !res.OK {
		c.recordRejected(ctx, cand, decision.WindowStart, "update rejected: "+res.Reason)
		report.Rejected++
		c.bumpRejected()
		c.logger.Info("alert update rejected",
			zap.String("kind", string(cand.Kind)),
			zap.String("rule", res.Rule),
			zap.String("reason", res.Reason))
		return
	}

	upd := recordstore.AlertUpdate{
		Confidence: cand.Confidence,
		Headline:   cand.Headline,
		Payload:    candidatePayload(cand),
	}
	if !cand.ExpiresAt.IsZero() {
		expires := cand.ExpiresAt
		upd.ExpiresAt = &expires
	}
	if err := c.store.UpdateAlert(ctx, decision.ExistingID, upd); err != nil {
		c.logger.Warn("alert update write failed", zap.Error(err))
	}
	c.notify(cand, snap, price, decision.ExistingID, true)

	report.Updated++
	c.statsMu.Lock()
	c.stats.AlertsUpdated++
	c.statsMu.Unlock()

	c.logger.Info("alert updated in window",
		zap.String("alert", shortID(decision.ExistingID)),
		zap.String("kind", string(cand.Kind)),
		zap.Float64("confidence", cand.Confidence))
}

// validationInput gathers live context for the validator. Updates refresh an
// alert already accepted this window, so they skip the cooldown clock.
func (c *Collector) validationInput(ctx context.Context, cand *oracle.AlertCandidate, price float64, now time.Time, isUpdate bool) ValidationInput {
	in := ValidationInput{CurrentPrice: price, Now: now}
	if !isUpdate {
		if last, ok := c.gate.LastAccepted(c.instrument, cand.Kind); ok {
			in.LastAcceptedAt = last
		}
	}
	if c.positions != nil {
		exp, err := c.positions.ExposureFor(ctx, c.instrument)
		if err != nil {
			c.logger.Warn("exposure lookup failed", zap.Error(err))
		} else {
			in.Exposure = exp
		}
	}
	return in
}

func (c *Collector) recordRejected(ctx context.Context, cand *oracle.AlertCandidate, windowStart time.Time, reason string) {
	rec := c.alertRecord(cand, windowStart, recordstore.StatusRejected, reason)
	if err := c.store.InsertAlert(ctx, rec); err != nil {
		c.logger.Warn("rejected alert write failed", zap.Error(err))
	}
}

func (c *Collector) alertRecord(cand *oracle.AlertCandidate, windowStart time.Time, status, notes string) *recordstore.AlertRecord {
	rec := &recordstore.AlertRecord{
		ID:          uuid.New().String(),
		Instrument:  c.instrument,
		Kind:        string(cand.Kind),
		Direction:   cand.Direction,
		Confidence:  cand.Confidence,
		Headline:    cand.Headline,
		Status:      status,
		Notes:       notes,
		Payload:     candidatePayload(cand),
		WindowStart: windowStart,
	}
	if !cand.ExpiresAt.IsZero() {
		expires := cand.ExpiresAt
		rec.ExpiresAt = &expires
	}
	return rec
}

func candidatePayload(cand *oracle.AlertCandidate) string {
	payload := struct {
		Pattern   *oracle.Pattern   `json:"pattern,omitempty"`
		Thesis    *oracle.Thesis    `json:"thesis,omitempty"`
		Execution *oracle.Execution `json:"execution,omitempty"`
	}{cand.Pattern, cand.Thesis, cand.Execution}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(raw)
}

func (c *Collector) notify(cand *oracle.AlertCandidate, snap TimeframeSnapshot, price float64, id string, updated bool) {
	if c.notifier == nil {
		return
	}
	alert := notifier.Alert{
		ID:             id,
		Instrument:     c.instrument,
		Kind:           string(cand.Kind),
		Direction:      cand.Direction,
		Confidence:     cand.Confidence,
		Headline:       cand.Headline,
		Updated:        updated,
		Price:          price,
		NetFlow:        snap.NetFlowUSD,
		BuyCount:       snap.BuyCount,
		SellCount:      snap.SellCount,
		WhaleCount:     snap.WhaleCount,
		PriceChangePct: snap.PriceChangePct,
		VolatilityPct:  snap.VolatilityPct,
		WhaleThreshold: c.EffectiveThresholdNow(),
		WindowMinutes:  snap.WindowMinutes,
		ExpiresAt:      cand.ExpiresAt,
		Timestamp:      time.Now(),
	}
	if cand.Pattern != nil {
		alert.PatternName = cand.Pattern.Name
	}
	if cand.Thesis != nil {
		alert.Narrative = cand.Thesis.Narrative
		alert.KeyLevels = cand.Thesis.KeyLevels
	}
	if cand.Execution != nil {
		alert.IdealEntry = cand.Execution.IdealEntry
		alert.EntryZone = cand.Execution.EntryZone
		alert.StopLoss = cand.Execution.StopLoss
		alert.TakeProfits = cand.Execution.TakeProfits
	}
	c.notifier.SendAlert(alert)
}

// tradeFromWire converts a stream trade. Trades without a hash fall back to
// the trade ID so dedup still has a key.
func tradeFromWire(instrument string, t *hyperliquid.Trade) Trade {
	hash := t.Hash
	if hash == "" && t.TID != 0 {
		hash = strconv.FormatInt(t.TID, 10)
	}
	price := t.PriceFloat()
	size := t.SizeFloat()
	return Trade{
		Instrument: instrument,
		IsBuy:      t.IsBuy(),
		Price:      price,
		Size:       size,
		Notional:   price * size,
		Hash:       hash,
		Time:       time.UnixMilli(t.Time),
	}
}

func (c *Collector) Stats() CollectorStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// BufferSizes reports the live buffer occupancy for one collector.
type BufferSizes struct {
	Whales     int `json:"whales"`
	Events     int `json:"events"`
	Prices     int `json:"prices"`
	SeenHashes int `json:"seen_hashes"`
}

func (c *Collector) BufferSizes() BufferSizes {
	c.mu.Lock()
	defer c.mu.Unlock()
	return BufferSizes{
		Whales:     c.buffers.WhaleCount(),
		Events:     c.buffers.EventCount(),
		Prices:     c.buffers.PriceCount(),
		SeenHashes: c.classifier.SeenCount(),
	}
}

func (c *Collector) EffectiveThresholdNow() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effective
}

func (c *Collector) ExportSeenHashes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.ExportSeenHashes()
}

func (c *Collector) ImportSeenHashes(hashes []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.ImportSeenHashes(hashes)
}

func (c *Collector) bumpSkipped() {
	c.statsMu.Lock()
	c.stats.CyclesSkipped++
	c.statsMu.Unlock()
}

func (c *Collector) bumpRejected() {
	c.statsMu.Lock()
	c.stats.AlertsRejected++
	c.statsMu.Unlock()
}
