package app

import (
	"context"
	clts "flowsentry/clients"
	"flowsentry/clients/oracle"
	"flowsentry/config"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner wires the shared services to one collector per configured symbol and
// owns their lifecycle.
type Runner struct {
	logger       *zap.Logger
	cfg          *config.Config
	clients      *clts.Clients
	gate         *AlertGate
	positions    *PositionTracker
	validator    *Validator
	collectors   []*Collector
	persister    *StatePersister
	healthServer *http.Server
	startTime    time.Time
}

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	Service string `json:"service"`

	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string   `json:"start_time"`
	Uptime    string   `json:"uptime"`
	UptimeSec int64    `json:"uptime_seconds"`
	Prod      bool     `json:"prod"`
	Symbols   []string `json:"symbols"`

	// Stream stats
	WebSocket struct {
		Connected      bool   `json:"connected"`
		MessageCount   uint64 `json:"message_count"`
		LastMessageAt  string `json:"last_message_at,omitempty"`
		LastMessageAgo string `json:"last_message_ago,omitempty"`
	} `json:"websocket"`

	// Per-instrument pipeline stats
	Instruments map[string]InstrumentStats `json:"instruments"`

	// Alert gate stats
	Gate struct {
		Windows   int            `json:"windows"`
		Occupancy map[string]int `json:"occupancy"`
	} `json:"gate"`

	// Position tracking
	Positions struct {
		Enabled  bool   `json:"enabled"`
		CacheAge string `json:"cache_age,omitempty"`
	} `json:"positions"`

	// Market cache
	Cache struct {
		Enabled bool `json:"enabled"`
	} `json:"cache"`

	// Notification status
	Notifications struct {
		DiscordEnabled  bool `json:"discord_enabled"`
		TelegramEnabled bool `json:"telegram_enabled"`
	} `json:"notifications"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`
		HeapSys    uint64 `json:"heap_sys"`
		HeapInuse  uint64 `json:"heap_inuse"`
		StackInuse uint64 `json:"stack_inuse"`
		NumGC      uint32 `json:"num_gc"`
		LastGC     string `json:"last_gc,omitempty"`
		GoVersion  string `json:"go_version"`
		NumCPU     int    `json:"num_cpu"`
		GOOS       string `json:"goos"`
		GOARCH     string `json:"goarch"`
	} `json:"runtime"`
}

// InstrumentStats is the stats view of one collector.
type InstrumentStats struct {
	Pipeline              CollectorStats `json:"pipeline"`
	Buffers               BufferSizes    `json:"buffers"`
	EffectiveThresholdUSD float64        `json:"effective_threshold_usd"`
}

func NewRunner(logger *zap.Logger, cfg *config.Config, clients *clts.Clients) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger:  logger,
		cfg:     cfg,
		clients: clients,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	cfg := r.cfg

	r.gate = NewAlertGate(cfg.Gate)
	r.positions = NewPositionTracker(r.logger, r.clients.Info, cfg.Positions)
	r.validator = NewValidator(cfg.Validation)

	deps := CollectorDeps{
		Stream:    r.clients.Stream,
		Info:      r.clients.Info,
		Oracle:    r.clients.Oracle,
		Store:     r.clients.Store,
		Cache:     r.clients.Cache,
		Notifier:  r.clients.Notifier,
		Gate:      r.gate,
		Positions: r.positions,
		Validator: r.validator,
	}
	for _, symbol := range cfg.Symbols {
		r.collectors = append(r.collectors, NewCollector(r.logger, cfg, symbol, deps))
	}

	r.persister = NewStatePersister(r.logger, r.clients.Cache, r.gate, r.collectors, cfg.Redis.SnapshotInterval)

	// Warm restore from the cache; fall back to accepted alert history so a
	// restart inside a window cannot double-fire.
	restoreCtx, restoreCancel := context.WithTimeout(ctx, 30*time.Second)
	windows, _ := r.persister.Restore(restoreCtx)
	restoreCancel()
	if windows == 0 {
		r.seedGateFromStore(ctx)
	}

	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.persister.Run(ctx)
	}()
	for _, col := range r.collectors {
		col := col
		wg.Add(1)
		go func() {
			defer wg.Done()
			col.Run(ctx)
		}()
	}

	r.logger.Info("flowsentry started",
		zap.String("commit", BuildCommit),
		zap.String("buildTime", BuildTime),
		zap.Strings("symbols", cfg.Symbols),
		zap.Bool("prod", cfg.IsProd),
	)

	<-ctx.Done()
	r.logger.Info("runner shutting down")

	// Shutdown health server
	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	// Collectors detach from the stream and the persister takes its final
	// snapshot on the way out.
	wg.Wait()
	r.logger.Info("shutdown complete")

	return nil
}

// seedGateFromStore primes gate windows from the record store when no warm
// snapshot was available.
func (r *Runner) seedGateFromStore(ctx context.Context) {
	if r.clients.Store == nil {
		return
	}

	now := time.Now()
	kinds := []oracle.AlertKind{oracle.KindRiskAlert, oracle.KindTradeAlert}
	for _, symbol := range r.cfg.Symbols {
		for _, kind := range kinds {
			windowStart := r.gate.windowStart(now)
			since := windowStart
			if cooldownStart := now.Add(-r.cfg.Validation.Cooldown); cooldownStart.Before(since) {
				since = cooldownStart
			}

			count, err := r.clients.Store.CountAlertsSince(ctx, symbol, string(kind), windowStart)
			if err != nil {
				r.logger.Warn("gate seed count failed", zap.String("instrument", symbol), zap.Error(err))
				continue
			}
			latest, err := r.clients.Store.LatestAcceptedSince(ctx, symbol, string(kind), since)
			if err != nil {
				r.logger.Warn("gate seed lookup failed", zap.String("instrument", symbol), zap.Error(err))
				continue
			}
			if count == 0 && latest == nil {
				continue
			}

			var lastID string
			var lastAt time.Time
			if latest != nil {
				lastAt = latest.CreatedAt
				if !latest.CreatedAt.Before(windowStart) {
					lastID = latest.ID
				}
			}
			r.gate.Seed(symbol, kind, count, lastID, lastAt, now)
		}
	}
}

// GetStats returns comprehensive service statistics.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	stats.Service = "flowsentry"

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	// Service info
	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := time.Since(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())
	stats.Prod = r.cfg.IsProd
	stats.Symbols = r.cfg.Symbols

	// Stream stats
	if r.clients.Stream != nil {
		wsStats := r.clients.Stream.Stats()
		stats.WebSocket.Connected = wsStats.Connected
		stats.WebSocket.MessageCount = wsStats.MessageCount
		if !wsStats.LastMessageAt.IsZero() {
			stats.WebSocket.LastMessageAt = wsStats.LastMessageAt.UTC().Format(time.RFC3339)
			stats.WebSocket.LastMessageAgo = time.Since(wsStats.LastMessageAt).Round(time.Second).String()
		}
	}

	// Per-instrument pipelines
	stats.Instruments = make(map[string]InstrumentStats, len(r.collectors))
	for _, col := range r.collectors {
		stats.Instruments[col.Instrument()] = InstrumentStats{
			Pipeline:              col.Stats(),
			Buffers:               col.BufferSizes(),
			EffectiveThresholdUSD: col.EffectiveThresholdNow(),
		}
	}

	// Gate stats
	if r.gate != nil {
		stats.Gate.Windows = r.gate.WindowCount()
		stats.Gate.Occupancy = r.gate.Occupancy()
	}

	// Position tracking
	if r.positions != nil {
		stats.Positions.Enabled = r.positions.Enabled()
		if at := r.positions.CachedAt(); !at.IsZero() {
			stats.Positions.CacheAge = time.Since(at).Round(time.Second).String()
		}
	}

	// Cache and notifications
	stats.Cache.Enabled = r.clients.Cache != nil && r.clients.Cache.IsEnabled()
	if r.clients.Discord != nil {
		stats.Notifications.DiscordEnabled = r.clients.Discord.IsEnabled()
	}
	if r.clients.Telegram != nil {
		stats.Notifications.TelegramEnabled = r.clients.Telegram.IsEnabled()
	}

	// Runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapSys = memStats.HeapSys
	stats.Runtime.HeapInuse = memStats.HeapInuse
	stats.Runtime.StackInuse = memStats.StackInuse
	stats.Runtime.NumGC = memStats.NumGC
	if memStats.LastGC > 0 {
		stats.Runtime.LastGC = time.Unix(0, int64(memStats.LastGC)).UTC().Format(time.RFC3339)
	}
	stats.Runtime.GoVersion = runtime.Version()
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
