package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Instruments to watch
	Symbols []string `json:"symbols"`

	// Hyperliquid endpoints and stream tuning
	Hyperliquid HyperliquidConfig `json:"hyperliquid"`

	// Trade classification
	Classifier ClassifierConfig `json:"classifier"`

	// Volatility-adjusted whale threshold
	Threshold ThresholdConfig `json:"threshold"`

	// Rolling buffers
	Buffers BuffersConfig `json:"buffers"`

	// Alert window gate
	Gate GateConfig `json:"gate"`

	// Alert validation rules
	Validation ValidationConfig `json:"validation"`

	// Analysis cycle
	Collector CollectorConfig `json:"collector"`

	// Decision oracle
	Oracle OracleConfig `json:"oracle"`

	// Account position tracking
	Positions PositionsConfig `json:"positions"`

	// Postgres record store
	Store StoreConfig `json:"store"`

	// Redis market cache / state snapshots
	Redis RedisConfig `json:"redis"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`
}

// HyperliquidConfig holds venue endpoint configuration.
type HyperliquidConfig struct {
	StreamURL    string        `json:"stream_url"`
	InfoURL      string        `json:"info_url"`
	PingInterval time.Duration `json:"ping_interval"` // keepalive cadence while connected
	IdleGrace    time.Duration `json:"idle_grace"`    // teardown delay after the last listener leaves
}

// ClassifierConfig holds trade classification configuration.
type ClassifierConfig struct {
	BaseWhaleThreshold  float64 `json:"base_whale_threshold"`  // USD notional before volatility scaling
	FlushMultiple       float64 `json:"flush_multiple"`        // sell notional multiple that makes a flush (buy: burst)
	ConfidenceDivisor   float64 `json:"confidence_divisor"`    // confidence = notional / (divisor × effective threshold)
	ReclaimProximityPct float64 `json:"reclaim_proximity_pct"` // % distance to a flush level that counts as a reclaim
	DedupCap            int     `json:"dedup_cap"`             // seen-hash set cap; oldest half evicted beyond this
}

// ThresholdConfig holds the volatility breakpoints for the dynamic whale
// threshold.
type ThresholdConfig struct {
	QuietVolPct        float64 `json:"quiet_vol_pct"`       // below this the market is quiet
	VolatileVolPct     float64 `json:"volatile_vol_pct"`    // above this the market is volatile
	QuietMultiplier    float64 `json:"quiet_multiplier"`    // threshold multiplier in quiet markets
	VolatileMultiplier float64 `json:"volatile_multiplier"` // threshold multiplier in volatile markets
}

// BuffersConfig holds the rolling buffer capacities.
type BuffersConfig struct {
	TradeBufferSize int `json:"trade_buffer_size"`
	EventBufferSize int `json:"event_buffer_size"`
	PriceBufferSize int `json:"price_buffer_size"`
}

// GateConfig holds alert window gate configuration.
type GateConfig struct {
	WindowSize     time.Duration `json:"window_size"`
	MaxRiskAlerts  int           `json:"max_risk_alerts"`
	MaxTradeAlerts int           `json:"max_trade_alerts"`
	UpdateInWindow bool          `json:"update_in_window"` // update the latest alert in place instead of rejecting
}

// ValidationConfig holds the deterministic alert validation rules.
type ValidationConfig struct {
	MinConfidence      float64       `json:"min_confidence"`        // legacy single-alert floor
	MinRiskConfidence  float64       `json:"min_risk_confidence"`   // floor for RISK_ALERT candidates
	MinSetupConfidence float64       `json:"min_setup_confidence"`  // floor for TRADE_ALERT candidates
	Cooldown           time.Duration `json:"cooldown"`              // per instrument+kind accepted-alert cooldown
	MinStopDistancePct float64       `json:"min_stop_distance_pct"` // reject stops tighter than this
	MinRiskReward      float64       `json:"min_risk_reward"`       // reject reward/risk below this
}

// CollectorConfig holds the analysis cycle configuration.
type CollectorConfig struct {
	AnalysisInterval time.Duration `json:"analysis_interval"`
}

// OracleConfig holds decision oracle configuration.
type OracleConfig struct {
	Endpoint  string        `json:"endpoint"`
	AuthToken string        `json:"-"` // Excluded - env var only
	Model     string        `json:"model"`
	Timeout   time.Duration `json:"timeout"`
}

// PositionsConfig holds account position tracking configuration.
type PositionsConfig struct {
	WalletAddress string        `json:"wallet_address"`
	CacheTTL      time.Duration `json:"cache_ttl"`
}

// StoreConfig holds Postgres record store configuration.
type StoreConfig struct {
	PostgresDSN string `json:"-"` // Excluded - env var only (carries credentials)
}

// RedisConfig holds Redis cache configuration.
type RedisConfig struct {
	Addr             string        `json:"addr"`
	Password         string        `json:"-"` // Excluded - env var only
	DB               int           `json:"db"`
	KeyPrefix        string        `json:"key_prefix"`
	AssetCtxTTL      time.Duration `json:"asset_ctx_ttl"`
	SnapshotInterval time.Duration `json:"snapshot_interval"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Symbols != nil {
		clone.Symbols = make([]string, len(c.Symbols))
		copy(clone.Symbols, c.Symbols)
	}
	return &clone
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd:  false,
		Symbols: []string{"BTC", "ETH", "SOL"},
		Hyperliquid: HyperliquidConfig{
			StreamURL:    "wss://api.hyperliquid.xyz/ws",
			InfoURL:      "https://api.hyperliquid.xyz/info",
			PingInterval: 8 * time.Second,
			IdleGrace:    5 * time.Second,
		},
		Classifier: ClassifierConfig{
			BaseWhaleThreshold:  50000.0,
			FlushMultiple:       2.0,
			ConfidenceDivisor:   5.0,
			ReclaimProximityPct: 0.5,
			DedupCap:            500,
		},
		Threshold: ThresholdConfig{
			QuietVolPct:        0.5,
			VolatileVolPct:     1.5,
			QuietMultiplier:    0.6,
			VolatileMultiplier: 2.0,
		},
		Buffers: BuffersConfig{
			TradeBufferSize: 2000,
			EventBufferSize: 200,
			PriceBufferSize: 1000,
		},
		Gate: GateConfig{
			WindowSize:     10 * time.Minute,
			MaxRiskAlerts:  2,
			MaxTradeAlerts: 1,
			UpdateInWindow: true,
		},
		Validation: ValidationConfig{
			MinConfidence:      0.80,
			MinRiskConfidence:  0.70,
			MinSetupConfidence: 0.80,
			Cooldown:           5 * time.Minute,
			MinStopDistancePct: 1.0,
			MinRiskReward:      1.5,
		},
		Collector: CollectorConfig{
			AnalysisInterval: 5 * time.Minute,
		},
		Oracle: OracleConfig{
			Timeout: 120 * time.Second,
		},
		Positions: PositionsConfig{
			CacheTTL: 30 * time.Second,
		},
		Redis: RedisConfig{
			KeyPrefix:        "flowsentry:",
			AssetCtxTTL:      2 * time.Minute,
			SnapshotInterval: 5 * time.Minute,
		},
		Discord:  DiscordConfig{},
		Telegram: TelegramConfig{},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults. A local
// .env file is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Symbols: envStringSliceDefault("SYMBOLS", []string{"BTC", "ETH", "SOL"}),

		Hyperliquid: HyperliquidConfig{
			StreamURL:    envString("HYPERLIQUID_STREAM_URL", "wss://api.hyperliquid.xyz/ws"),
			InfoURL:      envString("HYPERLIQUID_INFO_URL", "https://api.hyperliquid.xyz/info"),
			PingInterval: envDuration("HYPERLIQUID_PING_INTERVAL", 8*time.Second),
			IdleGrace:    envDuration("HYPERLIQUID_IDLE_GRACE", 5*time.Second),
		},

		Classifier: ClassifierConfig{
			BaseWhaleThreshold:  envFloat("WHALE_BASE_THRESHOLD", 50000.0),
			FlushMultiple:       envFloat("WHALE_FLUSH_MULTIPLE", 2.0),
			ConfidenceDivisor:   envFloat("WHALE_CONFIDENCE_DIVISOR", 5.0),
			ReclaimProximityPct: envFloat("RECLAIM_PROXIMITY_PCT", 0.5),
			DedupCap:            envInt("TRADE_DEDUP_CAP", 500),
		},

		Threshold: ThresholdConfig{
			QuietVolPct:        envFloat("THRESHOLD_QUIET_VOL_PCT", 0.5),
			VolatileVolPct:     envFloat("THRESHOLD_VOLATILE_VOL_PCT", 1.5),
			QuietMultiplier:    envFloat("THRESHOLD_QUIET_MULTIPLIER", 0.6),
			VolatileMultiplier: envFloat("THRESHOLD_VOLATILE_MULTIPLIER", 2.0),
		},

		Buffers: BuffersConfig{
			TradeBufferSize: envInt("TRADE_BUFFER_SIZE", 2000),
			EventBufferSize: envInt("EVENT_BUFFER_SIZE", 200),
			PriceBufferSize: envInt("PRICE_BUFFER_SIZE", 1000),
		},

		Gate: GateConfig{
			WindowSize:     envDuration("ALERT_WINDOW_SIZE", 10*time.Minute),
			MaxRiskAlerts:  envInt("ALERT_MAX_RISK", 2),
			MaxTradeAlerts: envInt("ALERT_MAX_TRADE", 1),
			UpdateInWindow: envBoolDefault("ALERT_UPDATE_IN_WINDOW", true),
		},

		Validation: ValidationConfig{
			MinConfidence:      envFloat("VALIDATION_MIN_CONFIDENCE", 0.80),
			MinRiskConfidence:  envFloat("VALIDATION_MIN_RISK_CONFIDENCE", 0.70),
			MinSetupConfidence: envFloat("VALIDATION_MIN_SETUP_CONFIDENCE", 0.80),
			Cooldown:           envDuration("ALERT_COOLDOWN", 5*time.Minute),
			MinStopDistancePct: envFloat("VALIDATION_MIN_STOP_PCT", 1.0),
			MinRiskReward:      envFloat("VALIDATION_MIN_RISK_REWARD", 1.5),
		},

		Collector: CollectorConfig{
			AnalysisInterval: envDuration("ANALYSIS_INTERVAL", 5*time.Minute),
		},

		Oracle: OracleConfig{
			Endpoint:  envString("ORACLE_ENDPOINT", ""),
			AuthToken: envString("ORACLE_AUTH_TOKEN", ""),
			Model:     envString("ORACLE_MODEL", ""),
			Timeout:   envDuration("ORACLE_TIMEOUT", 120*time.Second),
		},

		Positions: PositionsConfig{
			WalletAddress: envString("WALLET_ADDRESS", ""),
			CacheTTL:      envDuration("POSITIONS_CACHE_TTL", 30*time.Second),
		},

		Store: StoreConfig{
			PostgresDSN: envString("POSTGRES_DSN", ""),
		},

		Redis: RedisConfig{
			Addr:             envString("REDIS_ADDR", ""),
			Password:         envString("REDIS_PASSWORD", ""),
			DB:               envInt("REDIS_DB", 0),
			KeyPrefix:        envString("REDIS_KEY_PREFIX", "flowsentry:"),
			AssetCtxTTL:      envDuration("ASSET_CTX_TTL", 2*time.Minute),
			SnapshotInterval: envDuration("STATE_SNAPSHOT_INTERVAL", 5*time.Minute),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:    envInt("HEALTH_SERVER_PORT", 8080),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSliceDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
