package config

import (
	"fmt"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	// Instruments validation
	errors = append(errors, validateSymbols(c.Symbols)...)

	// Hyperliquid validation
	errors = append(errors, validateHyperliquid(&c.Hyperliquid)...)

	// Classifier validation
	errors = append(errors, validateClassifier(&c.Classifier)...)

	// Threshold validation
	errors = append(errors, validateThreshold(&c.Threshold)...)

	// Buffers validation
	errors = append(errors, validateBuffers(&c.Buffers)...)

	// Gate validation
	errors = append(errors, validateGate(&c.Gate)...)

	// Alert validation rules
	errors = append(errors, validateValidation(&c.Validation)...)

	// Collector validation
	errors = append(errors, validateCollector(&c.Collector)...)

	// Oracle validation
	errors = append(errors, validateOracle(&c.Oracle)...)

	// Positions validation
	errors = append(errors, validatePositions(&c.Positions)...)

	// Redis validation
	errors = append(errors, validateRedis(&c.Redis)...)

	// HealthServer validation
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateSymbols(symbols []string) []ValidationError {
	var errors []ValidationError

	if len(symbols) == 0 {
		errors = append(errors, ValidationError{
			Field:   "symbols",
			Message: "at least one instrument is required",
		})
	}

	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s == "" {
			errors = append(errors, ValidationError{
				Field:   "symbols",
				Message: "instrument names must be non-empty",
			})
			continue
		}
		if seen[s] {
			errors = append(errors, ValidationError{
				Field:   "symbols",
				Message: fmt.Sprintf("duplicate instrument %q", s),
			})
		}
		seen[s] = true
	}

	return errors
}

func validateHyperliquid(h *HyperliquidConfig) []ValidationError {
	var errors []ValidationError

	if h.StreamURL == "" {
		errors = append(errors, ValidationError{
			Field:   "hyperliquid.stream_url",
			Message: "is required",
		})
	}

	if h.InfoURL == "" {
		errors = append(errors, ValidationError{
			Field:   "hyperliquid.info_url",
			Message: "is required",
		})
	}

	if h.PingInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "hyperliquid.ping_interval",
			Message: "must be at least 1 second",
		})
	}

	if h.IdleGrace < 0 {
		errors = append(errors, ValidationError{
			Field:   "hyperliquid.idle_grace",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateClassifier(cl *ClassifierConfig) []ValidationError {
	var errors []ValidationError

	if cl.BaseWhaleThreshold <= 0 {
		errors = append(errors, ValidationError{
			Field:   "classifier.base_whale_threshold",
			Message: "must be positive",
		})
	}

	if cl.FlushMultiple < 1 {
		errors = append(errors, ValidationError{
			Field:   "classifier.flush_multiple",
			Message: "must be at least 1",
		})
	}

	if cl.ConfidenceDivisor <= 0 {
		errors = append(errors, ValidationError{
			Field:   "classifier.confidence_divisor",
			Message: "must be positive",
		})
	}

	if cl.ReclaimProximityPct <= 0 {
		errors = append(errors, ValidationError{
			Field:   "classifier.reclaim_proximity_pct",
			Message: "must be positive",
		})
	}

	if cl.DedupCap < 2 {
		errors = append(errors, ValidationError{
			Field:   "classifier.dedup_cap",
			Message: "must be at least 2",
		})
	}

	return errors
}

func validateThreshold(t *ThresholdConfig) []ValidationError {
	var errors []ValidationError

	if t.QuietVolPct <= 0 {
		errors = append(errors, ValidationError{
			Field:   "threshold.quiet_vol_pct",
			Message: "must be positive",
		})
	}

	if t.VolatileVolPct <= t.QuietVolPct {
		errors = append(errors, ValidationError{
			Field:   "threshold.volatile_vol_pct",
			Message: "must be greater than quiet_vol_pct",
		})
	}

	if t.QuietMultiplier <= 0 || t.QuietMultiplier > 1 {
		errors = append(errors, ValidationError{
			Field:   "threshold.quiet_multiplier",
			Message: "must be between 0 and 1",
		})
	}

	if t.VolatileMultiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "threshold.volatile_multiplier",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateBuffers(b *BuffersConfig) []ValidationError {
	var errors []ValidationError

	if b.TradeBufferSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "buffers.trade_buffer_size",
			Message: "must be at least 1",
		})
	}

	if b.EventBufferSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "buffers.event_buffer_size",
			Message: "must be at least 1",
		})
	}

	if b.PriceBufferSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "buffers.price_buffer_size",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateGate(g *GateConfig) []ValidationError {
	var errors []ValidationError

	if g.WindowSize < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "gate.window_size",
			Message: "must be at least 1 minute",
		})
	}

	if g.MaxRiskAlerts < 0 {
		errors = append(errors, ValidationError{
			Field:   "gate.max_risk_alerts",
			Message: "must be non-negative",
		})
	}

	if g.MaxTradeAlerts < 0 {
		errors = append(errors, ValidationError{
			Field:   "gate.max_trade_alerts",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateValidation(v *ValidationConfig) []ValidationError {
	var errors []ValidationError

	if v.MinConfidence < 0 || v.MinConfidence > 1 {
		errors = append(errors, ValidationError{
			Field:   "validation.min_confidence",
			Message: "must be between 0 and 1",
		})
	}

	if v.MinRiskConfidence < 0 || v.MinRiskConfidence > 1 {
		errors = append(errors, ValidationError{
			Field:   "validation.min_risk_confidence",
			Message: "must be between 0 and 1",
		})
	}

	if v.MinSetupConfidence < 0 || v.MinSetupConfidence > 1 {
		errors = append(errors, ValidationError{
			Field:   "validation.min_setup_confidence",
			Message: "must be between 0 and 1",
		})
	}

	if v.Cooldown < 0 {
		errors = append(errors, ValidationError{
			Field:   "validation.cooldown",
			Message: "must be non-negative",
		})
	}

	if v.MinStopDistancePct <= 0 {
		errors = append(errors, ValidationError{
			Field:   "validation.min_stop_distance_pct",
			Message: "must be positive",
		})
	}

	if v.MinRiskReward < 1 {
		errors = append(errors, ValidationError{
			Field:   "validation.min_risk_reward",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateCollector(co *CollectorConfig) []ValidationError {
	var errors []ValidationError

	if co.AnalysisInterval < 10*time.Second {
		errors = append(errors, ValidationError{
			Field:   "collector.analysis_interval",
			Message: "must be at least 10 seconds",
		})
	}

	return errors
}

func validateOracle(o *OracleConfig) []ValidationError {
	var errors []ValidationError

	if o.Endpoint != "" && o.Timeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "oracle.timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validatePositions(p *PositionsConfig) []ValidationError {
	var errors []ValidationError

	if p.CacheTTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "positions.cache_ttl",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateRedis(r *RedisConfig) []ValidationError {
	var errors []ValidationError

	// An empty address means the cache is disabled.
	if r.Addr == "" {
		return errors
	}

	if r.DB < 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.db",
			Message: "must be non-negative",
		})
	}

	if r.AssetCtxTTL < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "redis.asset_ctx_ttl",
			Message: "must be at least 1 second",
		})
	}

	if r.SnapshotInterval < 10*time.Second {
		errors = append(errors, ValidationError{
			Field:   "redis.snapshot_interval",
			Message: "must be at least 10 seconds",
		})
	}

	return errors
}

func validateHealthServer(h *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if !h.Enabled {
		return errors
	}

	if h.Port < 1 || h.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: "must be between 1 and 65535",
		})
	}

	return errors
}
