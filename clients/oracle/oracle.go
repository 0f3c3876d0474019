package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"flowsentry/config"
)

// Decision is the oracle's overall verdict for a cycle.
type Decision string

const (
	DecisionAlert        Decision = "ALERT"
	DecisionNoAlert      Decision = "NO_ALERT"
	DecisionNeedMoreData Decision = "NEED_MORE_DATA"
)

// AlertKind separates informational risk alerts from actionable trade alerts.
type AlertKind string

const (
	KindRiskAlert  AlertKind = "RISK_ALERT"
	KindTradeAlert AlertKind = "TRADE_ALERT"
)

// Pattern describes the structure the oracle believes it is seeing.
type Pattern struct {
	Name      string  `json:"name"`
	Direction string  `json:"direction,omitempty"` // "long" or "short"
	Strength  float64 `json:"strength,omitempty"`
	Summary   string  `json:"summary,omitempty"`
}

// Thesis is the oracle's narrative read of the market.
type Thesis struct {
	Bias           string    `json:"bias,omitempty"`
	KeyLevels      []float64 `json:"key_levels,omitempty"`
	Narrative      string    `json:"narrative,omitempty"`
	InvalidationPx float64   `json:"invalidation_px,omitempty"`
}

// Execution carries the proposed trade plan. Zero prices mean "not provided".
type Execution struct {
	Direction     string    `json:"direction,omitempty"`
	IdealEntry    float64   `json:"ideal_entry,omitempty"`
	EntryZone     []float64 `json:"entry_zone,omitempty"` // [low, high]
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfits   []float64 `json:"take_profits,omitempty"`
	ExpiryMinutes int       `json:"expiry_minutes,omitempty"`
}

// Usage is the oracle's reported resource consumption for one call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// alertItem is one entry of the schema-v2 multi-alert list.
type alertItem struct {
	Kind       AlertKind  `json:"kind"`
	Confidence float64    `json:"confidence"`
	Direction  string     `json:"direction,omitempty"`
	Headline   string     `json:"headline,omitempty"`
	Pattern    *Pattern   `json:"pattern,omitempty"`
	Thesis     *Thesis    `json:"thesis,omitempty"`
	Execution  *Execution `json:"execution,omitempty"`
	ExpiresAt  int64      `json:"expires_at,omitempty"` // ms epoch
}

// response is the wire envelope. Schema v1 carries a single implied alert in
// the top-level fields; schema v2 carries an explicit alert list. Both are
// normalized into AlertCandidates so downstream gating sees one shape.
type response struct {
	SchemaVersion int         `json:"schema_version"`
	Decision      Decision    `json:"decision"`
	Confidence    float64     `json:"confidence"`
	Headline      string      `json:"headline,omitempty"`
	Alerts        []alertItem `json:"alerts,omitempty"`
	Pattern       *Pattern    `json:"pattern,omitempty"`
	Thesis        *Thesis     `json:"thesis,omitempty"`
	Execution     *Execution  `json:"execution,omitempty"`
	Usage         *Usage      `json:"usage,omitempty"`
}

// AlertCandidate is a normalized proposed alert, ready for gating and
// validation.
type AlertCandidate struct {
	Instrument string
	Kind       AlertKind
	Confidence float64
	Direction  string
	Headline   string
	Pattern    *Pattern
	Thesis     *Thesis
	Execution  *Execution
	ExpiresAt  time.Time
}

// Verdict is the normalized outcome of one oracle call.
type Verdict struct {
	Decision      Decision
	Confidence    float64
	Candidates    []AlertCandidate
	SchemaVersion int
	Model         string
	Latency       time.Duration
	Usage         Usage
	RawOutput     json.RawMessage
}

// ErrNotConfigured is returned when no oracle endpoint is configured.
var ErrNotConfigured = errors.New("oracle not configured")

// Client calls the external decision oracle over HTTP.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	endpoint   string
	authToken  string
	model      string
	timeout    time.Duration
	enabled    bool
}

func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	enabled := cfg.Oracle.Endpoint != ""
	if !enabled {
		logger.Info("oracle client disabled: no endpoint configured")
	}

	timeout := cfg.Oracle.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		logger: logger,
		httpClient: &http.Client{
			// No transport-level timeout; each call is bounded by its own
			// context deadline.
		},
		endpoint:  cfg.Oracle.Endpoint,
		authToken: cfg.Oracle.AuthToken,
		model:     cfg.Oracle.Model,
		timeout:   timeout,
		enabled:   enabled,
	}
}

func (c *Client) Enabled() bool {
	return c.enabled
}

// evaluateRequest is the outbound payload wrapper.
type evaluateRequest struct {
	Model      string `json:"model,omitempty"`
	Instrument string `json:"instrument"`
	Bundle     any    `json:"bundle"`
}

// Evaluate submits a bundle for one instrument and returns the normalized
// verdict. The call is bounded by the configured timeout; on expiry the
// in-flight request is abandoned and an error is returned.
func (c *Client) Evaluate(ctx context.Context, instrument string, bundle any) (*Verdict, error) {
	if !c.enabled {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(evaluateRequest{
		Model:      c.model,
		Instrument: instrument,
		Bundle:     bundle,
	})
	if err != nil {
		return nil, fmt.Errorf("encode oracle request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("oracle call timed out after %s", c.timeout)
		}
		return nil, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read oracle response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("oracle status=%d body=%s", resp.StatusCode, string(raw))
	}

	var envelope response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}

	verdict := c.normalize(instrument, &envelope, time.Now())
	verdict.Model = c.model
	verdict.Latency = latency
	verdict.RawOutput = json.RawMessage(raw)

	c.logger.Info(
		"oracle verdict",
		zap.String("instrument", instrument),
		zap.String("decision", string(verdict.Decision)),
		zap.Float64("confidence", verdict.Confidence),
		zap.Int("candidates", len(verdict.Candidates)),
		zap.Duration("latency", latency),
	)

	return verdict, nil
}

// normalize folds both envelope schemas into one candidate list.
func (c *Client) normalize(instrument string, envelope *response, now time.Time) *Verdict {
	verdict := &Verdict{
		Decision:      envelope.Decision,
		Confidence:    envelope.Confidence,
		SchemaVersion: envelope.SchemaVersion,
	}
	if envelope.Usage != nil {
		verdict.Usage = *envelope.Usage
	}

	// Schema v2: explicit alert list.
	if envelope.SchemaVersion >= 2 || len(envelope.Alerts) > 0 {
		for _, item := range envelope.Alerts {
			cand := AlertCandidate{
				Instrument: instrument,
				Kind:       item.Kind,
				Confidence: item.Confidence,
				Direction:  item.Direction,
				Headline:   item.Headline,
				Pattern:    item.Pattern,
				Thesis:     item.Thesis,
				Execution:  item.Execution,
			}
			if cand.Direction == "" && item.Execution != nil {
				cand.Direction = item.Execution.Direction
			}
			if item.ExpiresAt > 0 {
				cand.ExpiresAt = time.UnixMilli(item.ExpiresAt)
			} else if item.Execution != nil && item.Execution.ExpiryMinutes > 0 {
				cand.ExpiresAt = now.Add(time.Duration(item.Execution.ExpiryMinutes) * time.Minute)
			}
			verdict.Candidates = append(verdict.Candidates, cand)
		}
		if len(verdict.Candidates) > 0 {
			verdict.Decision = DecisionAlert
		} else if verdict.Decision == "" {
			verdict.Decision = DecisionNoAlert
		}
		return verdict
	}

	// Schema v1: a single alert implied by decision=ALERT.
	if envelope.Decision == DecisionAlert {
		cand := AlertCandidate{
			Instrument: instrument,
			Kind:       KindTradeAlert,
			Confidence: envelope.Confidence,
			Headline:   envelope.Headline,
			Pattern:    envelope.Pattern,
			Thesis:     envelope.Thesis,
			Execution:  envelope.Execution,
		}
		if envelope.Execution != nil {
			cand.Direction = envelope.Execution.Direction
			if envelope.Execution.ExpiryMinutes > 0 {
				cand.ExpiresAt = now.Add(time.Duration(envelope.Execution.ExpiryMinutes) * time.Minute)
			}
		}
		if cand.Direction == "" && envelope.Pattern != nil {
			cand.Direction = envelope.Pattern.Direction
		}
		verdict.Candidates = append(verdict.Candidates, cand)
	}
	if verdict.Decision == "" {
		verdict.Decision = DecisionNoAlert
	}

	return verdict
}
