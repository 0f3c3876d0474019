package notifier

import (
	"time"
)

// Alert kinds. Risk alerts are informational; trade alerts carry an
// execution plan.
const (
	KindRiskAlert  = "RISK_ALERT"
	KindTradeAlert = "TRADE_ALERT"
)

// Alert contains all the data needed for one alert notification.
type Alert struct {
	// Identity
	ID         string
	Instrument string
	Kind       string // RISK_ALERT or TRADE_ALERT
	Direction  string // long or short
	Confidence float64
	Headline   string
	Updated    bool // true when this refreshes an alert already sent this window

	// Market snapshot at alert time
	Price          float64
	NetFlow        float64 // buy notional minus sell notional over the window
	BuyCount       int
	SellCount      int
	WhaleCount     int
	PriceChangePct float64
	VolatilityPct  float64
	WhaleThreshold float64 // effective threshold at classification time
	WindowMinutes  int

	// Narrative
	PatternName string
	Narrative   string
	KeyLevels   []float64

	// Execution plan (trade alerts)
	IdealEntry  float64
	EntryZone   []float64 // [low, high]
	StopLoss    float64
	TakeProfits []float64
	ExpiresAt   time.Time

	// Alert metadata
	Notes     string // validation notes, including demotion reasons
	Timestamp time.Time
}

// IsActionable returns true for alerts that carry an execution plan.
func (a Alert) IsActionable() bool {
	return a.Kind == KindTradeAlert
}

// Notifier is the interface for sending alerts to various channels.
type Notifier interface {
	// SendAlert sends an alert notification.
	SendAlert(alert Alert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendAlert(alert Alert) {
	for _, n := range m.notifiers {
		n.SendAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
