package app

import (
	"fmt"
	"sync"
	"time"

	"flowsentry/clients/oracle"
	"flowsentry/config"
)

// GateAction is what the window gate decided for a candidate.
type GateAction string

const (
	GateEmit   GateAction = "emit"
	GateUpdate GateAction = "update"
	GateReject GateAction = "reject"
)

// GateDecision is the outcome of checking a candidate against its window.
type GateDecision struct {
	Action        GateAction
	ExistingID    string // alert to refresh when Action is GateUpdate
	Reason        string // populated when Action is GateReject
	WindowStart   time.Time
	CountInWindow int
}

// windowState tracks one (instrument, kind) rolling window.
type windowState struct {
	WindowStartMs int64  `json:"window_start_ms"`
	Count         int    `json:"count"`
	LastAlertID   string `json:"last_alert_id,omitempty"`
}

// GateSnapshot is the serialized gate state for warm restarts.
type GateSnapshot struct {
	Version      int                    `json:"version"`
	SavedAt      time.Time              `json:"saved_at"`
	Windows      map[string]windowState `json:"windows"`
	LastAccepted map[string]int64       `json:"last_accepted_ms"`
}

// AlertGate rate-limits alert emission per (instrument, alert kind) inside
// fixed windows, updating the latest alert in place once a window fills.
// Counts only move when an emit is recorded, so repeated checks with the
// same inputs return the same decision.
type AlertGate struct {
	mu           sync.Mutex
	cfg          config.GateConfig
	windows      map[string]*windowState
	lastAccepted map[string]time.Time
}

func NewAlertGate(cfg config.GateConfig) *AlertGate {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10 * time.Minute
	}
	return &AlertGate{
		cfg:          cfg,
		windows:      make(map[string]*windowState),
		lastAccepted: make(map[string]time.Time),
	}
}

func gateKey(instrument string, kind oracle.AlertKind) string {
	return instrument + "|" + string(kind)
}

// windowStart floors now onto the current window boundary.
func (g *AlertGate) windowStart(now time.Time) time.Time {
	size := g.cfg.WindowSize.Milliseconds()
	return time.UnixMilli(now.UnixMilli() / size * size)
}

func (g *AlertGate) maxFor(kind oracle.AlertKind) int {
	if kind == oracle.KindRiskAlert {
		return g.cfg.MaxRiskAlerts
	}
	return g.cfg.MaxTradeAlerts
}

// stateFor returns the live window for key, resetting the counter once when
// now has crossed into a new window. Callers hold g.mu.
func (g *AlertGate) stateFor(key string, now time.Time) *windowState {
	startMs := g.windowStart(now).UnixMilli()
	ws, ok := g.windows[key]
	if !ok {
		ws = &windowState{WindowStartMs: startMs}
		g.windows[key] = ws
		return ws
	}
	if ws.WindowStartMs != startMs {
		ws.WindowStartMs = startMs
		ws.Count = 0
		ws.LastAlertID = ""
	}
	return ws
}

// CheckWindow decides whether a candidate may surface at now. It does not
// consume capacity; call RecordEmit once the alert is actually accepted.
func (g *AlertGate) CheckWindow(instrument string, kind oracle.AlertKind, now time.Time) GateDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	ws := g.stateFor(gateKey(instrument, kind), now)
	limit := g.maxFor(kind)
	dec := GateDecision{
		WindowStart:   time.UnixMilli(ws.WindowStartMs),
		CountInWindow: ws.Count,
	}

	switch {
	case ws.Count < limit:
		dec.Action = GateEmit
	case g.cfg.UpdateInWindow && ws.LastAlertID != "":
		dec.Action = GateUpdate
		dec.ExistingID = ws.LastAlertID
	default:
		dec.Action = GateReject
		dec.Reason = fmt.Sprintf("%s window full: %d/%d since %s",
			kind, ws.Count, limit, dec.WindowStart.UTC().Format("15:04:05"))
	}
	return dec
}

// RecordEmit books an accepted alert against the current window and starts
// the cooldown clock for its (instrument, kind).
func (g *AlertGate) RecordEmit(instrument string, kind oracle.AlertKind, alertID string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey(instrument, kind)
	ws := g.stateFor(key, now)
	ws.Count++
	ws.LastAlertID = alertID
	g.lastAccepted[key] = now
}

// LastAccepted returns when an alert of this kind was last accepted for the
// instrument.
func (g *AlertGate) LastAccepted(instrument string, kind oracle.AlertKind) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.lastAccepted[gateKey(instrument, kind)]
	return t, ok
}

// Seed primes one window from persisted history, typically the record store
// after a cold start. Live state wins over the seed.
func (g *AlertGate) Seed(instrument string, kind oracle.AlertKind, count int, lastAlertID string, lastAcceptedAt, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey(instrument, kind)
	ws := g.stateFor(key, now)
	if count > ws.Count {
		ws.Count = count
	}
	if lastAlertID != "" && ws.LastAlertID == "" {
		ws.LastAlertID = lastAlertID
	}
	if !lastAcceptedAt.IsZero() && lastAcceptedAt.After(g.lastAccepted[key]) {
		g.lastAccepted[key] = lastAcceptedAt
	}
}

// Export snapshots the gate state for persistence.
func (g *AlertGate) Export() GateSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := GateSnapshot{
		Version:      1,
		SavedAt:      time.Now().UTC(),
		Windows:      make(map[string]windowState, len(g.windows)),
		LastAccepted: make(map[string]int64, len(g.lastAccepted)),
	}
	for k, ws := range g.windows {
		snap.Windows[k] = *ws
	}
	for k, t := range g.lastAccepted {
		snap.LastAccepted[k] = t.UnixMilli()
	}
	return snap
}

// Import restores persisted gate state. Local windows that are already
// fresher win. Returns how many windows were restored.
func (g *AlertGate) Import(snap GateSnapshot) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	restored := 0
	for k, ws := range snap.Windows {
		cur, ok := g.windows[k]
		if ok && cur.WindowStartMs >= ws.WindowStartMs {
			continue
		}
		copied := ws
		g.windows[k] = &copied
		restored++
	}
	for k, ms := range snap.LastAccepted {
		if ms <= 0 {
			continue
		}
		t := time.UnixMilli(ms)
		if t.After(g.lastAccepted[k]) {
			g.lastAccepted[k] = t
		}
	}
	return restored
}

// WindowCount returns how many (instrument, kind) windows are live.
func (g *AlertGate) WindowCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.windows)
}

// Occupancy reports the current count per live window.
func (g *AlertGate) Occupancy() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]int, len(g.windows))
	for k, ws := range g.windows {
		out[k] = ws.Count
	}
	return out
}
