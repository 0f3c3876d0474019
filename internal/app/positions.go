package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowsentry/clients/hyperliquid"
	"flowsentry/config"
)

// AccountSnapshot is one fetch of the monitored wallet's perp account.
type AccountSnapshot struct {
	AccountValue float64                         `json:"account_value"`
	Withdrawable float64                         `json:"withdrawable"`
	Positions    []hyperliquid.AccountPosition   `json:"positions"`
	OpenOrders   []hyperliquid.OpenOrder         `json:"open_orders"`
	FetchedAt    time.Time                       `json:"fetched_at"`
}

// Exposure summarizes the wallet's stance on a single coin. PositionSize is
// signed, positive for long.
type Exposure struct {
	PositionSize  float64 `json:"position_size"`
	PositionValue float64 `json:"position_value"`
	PendingBuys   int     `json:"pending_buys"`
	PendingSells  int     `json:"pending_sells"`
}

// PositionTracker caches the monitored wallet's clearinghouse state so
// validation does not hammer the info endpoint on every candidate. A failed
// refresh falls back to the last good snapshot.
type PositionTracker struct {
	logger   *zap.Logger
	info     *hyperliquid.InfoClient
	wallet   string
	cacheTTL time.Duration

	mu     sync.RWMutex
	cached *AccountSnapshot
}

func NewPositionTracker(logger *zap.Logger, info *hyperliquid.InfoClient, cfg config.PositionsConfig) *PositionTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	wallet := strings.TrimSpace(cfg.WalletAddress)
	if wallet == "" {
		logger.Info("WALLET_ADDRESS not set, position checks disabled")
	}
	return &PositionTracker{
		logger:   logger,
		info:     info,
		wallet:   wallet,
		cacheTTL: ttl,
	}
}

func (p *PositionTracker) Enabled() bool {
	return p.wallet != "" && p.info != nil
}

// Snapshot returns the wallet's account state, served from cache while it is
// fresh. Returns (nil, nil) when no wallet is configured.
func (p *PositionTracker) Snapshot(ctx context.Context) (*AccountSnapshot, error) {
	if !p.Enabled() {
		return nil, nil
	}

	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()
	if cached != nil && time.Since(cached.FetchedAt) < p.cacheTTL {
		return cached, nil
	}

	snap, err := p.fetch(ctx)
	if err != nil {
		if cached != nil {
			p.logger.Warn("using stale account snapshot after fetch error",
				zap.Duration("age", time.Since(cached.FetchedAt)),
				zap.Error(err))
			return cached, nil
		}
		return nil, err
	}

	p.mu.Lock()
	p.cached = snap
	p.mu.Unlock()
	return snap, nil
}

func (p *PositionTracker) fetch(ctx context.Context) (*AccountSnapshot, error) {
	state, err := p.info.GetClearinghouseState(ctx, p.wallet)
	if err != nil {
		return nil, err
	}
	orders, err := p.info.GetOpenOrders(ctx, p.wallet)
	if err != nil {
		return nil, err
	}
	return &AccountSnapshot{
		AccountValue: state.AccountValue(),
		Withdrawable: state.WithdrawableValue(),
		Positions:    state.Positions(),
		OpenOrders:   orders,
		FetchedAt:    time.Now(),
	}, nil
}

// ExposureFor reduces the account snapshot to the wallet's stance on one
// coin. A disabled tracker reports zero exposure.
func (p *PositionTracker) ExposureFor(ctx context.Context, coin string) (Exposure, error) {
	var exp Exposure
	if !p.Enabled() {
		return exp, nil
	}
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return exp, err
	}

	for _, pos := range snap.Positions {
		if pos.Coin != coin {
			continue
		}
		exp.PositionSize = pos.Size()
		exp.PositionValue = pos.Value()
	}
	for _, ord := range snap.OpenOrders {
		if ord.Coin != coin {
			continue
		}
		if ord.IsBuy() {
			exp.PendingBuys++
		} else {
			exp.PendingSells++
		}
	}
	return exp, nil
}

// CachedAt reports when the cached snapshot was fetched, zero when empty.
func (p *PositionTracker) CachedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached == nil {
		return time.Time{}
	}
	return p.cached.FetchedAt
}
