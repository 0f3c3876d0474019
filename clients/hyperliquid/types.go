package hyperliquid

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Channel names emitted by the stream endpoint.
const (
	ChannelTrades         = "trades"
	ChannelActiveAssetCtx = "activeAssetCtx"
	ChannelPong           = "pong"
	ChannelSubResponse    = "subscriptionResponse"
)

// Trade sides on the wire: "B" is an aggressing buy, "A" an aggressing sell.
const (
	SideBuy  = "B"
	SideSell = "A"
)

// Frame is the envelope every inbound stream message arrives in.
type Frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Subscription identifies one logical stream topic. Coin, Interval and User
// are optional depending on Type.
type Subscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin,omitempty"`
	Interval string `json:"interval,omitempty"`
	User     string `json:"user,omitempty"`
}

// Key returns the identity used for subscription reference counting.
func (s Subscription) Key() string {
	parts := []string{s.Type}
	if s.Coin != "" {
		parts = append(parts, s.Coin)
	}
	if s.Interval != "" {
		parts = append(parts, s.Interval)
	}
	if s.User != "" {
		parts = append(parts, s.User)
	}
	return strings.Join(parts, ":")
}

// TradesSubscription builds the trade-stream topic for a coin.
func TradesSubscription(coin string) Subscription {
	return Subscription{Type: ChannelTrades, Coin: coin}
}

// AssetCtxSubscription builds the asset-context topic for a coin.
func AssetCtxSubscription(coin string) Subscription {
	return Subscription{Type: ChannelActiveAssetCtx, Coin: coin}
}

// Trade is one fill from the trade stream. Numeric fields arrive as strings.
type Trade struct {
	Coin string `json:"coin"`
	Side string `json:"side"` // "B" or "A"
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"` // ms
	Hash string `json:"hash"`
	TID  int64  `json:"tid"`
}

// PriceFloat returns the trade price as a float64.
func (t *Trade) PriceFloat() float64 {
	return parseFloat(t.Px)
}

// SizeFloat returns the trade size as a float64.
func (t *Trade) SizeFloat() float64 {
	return parseFloat(t.Sz)
}

// Notional returns price × size in USD.
func (t *Trade) Notional() float64 {
	return t.PriceFloat() * t.SizeFloat()
}

// IsBuy reports whether the aggressor bought.
func (t *Trade) IsBuy() bool {
	return t.Side == SideBuy
}

// ParseTrades decodes a trades-channel data payload. Returns nil if the
// payload is not a trade batch.
func ParseTrades(data json.RawMessage) []Trade {
	var trades []Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil
	}
	return trades
}

// AssetCtx is the rolling per-coin market context. Numeric fields arrive as
// strings; the accessor methods parse them.
type AssetCtx struct {
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	PrevDayPx    string `json:"prevDayPx"`
	DayNtlVlm    string `json:"dayNtlVlm"`
	Premium      string `json:"premium"`
	OraclePx     string `json:"oraclePx"`
	MarkPx       string `json:"markPx"`
	MidPx        string `json:"midPx"`
}

func (c *AssetCtx) MarkPrice() float64         { return parseFloat(c.MarkPx) }
func (c *AssetCtx) MidPrice() float64          { return parseFloat(c.MidPx) }
func (c *AssetCtx) OraclePrice() float64       { return parseFloat(c.OraclePx) }
func (c *AssetCtx) FundingRate() float64       { return parseFloat(c.Funding) }
func (c *AssetCtx) OpenInterestFloat() float64 { return parseFloat(c.OpenInterest) }
func (c *AssetCtx) DayVolume() float64         { return parseFloat(c.DayNtlVlm) }
func (c *AssetCtx) PrevDayPrice() float64      { return parseFloat(c.PrevDayPx) }

// ActiveAssetCtx is the activeAssetCtx-channel data payload.
type ActiveAssetCtx struct {
	Coin string   `json:"coin"`
	Ctx  AssetCtx `json:"ctx"`
}

// ParseActiveAssetCtx decodes an activeAssetCtx-channel data payload. Returns
// nil if the payload does not carry a coin context.
func ParseActiveAssetCtx(data json.RawMessage) *ActiveAssetCtx {
	var msg ActiveAssetCtx
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}
	if msg.Coin == "" {
		return nil
	}
	return &msg
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
