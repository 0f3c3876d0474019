package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultInfoURL = "https://api.hyperliquid.xyz/info"

// InfoClient talks to the request/response info endpoint. It is the fallback
// path when no live asset context has arrived yet, and the source for
// account positions and open orders.
type InfoClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	infoURL    string
}

func NewInfoClient(logger *zap.Logger, infoURL string) *InfoClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if infoURL == "" {
		infoURL = defaultInfoURL
	}

	return &InfoClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		infoURL: infoURL,
	}
}

// AssetMeta describes one listed perp.
type AssetMeta struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

// MetaAndAssetCtxs fetches the perp universe together with the current
// per-asset contexts. The two slices are index-aligned.
func (c *InfoClient) MetaAndAssetCtxs(ctx context.Context) ([]AssetMeta, []AssetCtx, error) {
	var raw []json.RawMessage
	if err := c.doPost(ctx, map[string]any{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, nil, fmt.Errorf("get meta and asset ctxs: %w", err)
	}
	if len(raw) != 2 {
		return nil, nil, fmt.Errorf("unexpected metaAndAssetCtxs shape: %d elements", len(raw))
	}

	var meta struct {
		Universe []AssetMeta `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, nil, fmt.Errorf("decode universe: %w", err)
	}

	var ctxs []AssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, nil, fmt.Errorf("decode asset ctxs: %w", err)
	}

	return meta.Universe, ctxs, nil
}

// AssetCtxForCoin fetches the current context for a single coin.
func (c *InfoClient) AssetCtxForCoin(ctx context.Context, coin string) (*AssetCtx, error) {
	coin = strings.TrimSpace(coin)
	if coin == "" {
		return nil, fmt.Errorf("coin is empty")
	}

	universe, ctxs, err := c.MetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, err
	}

	for i, meta := range universe {
		if meta.Name == coin && i < len(ctxs) {
			out := ctxs[i]
			return &out, nil
		}
	}

	return nil, fmt.Errorf("coin not listed: %s", coin)
}

// AccountPosition is one open perp position from the clearinghouse state.
type AccountPosition struct {
	Coin           string `json:"coin"`
	Szi            string `json:"szi"` // signed size: positive long, negative short
	EntryPx        string `json:"entryPx"`
	PositionValue  string `json:"positionValue"`
	UnrealizedPnl  string `json:"unrealizedPnl"`
	LiquidationPx  string `json:"liquidationPx"`
	MarginUsed     string `json:"marginUsed"`
	ReturnOnEquity string `json:"returnOnEquity"`
}

// Size returns the signed position size as a float64.
func (p *AccountPosition) Size() float64 {
	return parseFloat(p.Szi)
}

// IsLong reports whether the position is net long.
func (p *AccountPosition) IsLong() bool {
	return p.Size() > 0
}

// Value returns the position's USD notional as a float64.
func (p *AccountPosition) Value() float64 {
	return parseFloat(p.PositionValue)
}

// ClearinghouseState is the account snapshot returned for a wallet.
type ClearinghouseState struct {
	AssetPositions []struct {
		Position AccountPosition `json:"position"`
		Type     string          `json:"type"`
	} `json:"assetPositions"`
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
		TotalNtlPos  string `json:"totalNtlPos"`
		TotalRawUsd  string `json:"totalRawUsd"`
	} `json:"marginSummary"`
	Withdrawable string `json:"withdrawable"`
}

// Positions flattens the nested asset positions.
func (s *ClearinghouseState) Positions() []AccountPosition {
	out := make([]AccountPosition, 0, len(s.AssetPositions))
	for _, ap := range s.AssetPositions {
		out = append(out, ap.Position)
	}
	return out
}

// AccountValue returns the account equity as a float64.
func (s *ClearinghouseState) AccountValue() float64 {
	return parseFloat(s.MarginSummary.AccountValue)
}

// WithdrawableValue returns the free collateral as a float64.
func (s *ClearinghouseState) WithdrawableValue() float64 {
	return parseFloat(s.Withdrawable)
}

// GetClearinghouseState fetches the open positions and margin summary for a
// wallet address.
func (c *InfoClient) GetClearinghouseState(ctx context.Context, user string) (*ClearinghouseState, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, fmt.Errorf("user is empty")
	}

	var state ClearinghouseState
	if err := c.doPost(ctx, map[string]any{"type": "clearinghouseState", "user": user}, &state); err != nil {
		return nil, fmt.Errorf("get clearinghouse state: %w", err)
	}

	return &state, nil
}

// OpenOrder is one resting order for a wallet.
type OpenOrder struct {
	Coin      string `json:"coin"`
	Side      string `json:"side"` // "B" or "A"
	LimitPx   string `json:"limitPx"`
	Sz        string `json:"sz"`
	Oid       int64  `json:"oid"`
	Timestamp int64  `json:"timestamp"`
}

// IsBuy reports whether the resting order is a bid.
func (o *OpenOrder) IsBuy() bool {
	return o.Side == SideBuy
}

// GetOpenOrders fetches the resting orders for a wallet address.
func (c *InfoClient) GetOpenOrders(ctx context.Context, user string) ([]OpenOrder, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, fmt.Errorf("user is empty")
	}

	var orders []OpenOrder
	if err := c.doPost(ctx, map[string]any{"type": "openOrders", "user": user}, &orders); err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}

	return orders, nil
}

// doPost is a helper that performs a POST request and decodes the JSON
// response.
func (c *InfoClient) doPost(ctx context.Context, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
