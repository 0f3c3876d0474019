package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowsentry/clients/notifier"
	"flowsentry/config"
)

const telegramAPIBaseURL = "https://api.telegram.org"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	apiBase  string
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger: logger,
			chatID: chatID,
			isProd: cfg.IsProd,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		apiBase:  telegramAPIBaseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// IsEnabled returns true when a bot token is configured.
func (tc *TelegramClient) IsEnabled() bool {
	return tc.botToken != ""
}

// SendAlert sends an alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendAlert(alert notifier.Alert) {
	if tc.botToken == "" || tc.chatID == "" {
		tc.logger.Warn("telegram not configured, skipping alert")
		return
	}

	message := tc.buildAlertMessage(alert)

	if err := tc.sendMessage(message); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram alert",
		zap.String("instrument", alert.Instrument),
		zap.String("kind", alert.Kind),
	)
}

func (tc *TelegramClient) buildAlertMessage(alert notifier.Alert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n\n", buildAlertTitle(alert)))

	if alert.Headline != "" {
		sb.WriteString(fmt.Sprintf("%s\n", escapeMarkdown(alert.Headline)))
	}
	if alert.Narrative != "" {
		sb.WriteString(fmt.Sprintf("%s\n", escapeMarkdown(alert.Narrative)))
	}
	sb.WriteString("\n")

	// Market snapshot
	sb.WriteString(fmt.Sprintf("*Confidence:* %.0f%%\n", alert.Confidence*100))
	sb.WriteString(fmt.Sprintf("*Price:* %s\n", formatUSD(alert.Price)))
	sb.WriteString(fmt.Sprintf("*Net Flow:* %s\n", formatSignedUSD(alert.NetFlow)))
	sb.WriteString(fmt.Sprintf("*Whale Trades:* %d buys / %d sells (%d whales)\n", alert.BuyCount, alert.SellCount, alert.WhaleCount))
	sb.WriteString(fmt.Sprintf("*Price Change:* %+.2f%%\n", alert.PriceChangePct))
	sb.WriteString(fmt.Sprintf("*Volatility:* %.2f%%\n", alert.VolatilityPct))

	// Execution plan for actionable alerts
	if alert.IsActionable() {
		sb.WriteString("\n")

		entry := "market"
		if alert.IdealEntry > 0 {
			entry = formatUSD(alert.IdealEntry)
		} else if len(alert.EntryZone) == 2 {
			entry = fmt.Sprintf("%s - %s", formatUSD(alert.EntryZone[0]), formatUSD(alert.EntryZone[1]))
		}
		sb.WriteString(fmt.Sprintf("*Entry:* %s\n", entry))

		if alert.StopLoss > 0 {
			sb.WriteString(fmt.Sprintf("*Stop:* %s\n", formatUSD(alert.StopLoss)))
		}
		if len(alert.TakeProfits) > 0 {
			parts := make([]string, len(alert.TakeProfits))
			for i, tp := range alert.TakeProfits {
				parts[i] = formatUSD(tp)
			}
			sb.WriteString(fmt.Sprintf("*Targets:* %s\n", strings.Join(parts, " / ")))
		}
		if !alert.ExpiresAt.IsZero() {
			sb.WriteString(fmt.Sprintf("*Valid Until:* %s\n", alert.ExpiresAt.UTC().Format("15:04 UTC")))
		}
	}

	if alert.Notes != "" {
		sb.WriteString(fmt.Sprintf("\n*Notes:* %s\n", escapeMarkdown(alert.Notes)))
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_flowsentry • %s_", ts.UTC().Format("2006-01-02 15:04:05 UTC")))

	return sb.String()
}

func buildAlertTitle(alert notifier.Alert) string {
	suffix := ""
	if alert.Updated {
		suffix = " (updated)"
	}

	if alert.Kind == notifier.KindRiskAlert {
		return fmt.Sprintf("⚠️ Risk Alert - %s%s", alert.Instrument, suffix)
	}

	switch strings.ToLower(alert.Direction) {
	case "long":
		return fmt.Sprintf("📈 Long Setup - %s%s", alert.Instrument, suffix)
	case "short":
		return fmt.Sprintf("📉 Short Setup - %s%s", alert.Instrument, suffix)
	}
	return fmt.Sprintf("🚨 Trade Alert - %s%s", alert.Instrument, suffix)
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.apiBase, tc.botToken)

	payload := map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

func formatUSD(v float64) string {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("$%.2fM", v/1_000_000)
	case abs >= 10_000:
		return fmt.Sprintf("$%.1fk", v/1_000)
	case abs >= 100:
		return fmt.Sprintf("$%.2f", v)
	default:
		return fmt.Sprintf("$%.4f", v)
	}
}

func formatSignedUSD(v float64) string {
	if v < 0 {
		return "-" + formatUSD(-v)
	}
	return "+" + formatUSD(v)
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
