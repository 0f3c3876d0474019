package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"flowsentry/clients/notifier"
	"flowsentry/config"
)

// Embed colors per alert flavor.
const (
	colorLong  = 0x2ECC71
	colorShort = 0xE74C3C
	colorRisk  = 0xF39C12
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// IsEnabled returns true when a bot session was established.
func (dc *DiscordClient) IsEnabled() bool {
	return dc.session != nil
}

// SendMessage sends a plain text message.
func (dc *DiscordClient) SendMessage(message string) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping message")
		return
	}

	_, err := dc.session.ChannelMessageSend(dc.channelID, message)
	if err != nil {
		dc.logger.Error("failed to send discord message", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord message")
}

// SendAlert sends a rich embedded alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendAlert(alert notifier.Alert) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping alert")
		return
	}

	embed := dc.buildAlertEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord alert",
		zap.String("instrument", alert.Instrument),
		zap.String("kind", alert.Kind),
	)
}

func (dc *DiscordClient) buildAlertEmbed(alert notifier.Alert) *discordgo.MessageEmbed {
	color := colorRisk
	switch strings.ToLower(alert.Direction) {
	case "long":
		color = colorLong
	case "short":
		color = colorShort
	}
	if alert.Kind == notifier.KindRiskAlert {
		color = colorRisk
	}

	title := buildAlertTitle(alert)

	description := fmt.Sprintf("**%s**", alert.Headline)
	if alert.Narrative != "" {
		description += "\n" + alert.Narrative
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "Confidence",
			Value:  fmt.Sprintf("%.0f%%", alert.Confidence*100),
			Inline: true,
		},
		{
			Name:   "Price",
			Value:  formatUSD(alert.Price),
			Inline: true,
		},
		{
			Name:   "Net Flow",
			Value:  formatSignedUSD(alert.NetFlow),
			Inline: true,
		},
		{
			Name:   "Whale Trades",
			Value:  fmt.Sprintf("%d buys / %d sells (%d whales)", alert.BuyCount, alert.SellCount, alert.WhaleCount),
			Inline: true,
		},
		{
			Name:   "Price Change",
			Value:  fmt.Sprintf("%+.2f%%", alert.PriceChangePct),
			Inline: true,
		},
		{
			Name:   "Volatility",
			Value:  fmt.Sprintf("%.2f%%", alert.VolatilityPct),
			Inline: true,
		},
	}

	if alert.IsActionable() {
		fields = append(fields, executionFields(alert)...)
	}

	if alert.Notes != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Notes",
			Value: alert.Notes,
		})
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	footerText := fmt.Sprintf("flowsentry * %s", ts.UTC().Format("2006-01-02 15:04:05 UTC"))

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: footerText,
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

func executionFields(alert notifier.Alert) []*discordgo.MessageEmbedField {
	entry := "market"
	if alert.IdealEntry > 0 {
		entry = formatUSD(alert.IdealEntry)
	} else if len(alert.EntryZone) == 2 {
		entry = fmt.Sprintf("%s - %s", formatUSD(alert.EntryZone[0]), formatUSD(alert.EntryZone[1]))
	}

	stop := "n/a"
	if alert.StopLoss > 0 {
		stop = formatUSD(alert.StopLoss)
	}

	targets := "n/a"
	if len(alert.TakeProfits) > 0 {
		parts := make([]string, len(alert.TakeProfits))
		for i, tp := range alert.TakeProfits {
			parts[i] = formatUSD(tp)
		}
		targets = strings.Join(parts, " / ")
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Entry", Value: entry, Inline: true},
		{Name: "Stop", Value: stop, Inline: true},
		{Name: "Targets", Value: targets, Inline: true},
	}

	if !alert.ExpiresAt.IsZero() {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Valid Until",
			Value:  alert.ExpiresAt.UTC().Format("15:04 UTC"),
			Inline: true,
		})
	}

	return fields
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

// formatUSD renders a dollar amount with magnitude-aware precision.
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

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
