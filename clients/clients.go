package clients

import (
	"go.uber.org/zap"

	"flowsentry/clients/discord"
	"flowsentry/clients/hyperliquid"
	"flowsentry/clients/marketcache"
	"flowsentry/clients/notifier"
	"flowsentry/clients/oracle"
	"flowsentry/clients/recordstore"
	"flowsentry/clients/telegram"
	"flowsentry/config"
)

type Clients struct {
	Logger *zap.Logger

	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Notifier notifier.Notifier // Combined notifier for all channels

	Stream *hyperliquid.StreamClient
	Info   *hyperliquid.InfoClient
	Oracle *oracle.Client
	Store  recordstore.Store
	Cache  marketcache.Store
}

func NewClients(logger *zap.Logger, cfg *config.Config) (*Clients, error) {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, telegramClient)

	store, err := recordstore.New(logger, cfg)
	if err != nil {
		return nil, err
	}

	stream := hyperliquid.NewStreamClient(logger,
		hyperliquid.WithStreamURL(cfg.Hyperliquid.StreamURL),
		hyperliquid.WithPingInterval(cfg.Hyperliquid.PingInterval),
		hyperliquid.WithIdleGrace(cfg.Hyperliquid.IdleGrace),
	)

	return &Clients{
		Logger:   logger,
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: multiNotifier,
		Stream:   stream,
		Info:     hyperliquid.NewInfoClient(logger, cfg.Hyperliquid.InfoURL),
		Oracle:   oracle.NewClient(logger, cfg),
		Store:    store,
		Cache:    marketcache.NewCache(logger, cfg),
	}, nil
}

// Close releases every client resource. Errors are collected but do not
// stop the remaining clients from closing.
func (c *Clients) Close() error {
	var lastErr error

	if err := c.Stream.Close(); err != nil {
		lastErr = err
	}
	if err := c.Notifier.Close(); err != nil {
		lastErr = err
	}
	if err := c.Store.Close(); err != nil {
		lastErr = err
	}
	if err := c.Cache.Close(); err != nil {
		lastErr = err
	}

	return lastErr
}
