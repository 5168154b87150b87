package main

import (
	"fmt"
	"time"

	"keyshop-api/internal/config"
	"keyshop-api/internal/database"
	"keyshop-api/internal/models"
	"keyshop-api/internal/services"
	"keyshop-api/pkg/logging"
)

// app is the wired service graph shared by every command.
type app struct {
	cfg          *config.Config
	store        *database.Store
	dispatcher   *services.Dispatcher
	paypal       *services.PayPalService
	roblox       *services.RobloxService
	fulfillment  *services.FulfillmentService
	verification *services.VerificationService
	tickets      *services.TicketService
	sessions     *services.SessionService
}

func bootstrap() (*app, error) {
	if err := config.InitConfig(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg := config.AppConfig

	logging.InitLogging(cfg.Mode, cfg.LogLevel)

	if err := database.InitDatabase(); err != nil {
		return nil, err
	}

	for _, tier := range models.Tiers {
		if cfg.KeyWebhookEndpoint(string(tier)) == "" {
			logging.Warnf("No key webhook configured for tier %s, purchases will be recorded without keys", tier)
		}
	}

	store := database.NewStore(database.DB)
	dispatcher := services.NewDispatcher(30 * time.Second)
	mailer := services.NewEmailService(cfg)
	chat := services.NewDiscordService(cfg.DiscordWebhookURL)

	issuer := services.NewKeyIssuanceService(services.KeyIssuanceConfig{
		DefaultURL: cfg.KeyWebhookURL,
		TierURLs:   cfg.KeyWebhookTierURLs,
		Secret:     cfg.KeyWebhookSecret,
		Timeout:    cfg.KeyWebhookTimeout,
	})

	var cooldown services.Cooldown
	if database.RedisClient != nil {
		cooldown = services.NewRedisService(database.RedisClient)
	}

	return &app{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		paypal: services.NewPayPalService(services.PayPalConfig{
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			BaseURL:      cfg.PayPalBaseURL,
			BrandName:    cfg.ServiceName,
			Timeout:      cfg.PayPalTimeout,
		}),
		roblox: services.NewRobloxService(services.RobloxConfig{
			UsersURL:     cfg.RobloxUsersURL,
			InventoryURL: cfg.RobloxInventoryURL,
			GamePasses:   cfg.RobloxGamePasses,
		}),
		fulfillment: services.NewFulfillmentService(store, issuer, mailer, chat, dispatcher),
		verification: services.NewVerificationService(store, cooldown, mailer, dispatcher,
			time.Duration(cfg.CodeExpireMinutes)*time.Minute,
			time.Duration(cfg.RateLimitSeconds)*time.Second),
		tickets:  services.NewTicketService(store, mailer, chat, dispatcher),
		sessions: services.NewSessionService(cfg.SessionSecret, cfg.SessionTTL, cfg.AdminTTL),
	}, nil
}

// close waits for background notifications before releasing connections.
func (a *app) close() {
	a.dispatcher.Wait()
	database.CloseDatabase()
}
