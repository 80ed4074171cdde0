package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/librarydrive/donation-desk/routes"
	"github.com/librarydrive/donation-desk/services"
	"github.com/librarydrive/donation-desk/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := utils.NewLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}

	cache := utils.NewCacheManager()
	cache.StartCleanup(ctx, time.Minute)

	donations := services.NewDonationService(store, store, services.DonationConfig{
		DefaultLimit: cfg.Donation.DefaultLimit,
		MaxLimit:     cfg.Donation.MaxLimit,
		CacheTTL:     cfg.Donation.CacheTTL,
	}, cache, logger)

	gateway := services.NewRazorpayClient(services.RazorpayConfig{
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret,
		APIURL:    cfg.Razorpay.APIURL,
		Timeout:   cfg.Razorpay.Timeout,
	}, logger)

	admin := services.NewAdminAuth(services.AdminConfig{
		Email:        cfg.Admin.Email,
		PasswordHash: cfg.Admin.PasswordHash,
		JWTSecret:    cfg.Admin.JWTSecret,
		TokenTTL:     cfg.Admin.TokenTTL,
	})
	if !admin.Configured() {
		logger.Warn().Msg("admin credentials not configured, admin endpoints will reject every request")
	}

	hub := routes.NewHub(donations.PublicFeed, logger)
	go hub.Run(ctx)
	donations.OnCreated(hub.BroadcastDonation)

	gin.SetMode(cfg.Server.Mode)

	apiRoutes := routes.NewAPIRoutes(routes.Deps{
		Gateway:       gateway,
		Verifier:      services.NewSignatureVerifier(cfg.Razorpay.KeySecret),
		Donations:     donations,
		Admin:         admin,
		Hub:           hub,
		Log:           logger,
		DonateURL:     cfg.DonateURL,
		CheckoutKeyID: cfg.Razorpay.KeyID,
		BundlePrice:   cfg.Donation.BundlePrice,
	})
	router, err := routes.NewRouter(apiRoutes, cfg.Server.TrustedProxies, cfg.Server.AllowedOrigin, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build router")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Str("mode", gin.Mode()).Str("store", cfg.Store.Driver).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("store close")
	}
}

func openStore(ctx context.Context, cfg *utils.AppConfig, logger zerolog.Logger) (services.Store, error) {
	switch cfg.Store.Driver {
	case "mysql":
		db, err := utils.OpenMySQL(cfg.Store.URI, cfg.Store.Database, cfg.Env, logger)
		if err != nil {
			return nil, err
		}
		store := services.NewGormStore(db)
		if cfg.Store.Migrate {
			if err := store.Migrate(); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return store, nil
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		client, err := utils.ConnectMongo(connectCtx, cfg.Store.URI, logger)
		if err != nil {
			return nil, err
		}
		store := services.NewMongoStore(client, cfg.Store.Database)
		if cfg.Store.Migrate {
			if err := store.EnsureIndexes(connectCtx); err != nil {
				return nil, fmt.Errorf("ensure indexes: %w", err)
			}
		}
		return store, nil
	}
}
