// Package main is the entry point for the dice wager engine.
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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/config"
	"dice-wager-engine/internal/game/payout"
	"dice-wager-engine/internal/handler"
	"dice-wager-engine/internal/risk"
	"dice-wager-engine/internal/service"
	"dice-wager-engine/internal/settings"
	"dice-wager-engine/internal/settlement"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Log)

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Str("risk_backend", cfg.Engine.RiskBackend).
		Str("timezone", cfg.Engine.Timezone).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Engine stopped with error")
	}
	log.Info().Msg("Engine stopped gracefully")
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	loc, err := cfg.Engine.Location()
	if err != nil {
		return err
	}
	clock := risk.NewClock(loc)

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// Settings
	defaults, err := settings.LoadDefaults(cfg.Engine.SettingsFile)
	if err != nil {
		return err
	}
	resolver := payout.NewResolver()
	for name, desc := range resolver.Describe() {
		log.Debug().Str("variant", name).Str("description", desc).Msg("Game variant registered")
	}
	store, err := settings.NewStore(ctx, st.settings, settings.NewValidator(resolver, cfg.Engine.LiveMoney), defaults, cfg.Engine.IOTimeout)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Risk windows
	windows, closeWindows, err := openWindows(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeWindows()

	notifier := service.NewLogNotifier()
	riskMgr := risk.NewManager(windows, store, notifier, clock, cfg.Engine.IOTimeout)
	if err := riskMgr.Hydrate(ctx, st.risk); err != nil {
		return err
	}
	risk.NewJanitor(windows, st.risk, clock, cfg.Engine.RiskRetention(), cfg.Engine.JanitorInterval).Start(ctx)

	// Services
	halts := service.NewTierBreaker(cfg.Engine.AuditFailureThreshold)
	store.OnChange(halts.OnSettingsChange)

	accounts := service.NewAccountService(st.users, st.ledger, st.tx)
	writer := settlement.NewWriter(st.tx, st.users, st.ledger, st.records, st.risk, cfg.Engine.IOTimeout)
	wagers := service.NewWagerService(store, accounts, riskMgr, resolver, writer, st.records, st.audit, notifier, halts, service.WagerConfig{
		LockTimeout:       cfg.Engine.LockTimeout,
		AuditTimeout:      cfg.Engine.IOTimeout,
		LookupTimeout:     cfg.Engine.IOTimeout,
		LargeWinThreshold: cfg.Engine.LargeWinThreshold,
	})
	settingsSvc := service.NewSettingsService(store, cfg, halts)
	reporting := service.NewReportingService(st.records, st.audit, st.ledger, st.risk, riskMgr, 10)

	limiter := handler.NewUserLimiter(cfg.Engine.RateLimit.PerSecond, cfg.Engine.RateLimit.Burst)
	limiter.StartCleaner(ctx, 5*time.Minute)

	router := handler.NewRouter(handler.RouterDeps{
		Player:      handler.NewPlayerHandler(wagers, accounts, settingsSvc, limiter),
		Admin:       handler.NewAdminHandler(settingsSvc, accounts, reporting),
		AdminKey:    cfg.Admin.APIKey,
		AdminPolicy: cfg,
		CORSOrigins: cfg.Server.CORSOrigins,
		Health:      st.health,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server is starting...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
