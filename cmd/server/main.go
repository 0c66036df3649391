package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/sellaro/billing/internal/config"
	"github.com/sellaro/billing/internal/db"
	"github.com/sellaro/billing/internal/logger"
	"github.com/sellaro/billing/internal/notify"
	"github.com/sellaro/billing/internal/processor"
	"github.com/sellaro/billing/internal/server"
	"github.com/sellaro/billing/internal/services"
)

var migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")

func main() {
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	if err := logger.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("logger setup failed")
	}

	dbConn, err := db.ConnectAndMigrate(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	if *migrateOnlyFlag {
		log.Info().Msg("migrations completed")
		return
	}

	stripeClient := processor.NewStripeClient(processor.StripeConfig{
		SecretKey:     cfg.ProcessorSecretKey,
		WebhookSecret: cfg.ProcessorWebhookKey,
	})
	notifier := &notify.LogNotifier{Log: logger.WithComponent("notify")}

	invoices := services.NewInvoiceService(dbConn, stripeClient, notifier, logger.WithComponent("invoices"), cfg.DefaultFeePercent)
	accounts := services.NewAccountService(dbConn, stripeClient, logger.WithComponent("accounts"), cfg.OnboardingReturnBase, cfg.OnboardingRefreshBase)
	queries := services.NewQueryService(dbConn)
	reconciler := services.NewReconciler(dbConn, logger.WithComponent("reconciler"))

	handler := server.New(server.Deps{
		DB:         dbConn,
		Invoices:   invoices,
		Accounts:   accounts,
		Queries:    queries,
		Reconciler: reconciler,
		Verifier:   stripeClient,
		Log:        logger.WithComponent("http"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
