package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ogcr-registry/internal/config"
	"ogcr-registry/internal/interfaces/router"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load")
	}
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	srv, err := router.CreateApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("app create")
	}

	// Verify connections before accepting traffic
	sqlDB, err := srv.DB.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("database handle")
	}
	if err := sqlDB.Ping(); err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	log.Info().Msg("database connected")
	if srv.Redis != nil {
		if err := srv.Redis.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		log.Info().Msg("redis connected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go srv.Registry.Anchors.Run(ctx, cfg.ReconcileInterval)

	go func() {
		log.Info().Str("port", cfg.Port).Str("anchor_mode", cfg.AnchorMode).Str("ledger", cfg.LedgerBackend).
			Msg("ogcr registry listening")
		if err := srv.App.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.App.ShutdownWithContext(shutdown); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if srv.Redis != nil {
		_ = srv.Redis.Close()
	}
	_ = sqlDB.Close()
}
