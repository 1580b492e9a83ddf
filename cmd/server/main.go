// Command server runs the live-chat relay: it receives chat platform
// webhooks, relays visitor messages to the conversational agent in the
// background and exposes the human-verification endpoint for the widget.
//
// @title          livechat-bridge API
// @version        1.0
// @description    Webhook relay between a live-chat platform and a conversational agent.
// @BasePath       /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/livechat-bridge/docs"
	"github.com/tbourn/livechat-bridge/internal/config"
	"github.com/tbourn/livechat-bridge/internal/observability"
	"github.com/tbourn/livechat-bridge/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := sysutil.InitLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName)
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	ctx := context.Background()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		logger.Error().Err(err).Msg("otel setup failed; continuing without tracing")
		shutdownOTel = func(context.Context) error { return nil }
	}

	a, err := newApp(ctx, cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("version", appVersion).
			Str("api_base", cfg.APIBasePath).
			Msg("starting livechat-bridge")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Dispatch.ShutdownTimeout)
	defer cancelDrain()
	if err := a.shutdown(drainCtx); err != nil {
		logger.Error().Err(err).Msg("relay shutdown")
	}

	otelCtx, cancelOTel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelOTel()
	if err := shutdownOTel(otelCtx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown")
	}

	logger.Info().Msg("server stopped")
}
