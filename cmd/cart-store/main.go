package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/backend"
	"github.com/fjod/go_cart/cart-store/internal/cart"
	"github.com/fjod/go_cart/cart-store/internal/config"
	"github.com/fjod/go_cart/cart-store/internal/events"
	h "github.com/fjod/go_cart/cart-store/internal/http"
	"github.com/fjod/go_cart/cart-store/internal/logger"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	configPath := flag.String("config", os.Getenv("CART_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, closer, err := backend.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("failed to open cart storage")
	}
	defer closer.Close()

	store, err := cart.New(ctx, storage, cart.WithStorageKey(cfg.Storage.Key))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to restore cart")
	}
	defer store.Close()

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Storage.Key, cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		defer publisher.Close()
		if _, err := store.Subscribe(publisher.Listener()); err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe publisher")
		}
		go publisher.Run(ctx)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing cart updates")
	}

	cartHandler := h.NewCartHandler(store, cfg.RequestTimeout)
	router := h.NewRouter(cartHandler, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "cart-store"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("backend", cfg.Storage.Backend).Msg("cart store listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down cart store...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()

	log.Info().Msg("cart store stopped")
}
