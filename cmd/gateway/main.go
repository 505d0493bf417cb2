package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notifyhub/gateway/api/rest"
	"github.com/notifyhub/gateway/internal/breaker"
	"github.com/notifyhub/gateway/internal/config"
	"github.com/notifyhub/gateway/internal/domain"
	"github.com/notifyhub/gateway/internal/logging"
	"github.com/notifyhub/gateway/internal/rabbit"
	"github.com/notifyhub/gateway/internal/service"
	"github.com/notifyhub/gateway/internal/store"
)

func main() {
	configFile := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.NewFromConfig(cfg.Log.Level, cfg.Log.Console)
	log.Info().Str("backend", cfg.Store.Backend).Msg("starting notification gateway")

	// Idempotency/status store
	var (
		st         store.Store
		redisStore *store.RedisStore
	)
	switch cfg.Store.Backend {
	case config.BackendRedis:
		redisStore, err = store.NewRedisStore(cfg.Store.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create redis store")
		}
		defer redisStore.Close()
		st = redisStore
		log.Info().Msg("using redis store")
	default:
		memStore := store.NewMemoryStore()
		defer memStore.Close()
		st = memStore
		log.Info().Msg("using in-memory store")
	}

	// Shared per-process circuit breaker
	cb := breaker.New(cfg.Breaker.MaxFailures, cfg.Breaker.ResetTimeout)

	// Broker connection and topology. Setup failure leaves the gateway in
	// degraded mode: publish attempts fail fast until the broker is back.
	conn := rabbit.NewConn(cfg.Broker.URL,
		rabbit.WithConnectAttempts(cfg.Broker.ConnectAttempts),
		rabbit.WithConnLogger(log),
	)
	defer conn.Close()

	if err := rabbit.DeclareTopology(conn); err != nil {
		if errors.Is(err, domain.ErrTopologyConflict) {
			log.Error().Err(err).Msg("broker topology conflicts with existing declarations")
		} else {
			log.Warn().Err(err).Msg("topology setup skipped, continuing in degraded mode")
		}
	} else {
		log.Info().Msg("broker topology declared")
	}

	publisher := rabbit.NewPublisher(conn,
		rabbit.WithPublishAttempts(cfg.Broker.PublishAttempts),
		rabbit.WithPublisherLogger(log),
	)

	dispatcher := service.NewDispatcher(st, cb, publisher,
		service.WithIdempotencyTTL(cfg.Store.IdempotencyTTL),
		service.WithStatusTTL(cfg.Store.StatusTTL),
		service.WithLogger(log),
	)

	health := func() rest.HealthData {
		data := rest.HealthData{
			Breaker: string(cb.State()),
			Broker:  conn.State().String(),
			Store:   "ok",
		}
		if redisStore != nil {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := redisStore.Ping(pingCtx); err != nil {
				data.Store = "unreachable"
			}
		}
		return data
	}

	handler := rest.NewHandler(dispatcher, health)
	router := rest.NewRouter(handler, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	log.Info().Msg("gateway stopped")
}
