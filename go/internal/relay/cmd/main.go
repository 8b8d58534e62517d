package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doodlegame/doodle/go/internal/accounts"
	"github.com/doodlegame/doodle/go/internal/archive"
	"github.com/doodlegame/doodle/go/internal/dbconfig"
	"github.com/doodlegame/doodle/go/internal/relay"
	"github.com/doodlegame/doodle/go/internal/store"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	port := getEnv("RELAY_PORT", "8090")

	cfg, err := relay.LoadConfig(getEnv("RELAY_CONFIG", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load relay config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	dbCfg := dbconfig.NewConfigFromEnv()
	dialect, err := store.ParseDialect(dbCfg.Driver)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid store driver")
	}
	st, err := store.Open(ctx, dialect, dbCfg.DSN(), clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history store")
	}
	defer st.Close()

	deps := relay.Dependencies{
		History:  st,
		Accounts: accounts.NewApp(st, accounts.DefaultHasher()),
		Clock:    clock,
	}

	if getEnv("CANVAS_BACKEND", "memory") == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDR", "localhost:6379")})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		deps.Canvas = relay.NewRedisCanvasStore(rdb)
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		jsCfg := archive.DefaultJetStreamConfig()
		jsCfg.URL = natsURL
		announcer, err := archive.NewJetStreamAnnouncer(jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create archive announcer")
		}
		defer announcer.Close()
		deps.Announcer = announcer
	}

	log.Info().
		Str("store", string(dialect)).
		Str("canvas", getEnv("CANVAS_BACKEND", "memory")).
		Str("archive_dir", cfg.Archive.Dir).
		Str("port", port).
		Msg("starting drawing relay")

	service, err := relay.NewService(cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create relay service")
	}

	server := setupServer(service, port)

	go service.Start(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	log.Info().Msg("drawing relay shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
