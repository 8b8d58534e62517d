package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/doodlegame/doodle/go/internal/ledger"
	"github.com/doodlegame/doodle/go/internal/player"
	"github.com/doodlegame/doodle/go/internal/relayclient"
	"github.com/doodlegame/doodle/go/internal/surface"
	"github.com/doodlegame/doodle/go/internal/turnclock"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	roomID := os.Getenv("PLAYER_ROOM")
	if roomID == "" {
		log.Fatal().Msg("PLAYER_ROOM is required")
	}
	clientID := getEnv("PLAYER_ID", uuid.NewString())
	isHost, _ := strconv.ParseBool(getEnv("PLAYER_HOST", "false"))

	var identityID *int64
	if raw := os.Getenv("PLAYER_IDENTITY_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid PLAYER_IDENTITY_ID")
		}
		identityID = &id
	}

	surfaceCfg := surface.DefaultConfig()
	surfaceCfg.Width = getEnvInt("PLAYER_WIDTH", surfaceCfg.Width)
	surfaceCfg.Height = getEnvInt("PLAYER_HEIGHT", surfaceCfg.Height)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	relay, err := relayclient.Dial(ctx, relayclient.DefaultConfig(getEnv("PLAYER_RELAY_URL", "ws://localhost:8090/ws")))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to relay")
	}
	defer relay.Close()

	feedCfg := ledger.DefaultFeedConfig()
	feedCfg.URL = getEnv("NATS_URL", feedCfg.URL)
	feedCfg.ConsumerName = "doodle-player-" + clientID
	feed, err := ledger.NewFeed(feedCfg, clientID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ledger feed")
	}
	defer feed.Close()

	session, err := player.NewSession(player.Config{
		RoomID:     roomID,
		ClientID:   clientID,
		IdentityID: identityID,
		IsHost:     isHost,
		Surface:    surfaceCfg,
		TurnClock:  turnclock.Config{RoundDuration: turnclock.DefaultRoundDuration},
	}, relay, ledger.NewClient(nil, getEnv("LEDGER_URL", "http://localhost:8080")), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create player session")
	}

	observations := make(chan turnclock.Observation, 16)
	go func() {
		if err := feed.Start(ctx, roomID, observations); err != nil {
			log.Error().Err(err).Msg("ledger feed failed")
			cancel()
		}
	}()

	log.Info().
		Str("room_id", roomID).
		Str("client_id", clientID).
		Bool("host", isHost).
		Msg("headless player started")

	if err := session.Run(ctx, observations); err != nil {
		log.Error().Err(err).Msg("player session ended")
	}
	log.Info().Msg("headless player shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}
