package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/doodlegame/doodle/go/internal/archive"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Dependencies are the collaborators the relay service is built from. Canvas and
// Announcer are optional.
type Dependencies struct {
	History   HistoryStore
	Accounts  Accounts
	Canvas    CanvasStore
	Announcer Announcer
	Publisher archive.Publisher
	Clock     clockwork.Clock
}

// Service is the drawing relay: websocket transport, message loop and artifact sweeper.
type Service struct {
	registry          *Registry
	handler           *Handler
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	sweeper           *archive.Sweeper
}

func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.History == nil || deps.Accounts == nil {
		return nil, fmt.Errorf("relay needs a history store and accounts")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Publisher == nil {
		deps.Publisher = archive.NewCommandPublisher(cfg.Archive.Attempts, cfg.Archive.AttemptTimeout, nil)
	}

	registry := NewRegistry(deps.Canvas)
	archiver := archive.NewArchiver(cfg.Archive.Dir, deps.Publisher)

	opts := []HandlerOption{WithClock(deps.Clock)}
	if deps.Announcer != nil {
		opts = append(opts, WithAnnouncer(deps.Announcer))
	}
	handler := NewHandler(registry, archiver, deps.History, deps.Accounts, opts...)

	cm := NewConnectionManager(cfg.Connection, handler)

	sweeper, err := archive.NewSweeper(archiver.Dir(), cfg.Archive.SweepMaxAge, cfg.Archive.SweepSchedule, deps.Clock)
	if err != nil {
		return nil, err
	}

	return &Service{
		registry:          registry,
		handler:           handler,
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, deps.History),
		sweeper:           sweeper,
	}, nil
}

// Start runs the relay loop and the sweeper until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting drawing relay")

	s.sweeper.Start()
	s.connectionManager.Start(ctx)

	log.Info().Msg("drawing relay shutting down")
	s.sweeper.Stop()
}

// RegisterRoutes registers the relay HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("relay routes registered")
}

// GetStats returns statistics about the relay
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	return s.connectionManager.GetStats(ctx)
}
