package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/doodlegame/doodle/go/internal/events"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Config holds client connection settings.
type Config struct {
	URL            string
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	Header         http.Header
}

func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		WriteTimeout:   10 * time.Second,
		PongTimeout:    90 * time.Second,
		MaxMessageSize: 8 << 20,
	}
}

// Client is a websocket connection to the drawing relay. Send is safe for concurrent
// use; Run must be called from a single goroutine.
type Client struct {
	conn   *websocket.Conn
	config Config

	writeMu sync.Mutex
	closed  bool
}

// Dial connects to the relay.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	def := DefaultConfig(cfg.URL)
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay %s: %w", cfg.URL, err)
	}
	conn.SetReadLimit(cfg.MaxMessageSize)

	log.Info().Str("url", cfg.URL).Msg("connected to relay")
	return &Client{conn: conn, config: cfg}, nil
}

// Send writes v as one JSON text frame.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (c *Client) Join(roomID, clientID string, identityID *int64) error {
	return c.Send(events.JoinPayload{Type: events.TypeJoin, RoomID: roomID, ClientID: clientID, IdentityID: identityID})
}

func (c *Client) Leave(roomID, clientID string) error {
	return c.Send(events.LeavePayload{Type: events.TypeLeave, RoomID: roomID, ClientID: clientID})
}

func (c *Client) RequestSync(roomID string) error {
	return c.Send(events.RequestSyncPayload{Type: events.TypeRequestSync, RoomID: roomID})
}

// SetWord declares the drawer's word so the relay can enrich the turn's archive.
func (c *Client) SetWord(roomID, word string, round *int, drawerID, turnID string) error {
	return c.Send(events.SetWordPayload{
		Type:     events.TypeSetWord,
		RoomID:   roomID,
		Word:     word,
		Round:    round,
		DrawerID: drawerID,
		TurnID:   turnID,
	})
}

// PublishBlob asks the relay to archive a finished canvas.
func (c *Client) PublishBlob(image string, meta events.Metadata, timestamp int64) error {
	return c.Send(events.PublishBlobPayload{
		Type:    events.TypePublishBlob,
		Payload: &events.ArchivePayload{Image: image, Meta: meta, Timestamp: timestamp},
	})
}

// Run reads frames and passes each to handle until ctx is cancelled or the connection
// fails. It closes the connection on return.
func (c *Client) Run(ctx context.Context, handle func(data []byte)) error {
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.config.WriteTimeout))
	})

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout)); err != nil {
			return err
		}
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			local := c.isClosed()
			_ = c.Close()
			if local || ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("relay read failed: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		handle(data)
	}
}

func (c *Client) isClosed() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.closed
}

// Close sends a close frame and closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
