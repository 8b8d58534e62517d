package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout      time.Duration              `yaml:"write_timeout"`
	ReadTimeout       time.Duration              `yaml:"read_timeout"`
	PingInterval      time.Duration              `yaml:"ping_interval"`
	MaxMessageSize    int64                      `yaml:"max_message_size"`
	ReadBufferSize    int                        `yaml:"read_buffer_size"`
	WriteBufferSize   int                        `yaml:"write_buffer_size"`
	SendBufferSize    int                        `yaml:"send_buffer_size"`
	InboxSize         int                        `yaml:"inbox_size"`
	MessagesPerSecond float64                    `yaml:"messages_per_second"`
	MessageBurst      int                        `yaml:"message_burst"`
	CheckOrigin       func(r *http.Request) bool `yaml:"-"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		MaxMessageSize:    8 << 20, // snapshots are full encoded images
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		SendBufferSize:    256,
		InboxSize:         1024,
		MessagesPerSecond: 120,
		MessageBurst:      240,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// withDefaults fills zero values so a partial YAML file stays usable.
func (c ConnectionConfig) withDefaults() ConnectionConfig {
	d := DefaultConnectionConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = d.MessagesPerSecond
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = d.MessageBurst
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = d.CheckOrigin
	}
	return c
}

// ConnectionManager owns the websocket connections and the single loop that applies
// their messages to the relay state.
type ConnectionManager struct {
	handler  *Handler
	upgrader websocket.Upgrader
	config   ConnectionConfig

	// every task touching relay state runs on the loop
	inbox chan func(ctx context.Context)
	done  chan struct{}
	once  sync.Once

	mu          sync.RWMutex
	connections map[*Connection]bool
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager
	limiter *rate.Limiter

	ConnectedAt time.Time

	// owned by the loop
	closed bool
}

// NewConnectionManager wires handler to run on the manager's loop.
func NewConnectionManager(config ConnectionConfig, handler *Handler) *ConnectionManager {
	config = config.withDefaults()

	cm := &ConnectionManager{
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		inbox:       make(chan func(ctx context.Context), config.InboxSize),
		done:        make(chan struct{}),
		connections: make(map[*Connection]bool),
	}

	WithExecutor(
		func(f func()) { go f() },
		func(f func()) { cm.enqueue(func(context.Context) { f() }) },
	)(handler)
	return cm
}

// Start runs the loop until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	defer cm.shutdown()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case task := <-cm.inbox:
			task(ctx)
		}
	}
}

func (cm *ConnectionManager) shutdown() {
	cm.once.Do(func() { close(cm.done) })

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for c := range cm.connections {
		c.conn.Close()
	}
}

// enqueue hands a task to the loop, giving up once the loop has stopped.
func (cm *ConnectionManager) enqueue(task func(ctx context.Context)) bool {
	select {
	case cm.inbox <- task:
		return true
	case <-cm.done:
		return false
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		id:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, cm.config.SendBufferSize),
		manager:     cm,
		limiter:     rate.NewLimiter(rate.Limit(cm.config.MessagesPerSecond), cm.config.MessageBurst),
		ConnectedAt: time.Now(),
	}

	cm.mu.Lock()
	cm.connections[c] = true
	total := len(cm.connections)
	cm.mu.Unlock()

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("remote_addr", r.RemoteAddr).
		Int("total_connections", total).
		Msg("WebSocket connection established")
	return nil
}

// unregister runs on the loop once the read side is finished.
func (cm *ConnectionManager) unregister(c *Connection) {
	cm.handler.Disconnect(c)

	cm.mu.Lock()
	delete(cm.connections, c)
	cm.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	log.Info().Str("connection_id", c.id).Msg("connection unregistered")
}

// Stats is a point-in-time view of connections and rooms.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetStats reads room membership on the loop.
func (cm *ConnectionManager) GetStats(ctx context.Context) (Stats, error) {
	cm.mu.RLock()
	stats := Stats{TotalConnections: len(cm.connections)}
	cm.mu.RUnlock()

	result := make(chan map[string]int, 1)
	if !cm.enqueue(func(context.Context) {
		result <- cm.handler.state.Sessions().Counts()
	}) {
		return stats, fmt.Errorf("connection manager stopped")
	}

	select {
	case counts := <-result:
		stats.RoomConnections = counts
		stats.ActiveRooms = len(counts)
		return stats, nil
	case <-ctx.Done():
		return stats, ctx.Err()
	}
}

func (c *Connection) ID() string {
	return c.id
}

// Send queues data without blocking. A full buffer drops the message for this
// connection only; the client recovers through request_sync.
func (c *Connection) Send(data []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		log.Warn().Str("connection_id", c.id).Msg("connection send buffer full, dropping message")
		return false
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump feeds frames to the loop in arrival order.
func (c *Connection) readPump() {
	defer func() {
		c.manager.enqueue(func(context.Context) { c.manager.unregister(c) })
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))

		if msgType != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			log.Warn().Str("connection_id", c.id).Msg("rate limit exceeded, dropping message")
			continue
		}

		if !c.manager.enqueue(func(ctx context.Context) {
			c.manager.handler.HandleMessage(ctx, c, message)
		}) {
			return
		}
	}
}
