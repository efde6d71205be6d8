package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

var ErrDuplicateContext = errors.New("context already connected")

// StoreOpener opens a shared store handle writing as origin.
type StoreOpener func(ctx context.Context, origin string) (sharedstore.Store, error)

// ConnectionManager bridges browser WebSockets to the shared store. Every
// connection is its own browsing context with its own store handle, so the
// store's origin filtering keeps a context from hearing its own writes.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader  websocket.Upgrader
	config    ConnectionConfig
	open      StoreOpener
	validator *FrameValidator
	metrics   MetricsCollector
	clock     clockwork.Clock

	lastFrameMu sync.Mutex
	lastFrame   time.Time
}

// Connection is one browser context attached through the gateway.
type Connection struct {
	ContextID   string
	Conn        *websocket.Conn
	Store       sharedstore.Store
	Manager     *ConnectionManager
	ConnectedAt time.Time

	send      chan []byte
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  70 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, open StoreOpener, validator *FrameValidator, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:    config,
		open:      open,
		validator: validator,
		metrics:   &NoOpMetricsCollector{},
		clock:     clock,
	}
}

func (cm *ConnectionManager) SetMetrics(metrics MetricsCollector) {
	cm.metrics = metrics
}

// UpgradeConnection attaches the request as contextID. It writes the HTTP
// error itself when the upgrade cannot happen.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, contextID string) error {
	cm.mu.RLock()
	_, taken := cm.connections[contextID]
	cm.mu.RUnlock()
	if taken {
		http.Error(w, ErrDuplicateContext.Error(), http.StatusConflict)
		return fmt.Errorf("%w: %s", ErrDuplicateContext, contextID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	store, err := cm.open(ctx, contextID)
	if err != nil {
		cancel()
		http.Error(w, "shared store unavailable", http.StatusServiceUnavailable)
		return fmt.Errorf("failed to open store: %w", err)
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		_ = store.Close()
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ContextID:   contextID,
		Conn:        conn,
		Store:       store,
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
		send:        make(chan []byte, cm.config.SendBuffer),
		done:        make(chan struct{}),
		cancel:      cancel,
	}

	if !cm.registerConnection(connection) {
		connection.close()
		return fmt.Errorf("%w: %s", ErrDuplicateContext, contextID)
	}

	go connection.writePump()
	go connection.readPump(ctx)
	go connection.relay(ctx)

	log.Info().
		Str("context_id", contextID).
		Str("remote", r.RemoteAddr).
		Msg("browser context connected")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn.ContextID]; exists {
		return false
	}
	cm.connections[conn.ContextID] = conn
	cm.metrics.RecordConnection(true)
	return true
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	current, exists := cm.connections[conn.ContextID]
	if exists && current == conn {
		delete(cm.connections, conn.ContextID)
	}
	cm.mu.Unlock()

	if exists && current == conn {
		cm.metrics.RecordConnection(false)
		log.Info().
			Str("context_id", conn.ContextID).
			Dur("connected_for", cm.clock.Since(conn.ConnectedAt)).
			Msg("browser context disconnected")
	}
	conn.close()
}

// CloseAll disconnects every context.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		cm.unregisterConnection(c)
	}
}

type ConnectionStats struct {
	TotalConnections int      `json:"total_connections"`
	Contexts         []string `json:"contexts"`
}

func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.connections),
		Contexts:         make([]string, 0, len(cm.connections)),
	}
	for id := range cm.connections {
		stats.Contexts = append(stats.Contexts, id)
	}
	return stats
}

// LastFrameTime is when a client frame was last accepted.
func (cm *ConnectionManager) LastFrameTime() time.Time {
	cm.lastFrameMu.Lock()
	defer cm.lastFrameMu.Unlock()
	return cm.lastFrame
}

func (cm *ConnectionManager) markFrame() {
	cm.lastFrameMu.Lock()
	cm.lastFrame = cm.clock.Now()
	cm.lastFrameMu.Unlock()
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		_ = c.Store.Close()
		_ = c.Conn.Close()
	})
}

// enqueue hands a frame to the write pump. A context that cannot keep up is
// disconnected rather than allowed to stall the relay.
func (c *Connection) enqueue(frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame")
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		log.Warn().
			Str("context_id", c.ContextID).
			Msg("connection send buffer full, closing connection")
		c.Manager.metrics.RecordSlowClose()
		go c.Manager.unregisterConnection(c)
	}
}

// relay forwards store changes made by other contexts.
func (c *Connection) relay(ctx context.Context) {
	err := c.Store.Watch(ctx, func(change sharedstore.Change) {
		frame := ServerFrame{
			Type:    FrameChange,
			Key:     change.Key,
			Value:   change.Value,
			Deleted: change.Deleted,
			Origin:  change.Origin,
		}
		if !change.At.IsZero() {
			frame.At = change.At.UnixMilli()
		}
		c.enqueue(frame)
		c.Manager.metrics.RecordChangeSent()
	})
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("context_id", c.ContextID).Msg("store watch failed")
	}
	c.Manager.unregisterConnection(c)
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("context_id", c.ContextID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("context_id", c.ContextID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.Manager.unregisterConnection(c)

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().
					Err(err).
					Str("context_id", c.ContextID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(ctx, message)
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(ctx context.Context, message []byte) {
	frame, err := c.Manager.validator.Parse(message)
	if err != nil {
		c.Manager.metrics.RecordFrame("", false)
		log.Debug().Err(err).Str("context_id", c.ContextID).Msg("rejected client frame")
		c.enqueue(ServerFrame{Type: FrameError, Error: err.Error()})
		return
	}

	switch frame.Op {
	case OpSet:
		err = c.Store.Set(ctx, frame.Key, frame.Value)
	case OpDelete:
		err = c.Store.Delete(ctx, frame.Key)
	case OpGet:
		var value string
		var found bool
		value, found, err = c.Store.Get(ctx, frame.Key)
		if err == nil {
			c.enqueue(ServerFrame{Type: FrameValue, Key: frame.Key, Value: value, Found: found, ID: frame.ID})
		}
	}

	if err != nil {
		c.Manager.metrics.RecordFrame(frame.Op, false)
		log.Error().Err(err).Str("context_id", c.ContextID).Str("op", frame.Op).Str("key", frame.Key).Msg("store operation failed")
		c.enqueue(ServerFrame{Type: FrameError, Key: frame.Key, ID: frame.ID, Error: err.Error()})
		return
	}

	c.Manager.metrics.RecordFrame(frame.Op, true)
	c.Manager.markFrame()
	log.Debug().
		Str("context_id", c.ContextID).
		Str("op", frame.Op).
		Str("key", frame.Key).
		Msg("client frame applied")
}
