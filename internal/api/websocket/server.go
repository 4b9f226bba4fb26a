package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docmesh/docmesh/pkg/models"
	"github.com/docmesh/docmesh/pkg/observability"
)

// Config tunes the WebSocket transport
type Config struct {
	MaxConnections       int           `mapstructure:"max_connections"`
	SendBuffer           int           `mapstructure:"send_buffer"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	MessageRatePerSecond float64       `mapstructure:"message_rate_per_second"`
	MessageRateBurst     int           `mapstructure:"message_rate_burst"`
}

// DefaultConfig returns transport defaults suitable for interactive editing
func DefaultConfig() Config {
	return Config{
		MaxConnections:       1024,
		SendBuffer:           256,
		PingInterval:         30 * time.Second,
		WriteTimeout:         10 * time.Second,
		MaxMessageSize:       1 << 20,
		MessageRatePerSecond: 50,
		MessageRateBurst:     100,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaults.MaxConnections
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaults.SendBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaults.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.MessageRatePerSecond <= 0 {
		c.MessageRatePerSecond = defaults.MessageRatePerSecond
	}
	if c.MessageRateBurst <= 0 {
		c.MessageRateBurst = defaults.MessageRateBurst
	}
	return c
}

// Server accepts WebSocket connections and hands them to the controller
type Server struct {
	config  Config
	logger  observability.Logger
	metrics observability.MetricsClient

	controller *Controller

	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewServer wires the transport to an already constructed controller
func NewServer(config Config, controller *Controller, logger observability.Logger, metrics observability.MetricsClient) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Server{
		config:      config.withDefaults(),
		logger:      logger,
		metrics:     metrics,
		controller:  controller,
		connections: make(map[string]*Connection),
	}
}

// HandleWS upgrades a gin request to a collaborative editing connection.
// Session identity comes from query parameters; the client gets a full
// document push before any other traffic.
func (s *Server) HandleWS(c *gin.Context) {
	join := JoinRequest{
		SessionID:  c.Query("sessionId"),
		DocumentID: c.Query("documentId"),
		UserID:     c.Query("userId"),
		Username:   c.Query("username"),
		Role:       models.ParticipantRole(c.Query("role")),
	}
	if join.UserID == "" || join.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and userId are required"})
		return
	}

	if s.ConnectionCount() >= s.config.MaxConnections {
		s.metrics.IncrementCounter("websocket_connections_refused_total", 1)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("WebSocket accept failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	conn.SetReadLimit(s.config.MaxMessageSize)

	connection := newConnection(uuid.New().String(), join.UserID, conn, s)
	s.register(connection)

	ctx := c.Request.Context()
	go connection.writePump(ctx)

	// The client is useless without its initial state, so a failed
	// document push tears the connection down immediately.
	if err := s.controller.Initialize(ctx, connection, join); err != nil {
		s.logger.Warn("Session initialization failed", map[string]interface{}{
			"connection_id": connection.id,
			"session_id":    join.SessionID,
			"user_id":       join.UserID,
			"error":         err.Error(),
		})
		connection.sendError(err.Error(), initErrorCode(err))
		time.Sleep(50 * time.Millisecond)
		connection.Close(websocket.StatusPolicyViolation, "initialization failed")
		s.unregister(connection)
		return
	}

	s.logger.Info("Collaboration connection established", map[string]interface{}{
		"connection_id": connection.id,
		"session_id":    join.SessionID,
		"user_id":       join.UserID,
	})

	connection.readPump(ctx)
}

// ConnectionCount returns the number of live connections
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Server) register(conn *Connection) {
	s.mu.Lock()
	s.connections[conn.id] = conn
	count := len(s.connections)
	s.mu.Unlock()

	s.metrics.IncrementCounter("websocket_connections_total", 1)
	s.metrics.RecordGauge("websocket_connections_active", float64(count), nil)
}

func (s *Server) unregister(conn *Connection) {
	s.mu.Lock()
	_, known := s.connections[conn.id]
	delete(s.connections, conn.id)
	count := len(s.connections)
	s.mu.Unlock()

	if !known {
		return
	}

	conn.Close(websocket.StatusNormalClosure, "")
	s.controller.Disconnect(conn)
	s.metrics.RecordGauge("websocket_connections_active", float64(count), nil)
}

// Close tears down every live connection
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	s.connections = make(map[string]*Connection)
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		s.controller.Disconnect(conn)
	}
	return nil
}
