package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrSendBufferFull is returned when a client's outbound queue is full.
// The message is dropped rather than blocking the session pipeline.
var ErrSendBufferFull = errors.New("connection send buffer full")

// Connection wraps one WebSocket client and its outbound queue
type Connection struct {
	id     string
	userID string
	conn   *websocket.Conn
	server *Server
	send   chan []byte

	// Inbound message rate limit, applied before any dispatch
	limiter *rate.Limiter

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(id, userID string, conn *websocket.Conn, server *Server) *Connection {
	return &Connection{
		id:      id,
		userID:  userID,
		conn:    conn,
		server:  server,
		send:    make(chan []byte, server.config.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(server.config.MessageRatePerSecond), server.config.MessageRateBurst),
		closed:  make(chan struct{}),
	}
}

// ConnectionID identifies this connection within the hub
func (c *Connection) ConnectionID() string { return c.id }

// Send queues an envelope for delivery. Slow consumers have messages
// dropped instead of stalling the writer.
func (c *Connection) Send(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to marshal envelope")
	}

	select {
	case <-c.closed:
		return errors.New("connection closed")
	case c.send <- data:
		return nil
	default:
		c.server.logger.Warn("Dropping message, send buffer full", map[string]interface{}{
			"connection_id": c.id,
			"message_type":  env.Type,
		})
		c.server.metrics.IncrementCounter("websocket_messages_dropped_total", 1)
		return ErrSendBufferFull
	}
}

// readPump reads client messages until the connection dies, then tears
// the connection down. Runs on the HTTP handler goroutine.
func (c *Connection) readPump(ctx context.Context) {
	defer c.server.unregister(c)

	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.server.logger.Debug("WebSocket read ended", map[string]interface{}{
					"connection_id": c.id,
					"error":         err.Error(),
				})
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		if !c.limiter.Allow() {
			c.sendError("message rate limit exceeded", CodeSessionBusy)
			c.server.metrics.IncrementCounter("websocket_messages_rate_limited_total", 1)
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("malformed message", CodeValidationFailed)
			continue
		}

		c.server.controller.HandleMessage(ctx, c, &env)
	}
}

// writePump owns all writes to the socket: queued messages plus pings
func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, c.server.config.WriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
			c.server.metrics.IncrementCounter("websocket_messages_sent_total", 1)
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.server.config.WriteTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.Close(websocket.StatusAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// sendError reports a problem back to this client only
func (c *Connection) sendError(message, code string) {
	env, err := NewEnvelope(MessageError, "", ErrorPayload{Error: message, Code: code})
	if err != nil {
		return
	}
	_ = c.Send(env)
}

// Close shuts the socket down exactly once
func (c *Connection) Close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close(status, reason)
	})
}
