package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	relayerrors "github.com/colabhub/relay/internal/errors"
	"github.com/colabhub/relay/internal/identity"
	"github.com/colabhub/relay/internal/logger"
	"github.com/colabhub/relay/internal/metrics"
	"github.com/colabhub/relay/internal/presence"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Send pings to peer with this period
	pingPeriod = 54 * time.Second
)

// ConnState is where a connection is in its lifecycle
type ConnState int32

const (
	StateAnonymous ConnState = iota
	StateIdentified
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client represents a single WebSocket connection
type Client struct {
	// ID is the only handle the directory keeps for this connection
	ID presence.ConnID

	conn *websocket.Conn
	hub  *Hub

	// Buffered channel of outbound frames. Only the hub loop sends on or closes it.
	send chan []byte

	creds identity.Credentials

	// Connection metadata
	ConnectedAt time.Time
	RemoteAddr  string
	UserAgent   string

	rateLimiter *rate.Limiter

	state atomic.Int32

	mu          sync.RWMutex
	username    string
	closed      bool
	closeStatus websocket.StatusCode
	closeReason string

	// Owned by the hub loop
	identifyTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a new Client in the anonymous state
func NewClient(hub *Hub, conn *websocket.Conn, creds identity.Credentials) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := hub.Config()

	c := &Client{
		ID:          uuid.New(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		creds:       creds,
		ConnectedAt: time.Now(),
		closeStatus: websocket.StatusNormalClosure,
		closeReason: "closing",
		rateLimiter: newRateLimiter(cfg.RateLimit),
		ctx:         ctx,
		cancel:      cancel,
	}
	return c
}

// ReadPump reads frames until the connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.hub.Config().MaxFrameBytes)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Log.Info("Client disconnected normally", c.logFields()...)
			} else if c.ctx.Err() == nil {
				logger.Log.Info("Client connection lost", append(c.logFields(), zap.Error(err))...)
				c.hub.metrics.Errors.Add(1)
			}
			return
		}

		c.handleFrame(data)
	}
}

// WritePump writes queued frames and keepalive pings until the hub closes the
// send channel or the connection fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case frame, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				return
			}

			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, frame)
			cancel()

			if err != nil {
				logger.Log.Warn("Write error for client", append(c.logFields(), zap.Error(err))...)
				c.hub.metrics.Errors.Add(1)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				logger.Log.Warn("Ping failed for client", append(c.logFields(), zap.Error(err))...)
				return
			}
		}
	}
}

// handleFrame processes one inbound frame. Bad input is logged and ignored;
// nothing is ever sent back to the client.
func (c *Client) handleFrame(data []byte) {
	c.hub.metrics.MessagesReceived.Add(1)

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reject(relayerrors.Malformed("frame", err))
		return
	}

	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.reject(relayerrors.RateLimited(msg.Type))
		return
	}

	switch msg.Type {
	case MessageTypeIdentify:
		c.handleIdentify(&msg)
	case MessageTypeMessage:
		c.handleChat(&msg)
	default:
		c.reject(relayerrors.UnknownEvent(msg.Type))
	}
}

func (c *Client) handleIdentify(msg *Message) {
	username, err := decodeIdentify(msg)
	if err != nil {
		c.reject(relayerrors.Malformed(MessageTypeIdentify, err))
		return
	}

	if err := c.hub.Config().Verifier.Verify(c.ctx, username, c.creds); err != nil {
		metrics.Get().IdentifyTotal.WithLabelValues(metrics.IdentifyRejected).Inc()
		c.reject(relayerrors.IdentityRejected(err), logger.WithUsername(username))
		return
	}

	c.hub.Identify(c, username)
}

func (c *Client) handleChat(msg *Message) {
	chat, err := decodeChat(msg)
	if err != nil {
		c.reject(relayerrors.Malformed(MessageTypeMessage, err))
		return
	}

	if limit := c.hub.Config().MaxContentBytes; limit > 0 && len(chat.Content) > limit {
		metrics.Get().MessagesTotal.WithLabelValues(metrics.ResultRejected).Inc()
		c.reject(relayerrors.ContentTooLarge(len(chat.Content), limit))
		return
	}

	c.hub.Route(c, chat)
}

func (c *Client) reject(err *relayerrors.RelayError, fields ...zap.Field) {
	c.hub.metrics.EventsRejected.Add(1)
	metrics.Get().EventsRejected.WithLabelValues(string(err.Code)).Inc()

	fields = append(c.logFields(), fields...)
	fields = append(fields, logger.WithReason(string(err.Code)), zap.Error(err))
	logger.Log.Warn("Ignoring client event", fields...)
}

// Username returns the identity the connection is bound to, if any
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) setUsername(name string) {
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
}

// State returns the lifecycle state
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	c.state.Store(int32(s))
}

// setCloseReason chooses the close frame sent when the connection is torn down
func (c *Client) setCloseReason(status websocket.StatusCode, reason string) {
	c.mu.Lock()
	c.closeStatus = status
	c.closeReason = reason
	c.mu.Unlock()
}

// Close cancels the client's context and closes the transport
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	status, reason := c.closeStatus, c.closeReason
	c.mu.Unlock()

	if c.conn != nil {
		// Close performs the closing handshake, so it runs before cancel
		// tears down the reader.
		c.conn.Close(status, reason)
	}
	c.cancel()
}

// IsClosed returns whether the client connection is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) logFields() []zap.Field {
	fields := []zap.Field{logger.WithConnID(c.ID.String())}
	if name := c.Username(); name != "" {
		fields = append(fields, logger.WithUsername(name))
	}
	return fields
}
