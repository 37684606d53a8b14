// Package websocket relays chat messages between identified WebSocket connections.
// Uses github.com/coder/websocket for the transport.
package websocket

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/colabhub/relay/internal/identity"
	"github.com/colabhub/relay/internal/logger"
	"github.com/colabhub/relay/internal/metrics"
	"github.com/colabhub/relay/internal/presence"
)

// HubConfig tunes connection handling
type HubConfig struct {
	// SendBuffer is the number of outbound frames queued per connection
	SendBuffer int
	// MaxFrameBytes is the transport read limit
	MaxFrameBytes int64
	// MaxContentBytes drops chat messages with longer content. 0 means unlimited.
	MaxContentBytes int
	// IdentifyTimeout closes connections still anonymous after this long. 0 disables it.
	IdentifyTimeout time.Duration
	RateLimit       RateLimitConfig

	Verifier identity.Verifier
	// Observer is told about directory changes. Optional.
	Observer presence.Observer
}

// DefaultHubConfig returns the settings that match the historical relay
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:    256,
		MaxFrameBytes: 512 * 1024,
		Verifier:      identity.Trusting{},
	}
}

// Metrics tracks relay statistics
type Metrics struct {
	TotalConnections   atomic.Int64
	ActiveConnections  atomic.Int64
	MessagesReceived   atomic.Int64
	MessagesDelivered  atomic.Int64
	MessagesDropped    atomic.Int64
	EventsRejected     atomic.Int64
	Errors             atomic.Int64
	ConnectionsDropped atomic.Int64
}

type eventKind int

const (
	evRegister eventKind = iota
	evUnregister
	evBind
	evRoute
	evExpire
	evFlush
)

type hubEvent struct {
	kind     eventKind
	client   *Client
	username string
	chat     ChatMessage
	done     chan struct{}
}

// Hub owns every live connection and the presence directory. All lifecycle and
// routing work runs on the Run goroutine, one event at a time, in the order the
// events were submitted.
type Hub struct {
	directory *presence.Directory

	// Live connections, touched only by the Run goroutine
	clients map[presence.ConnID]*Client

	events chan hubEvent

	config  HubConfig
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub routing through directory
func NewHub(directory *presence.Directory, config HubConfig) *Hub {
	defaults := DefaultHubConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = defaults.MaxFrameBytes
	}
	if config.Verifier == nil {
		config.Verifier = defaults.Verifier
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		directory: directory,
		clients:   make(map[presence.ConnID]*Client),
		events:    make(chan hubEvent, 1024),
		config:    config,
		metrics:   &Metrics{},
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Config returns the hub settings
func (h *Hub) Config() HubConfig {
	return h.config
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)
	logger.Log.Info("Relay hub starting")

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

func (h *Hub) handle(ev hubEvent) {
	switch ev.kind {
	case evRegister:
		h.registerClient(ev.client)
	case evUnregister:
		h.unregisterClient(ev.client)
	case evBind:
		h.bind(ev.client, ev.username)
	case evRoute:
		h.route(ev.client, ev.chat)
	case evExpire:
		h.expire(ev.client)
	case evFlush:
		close(ev.done)
	}
}

func (h *Hub) submit(ev hubEvent) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.events <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Register adds a client in the anonymous state. It returns false once the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	return h.submit(hubEvent{kind: evRegister, client: client})
}

// Unregister closes a client and removes its directory entry
func (h *Hub) Unregister(client *Client) {
	h.submit(hubEvent{kind: evUnregister, client: client})
}

// Identify binds username to the client's connection
func (h *Hub) Identify(client *Client, username string) {
	h.submit(hubEvent{kind: evBind, client: client, username: username})
}

// Route forwards msg to the connection bound to msg.To, if there is one
func (h *Hub) Route(from *Client, msg ChatMessage) {
	h.submit(hubEvent{kind: evRoute, client: from, chat: msg})
}

// flush returns once every event submitted before it has been handled
func (h *Hub) flush() {
	done := make(chan struct{})
	if !h.submit(hubEvent{kind: evFlush, done: done}) {
		return
	}
	select {
	case <-done:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client.ID] = client
	client.setState(StateAnonymous)

	if h.config.IdentifyTimeout > 0 {
		client.identifyTimer = time.AfterFunc(h.config.IdentifyTimeout, func() {
			h.submit(hubEvent{kind: evExpire, client: client})
		})
	}

	h.metrics.TotalConnections.Add(1)
	h.metrics.ActiveConnections.Add(1)
	metrics.Get().ConnectionsTotal.Inc()
	metrics.Get().ConnectionsActive.Inc()

	logger.Log.Info("Client connected",
		logger.WithConnID(client.ID.String()),
		zap.String("remote_addr", client.RemoteAddr),
		zap.Int64("active", h.metrics.ActiveConnections.Load()))
}

func (h *Hub) unregisterClient(client *Client) {
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)

	if client.identifyTimer != nil {
		client.identifyTimer.Stop()
	}

	if name, ok := h.directory.UnbindByConnection(client.ID); ok {
		h.notifyUnbind(name)
	}
	metrics.Get().DirectorySize.Set(float64(h.directory.Len()))

	client.setState(StateClosed)
	close(client.send)

	h.metrics.ActiveConnections.Add(-1)
	metrics.Get().ConnectionsActive.Dec()

	logger.Log.Info("Client disconnected",
		append(client.logFields(), zap.Int64("active", h.metrics.ActiveConnections.Load()))...)
}

func (h *Hub) bind(client *Client, username string) {
	if _, ok := h.clients[client.ID]; !ok {
		// Connection closed before its identify reached the loop
		return
	}

	res := h.directory.Bind(username, client.ID)

	if res.Released != "" {
		h.notifyUnbind(res.Released)
	}
	if displaced, ok := h.clients[res.Displaced]; ok {
		displaced.setUsername("")
		displaced.setState(StateAnonymous)
		logger.Log.Info("Identity moved to a newer connection",
			logger.WithUsername(username),
			logger.WithConnID(client.ID.String()),
			zap.String("displaced_conn_id", displaced.ID.String()))
	}
	if h.config.Observer != nil {
		h.config.Observer.OnBind(username, client.ID)
	}

	client.setUsername(username)
	client.setState(StateIdentified)
	if client.identifyTimer != nil {
		client.identifyTimer.Stop()
		client.identifyTimer = nil
	}

	metrics.Get().IdentifyTotal.WithLabelValues(metrics.IdentifyBound).Inc()
	metrics.Get().DirectorySize.Set(float64(h.directory.Len()))

	logger.Log.Info("Client identified", client.logFields()...)
}

func (h *Hub) route(from *Client, msg ChatMessage) {
	target, ok := h.lookup(msg.To)
	if !ok {
		h.metrics.MessagesDropped.Add(1)
		metrics.Get().MessagesTotal.WithLabelValues(metrics.ResultDroppedOffline).Inc()
		logger.Log.Debug("Recipient offline, message dropped",
			logger.WithConnID(from.ID.String()),
			zap.String("to", msg.To))
		return
	}

	frame, err := encodeDelivery(msg)
	if err != nil {
		h.metrics.Errors.Add(1)
		logger.Log.Error("Error encoding delivery", zap.Error(err))
		return
	}

	select {
	case target.send <- frame:
		h.metrics.MessagesDelivered.Add(1)
		metrics.Get().MessagesTotal.WithLabelValues(metrics.ResultDelivered).Inc()
		logger.Log.Debug("Message delivered",
			zap.String("from", msg.From),
			zap.String("to", msg.To))
	default:
		// Recipient is not draining its buffer; cut it loose rather than block the loop
		h.metrics.MessagesDropped.Add(1)
		h.metrics.ConnectionsDropped.Add(1)
		metrics.Get().MessagesTotal.WithLabelValues(metrics.ResultDroppedStalled).Inc()
		logger.Log.Warn("Recipient send buffer full, closing connection", target.logFields()...)

		target.setCloseReason(websocket.StatusTryAgainLater, "send buffer full")
		h.unregisterClient(target)
	}
}

func (h *Hub) lookup(username string) (*Client, bool) {
	conn, ok := h.directory.Resolve(username)
	if !ok {
		return nil, false
	}
	client, ok := h.clients[conn]
	return client, ok
}

func (h *Hub) expire(client *Client) {
	if _, ok := h.clients[client.ID]; !ok || client.State() != StateAnonymous {
		return
	}
	logger.Log.Info("Closing connection that never identified",
		logger.WithConnID(client.ID.String()),
		zap.Duration("timeout", h.config.IdentifyTimeout))

	client.setCloseReason(websocket.StatusPolicyViolation, "identify timeout")
	h.unregisterClient(client)
}

func (h *Hub) notifyUnbind(name string) {
	if h.config.Observer != nil {
		h.config.Observer.OnUnbind(name)
	}
}

// IsUserOnline reports whether username is bound to a live connection
func (h *Hub) IsUserOnline(username string) bool {
	_, ok := h.directory.Resolve(username)
	return ok
}

// GetOnlineUsers returns the bound usernames in sorted order
func (h *Hub) GetOnlineUsers() []string {
	return h.directory.Identities()
}

// GetMetrics returns current relay metrics
func (h *Hub) GetMetrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalConnections:   h.metrics.TotalConnections.Load(),
		ActiveConnections:  h.metrics.ActiveConnections.Load(),
		OnlineUsers:        int64(h.directory.Len()),
		MessagesReceived:   h.metrics.MessagesReceived.Load(),
		MessagesDelivered:  h.metrics.MessagesDelivered.Load(),
		MessagesDropped:    h.metrics.MessagesDropped.Load(),
		EventsRejected:     h.metrics.EventsRejected.Load(),
		Errors:             h.metrics.Errors.Load(),
		ConnectionsDropped: h.metrics.ConnectionsDropped.Load(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	TotalConnections   int64 `json:"total_connections"`
	ActiveConnections  int64 `json:"active_connections"`
	OnlineUsers        int64 `json:"online_users"`
	MessagesReceived   int64 `json:"messages_received"`
	MessagesDelivered  int64 `json:"messages_delivered"`
	MessagesDropped    int64 `json:"messages_dropped"`
	EventsRejected     int64 `json:"events_rejected"`
	Errors             int64 `json:"errors"`
	ConnectionsDropped int64 `json:"connections_dropped"`
}

// String implements Stringer for MetricsSnapshot
func (m MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"connections=%d/%d online=%d messages=rx:%d/tx:%d/dropped:%d rejected=%d errors=%d",
		m.ActiveConnections, m.TotalConnections, m.OnlineUsers,
		m.MessagesReceived, m.MessagesDelivered, m.MessagesDropped,
		m.EventsRejected, m.Errors,
	)
}

// Shutdown stops the event loop, closing every connection and emptying the directory.
func (h *Hub) Shutdown(ctx context.Context) error {
	logger.Log.Info("Initiating relay hub shutdown")
	h.cancel()

	select {
	case <-h.done:
		logger.Log.Info("Relay hub shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// shutdown closes all client connections
func (h *Hub) shutdown() {
	for id, client := range h.clients {
		if client.identifyTimer != nil {
			client.identifyTimer.Stop()
		}
		client.setCloseReason(websocket.StatusGoingAway, "server shutdown")
		client.setState(StateClosed)
		close(client.send)
		delete(h.clients, id)
	}

	// Registrations queued before cancel never reached clients; close them too
drain:
	for {
		select {
		case ev := <-h.events:
			if ev.kind == evRegister {
				ev.client.setCloseReason(websocket.StatusGoingAway, "server shutdown")
				ev.client.setState(StateClosed)
				close(ev.client.send)
			}
		default:
			break drain
		}
	}

	for _, name := range h.directory.Reset() {
		h.notifyUnbind(name)
	}

	closed := h.metrics.ActiveConnections.Swap(0)
	metrics.Get().ConnectionsActive.Sub(float64(closed))
	metrics.Get().DirectorySize.Set(0)

	logger.Log.Info("Closed connections during shutdown", zap.Int64("count", closed))
}
