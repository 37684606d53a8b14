package websocket

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/colabhub/relay/internal/identity"
	"github.com/colabhub/relay/internal/logger"
	"github.com/colabhub/relay/internal/util"
)

// maxStatusLookup caps the usernames accepted by HandleOnlineStatus
const maxStatusLookup = 500

// Handler handles WebSocket HTTP upgrade requests and the relay's read endpoints
type Handler struct {
	hub        *Hub
	acceptOpts *websocket.AcceptOptions
	startedAt  time.Time
}

// NewHandler creates a new WebSocket handler. An empty allowedOrigins or one
// containing "*" accepts upgrades from any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub:        hub,
		acceptOpts: acceptOptions(allowedOrigins),
		startedAt:  time.Now(),
	}
}

func acceptOptions(allowedOrigins []string) *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	}

	patterns := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		// OriginPatterns match against the origin host
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		} else {
			patterns = append(patterns, origin)
		}
	}
	if len(patterns) == 0 {
		opts.InsecureSkipVerify = true
		return opts
	}
	opts.OriginPatterns = patterns
	return opts
}

// HandleWebSocket upgrades the request and serves the connection until it closes.
// Connections start anonymous; an identify event binds them to a username.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	// gin's writer refuses to hijack once Accept has flushed the 101 header
	w := http.ResponseWriter(c.Writer)
	if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = u.Unwrap()
	}

	conn, err := websocket.Accept(w, c.Request, h.acceptOpts)
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed",
			logger.WithIP(c.ClientIP()),
			zap.String("origin", c.GetHeader("Origin")),
			zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, identity.Credentials{
		Token:      identity.TokenFromRequest(c.Request),
		RemoteAddr: c.ClientIP(),
	})
	client.RemoteAddr = c.ClientIP()
	client.UserAgent = c.GetHeader("User-Agent")

	if !h.hub.Register(client) {
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go client.WritePump()
	client.ReadPump() // This blocks until client disconnects
}

// HandleStats returns relay counters (for monitoring)
func (h *Handler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"relay":          h.hub.GetMetrics(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC(),
	})
}

// HandleOnlineStatus checks if specific usernames are bound to a live connection
func (h *Handler) HandleOnlineStatus(c *gin.Context) {
	var req struct {
		Usernames []string `json:"usernames" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "request body must contain a usernames array", err)
		return
	}
	if len(req.Usernames) > maxStatusLookup {
		util.RespondValidationError(c, "usernames", fmt.Sprintf("at most %d usernames per request", maxStatusLookup))
		return
	}

	statuses := make(map[string]bool, len(req.Usernames))
	for _, name := range req.Usernames {
		if strings.TrimSpace(name) == "" {
			continue
		}
		statuses[name] = h.hub.IsUserOnline(name)
	}

	c.JSON(http.StatusOK, gin.H{
		"statuses":  statuses,
		"timestamp": time.Now().UTC(),
	})
}
