package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colabhub/relay/internal/config"
	"github.com/colabhub/relay/internal/presence"
	"github.com/colabhub/relay/internal/websocket"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	_, r := newTestRelay(t)
	return r
}

func newTestRelay(t *testing.T) (*websocket.Hub, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load(config.New())
	require.NoError(t, err)

	hub := websocket.NewHub(presence.NewDirectory(), websocket.HubConfig{})
	go hub.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})

	return hub, newRouter(cfg, hub, nil)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, serviceName, body["service"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t)

	// Serve one request so the HTTP collectors have a sample
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "http_requests_total"))
	assert.True(t, strings.Contains(w.Body.String(), "relay_connections_active"))
}

func TestOnlineEndpointWired(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/relay/online", bytes.NewBufferString(`{"usernames":["alice"]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Statuses map[string]bool `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]bool{"alice": false}, body.Statuses)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/relay/online", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketThroughRouter(t *testing.T) {
	hub, r := newTestRelay(t)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	for _, path := range wsPaths {
		t.Run(path, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
			dial := func() *cws.Conn {
				conn, _, err := cws.Dial(ctx, url, nil)
				require.NoError(t, err)
				t.Cleanup(func() { conn.CloseNow() })
				return conn
			}
			alice, bob := dial(), dial()

			// Distinct names per path keep the subtests independent
			from, to := "alice"+path, "bob"+path
			for conn, name := range map[*cws.Conn]string{alice: from, bob: to} {
				require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{
					"type":    websocket.MessageTypeIdentify,
					"payload": name,
				}))
			}
			require.Eventually(t, func() bool {
				return hub.IsUserOnline(from) && hub.IsUserOnline(to)
			}, 2*time.Second, 5*time.Millisecond)

			require.NoError(t, wsjson.Write(ctx, alice, map[string]interface{}{
				"type":    websocket.MessageTypeMessage,
				"payload": map[string]string{"to": to, "from": from, "content": "hi"},
			}))

			var msg websocket.Message
			require.NoError(t, wsjson.Read(ctx, bob, &msg))
			require.Equal(t, websocket.MessageTypeMessage, msg.Type)
			var d websocket.Delivery
			require.NoError(t, msg.ParsePayload(&d))
			assert.Equal(t, websocket.Delivery{From: from, Content: "hi"}, d)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--env-file", "does-not-exist.env"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "relay dev\n", out.String())
}
