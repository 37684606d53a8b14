package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/colabhub/relay/internal/logger"
)

func TestRejectedEventLogsReason(t *testing.T) {
	// Runs before the socket tests so no pump goroutine reads logger.Log meanwhile
	core, logs := observer.New(zap.WarnLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })

	hub := newTestHub(t, HubConfig{})
	c := newTestClient(t, hub)
	c.handleFrame(frame(t, "typing", "x"))

	entries := logs.FilterMessage("Ignoring client event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "UNKNOWN_EVENT", entries[0].ContextMap()["reason"])
	assert.Equal(t, c.ID.String(), entries[0].ContextMap()["conn_id"])
}
