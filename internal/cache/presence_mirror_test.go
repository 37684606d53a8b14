package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colabhub/relay/internal/config"
	"github.com/colabhub/relay/internal/metrics"
)

func TestMirrorDropsWhenQueueFull(t *testing.T) {
	// The writer is never started, so nothing drains the queue and no
	// connection to the address is attempted.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	m := NewPresenceMirror(client, 1)
	before := testutil.ToFloat64(metrics.Get().MirrorUpdatesDropped)

	m.OnBind("alice", uuid.New())
	m.OnUnbind("alice")

	assert.Len(t, m.updates, 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Get().MirrorUpdatesDropped))
}

func TestMirrorIgnoresUpdatesAfterStop(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	m := NewPresenceMirror(client, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = m.Stop(ctx) // the final DEL fails without a server

	assert.NotPanics(t, func() {
		m.OnBind("alice", uuid.New())
		m.OnUnbind("alice")
	})
	assert.NoError(t, m.Stop(ctx))
}

func TestNewRedisClientInvalidURL(t *testing.T) {
	_, err := NewRedisClient(config.RedisConfig{URL: "://nope"})
	assert.Error(t, err)
}

// Runs against a real server when REDIS_URL is set
func TestMirrorWritesToRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" || testing.Short() {
		t.Skip("REDIS_URL not set")
	}

	client, err := NewRedisClient(config.RedisConfig{URL: url})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	m := NewPresenceMirror(client, 0)
	require.NoError(t, m.Start(ctx))

	alice, bob := uuid.New(), uuid.New()
	m.OnBind("alice", alice)
	m.OnBind("bob", bob)
	m.OnUnbind("bob")

	assert.Eventually(t, func() bool {
		online, err := m.Online(ctx)
		return err == nil && len(online) == 1 && online["alice"] == alice.String()
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, m.Stop(ctx))
	online, err := m.Online(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}
