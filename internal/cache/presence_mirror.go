package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/colabhub/relay/internal/logger"
	"github.com/colabhub/relay/internal/metrics"
	"github.com/colabhub/relay/internal/presence"
)

// PresenceKey is the redis hash holding username -> connection id
const PresenceKey = "relay:presence"

const defaultMirrorQueue = 1024

type mirrorUpdate struct {
	identity string
	conn     string // empty means remove
}

// PresenceMirror copies directory changes into a redis hash so the rest of the
// application can see who is online. The directory stays authoritative; the
// mirror is written asynchronously and may lag or drop updates.
type PresenceMirror struct {
	client *redis.Client
	key    string

	updates chan mirrorUpdate

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

var _ presence.Observer = (*PresenceMirror)(nil)

// NewPresenceMirror creates a mirror writing to PresenceKey. queueSize <= 0 uses the default.
func NewPresenceMirror(client *redis.Client, queueSize int) *PresenceMirror {
	if queueSize <= 0 {
		queueSize = defaultMirrorQueue
	}
	return &PresenceMirror{
		client:  client,
		key:     PresenceKey,
		updates: make(chan mirrorUpdate, queueSize),
	}
}

// Start clears stale entries left by a previous process and starts the writer.
func (m *PresenceMirror) Start(ctx context.Context) error {
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.run()

	logger.Log.Info("Presence mirror started", zap.String("key", m.key))
	return nil
}

// OnBind records identity as online on conn
func (m *PresenceMirror) OnBind(identity string, conn presence.ConnID) {
	m.enqueue(mirrorUpdate{identity: identity, conn: conn.String()})
}

// OnUnbind records identity as offline
func (m *PresenceMirror) OnUnbind(identity string) {
	m.enqueue(mirrorUpdate{identity: identity})
}

func (m *PresenceMirror) enqueue(u mirrorUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	select {
	case m.updates <- u:
	default:
		metrics.Get().MirrorUpdatesDropped.Inc()
		logger.Log.Warn("Presence mirror queue full, dropping update",
			logger.WithUsername(u.identity))
	}
}

func (m *PresenceMirror) run() {
	defer m.wg.Done()

	for u := range m.updates {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		var err error
		if u.conn == "" {
			err = m.client.HDel(ctx, m.key, u.identity).Err()
		} else {
			err = m.client.HSet(ctx, m.key, u.identity, u.conn).Err()
		}
		cancel()

		if err != nil {
			logger.Log.Warn("Presence mirror write failed",
				logger.WithUsername(u.identity),
				zap.Error(err))
		}
	}
}

// Online returns the mirrored username -> connection id map
func (m *PresenceMirror) Online(ctx context.Context) (map[string]string, error) {
	return m.client.HGetAll(ctx, m.key).Result()
}

// Stop drains pending updates and removes the hash.
func (m *PresenceMirror) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.updates)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return m.client.Del(ctx, m.key).Err()
}
