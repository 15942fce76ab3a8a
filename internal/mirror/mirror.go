package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketcalls/openalgo-stream/internal/stream"
)

const keyPrefix = "tick:"

// Config holds mirror settings.
type Config struct {
	// KeyTTL expires mirrored keys; zero keeps them forever.
	KeyTTL time.Duration
}

// Mirror writes the latest admitted tick per subscription into Redis so
// other processes can read last values without their own socket.
type Mirror struct {
	cfg    Config
	logger *slog.Logger
	client *redis.Client

	// Input from the session
	input <-chan stream.Update

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	writes int64
	errors int64
}

// New creates a mirror reading from input.
func New(cfg Config, input <-chan stream.Update, client *redis.Client, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		cfg:    cfg,
		logger: logger,
		client: client,
		input:  input,
	}
}

// Key returns the Redis key for a subscription.
func Key(symbol, exchange string, mode int) string {
	return fmt.Sprintf("%s%s:%s:%d", keyPrefix, exchange, symbol, mode)
}

// Start begins mirroring updates.
func (m *Mirror) Start(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.consumeLoop()

	m.logger.Info("mirror started", "key_ttl", m.cfg.KeyTTL)
	return nil
}

// Stop shuts the mirror down.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("mirror stopped")
}

// Writes returns the number of successful SETs.
func (m *Mirror) Writes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Errors returns the number of failed SETs.
func (m *Mirror) Errors() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors
}

func (m *Mirror) consumeLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case u, ok := <-m.input:
			if !ok {
				return
			}
			m.write(u)
		}
	}
}

// write SETs the update's tick under its subscription key.
func (m *Mirror) write(u stream.Update) {
	payload, err := json.Marshal(u.Tick)
	if err != nil {
		m.logger.Warn("marshal tick failed", "key", u.Key.String(), "error", err)
		return
	}

	key := Key(u.Key.Symbol, u.Key.Exchange, int(u.Key.Mode))
	if err := m.client.Set(m.ctx, key, payload, m.cfg.KeyTTL).Err(); err != nil {
		m.logger.Warn("mirror set failed", "key", key, "error", err)
		m.mu.Lock()
		m.errors++
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.writes++
	m.mu.Unlock()
}
