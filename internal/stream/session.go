package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/marketcalls/openalgo-stream/internal/cache"
	"github.com/marketcalls/openalgo-stream/internal/connection"
	"github.com/marketcalls/openalgo-stream/internal/model"
	"github.com/marketcalls/openalgo-stream/internal/registry"
)

// Session is the long-lived streaming session: one connection, the
// subscription registry, the market-data cache, and the dispatcher that
// feeds it. A host process constructs one Session and shares it by
// reference with every caller; all methods are safe for concurrent use.
type Session struct {
	cfg    Config
	logger *slog.Logger

	conn  *connection.Conn
	cache *cache.Cache
	reg   *registry.Registry

	updates chan Update
	sent    atomic.Int64
	dropped atomic.Int64

	// Serializes Connect orchestration; TryLock makes a concurrent
	// connect fail fast instead of queueing.
	connectMu sync.Mutex

	mu         sync.Mutex
	dispCancel context.CancelFunc
	closed     bool
}

// NewSession creates a session in the Disconnected state.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("instance", cfg.InstanceID)

	s := &Session{
		cfg:     cfg,
		logger:  logger,
		conn:    connection.NewConn(cfg.Conn, logger),
		cache:   cache.New(),
		updates: make(chan Update, cfg.UpdateBufferSize),
	}
	s.reg = registry.New(registry.Config{
		Confirm:           cfg.Confirm,
		AckTimeout:        cfg.AckTimeout,
		DefaultDepthLevel: cfg.DefaultDepthLevel,
	}, s, s.cache, logger)

	return s
}

// Connect opens the transport, starts the dispatcher, and performs the
// authentication handshake. A no-op when already open; fails with
// ErrConnectInProgress while another connect is underway and with
// ErrAlreadyClosed once the session has been closed. There is no
// automatic retry; callers re-invoke Connect after a failure.
func (s *Session) Connect(ctx context.Context, url string) error {
	if !s.connectMu.TryLock() {
		return connection.ErrConnectInProgress
	}
	defer s.connectMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return connection.ErrAlreadyClosed
	}

	if s.conn.State() == connection.StateOpen {
		return nil
	}

	if err := s.conn.Dial(ctx, url); err != nil {
		return err
	}

	// The dispatcher must be consuming before authentication so the
	// server's verdict can be routed to the pending completion.
	dctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		conn:    s.conn,
		reg:     s.reg,
		cache:   s.cache,
		updates: s.updates,
		logger:  s.logger,
		sent:    &s.sent,
		dropped: &s.dropped,
	}
	go d.run(dctx, s.conn.Messages(), s.conn.Errors())

	s.mu.Lock()
	if s.dispCancel != nil {
		s.dispCancel()
	}
	s.dispCancel = cancel
	s.mu.Unlock()

	if err := s.conn.Authenticate(ctx); err != nil {
		cancel()
		return err
	}

	s.logger.Info("session connected", "state", s.conn.State().String())
	return nil
}

// Close shuts the connection down and stops the dispatcher. Registry
// and cache state survive: UnsubscribeAll is the only full reset.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.dispCancel
	s.dispCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.conn.Close()

	s.logger.Info("session closed")
	return err
}

// EnsureConnected connects with the configured URL when the connection
// is down. Part of the registry.Transport contract.
func (s *Session) EnsureConnected(ctx context.Context) error {
	if s.conn.State() == connection.StateOpen {
		return nil
	}
	return s.Connect(ctx, "")
}

// Authenticated reports whether the handshake has completed.
func (s *Session) Authenticated() bool {
	return s.conn.IsAuthenticated()
}

// Send writes a message to the socket.
func (s *Session) Send(data []byte) error {
	return s.conn.Send(data)
}

// State returns the connection state.
func (s *Session) State() connection.State {
	return s.conn.State()
}

// Subscribe explicitly subscribes a key, clearing any manual
// unsubscribe marker. Auto-connects when the connection is down.
func (s *Session) Subscribe(ctx context.Context, key model.SubscriptionKey, depthLevel int) error {
	return s.reg.Subscribe(ctx, key, depthLevel)
}

// Unsubscribe removes a subscription and its cached data immediately,
// and marks the key so it is never auto-resubscribed.
func (s *Session) Unsubscribe(key model.SubscriptionKey) error {
	return s.reg.Unsubscribe(key)
}

// UnsubscribeAll drops every subscription, clears all markers, and
// purges the cache. This is the full reset.
func (s *Session) UnsubscribeAll() {
	s.reg.UnsubscribeAll()
}

// Read is the polling read path. It never blocks waiting for data:
// sentinel results tell the poller to come back on its next tick.
func (s *Session) Read(ctx context.Context, key model.SubscriptionKey) ReadResult {
	if err := key.Validate(); err != nil {
		return ReadResult{Status: ReadError, Err: err}
	}

	if s.reg.WasManuallyUnsubscribed(key) {
		return ReadResult{Status: ReadUnsubscribed}
	}

	if s.reg.IsSubscribed(key) {
		if entry, ok := s.cache.Get(key); ok {
			return ReadResult{Status: ReadData, Entry: entry}
		}
		return ReadResult{Status: ReadWaiting}
	}

	if s.reg.IsPending(key) {
		return ReadResult{Status: ReadSubscribing}
	}

	// First read of an unknown key: fire the subscribe. The call
	// returns once the request is sent; the ack resolves later.
	if err := s.reg.AutoSubscribe(ctx, key, 0); err != nil {
		return ReadResult{Status: ReadError, Err: err}
	}
	return ReadResult{Status: ReadSubscribing}
}

// ReadByTopic serves consumers that key by the server-supplied topic.
func (s *Session) ReadByTopic(topic string) (cache.Entry, bool) {
	return s.cache.GetByTopic(topic)
}

// ListActive returns the active subscription keys as sorted strings.
func (s *Session) ListActive() []string {
	return s.reg.ListActive()
}

// Updates returns the host notification feed: one event per cache
// admission, dropped (never blocking the dispatcher) on backpressure.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Stats returns a snapshot for the health endpoint.
func (s *Session) Stats() Stats {
	return Stats{
		InstanceID:     s.cfg.InstanceID,
		State:          s.conn.State().String(),
		Authenticated:  s.conn.IsAuthenticated(),
		Subscriptions:  s.reg.Count(),
		CacheEntries:   s.cache.Len(),
		UpdatesSent:    s.sent.Load(),
		UpdatesDropped: s.dropped.Load(),
	}
}
