package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle state of the session connection.
type State int32

// Connection states. Transitions drive whether subscribe/unsubscribe
// operations are permitted.
const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns the lowercase state name used in status strings and logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config configures the session connection.
type Config struct {
	URL         string        // default WebSocket URL
	APIKey      string        // credential for the authenticate handshake
	ConfirmAuth bool          // wait for the server's authentication message
	AckTimeout  time.Duration // confirmed-mode wait for the auth result
	AuthGrace   time.Duration // assumed-mode wait after sending authenticate
	Client      ClientConfig
}

// authResult carries the server's authentication verdict from the
// dispatcher to the goroutine blocked in Authenticate.
type authResult struct {
	ok     bool
	status string
}

// Conn is the session's single connection: a transport client plus the
// Disconnected/Connecting/Open/Closing state machine and the
// authentication handshake. A Conn is reusable across transport
// failures; each Dial creates a fresh transport client.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	authenticated bool
	client        Client
	authPending   chan authResult
}

// NewConn creates a session connection in the Disconnected state.
func NewConn(cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		cfg:    cfg,
		logger: logger,
	}
}

// Dial opens the transport. It is a no-op when already Open, fails with
// ErrConnectInProgress while another connect or a close is underway, and
// leaves the connection in Connecting on success; Authenticate completes
// the transition to Open.
func (c *Conn) Dial(ctx context.Context, url string) error {
	if url == "" {
		url = c.cfg.URL
	}

	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateClosing:
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.state = StateConnecting
	c.authenticated = false

	clientCfg := c.cfg.Client
	clientCfg.URL = url
	client := NewClient(clientCfg, c.logger)
	c.client = client
	c.authPending = make(chan authResult, 1)
	c.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.client = nil
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", url, err)
	}

	return nil
}

// Authenticate sends the authentication message and, depending on
// configuration, waits for the server's verdict (confirmed mode) or a
// short grace period (assumed mode, for servers that never answer).
// On success the connection transitions to Open.
func (c *Conn) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("authenticate in state %s: %w", c.state, ErrNotConnected)
	}
	client := c.client
	pending := c.authPending
	c.mu.Unlock()

	data, err := json.Marshal(AuthRequest{
		Action: ActionAuthenticate,
		APIKey: c.cfg.APIKey,
	})
	if err != nil {
		return fmt.Errorf("marshal authenticate: %w", err)
	}

	if err := client.Send(data); err != nil {
		c.teardown()
		return fmt.Errorf("send authenticate: %w", err)
	}

	if !c.cfg.ConfirmAuth {
		// Assumed mode: the server sends no authentication result.
		select {
		case <-ctx.Done():
			c.teardown()
			return ctx.Err()
		case <-time.After(c.cfg.AuthGrace):
		}
		c.markOpen()
		c.logger.Debug("authenticated (assumed)")
		return nil
	}

	select {
	case <-ctx.Done():
		c.teardown()
		return ctx.Err()
	case <-time.After(c.cfg.AckTimeout):
		c.teardown()
		return ErrAuthTimeout
	case res := <-pending:
		if !res.ok {
			c.teardown()
			return fmt.Errorf("%w: status %q", ErrAuthRejected, res.status)
		}
		c.markOpen()
		c.logger.Debug("authenticated (confirmed)")
		return nil
	}
}

// ResolveAuth delivers the server's authentication verdict. Called by
// the dispatcher when an authentication message arrives.
func (c *Conn) ResolveAuth(status string) {
	c.mu.Lock()
	pending := c.authPending
	c.mu.Unlock()

	if pending == nil {
		return
	}

	select {
	case pending <- authResult{ok: status == StatusSuccess, status: status}:
	default:
		// No authenticate in flight; a late or duplicate verdict.
	}
}

// Send writes a message to the socket. Fails with ErrNotConnected
// unless the connection is Open.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	client := c.client
	c.mu.Unlock()

	return client.Send(data)
}

// Pong answers a protocol-level text ping and records the heartbeat.
func (c *Conn) Pong() error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return ErrNotConnected
	}
	client.MarkHeartbeat()
	return client.Send([]byte(HeartbeatPong))
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsAuthenticated reports whether the handshake has completed.
func (c *Conn) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Messages returns the inbound channel of the current transport, or nil
// when disconnected.
func (c *Conn) Messages() <-chan TimestampedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	return c.client.Messages()
}

// Errors returns the transport error channel, or nil when disconnected.
func (c *Conn) Errors() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	return c.client.Errors()
}

// Close shuts the socket down and returns the connection to
// Disconnected. Registry and cache state are not touched.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	client := c.client
	c.mu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.authenticated = false
	c.client = nil
	c.mu.Unlock()

	return err
}

// MarkDisconnected records a transport failure observed elsewhere (the
// dispatcher's error branch) and tears the socket down.
func (c *Conn) MarkDisconnected(reason error) {
	c.logger.Warn("connection lost", "reason", reason)
	c.teardown()
}

// markOpen completes the Connecting -> Open transition.
func (c *Conn) markOpen() {
	c.mu.Lock()
	c.state = StateOpen
	c.authenticated = true
	c.mu.Unlock()
}

// teardown closes the transport and returns to Disconnected.
func (c *Conn) teardown() {
	c.mu.Lock()
	client := c.client
	c.state = StateDisconnected
	c.authenticated = false
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.Close()
	}
}
