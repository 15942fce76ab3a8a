package connection

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrAuthTimeout       = errors.New("authentication timed out")
	ErrAuthRejected      = errors.New("authentication rejected")
	ErrTransportClosed   = errors.New("transport closed")
	ErrStaleConnection   = errors.New("connection stale (no heartbeat)")
	ErrAlreadyClosed     = errors.New("already closed")
)

// Heartbeat tokens. These are literal text frames, not JSON.
const (
	HeartbeatPing = "ping"
	HeartbeatPong = "pong"
)

// Outbound actions.
const (
	ActionAuthenticate = "authenticate"
	ActionSubscribe    = "subscribe"
	ActionUnsubscribe  = "unsubscribe"
)

// Inbound message types.
const (
	TypeAuthentication = "authentication"
	TypeSubscription   = "subscription"
	TypeMarketData     = "market_data"
)

// StatusSuccess is the status value the server sends on a positive
// authentication or subscription result.
const StatusSuccess = "success"

// IsHeartbeat reports whether data is the literal ping token,
// case-insensitive and ignoring surrounding whitespace.
func IsHeartbeat(data []byte) bool {
	return bytes.EqualFold(bytes.TrimSpace(data), []byte(HeartbeatPing))
}

// TimestampedMessage wraps raw message data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// AuthRequest is the outbound authentication message.
type AuthRequest struct {
	Action string `json:"action"`
	APIKey string `json:"api_key"`
}

// SubscribeRequest is the outbound subscribe message.
type SubscribeRequest struct {
	Action     string `json:"action"`
	Symbol     string `json:"symbol"`
	Exchange   string `json:"exchange"`
	Mode       int    `json:"mode"`
	DepthLevel int    `json:"depth_level,omitempty"`
}

// UnsubscribeRequest is the outbound unsubscribe message.
type UnsubscribeRequest struct {
	Action   string `json:"action"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Mode     int    `json:"mode"`
}

// Envelope is the common shape of inbound JSON messages. Data is left
// raw; market_data payload parsing belongs to the dispatcher.
type Envelope struct {
	Type     string          `json:"type"`
	Status   string          `json:"status"`
	Symbol   string          `json:"symbol"`
	Exchange string          `json:"exchange"`
	Mode     int             `json:"mode"`
	Topic    string          `json:"topic"`
	Data     json.RawMessage `json:"data"`
}

// ClientConfig configures the WebSocket transport client.
type ClientConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration // write deadline for sends
	BufferSize       int           // message channel capacity
	StaleAfter       time.Duration // max time without a heartbeat before the socket is considered dead
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
		StaleAfter:       60 * time.Second,
	}
}
