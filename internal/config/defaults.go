package config

import (
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
const (
	DefaultWSURL             = "ws://127.0.0.1:8765"
	DefaultAckTimeout        = 30 * time.Second
	DefaultAuthGrace         = 500 * time.Millisecond
	DefaultWriteTimeout      = 5 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultDepthLevel        = 5
	DefaultMessageBufferSize = 1000
	DefaultUpdateBufferSize  = 1024
	DefaultStaleAfter        = 60 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultRedisAddr         = "127.0.0.1:6379"
	DefaultHealthPort        = 8080
	DefaultHealthPath        = "/health"
)

func (c *StreamConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = uuid.NewString()
	}

	// Server defaults
	if c.Server.WSURL == "" {
		c.Server.WSURL = DefaultWSURL
	}

	// Session defaults
	if c.Session.AckTimeout == 0 {
		c.Session.AckTimeout = DefaultAckTimeout
	}
	if c.Session.AuthGrace == 0 {
		c.Session.AuthGrace = DefaultAuthGrace
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = DefaultWriteTimeout
	}
	if c.Session.HandshakeTimeout == 0 {
		c.Session.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Session.DefaultDepthLevel == 0 {
		c.Session.DefaultDepthLevel = DefaultDepthLevel
	}
	if c.Session.MessageBufferSize == 0 {
		c.Session.MessageBufferSize = DefaultMessageBufferSize
	}
	if c.Session.UpdateBufferSize == 0 {
		c.Session.UpdateBufferSize = DefaultUpdateBufferSize
	}
	if c.Session.StaleAfter == 0 {
		c.Session.StaleAfter = DefaultStaleAfter
	}

	// Recorder defaults
	if c.Recorder.Enabled {
		applyDBDefaults(&c.Recorder.Database)
	}
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}

	// Mirror defaults
	if c.Mirror.Addr == "" {
		c.Mirror.Addr = DefaultRedisAddr
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
