package config

import "time"

// StreamConfig is the root configuration for a streaming session daemon.
type StreamConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Recorder RecorderConfig `yaml:"recorder"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this session instance.
type InstanceConfig struct {
	ID string `yaml:"id"` // generated if empty
}

// ServerConfig holds OpenAlgo WebSocket server settings.
type ServerConfig struct {
	WSURL  string `yaml:"ws_url"`
	APIKey string `yaml:"api_key"`
}

// SessionConfig holds session behavior settings.
type SessionConfig struct {
	// ConfirmSubscriptions selects confirmed mode: wait for explicit
	// server acks on authenticate/subscribe. When false the session
	// assumes success after the request is sent (legacy servers that
	// never ack).
	ConfirmSubscriptions bool `yaml:"confirm_subscriptions"`

	AckTimeout        time.Duration `yaml:"ack_timeout"`         // pending auth/subscribe ack wait
	AuthGrace         time.Duration `yaml:"auth_grace"`          // assumed-mode post-send grace
	WriteTimeout      time.Duration `yaml:"write_timeout"`       // socket write deadline
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`   // dial handshake deadline
	DefaultDepthLevel int           `yaml:"default_depth_level"` // depth subscriptions without an explicit level
	MessageBufferSize int           `yaml:"message_buffer_size"` // inbound message channel capacity
	UpdateBufferSize  int           `yaml:"update_buffer_size"`  // host update feed capacity
	StaleAfter        time.Duration `yaml:"stale_after"`         // no heartbeat for this long means stale socket
}

// RecorderConfig holds tick persistence settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MirrorConfig holds Redis last-value mirror settings.
type MirrorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	KeyTTL   time.Duration `yaml:"key_ttl"` // 0 means no expiry
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
