package config

import (
	"fmt"
	"strings"
)

// Validate checks required fields and cross-field constraints.
func (c *StreamConfig) Validate() error {
	if c.Server.WSURL == "" {
		return fmt.Errorf("server.ws_url is required")
	}
	if !strings.HasPrefix(c.Server.WSURL, "ws://") && !strings.HasPrefix(c.Server.WSURL, "wss://") {
		return fmt.Errorf("server.ws_url must start with ws:// or wss://")
	}
	if c.Server.APIKey == "" {
		return fmt.Errorf("server.api_key is required")
	}

	if c.Session.DefaultDepthLevel < 0 {
		return fmt.Errorf("session.default_depth_level cannot be negative")
	}

	if c.Recorder.Enabled {
		db := c.Recorder.Database
		if db.Host == "" {
			return fmt.Errorf("recorder.database.host is required")
		}
		if db.Name == "" {
			return fmt.Errorf("recorder.database.name is required")
		}
		if db.User == "" {
			return fmt.Errorf("recorder.database.user is required")
		}
		if db.Password == "" {
			return fmt.Errorf("recorder.database.password is required")
		}
		if db.MinConns > db.MaxConns {
			return fmt.Errorf("recorder.database.min_conns (%d) cannot exceed max_conns (%d)", db.MinConns, db.MaxConns)
		}
	}

	if c.Mirror.Enabled && c.Mirror.Addr == "" {
		return fmt.Errorf("mirror.addr is required")
	}

	return nil
}
