// Package config loads and validates YAML configuration for the
// streaming session daemon. Values support ${VAR} environment variable
// substitution; unset optional fields receive defaults.
package config
