// Package database provides connection pool management for the
// PostgreSQL tick store used by the recorder.
package database
