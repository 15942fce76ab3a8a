// Package recorder persists admitted ticks to PostgreSQL.
//
// It consumes the session's update feed and writes rows to the ticks
// table in batches, flushing on size or on a timer. Recording is
// optional; the streaming session works without it.
package recorder
