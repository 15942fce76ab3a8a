// Package stream ties the connection, registry, and cache together into
// a long-lived market-data session. The dispatcher goroutine classifies
// every inbound message (heartbeat, authentication, subscription ack,
// market data) and routes it; the Session is the facade polling callers
// use, implementing subscribe-on-first-read with respect for explicit
// unsubscribes.
package stream
