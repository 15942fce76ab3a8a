// Package registry is the authoritative record of live subscriptions:
// which (symbol, exchange, mode) keys are subscribed, which were
// explicitly unsubscribed by the caller (suppressing auto-resubscribe),
// and which subscribe requests are awaiting a server acknowledgment.
package registry
