package stream

import (
	"time"

	"github.com/marketcalls/openalgo-stream/internal/cache"
	"github.com/marketcalls/openalgo-stream/internal/connection"
	"github.com/marketcalls/openalgo-stream/internal/model"
)

// Config holds session settings, assembled from the application config.
type Config struct {
	InstanceID        string
	Conn              connection.Config
	Confirm           bool          // confirmed mode for subscription acks
	AckTimeout        time.Duration // pending subscribe ack wait
	DefaultDepthLevel int
	UpdateBufferSize  int // capacity of the host update feed
}

// ReadStatus classifies the result of a poll.
type ReadStatus int

// Poll outcomes. Everything except ReadData is a sentinel the poller is
// expected to render and retry on its next tick.
const (
	ReadData ReadStatus = iota
	ReadSubscribing
	ReadWaiting
	ReadUnsubscribed
	ReadError
)

// Sentinel strings for display by polling hosts.
const (
	SentinelSubscribing  = "Subscribing..."
	SentinelWaiting      = "Waiting for data"
	SentinelUnsubscribed = "Unsubscribed"
)

// String returns the display form of a poll outcome.
func (s ReadStatus) String() string {
	switch s {
	case ReadData:
		return "ok"
	case ReadSubscribing:
		return SentinelSubscribing
	case ReadWaiting:
		return SentinelWaiting
	case ReadUnsubscribed:
		return SentinelUnsubscribed
	case ReadError:
		return "error"
	default:
		return "unknown"
	}
}

// ReadResult is what a poll returns: either the cached payload or a
// sentinel, never an exception-like failure.
type ReadResult struct {
	Status ReadStatus
	Entry  cache.Entry // valid only when Status is ReadData
	Err    error       // set only when Status is ReadError
}

// Update notifies the host (and any attached sinks) that fresh data for
// a key was admitted to the cache.
type Update struct {
	Key        model.SubscriptionKey
	Topic      string
	Tick       model.Tick
	ReceivedAt time.Time
}

// Stats is a snapshot of session state for the health endpoint.
type Stats struct {
	InstanceID     string `json:"instance_id"`
	State          string `json:"state"`
	Authenticated  bool   `json:"authenticated"`
	Subscriptions  int    `json:"subscriptions"`
	CacheEntries   int    `json:"cache_entries"`
	UpdatesSent    int64  `json:"updates_sent"`
	UpdatesDropped int64  `json:"updates_dropped"`
}
