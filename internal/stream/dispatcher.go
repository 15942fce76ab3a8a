package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/marketcalls/openalgo-stream/internal/cache"
	"github.com/marketcalls/openalgo-stream/internal/connection"
	"github.com/marketcalls/openalgo-stream/internal/model"
	"github.com/marketcalls/openalgo-stream/internal/registry"
)

// dispatcher consumes the inbound message stream of one connection and
// routes every message. Per-message errors are logged and swallowed;
// nothing here may kill the receive loop.
type dispatcher struct {
	conn    *connection.Conn
	reg     *registry.Registry
	cache   *cache.Cache
	updates chan Update
	logger  *slog.Logger

	sent    *atomic.Int64
	dropped *atomic.Int64
}

// run consumes messages until the context is canceled or the transport
// fails. A transport failure marks the connection disconnected; the
// registry and cache are left untouched.
func (d *dispatcher) run(ctx context.Context, msgs <-chan connection.TimestampedMessage, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.conn.MarkDisconnected(err)
			return

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			d.handle(msg)
		}
	}
}

// handle classifies and routes a single inbound message.
func (d *dispatcher) handle(msg connection.TimestampedMessage) {
	// Heartbeats are literal text frames, checked before JSON parsing.
	if connection.IsHeartbeat(msg.Data) {
		if err := d.conn.Pong(); err != nil {
			d.logger.Warn("failed to answer heartbeat", "error", err)
		}
		return
	}

	var env connection.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		d.logger.Warn("malformed message dropped", "error", err, "len", len(msg.Data))
		return
	}

	switch env.Type {
	case connection.TypeAuthentication:
		d.conn.ResolveAuth(env.Status)

	case connection.TypeSubscription:
		d.handleSubscriptionAck(env)

	case connection.TypeMarketData:
		d.handleMarketData(env, msg)

	default:
		d.logger.Debug("unrecognized message type", "type", env.Type)
	}
}

// handleSubscriptionAck resolves the pending subscribe for the key the
// ack declares, if one is outstanding.
func (d *dispatcher) handleSubscriptionAck(env connection.Envelope) {
	mode, err := model.ParseMode(env.Mode)
	if err != nil {
		d.logger.Warn("subscription ack with bad mode", "mode", env.Mode)
		return
	}

	key := model.NewKey(env.Symbol, env.Exchange, mode)
	if !d.reg.Resolve(key, env.Status) {
		d.logger.Debug("subscription ack with no pending request",
			"key", key.String(),
			"status", env.Status,
		)
	}
}

// handleMarketData admits a data message to the cache, but only while a
// subscription record exists for its key. Data arriving for an
// unsubscribed key is discarded so it cannot resurrect a removed entry.
func (d *dispatcher) handleMarketData(env connection.Envelope, msg connection.TimestampedMessage) {
	mode, err := model.ParseMode(env.Mode)
	if err != nil {
		d.logger.Warn("market data with bad mode", "mode", env.Mode)
		return
	}

	var tick model.Tick
	if err := json.Unmarshal(env.Data, &tick); err != nil {
		d.logger.Warn("malformed market data dropped", "error", err)
		return
	}

	// Some server builds put symbol/exchange only on the envelope.
	if tick.Symbol == "" {
		tick.Symbol = env.Symbol
	}
	if tick.Exchange == "" {
		tick.Exchange = env.Exchange
	}

	key := model.NewKey(tick.Symbol, tick.Exchange, mode)
	if !d.reg.IsSubscribed(key) {
		d.logger.Warn("data for unsubscribed key discarded", "key", key.String())
		return
	}

	entry := cache.Entry{
		Key:        key,
		Topic:      env.Topic,
		Tick:       tick,
		ReceivedAt: msg.ReceivedAt,
	}
	d.cache.Put(entry)

	update := Update{
		Key:        key,
		Topic:      env.Topic,
		Tick:       tick,
		ReceivedAt: msg.ReceivedAt,
	}
	select {
	case d.updates <- update:
		d.sent.Add(1)
	default:
		d.dropped.Add(1)
		d.logger.Warn("update feed full, dropping notification", "key", key.String())
	}
}
