package stream

import (
	"context"
	"fmt"

	"github.com/marketcalls/openalgo-stream/internal/connection"
	"github.com/marketcalls/openalgo-stream/internal/model"
)

// Host is the collaborator surface exposed to a polling host
// environment. Every method returns a descriptive string or sentinel
// instead of an error, so a poller can render the result directly.
type Host struct {
	s *Session
}

// NewHost wraps a session for host consumption.
func NewHost(s *Session) *Host {
	return &Host{s: s}
}

// Connect opens the session. An empty url uses the configured one.
func (h *Host) Connect(ctx context.Context, url string) string {
	if h.s.State() == connection.StateOpen {
		return "Already connected"
	}
	if err := h.s.Connect(ctx, url); err != nil {
		return "Error: " + err.Error()
	}
	return "Connected"
}

// ConnectionState reports the connection state as a string.
func (h *Host) ConnectionState() string {
	return h.s.State().String()
}

// Subscribe explicitly subscribes (symbol, exchange, mode).
func (h *Host) Subscribe(ctx context.Context, symbol, exchange string, mode, depthLevel int) string {
	m, err := model.ParseMode(mode)
	if err != nil {
		return "Error: " + err.Error()
	}
	key := model.NewKey(symbol, exchange, m)
	if err := h.s.Subscribe(ctx, key, depthLevel); err != nil {
		return "Error: " + err.Error()
	}
	return "Subscribed: " + key.String()
}

// Unsubscribe removes a subscription and suppresses auto-resubscribe.
func (h *Host) Unsubscribe(symbol, exchange string, mode int) string {
	m, err := model.ParseMode(mode)
	if err != nil {
		return "Error: " + err.Error()
	}
	key := model.NewKey(symbol, exchange, m)
	if err := h.s.Unsubscribe(key); err != nil {
		return fmt.Sprintf("Unsubscribed locally: %s (send failed: %v)", key.String(), err)
	}
	return "Unsubscribed: " + key.String()
}

// UnsubscribeAll performs the full reset.
func (h *Host) UnsubscribeAll() string {
	h.s.UnsubscribeAll()
	return "Unsubscribed all"
}

// Read polls for the latest data. It returns a *model.Tick when data is
// cached, otherwise a sentinel string.
func (h *Host) Read(ctx context.Context, symbol, exchange string, mode int) any {
	m, err := model.ParseMode(mode)
	if err != nil {
		return "Error: " + err.Error()
	}

	res := h.s.Read(ctx, model.NewKey(symbol, exchange, m))
	switch res.Status {
	case ReadData:
		tick := res.Entry.Tick
		return &tick
	case ReadError:
		return "Error: " + res.Err.Error()
	default:
		return res.Status.String()
	}
}

// ListActiveSubscriptions returns the active keys as sorted strings.
func (h *Host) ListActiveSubscriptions() []string {
	return h.s.ListActive()
}
