package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/marketcalls/openalgo-stream/internal/cache"
	"github.com/marketcalls/openalgo-stream/internal/connection"
	"github.com/marketcalls/openalgo-stream/internal/model"
)

// Errors
var (
	ErrSubscribeTimeout  = errors.New("subscription timed out")
	ErrSubscribeRejected = errors.New("subscription rejected")
)

// Transport is the slice of the session the registry needs to send
// subscribe/unsubscribe requests. Implemented by stream.Session.
type Transport interface {
	// EnsureConnected connects (including authentication) when the
	// connection is down. No-op when already open.
	EnsureConnected(ctx context.Context) error

	// Authenticated reports whether the handshake has completed.
	Authenticated() bool

	// Send writes a message to the socket.
	Send(data []byte) error
}

// Config holds registry behavior settings.
type Config struct {
	// Confirm selects confirmed mode: a SubscriptionRecord is created
	// only once the server acks the subscribe. When false the record
	// is created immediately after the request is sent.
	Confirm bool

	AckTimeout        time.Duration // confirmed-mode ack wait
	DefaultDepthLevel int           // depth subscriptions without an explicit level
}

// Record is one live subscription.
type Record struct {
	Key          model.SubscriptionKey
	DepthLevel   int // 0 unless Mode is depth
	SubscribedAt time.Time
}

// pendingSub is a one-shot completion for an in-flight subscribe.
// err is set before done is closed.
type pendingSub struct {
	depthLevel int
	done       chan struct{}
	err        error
}

// Registry tracks active subscriptions and manual-unsubscribe markers.
// Safe for concurrent use by the dispatcher and many pollers.
type Registry struct {
	cfg       Config
	transport Transport
	cache     *cache.Cache
	logger    *slog.Logger

	mu     sync.RWMutex
	subs   map[model.SubscriptionKey]Record
	manual map[model.SubscriptionKey]time.Time

	pendingMu sync.Mutex
	pending   map[model.SubscriptionKey]*pendingSub
}

// New creates an empty registry.
func New(cfg Config, transport Transport, dataCache *cache.Cache, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		transport: transport,
		cache:     dataCache,
		logger:    logger,
		subs:      make(map[model.SubscriptionKey]Record),
		manual:    make(map[model.SubscriptionKey]time.Time),
		pending:   make(map[model.SubscriptionKey]*pendingSub),
	}
}

// Subscribe sends a subscribe request and, in confirmed mode, waits for
// the server acknowledgment. An explicit subscribe always clears the
// manual-unsubscribe marker for the key, re-enabling auto-subscribe.
func (r *Registry) Subscribe(ctx context.Context, key model.SubscriptionKey, depthLevel int) error {
	if err := key.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.manual, key)
	_, exists := r.subs[key]
	r.mu.Unlock()

	if exists {
		r.logger.Debug("already subscribed", "key", key.String())
		return nil
	}

	p, created, err := r.sendSubscribe(ctx, key, depthLevel)
	if err != nil {
		return err
	}
	if !r.cfg.Confirm || p == nil {
		return nil
	}

	// Wait for the dispatcher to resolve the pending completion.
	select {
	case <-ctx.Done():
		if created {
			r.removePending(key, p)
		}
		return ctx.Err()
	case <-time.After(r.cfg.AckTimeout):
		if created {
			r.removePending(key, p)
		}
		return ErrSubscribeTimeout
	case <-p.done:
		return p.err
	}
}

// AutoSubscribe issues a subscribe on behalf of a polling read. It
// returns as soon as the request is on the wire; in confirmed mode the
// record appears when the ack arrives, and a janitor expires the
// pending completion if it never does. The manual marker is left alone:
// the facade only auto-subscribes keys that carry none.
func (r *Registry) AutoSubscribe(ctx context.Context, key model.SubscriptionKey, depthLevel int) error {
	if err := key.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	_, exists := r.subs[key]
	r.mu.RUnlock()
	if exists {
		return nil
	}

	p, created, err := r.sendSubscribe(ctx, key, depthLevel)
	if err != nil {
		return err
	}

	if r.cfg.Confirm && p != nil && created {
		go func() {
			select {
			case <-p.done:
			case <-time.After(r.cfg.AckTimeout):
				if r.removePending(key, p) {
					r.logger.Warn("auto-subscribe ack never arrived",
						"key", key.String(),
						"timeout", r.cfg.AckTimeout,
					)
				}
			}
		}()
	}

	return nil
}

// sendSubscribe connects if needed, registers the pending completion
// (confirmed mode) and writes the subscribe request. In assumed mode
// the record is created as soon as the request is sent. The returned
// bool reports whether this call registered the pending completion or
// joined one already in flight.
func (r *Registry) sendSubscribe(ctx context.Context, key model.SubscriptionKey, depthLevel int) (*pendingSub, bool, error) {
	if key.Mode == model.ModeDepth && depthLevel <= 0 {
		depthLevel = r.cfg.DefaultDepthLevel
	}
	if key.Mode != model.ModeDepth {
		depthLevel = 0
	}

	if err := r.transport.EnsureConnected(ctx); err != nil {
		return nil, false, fmt.Errorf("connect for subscribe: %w", err)
	}
	if !r.transport.Authenticated() {
		return nil, false, connection.ErrNotAuthenticated
	}

	var p *pendingSub
	created := false
	if r.cfg.Confirm {
		r.pendingMu.Lock()
		if existing, ok := r.pending[key]; ok {
			// Join the in-flight request instead of re-sending.
			r.pendingMu.Unlock()
			return existing, false, nil
		}
		p = &pendingSub{depthLevel: depthLevel, done: make(chan struct{})}
		r.pending[key] = p
		r.pendingMu.Unlock()
		created = true
	}

	data, err := json.Marshal(connection.SubscribeRequest{
		Action:     connection.ActionSubscribe,
		Symbol:     key.Symbol,
		Exchange:   key.Exchange,
		Mode:       int(key.Mode),
		DepthLevel: depthLevel,
	})
	if err != nil {
		if created {
			r.removePending(key, p)
		}
		return nil, false, fmt.Errorf("marshal subscribe: %w", err)
	}

	if err := r.transport.Send(data); err != nil {
		if created {
			r.removePending(key, p)
		}
		return nil, false, fmt.Errorf("send subscribe: %w", err)
	}

	r.logger.Debug("subscribe request sent",
		"key", key.String(),
		"depth_level", depthLevel,
		"confirm", r.cfg.Confirm,
	)

	if !r.cfg.Confirm {
		r.mu.Lock()
		r.subs[key] = Record{Key: key, DepthLevel: depthLevel, SubscribedAt: time.Now()}
		r.mu.Unlock()
	}

	return p, created, nil
}

// Resolve delivers a subscription acknowledgment from the server. On a
// positive status in confirmed mode this is the moment the
// SubscriptionRecord is created. Returns false when no matching
// subscribe is in flight.
func (r *Registry) Resolve(key model.SubscriptionKey, status string) bool {
	r.pendingMu.Lock()
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.pendingMu.Unlock()

	if !ok {
		return false
	}

	if status == connection.StatusSuccess {
		r.mu.Lock()
		r.subs[key] = Record{Key: key, DepthLevel: p.depthLevel, SubscribedAt: time.Now()}
		r.mu.Unlock()
	} else {
		p.err = fmt.Errorf("%w: status %q", ErrSubscribeRejected, status)
	}

	close(p.done)
	return true
}

// Unsubscribe sends an unsubscribe request and removes the record and
// cached data immediately and unconditionally, without waiting for a
// server ack. The manual-unsubscribe marker is set so the facade never
// auto-resubscribes this key. Local removal happens even when the send
// fails; the send error is still returned for the caller's status.
func (r *Registry) Unsubscribe(key model.SubscriptionKey) error {
	var sendErr error
	data, err := json.Marshal(connection.UnsubscribeRequest{
		Action:   connection.ActionUnsubscribe,
		Symbol:   key.Symbol,
		Exchange: key.Exchange,
		Mode:     int(key.Mode),
	})
	if err != nil {
		sendErr = fmt.Errorf("marshal unsubscribe: %w", err)
	} else if err := r.transport.Send(data); err != nil {
		sendErr = fmt.Errorf("send unsubscribe: %w", err)
	}

	r.mu.Lock()
	delete(r.subs, key)
	r.manual[key] = time.Now()
	r.mu.Unlock()

	r.cancelPending(key)
	r.cache.Remove(key)

	if sendErr != nil {
		r.logger.Warn("unsubscribe request not sent, removed locally",
			"key", key.String(),
			"error", sendErr,
		)
	} else {
		r.logger.Debug("unsubscribed", "key", key.String())
	}

	return sendErr
}

// UnsubscribeAll unsubscribes every registered key, clears all
// manual-unsubscribe markers, and purges the cache. This is the full
// reset: auto-subscribe is re-enabled for every symbol afterwards.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	keys := make([]model.SubscriptionKey, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	r.subs = make(map[model.SubscriptionKey]Record)
	r.manual = make(map[model.SubscriptionKey]time.Time)
	r.mu.Unlock()

	r.pendingMu.Lock()
	pendings := r.pending
	r.pending = make(map[model.SubscriptionKey]*pendingSub)
	r.pendingMu.Unlock()
	for k, p := range pendings {
		p.err = fmt.Errorf("%w: unsubscribed before ack", ErrSubscribeRejected)
		close(p.done)
		r.logger.Debug("canceled pending subscribe", "key", k.String())
	}

	for _, k := range keys {
		data, err := json.Marshal(connection.UnsubscribeRequest{
			Action:   connection.ActionUnsubscribe,
			Symbol:   k.Symbol,
			Exchange: k.Exchange,
			Mode:     int(k.Mode),
		})
		if err != nil {
			continue
		}
		if err := r.transport.Send(data); err != nil {
			r.logger.Warn("unsubscribe request not sent", "key", k.String(), "error", err)
		}
	}

	r.cache.Clear()

	r.logger.Info("unsubscribed all", "count", len(keys))
}

// IsSubscribed reports whether a SubscriptionRecord exists for key.
func (r *Registry) IsSubscribed(key model.SubscriptionKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[key]
	return ok
}

// WasManuallyUnsubscribed reports whether the key carries a
// manual-unsubscribe marker.
func (r *Registry) WasManuallyUnsubscribed(key model.SubscriptionKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.manual[key]
	return ok
}

// IsPending reports whether a subscribe request for key is awaiting its
// acknowledgment.
func (r *Registry) IsPending(key model.SubscriptionKey) bool {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Get returns the record for key, if one exists.
func (r *Registry) Get(key model.SubscriptionKey) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.subs[key]
	return rec, ok
}

// ListActive returns the active subscription keys as sorted strings.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k.String())
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Count returns the number of active subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// removePending deletes the pending completion for key if it is still
// the same one. Returns true when this call removed it.
func (r *Registry) removePending(key model.SubscriptionKey, p *pendingSub) bool {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	if current, ok := r.pending[key]; ok && current == p {
		delete(r.pending, key)
		return true
	}
	return false
}

// cancelPending drops any in-flight subscribe for key and fails its
// waiters. A late ack then finds no completion, so an unsubscribed key
// can never be resurrected by it.
func (r *Registry) cancelPending(key model.SubscriptionKey) {
	r.pendingMu.Lock()
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.pendingMu.Unlock()

	if !ok {
		return
	}
	p.err = fmt.Errorf("%w: unsubscribed before ack", ErrSubscribeRejected)
	close(p.done)
}
