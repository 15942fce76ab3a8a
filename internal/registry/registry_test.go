package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marketcalls/openalgo-stream/internal/cache"
	"github.com/marketcalls/openalgo-stream/internal/connection"
	"github.com/marketcalls/openalgo-stream/internal/model"
)

// fakeTransport implements Transport for testing.
type fakeTransport struct {
	mu            sync.Mutex
	sent          [][]byte
	connectErr    error
	sendErr       error
	authenticated bool
	connectCalls  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{authenticated: true}
}

func (f *fakeTransport) EnsureConnected(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeTransport) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) sentRequests(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.sent))
	for _, data := range f.sent {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("sent message is not JSON: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func newRegistry(confirm bool, transport Transport) (*Registry, *cache.Cache) {
	c := cache.New()
	cfg := Config{
		Confirm:           confirm,
		AckTimeout:        200 * time.Millisecond,
		DefaultDepthLevel: 5,
	}
	return New(cfg, transport, c, nil), c
}

func testKey() model.SubscriptionKey {
	return model.NewKey("RELIANCE", "NSE", model.ModeLTP)
}

func TestSubscribeAssumedMode(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(false, ft)
	key := testKey()

	if err := r.Subscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if !r.IsSubscribed(key) {
		t.Error("record should exist immediately after send in assumed mode")
	}

	reqs := ft.sentRequests(t)
	if len(reqs) != 1 {
		t.Fatalf("sent %d requests, want 1", len(reqs))
	}
	if reqs[0]["action"] != "subscribe" || reqs[0]["symbol"] != "RELIANCE" {
		t.Errorf("unexpected request: %v", reqs[0])
	}
}

func TestSubscribeConfirmedModeWaitsForAck(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(true, ft)
	key := testKey()

	// Ack from a "dispatcher" goroutine once the request is sent.
	go func() {
		for {
			ft.mu.Lock()
			n := len(ft.sent)
			ft.mu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if !r.Resolve(key, connection.StatusSuccess) {
			t.Error("Resolve found no pending subscribe")
		}
	}()

	if err := r.Subscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !r.IsSubscribed(key) {
		t.Error("record should exist after positive ack")
	}
	if r.IsPending(key) {
		t.Error("pending completion should be gone after resolve")
	}
}

func TestSubscribeConfirmedModeTimeout(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(true, ft)
	key := testKey()

	err := r.Subscribe(context.Background(), key, 0)
	if !errors.Is(err, ErrSubscribeTimeout) {
		t.Fatalf("err = %v, want ErrSubscribeTimeout", err)
	}
	if r.IsSubscribed(key) {
		t.Error("no record should exist after timeout")
	}
	if r.IsPending(key) {
		t.Error("pending completion should be cleaned up after timeout")
	}
}

func TestSubscribeConfirmedModeRejected(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(true, ft)
	key := testKey()

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Resolve(key, "error")
	}()

	err := r.Subscribe(context.Background(), key, 0)
	if !errors.Is(err, ErrSubscribeRejected) {
		t.Fatalf("err = %v, want ErrSubscribeRejected", err)
	}
	if r.IsSubscribed(key) {
		t.Error("no record should exist after rejection")
	}
}

func TestSubscribeNotAuthenticated(t *testing.T) {
	ft := newFakeTransport()
	ft.authenticated = false
	r, _ := newRegistry(false, ft)

	err := r.Subscribe(context.Background(), testKey(), 0)
	if !errors.Is(err, connection.ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestSubscribeAutoConnects(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(false, ft)

	if err := r.Subscribe(context.Background(), testKey(), 0); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ft.mu.Lock()
	calls := ft.connectCalls
	ft.mu.Unlock()
	if calls != 1 {
		t.Errorf("EnsureConnected called %d times, want 1", calls)
	}
}

func TestSubscribeConnectFails(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErr = errors.New("server down")
	r, _ := newRegistry(false, ft)

	if err := r.Subscribe(context.Background(), testKey(), 0); err == nil {
		t.Fatal("expected error when connect fails")
	}
}

func TestSubscribeDepthLevelDefault(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(false, ft)
	key := model.NewKey("RELIANCE", "NSE", model.ModeDepth)

	if err := r.Subscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	reqs := ft.sentRequests(t)
	if got := reqs[0]["depth_level"]; got != float64(5) {
		t.Errorf("depth_level = %v, want 5", got)
	}

	rec, ok := r.Get(key)
	if !ok || rec.DepthLevel != 5 {
		t.Errorf("record depth level = %v, want 5", rec.DepthLevel)
	}
}

func TestSubscribeDepthLevelIgnoredForLTP(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(false, ft)

	if err := r.Subscribe(context.Background(), testKey(), 20); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	reqs := ft.sentRequests(t)
	if _, present := reqs[0]["depth_level"]; present {
		t.Error("depth_level should be omitted for non-depth modes")
	}
}

func TestSubscribeClearsManualMarker(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(false, ft)
	key := testKey()

	if err := r.Subscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := r.Unsubscribe(key); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if !r.WasManuallyUnsubscribed(key) {
		t.Fatal("marker should be set after Unsubscribe")
	}

	if err := r.Subscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("re-Subscribe failed: %v", err)
	}
	if r.WasManuallyUnsubscribed(key) {
		t.Error("explicit subscribe should clear the manual marker")
	}
}

func TestUnsubscribeRemovesRecordAndCache(t *testing.T) {
	ft := newFakeTransport()
	r, c := newRegistry(false, ft)
	key := testKey()

	if err := r.Subscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	c.Put(cache.Entry{
		Key:   key,
		Topic: "NSE_RELIANCE_LTP",
		Tick:  model.Tick{Symbol: "RELIANCE", Exchange: "NSE", LTP: 2500.5},
	})

	if err := r.Unsubscribe(key); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	if r.IsSubscribed(key) {
		t.Error("record should be removed")
	}
	if _, ok := c.Get(key); ok {
		t.Error("cache entry should be removed")
	}
	if _, ok := c.GetByTopic("NSE_RELIANCE_LTP"); ok {
		t.Error("cache topic alias should be removed")
	}
}

func TestUnsubscribeRemovesLocallyWhenSendFails(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(false, ft)
	key := testKey()

	if err := r.Subscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ft.mu.Lock()
	ft.sendErr = connection.ErrNotConnected
	ft.mu.Unlock()

	err := r.Unsubscribe(key)
	if err == nil {
		t.Error("expected send error to be surfaced")
	}
	if r.IsSubscribed(key) {
		t.Error("record removal must not depend on the send succeeding")
	}
	if !r.WasManuallyUnsubscribed(key) {
		t.Error("marker must be set even when the send fails")
	}
}

func TestUnsubscribeAllIsFullReset(t *testing.T) {
	ft := newFakeTransport()
	r, c := newRegistry(false, ft)

	keys := []model.SubscriptionKey{
		model.NewKey("RELIANCE", "NSE", model.ModeLTP),
		model.NewKey("SBIN", "NSE", model.ModeQuote),
		model.NewKey("INFY", "BSE", model.ModeDepth),
	}
	for _, k := range keys {
		if err := r.Subscribe(context.Background(), k, 0); err != nil {
			t.Fatalf("Subscribe(%v) failed: %v", k, err)
		}
		c.Put(cache.Entry{Key: k, Tick: model.Tick{Symbol: k.Symbol, Exchange: k.Exchange}})
	}

	// Leave a marker behind to prove the reset clears it.
	if err := r.Unsubscribe(keys[0]); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	r.UnsubscribeAll()

	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}
	if c.Len() != 0 {
		t.Errorf("cache Len = %d, want 0", c.Len())
	}
	for _, k := range keys {
		if r.WasManuallyUnsubscribed(k) {
			t.Errorf("marker for %v should be cleared by UnsubscribeAll", k)
		}
	}
}

func TestAutoSubscribeReturnsAfterSend(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(true, ft)
	key := testKey()

	start := time.Now()
	if err := r.AutoSubscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("AutoSubscribe failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("AutoSubscribe blocked for %v; it must return once the request is sent", elapsed)
	}

	if !r.IsPending(key) {
		t.Error("pending completion should be registered")
	}
	if r.IsSubscribed(key) {
		t.Error("no record before the ack in confirmed mode")
	}

	// Ack arrives later; record appears.
	r.Resolve(key, connection.StatusSuccess)
	if !r.IsSubscribed(key) {
		t.Error("record should exist after the ack")
	}
}

func TestAutoSubscribePendingExpires(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(true, ft)
	key := testKey()

	if err := r.AutoSubscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("AutoSubscribe failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.IsPending(key) {
		if time.Now().After(deadline) {
			t.Fatal("pending completion never expired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if r.IsSubscribed(key) {
		t.Error("no record should appear without an ack")
	}
}

func TestUnsubscribeCancelsPending(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(true, ft)
	key := testKey()

	if err := r.AutoSubscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("AutoSubscribe failed: %v", err)
	}
	if err := r.Unsubscribe(key); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	if r.IsPending(key) {
		t.Error("pending completion should be dropped by Unsubscribe")
	}

	// The ack arrives after the unsubscribe. It must find nothing.
	if r.Resolve(key, connection.StatusSuccess) {
		t.Error("late ack should not match a canceled subscribe")
	}
	if r.IsSubscribed(key) {
		t.Error("late ack must not resurrect an unsubscribed key")
	}
}

func TestUnsubscribeAllCancelsPending(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(true, ft)
	key := testKey()

	if err := r.AutoSubscribe(context.Background(), key, 0); err != nil {
		t.Fatalf("AutoSubscribe failed: %v", err)
	}

	r.UnsubscribeAll()

	if r.IsPending(key) {
		t.Error("pending completion should be dropped by UnsubscribeAll")
	}
	if r.Resolve(key, connection.StatusSuccess) {
		t.Error("late ack should not match after the full reset")
	}
	if r.IsSubscribed(key) {
		t.Error("late ack must not create a record after the full reset")
	}
}

func TestResolveWithoutPending(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(true, ft)

	if r.Resolve(testKey(), connection.StatusSuccess) {
		t.Error("Resolve should report no pending subscribe")
	}
}

func TestListActiveSorted(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(false, ft)

	for _, k := range []model.SubscriptionKey{
		model.NewKey("SBIN", "NSE", model.ModeQuote),
		model.NewKey("INFY", "BSE", model.ModeLTP),
		model.NewKey("RELIANCE", "NSE", model.ModeLTP),
	} {
		if err := r.Subscribe(context.Background(), k, 0); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	got := r.ListActive()
	want := []string{"BSE:INFY:ltp", "NSE:RELIANCE:ltp", "NSE:SBIN:quote"}
	if len(got) != len(want) {
		t.Fatalf("ListActive returned %d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListActive[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSubscribeInvalidKey(t *testing.T) {
	ft := newFakeTransport()
	r, _ := newRegistry(false, ft)

	if err := r.Subscribe(context.Background(), model.SubscriptionKey{}, 0); err == nil {
		t.Error("expected error for empty key")
	}
	if len(ft.sent) != 0 {
		t.Error("nothing should be sent for an invalid key")
	}
}
