package recorder

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/marketcalls/openalgo-stream/internal/model"
	"github.com/marketcalls/openalgo-stream/internal/stream"
)

// fakeBatchSender records every batch write and the state of the
// context it arrived on.
type fakeBatchSender struct {
	mu      sync.Mutex
	calls   int
	rows    int
	ctxErrs []error
}

func (f *fakeBatchSender) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.rows += b.Len()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return fakeBatchResults{}
}

type fakeBatchResults struct{}

func (fakeBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, nil }
func (fakeBatchResults) Query() (pgx.Rows, error)         { return nil, nil }
func (fakeBatchResults) QueryRow() pgx.Row                { return nil }
func (fakeBatchResults) Close() error                     { return nil }

func TestRecorder_Transform(t *testing.T) {
	input := make(chan stream.Update)
	r := New(DefaultConfig(), input, nil, nil)

	receivedAt := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	u := stream.Update{
		Key: model.NewKey("RELIANCE", "NSE", model.ModeQuote),
		Tick: model.Tick{
			Symbol:    "RELIANCE",
			Exchange:  "NSE",
			LTP:       2500.5,
			Open:      2490.0,
			High:      2510.0,
			Low:       2485.0,
			Close:     2495.0,
			Volume:    125000,
			Timestamp: 1770715800000000,
		},
		ReceivedAt: receivedAt,
	}

	row := r.transform(u)

	if row.Symbol != "RELIANCE" {
		t.Errorf("Symbol = %s, want RELIANCE", row.Symbol)
	}
	if row.Exchange != "NSE" {
		t.Errorf("Exchange = %s, want NSE", row.Exchange)
	}
	if row.Mode != 2 {
		t.Errorf("Mode = %d, want 2", row.Mode)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
	if row.ExchangeTs != 1770715800000000 {
		t.Errorf("ExchangeTs = %d, want 1770715800000000", row.ExchangeTs)
	}
	if row.LTP != 2500.5 {
		t.Errorf("LTP = %v, want 2500.5", row.LTP)
	}
	if row.Volume != 125000 {
		t.Errorf("Volume = %d, want 125000", row.Volume)
	}
	if row.Depth != nil {
		t.Error("Depth should be nil outside depth mode")
	}
}

func TestRecorder_Transform_Depth(t *testing.T) {
	input := make(chan stream.Update)
	r := New(DefaultConfig(), input, nil, nil)

	u := stream.Update{
		Key: model.NewKey("RELIANCE", "NSE", model.ModeDepth),
		Tick: model.Tick{
			Symbol:   "RELIANCE",
			Exchange: "NSE",
			LTP:      2500.5,
			Depth: &model.Depth{
				Buy:  []model.DepthLevel{{Price: 2500.4, Quantity: 100}},
				Sell: []model.DepthLevel{{Price: 2500.6, Quantity: 150}},
			},
		},
		ReceivedAt: time.Now(),
	}

	row := r.transform(u)

	if row.Depth == nil {
		t.Fatal("Depth should be serialized for depth mode")
	}

	var depth model.Depth
	if err := json.Unmarshal(row.Depth, &depth); err != nil {
		t.Fatalf("unmarshal depth: %v", err)
	}
	if len(depth.Buy) != 1 || depth.Buy[0].Price != 2500.4 {
		t.Errorf("Buy = %+v, want one level at 2500.4", depth.Buy)
	}
	if len(depth.Sell) != 1 || depth.Sell[0].Quantity != 150 {
		t.Errorf("Sell = %+v, want one level of 150", depth.Sell)
	}
}

func TestRecorder_HandleUpdate_AddsToBatch(t *testing.T) {
	cfg := Config{
		BatchSize:     100,
		FlushInterval: time.Hour,
	}
	input := make(chan stream.Update)
	r := New(cfg, input, nil, nil)

	r.handleUpdate(stream.Update{
		Key:        model.NewKey("SBIN", "NSE", model.ModeLTP),
		Tick:       model.Tick{Symbol: "SBIN", Exchange: "NSE", LTP: 820.4},
		ReceivedAt: time.Now(),
	})

	r.batchMu.Lock()
	batchLen := len(r.batch)
	r.batchMu.Unlock()

	if batchLen != 1 {
		t.Errorf("batch length = %d, want 1", batchLen)
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	cfg := Config{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
	}
	input := make(chan stream.Update)

	r := New(cfg, input, nil, nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestRecorder_StopFlushesPendingBatch(t *testing.T) {
	cfg := Config{
		BatchSize:     100,
		FlushInterval: time.Hour,
	}
	input := make(chan stream.Update)
	db := &fakeBatchSender{}
	r := New(cfg, input, db, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	input <- stream.Update{
		Key:        model.NewKey("SBIN", "NSE", model.ModeLTP),
		Tick:       model.Tick{Symbol: "SBIN", Exchange: "NSE", LTP: 820.4},
		ReceivedAt: time.Now(),
	}

	deadline := time.Now().Add(time.Second)
	for {
		r.batchMu.Lock()
		n := len(r.batch)
		r.batchMu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("update never reached the batch")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.calls != 1 {
		t.Fatalf("SendBatch calls = %d, want 1", db.calls)
	}
	if db.rows != 1 {
		t.Errorf("batched rows = %d, want 1", db.rows)
	}
	if db.ctxErrs[0] != nil {
		t.Errorf("final flush ran on a dead context: %v", db.ctxErrs[0])
	}
	if got := r.Stats().Inserts; got != 1 {
		t.Errorf("Inserts = %d, want 1", got)
	}
}

func TestRecorder_Stats(t *testing.T) {
	input := make(chan stream.Update)
	r := New(DefaultConfig(), input, nil, nil)

	stats := r.Stats()

	if stats.Inserts != 0 {
		t.Errorf("initial Inserts = %d, want 0", stats.Inserts)
	}
	if stats.Errors != 0 {
		t.Errorf("initial Errors = %d, want 0", stats.Errors)
	}
	if stats.Flushes != 0 {
		t.Errorf("initial Flushes = %d, want 0", stats.Flushes)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != 2*time.Second {
		t.Errorf("FlushInterval = %v, want 2s", cfg.FlushInterval)
	}
}
