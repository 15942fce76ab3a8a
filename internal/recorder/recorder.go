package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marketcalls/openalgo-stream/internal/stream"
)

// batchSender is the slice of pgxpool.Pool the recorder writes through.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config contains batching settings for the tick recorder.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
	}
}

// Metrics tracks recorder activity.
type Metrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
}

// tickRow is a row for the ticks table.
type tickRow struct {
	ReceivedAt int64 // Microseconds
	ExchangeTs int64 // Microseconds, 0 when the feed omits it
	Symbol     string
	Exchange   string
	Mode       int
	LTP        float64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	Depth      []byte // JSONB, nil outside depth mode
}

// Recorder consumes the session update feed and writes ticks to the
// database in batches.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	// Input from the session
	input <-chan stream.Update

	// Database
	db batchSender

	// Batching
	batch       []tickRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a tick recorder reading from input. db is typically a
// *pgxpool.Pool.
func New(cfg Config, input <-chan stream.Update, db batchSender, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]tickRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming updates and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts the recorder down.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Final flush. r.ctx is canceled by now, so the write runs on the
	// caller's context; the last batch must not be dropped.
	r.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// consumeLoop reads updates and accumulates batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case u, ok := <-r.input:
			if !ok {
				return
			}
			r.handleUpdate(u)
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

// handleUpdate transforms and adds an update to the batch.
func (r *Recorder) handleUpdate(u stream.Update) {
	row := r.transform(u)

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(r.ctx)
	}
}

// transform converts an update to a tickRow.
func (r *Recorder) transform(u stream.Update) tickRow {
	row := tickRow{
		ReceivedAt: u.ReceivedAt.UnixMicro(),
		ExchangeTs: u.Tick.Timestamp,
		Symbol:     u.Key.Symbol,
		Exchange:   u.Key.Exchange,
		Mode:       int(u.Key.Mode),
		LTP:        u.Tick.LTP,
		Open:       u.Tick.Open,
		High:       u.Tick.High,
		Low:        u.Tick.Low,
		Close:      u.Tick.Close,
		Volume:     u.Tick.Volume,
	}

	if u.Tick.Depth != nil {
		// Depth is stored as JSONB; a marshal failure leaves it null.
		if data, err := json.Marshal(u.Tick.Depth); err == nil {
			row.Depth = data
		} else {
			r.logger.Warn("marshal depth failed", "symbol", u.Key.Symbol, "error", err)
		}
	}

	return row
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]tickRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	if err := r.batchInsert(ctx, batch); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch))
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed ticks",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (r *Recorder) batchInsert(ctx context.Context, rows []tickRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO ticks (received_at, exchange_ts, symbol, exchange, mode, ltp, open, high, low, close, volume, depth)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, row.ReceivedAt, row.ExchangeTs, row.Symbol, row.Exchange, row.Mode, row.LTP, row.Open, row.High, row.Low, row.Close, row.Volume, row.Depth)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
