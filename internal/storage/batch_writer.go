package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const insertDecisions = `INSERT INTO triage_decisions (
	decision_id, occurred_at, action, outcome,
	actor_email, actor_role, target,
	prediction, severity, score, detail
)`

// BatchWriterConfig tunes how decisions are grouped and retried.
type BatchWriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	// MaxBuffered bounds the decisions held while ClickHouse is failing.
	// The oldest are dropped first. Values below BatchSize mean ten batches.
	MaxBuffered int
}

// DefaultBatchWriterConfig returns the default batch writer configuration.
func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
		MaxBuffered:   1000,
	}
}

// BatchWriter queues decisions and inserts them in batches from a
// background loop. A batch that fails every retry goes back to the front
// of the queue, so decisions are written in the order they were taken.
type BatchWriter struct {
	conn   Conn
	cfg    BatchWriterConfig
	logger *slog.Logger

	mu      sync.Mutex
	pending []*Decision
	closed  bool

	flushMu sync.Mutex
	kick    chan struct{}
	ctx     context.Context
	stop    context.CancelFunc
	loop    sync.WaitGroup

	written atomic.Uint64
	batches atomic.Uint64
	retries atomic.Uint64
	dropped atomic.Uint64
}

// NewBatchWriter starts a writer that flushes every FlushInterval and
// whenever a full batch is queued.
func NewBatchWriter(conn Conn, cfg BatchWriterConfig, logger *slog.Logger) *BatchWriter {
	w := newBatchWriter(conn, cfg, logger)
	w.loop.Add(1)
	go w.run()
	return w
}

func newBatchWriter(conn Conn, cfg BatchWriterConfig, logger *slog.Logger) *BatchWriter {
	def := DefaultBatchWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxBuffered < cfg.BatchSize {
		cfg.MaxBuffered = 10 * cfg.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := context.WithCancel(context.Background())
	return &BatchWriter{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		kick:   make(chan struct{}, 1),
		ctx:    ctx,
		stop:   stop,
	}
}

// Record queues d. It never waits on ClickHouse.
func (w *BatchWriter) Record(d *Decision) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.pending = append(w.pending, d)
	w.trimLocked()
	full := len(w.pending) >= w.cfg.BatchSize
	w.mu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (w *BatchWriter) run() {
	defer w.loop.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		case <-w.kick:
		}
		if err := w.Flush(w.ctx); err != nil && w.ctx.Err() == nil {
			w.logger.Warn("journal flush failed", "error", err, "pending", w.pendingCount())
		}
	}
}

// Flush writes everything queued, one batch at a time. On failure the
// unwritten batch stays queued and the error is returned.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	for {
		batch := w.take()
		if len(batch) == 0 {
			return nil
		}
		if err := w.insertWithRetry(ctx, batch); err != nil {
			w.requeue(batch)
			return err
		}
	}
}

func (w *BatchWriter) take() []*Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := min(len(w.pending), w.cfg.BatchSize)
	if n == 0 {
		return nil
	}
	batch := w.pending[:n:n]
	w.pending = w.pending[n:]
	return batch
}

func (w *BatchWriter) requeue(batch []*Decision) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(batch, w.pending...)
	w.trimLocked()
}

// trimLocked drops the oldest decisions beyond MaxBuffered.
func (w *BatchWriter) trimLocked() {
	over := len(w.pending) - w.cfg.MaxBuffered
	if over <= 0 {
		return
	}
	w.pending = append([]*Decision(nil), w.pending[over:]...)
	w.dropped.Add(uint64(over))
	w.logger.Warn("journal buffer full, oldest decisions dropped", "dropped", over)
}

func (w *BatchWriter) insertWithRetry(ctx context.Context, batch []*Decision) error {
	var err error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			w.retries.Add(1)
			select {
			case <-ctx.Done():
				return insertFailed(len(batch), attempt, ctx.Err())
			case <-time.After(w.cfg.RetryDelay << (attempt - 1)):
			}
		}

		if err = w.insert(ctx, batch); err == nil {
			w.written.Add(uint64(len(batch)))
			w.batches.Add(1)
			return nil
		}
		w.logger.Debug("journal insert attempt failed", "attempt", attempt+1, "rows", len(batch), "error", err)
	}
	return insertFailed(len(batch), w.cfg.MaxRetries+1, err)
}

func (w *BatchWriter) insert(ctx context.Context, batch []*Decision) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	b, err := w.conn.PrepareBatch(ctx, insertDecisions)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	for _, d := range batch {
		if err := b.Append(d.columns()...); err != nil {
			b.Abort()
			return fmt.Errorf("append decision %s: %w", d.ID, err)
		}
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close stops the background loop and makes a last attempt to write what
// is queued. Decisions that still cannot be written are counted as dropped.
func (w *BatchWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.stop()
	w.loop.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := w.Flush(ctx)
	if err != nil {
		w.mu.Lock()
		w.dropped.Add(uint64(len(w.pending)))
		w.pending = nil
		w.mu.Unlock()
	}
	return err
}

// Metrics returns batch writer statistics.
func (w *BatchWriter) Metrics() BatchWriterMetrics {
	return BatchWriterMetrics{
		Written: w.written.Load(),
		Batches: w.batches.Load(),
		Retries: w.retries.Load(),
		Dropped: w.dropped.Load(),
		Pending: w.pendingCount(),
	}
}

func (w *BatchWriter) pendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// BatchWriterMetrics holds batch writer statistics.
type BatchWriterMetrics struct {
	Written uint64 `json:"written"`
	Batches uint64 `json:"batches"`
	Retries uint64 `json:"retries"`
	Dropped uint64 `json:"dropped"`
	Pending int    `json:"pending"`
}
