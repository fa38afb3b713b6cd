package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/column"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// fakeConn stores sent rows in memory. While failing is set every
// PrepareBatch returns an error.
type fakeConn struct {
	mu      sync.Mutex
	failing bool
	rows    [][]any
	sends   int
	queries []string
	execs   []string
	applied []appliedMigration
}

func (c *fakeConn) Exec(_ context.Context, query string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
	if strings.HasPrefix(query, "INSERT INTO "+migrationsTable) {
		c.applied = append(c.applied, appliedMigration{Version: args[0].(uint32), Checksum: args[2].(string)})
	}
	return nil
}

func (c *fakeConn) Select(_ context.Context, dest any, _ string, _ ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	*dest.(*[]appliedMigration) = append([]appliedMigration(nil), c.applied...)
	return nil
}

func (c *fakeConn) PrepareBatch(_ context.Context, query string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	if c.failing {
		return nil, errors.New("connection refused")
	}
	return &fakeBatch{conn: c}, nil
}

func (c *fakeConn) Ping(context.Context) error { return nil }
func (c *fakeConn) Close() error               { return nil }

func (c *fakeConn) setFailing(v bool) {
	c.mu.Lock()
	c.failing = v
	c.mu.Unlock()
}

func (c *fakeConn) written() [][]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]any(nil), c.rows...)
}

type fakeBatch struct {
	conn *fakeConn
	rows [][]any
	sent bool
}

func (b *fakeBatch) Abort() error { return nil }
func (b *fakeBatch) Append(args ...any) error {
	b.rows = append(b.rows, args)
	return nil
}
func (b *fakeBatch) AppendStruct(any) error        { return nil }
func (b *fakeBatch) Column(int) driver.BatchColumn { return nil }
func (b *fakeBatch) Flush() error                  { return nil }
func (b *fakeBatch) Send() error {
	b.conn.mu.Lock()
	defer b.conn.mu.Unlock()
	b.conn.rows = append(b.conn.rows, b.rows...)
	b.conn.sends++
	b.sent = true
	return nil
}
func (b *fakeBatch) IsSent() bool                { return b.sent }
func (b *fakeBatch) Rows() int                   { return len(b.rows) }
func (b *fakeBatch) Columns() []column.Interface { return nil }
func (b *fakeBatch) Close() error                { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decision(target string) *Decision {
	d := NewDecision("resolve", OutcomeOK, "analyst@example.com", "soc_analyst", target)
	d.Prediction = "malicious"
	d.Severity = "critical"
	d.Score = 0.97
	return d
}

func targets(rows [][]any) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r[6].(string)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// idle returns a writer without its background loop, so flushes happen
// only when the test asks for them.
func idle(conn Conn, cfg BatchWriterConfig) *BatchWriter {
	return newBatchWriter(conn, cfg, quietLogger())
}

func TestNewBatchWriterAppliesDefaults(t *testing.T) {
	w := idle(&fakeConn{}, BatchWriterConfig{MaxRetries: -1})
	def := DefaultBatchWriterConfig()

	if w.cfg.BatchSize != def.BatchSize || w.cfg.FlushInterval != def.FlushInterval {
		t.Errorf("defaults not applied: %+v", w.cfg)
	}
	if w.cfg.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", w.cfg.MaxRetries)
	}
	if w.cfg.MaxBuffered != 10*def.BatchSize {
		t.Errorf("MaxBuffered = %d, want %d", w.cfg.MaxBuffered, 10*def.BatchSize)
	}
}

func TestBatchWriterFlushWritesDecisionColumns(t *testing.T) {
	conn := &fakeConn{}
	w := idle(conn, BatchWriterConfig{BatchSize: 10})

	d := decision("log-1")
	if err := w.Record(d); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got := w.Metrics().Pending; got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	rows := conn.written()
	if len(rows) != 1 {
		t.Fatalf("wrote %d rows, want 1", len(rows))
	}
	if !reflect.DeepEqual(rows[0], d.columns()) {
		t.Errorf("row = %v, want %v", rows[0], d.columns())
	}
	if len(rows[0]) != 11 || rows[0][0] != d.ID || rows[0][2] != "resolve" || rows[0][8] != "critical" {
		t.Errorf("unexpected column layout %v", rows[0])
	}
	if !strings.HasPrefix(conn.queries[0], "INSERT INTO triage_decisions") {
		t.Errorf("query = %q", conn.queries[0])
	}

	m := w.Metrics()
	if m.Written != 1 || m.Batches != 1 || m.Pending != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestBatchWriterFlushSplitsIntoBatches(t *testing.T) {
	conn := &fakeConn{}
	w := idle(conn, BatchWriterConfig{BatchSize: 2})

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		w.Record(decision(id))
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if conn.sends != 3 {
		t.Errorf("sends = %d, want 3", conn.sends)
	}
	if got := targets(conn.written()); !reflect.DeepEqual(got, []string{"a", "b", "c", "d", "e"}) {
		t.Errorf("written order = %v", got)
	}
	if m := w.Metrics(); m.Batches != 3 || m.Written != 5 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestBatchWriterFailedBatchStaysQueued(t *testing.T) {
	conn := &fakeConn{failing: true}
	w := idle(conn, BatchWriterConfig{BatchSize: 10, MaxRetries: 1, RetryDelay: time.Millisecond})

	w.Record(decision("first"))
	w.Record(decision("second"))

	err := w.Flush(context.Background())
	if !errors.Is(err, ErrInsertFailed) {
		t.Fatalf("Flush() error = %v, want ErrInsertFailed", err)
	}
	var je *JournalError
	if !errors.As(err, &je) || je.Rows != 2 || je.Attempts != 2 {
		t.Errorf("journal error = %+v", je)
	}
	if m := w.Metrics(); m.Pending != 2 || m.Retries != 1 || m.Written != 0 {
		t.Errorf("metrics after failure = %+v", m)
	}

	w.Record(decision("third"))
	conn.setFailing(false)
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() after recovery error = %v", err)
	}
	if got := targets(conn.written()); !reflect.DeepEqual(got, []string{"first", "second", "third"}) {
		t.Errorf("written order = %v", got)
	}
}

func TestBatchWriterDropsOldestBeyondBuffer(t *testing.T) {
	conn := &fakeConn{failing: true}
	w := idle(conn, BatchWriterConfig{BatchSize: 2, MaxBuffered: 3})

	for _, id := range []string{"a", "b", "c", "d"} {
		w.Record(decision(id))
	}
	if m := w.Metrics(); m.Pending != 3 || m.Dropped != 1 {
		t.Fatalf("metrics = %+v, want 3 pending and 1 dropped", m)
	}

	conn.setFailing(false)
	w.Flush(context.Background())
	if got := targets(conn.written()); !reflect.DeepEqual(got, []string{"b", "c", "d"}) {
		t.Errorf("written = %v, want the newest three", got)
	}
}

func TestBatchWriterRetryStopsOnCancel(t *testing.T) {
	conn := &fakeConn{failing: true}
	w := idle(conn, BatchWriterConfig{BatchSize: 10, MaxRetries: 5, RetryDelay: time.Hour})
	w.Record(decision("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.Flush(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrInsertFailed) {
			t.Errorf("Flush() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Flush() kept retrying after cancel")
	}
	if w.Metrics().Pending != 1 {
		t.Error("cancelled batch should stay queued")
	}
}

func TestBatchWriterFullBatchFlushesInBackground(t *testing.T) {
	conn := &fakeConn{}
	w := NewBatchWriter(conn, BatchWriterConfig{BatchSize: 3, FlushInterval: time.Hour}, quietLogger())
	defer w.Close()

	for _, id := range []string{"a", "b", "c"} {
		w.Record(decision(id))
	}
	waitFor(t, func() bool { return w.Metrics().Written == 3 })
}

func TestBatchWriterFlushesOnInterval(t *testing.T) {
	conn := &fakeConn{}
	w := NewBatchWriter(conn, BatchWriterConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, quietLogger())
	defer w.Close()

	w.Record(decision("a"))
	waitFor(t, func() bool { return len(conn.written()) == 1 })
}

func TestBatchWriterCloseFlushesPending(t *testing.T) {
	conn := &fakeConn{}
	w := NewBatchWriter(conn, BatchWriterConfig{BatchSize: 100, FlushInterval: time.Hour}, quietLogger())

	for _, id := range []string{"a", "b", "c"} {
		w.Record(decision(id))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(conn.written()) != 3 {
		t.Errorf("wrote %d rows on close, want 3", len(conn.written()))
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := w.Record(decision("late")); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Record() after Close = %v, want ErrWriterClosed", err)
	}
}

func TestBatchWriterCloseDropsUnwritable(t *testing.T) {
	conn := &fakeConn{failing: true}
	w := NewBatchWriter(conn, BatchWriterConfig{BatchSize: 100, FlushInterval: time.Hour, RetryDelay: time.Millisecond}, quietLogger())

	w.Record(decision("a"))
	w.Record(decision("b"))

	if err := w.Close(); !errors.Is(err, ErrInsertFailed) {
		t.Fatalf("Close() error = %v, want ErrInsertFailed", err)
	}
	if m := w.Metrics(); m.Dropped != 2 || m.Pending != 0 {
		t.Errorf("metrics = %+v, want 2 dropped", m)
	}
}

func TestBatchWriterConcurrentRecord(t *testing.T) {
	conn := &fakeConn{}
	w := NewBatchWriter(conn, BatchWriterConfig{BatchSize: 7, FlushInterval: 5 * time.Millisecond, MaxBuffered: 1000}, quietLogger())

	const workers, each = 8, 50
	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if err := w.Record(decision("x")); err != nil {
					t.Errorf("Record() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if m := w.Metrics(); m.Written != workers*each || m.Dropped != 0 {
		t.Errorf("metrics = %+v, want %d written", m, workers*each)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := DefaultClickHouseConfig()
	cfg.Password = "pw"

	opts := clientOptions(cfg)
	if !reflect.DeepEqual(opts.Addr, cfg.Hosts) {
		t.Errorf("Addr = %v", opts.Addr)
	}
	if opts.Auth.Database != "triage" || opts.Auth.Password != "pw" {
		t.Errorf("Auth = %+v", opts.Auth)
	}
	if opts.TLS != nil {
		t.Error("TLS should be off by default")
	}

	if opts.Compression == nil || opts.Compression.Method != clickhouse.CompressionLZ4 {
		t.Errorf("Compression = %+v, want lz4", opts.Compression)
	}
	if opts.Settings["max_execution_time"] != 30 {
		t.Errorf("Settings = %v", opts.Settings)
	}

	cfg.TLSEnabled = true
	cfg.Compression = "none"
	cfg.MaxExecutionTime = 0
	opts = clientOptions(cfg)
	if opts.TLS == nil {
		t.Error("TLS should be configured when enabled")
	}
	if opts.Compression != nil || opts.Settings != nil {
		t.Errorf("compression %+v and settings %v should be unset", opts.Compression, opts.Settings)
	}
}

func TestOpenUnknownCompression(t *testing.T) {
	cfg := DefaultClickHouseConfig()
	cfg.Compression = "gzip"
	_, err := Open(context.Background(), cfg)
	var je *JournalError
	if !errors.As(err, &je) || je.Op != "open" {
		t.Errorf("Open() error = %v, want an open JournalError", err)
	}
}

func TestOpenWithoutHosts(t *testing.T) {
	_, err := Open(context.Background(), ClickHouseConfig{})
	if !errors.Is(err, ErrNoHosts) {
		t.Errorf("Open() error = %v, want ErrNoHosts", err)
	}
}
