// Package storage journals triage decisions to ClickHouse.
package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Conn is the part of a ClickHouse connection the journal needs.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Select(ctx context.Context, dest any, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ Conn = driver.Conn(nil)

// ClickHouseConfig holds the journal's connection settings.
type ClickHouseConfig struct {
	Hosts           []string
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TLSEnabled      bool
	DialTimeout     time.Duration
	// Compression is lz4, zstd or none. Empty means lz4.
	Compression string
	// MaxExecutionTime caps each query on the server. Zero leaves the
	// server default.
	MaxExecutionTime time.Duration
}

var compressionMethods = map[string]clickhouse.CompressionMethod{
	"":     clickhouse.CompressionLZ4,
	"lz4":  clickhouse.CompressionLZ4,
	"zstd": clickhouse.CompressionZSTD,
	"none": clickhouse.CompressionNone,
}

// DefaultClickHouseConfig returns settings for a local single-node server.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:            []string{"localhost:9000"},
		Database:         "triage",
		Username:         "default",
		MaxOpenConns:     4,
		MaxIdleConns:     1,
		ConnMaxLifetime:  time.Hour,
		DialTimeout:      5 * time.Second,
		Compression:      "lz4",
		MaxExecutionTime: 30 * time.Second,
	}
}

// Open connects to ClickHouse and pings it within the dial timeout.
func Open(ctx context.Context, cfg ClickHouseConfig) (Conn, error) {
	if len(cfg.Hosts) == 0 {
		return nil, &JournalError{Op: "open", Err: ErrNoHosts}
	}
	if _, ok := compressionMethods[cfg.Compression]; !ok {
		return nil, &JournalError{Op: "open", Err: fmt.Errorf("unknown compression %q", cfg.Compression)}
	}

	conn, err := clickhouse.Open(clientOptions(cfg))
	if err != nil {
		return nil, unavailable("open", err)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultClickHouseConfig().DialTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, unavailable("ping", err)
	}
	return conn, nil
}

func clientOptions(cfg ClickHouseConfig) *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if m := compressionMethods[cfg.Compression]; m != clickhouse.CompressionNone {
		opts.Compression = &clickhouse.Compression{Method: m}
	}
	if secs := int(cfg.MaxExecutionTime / time.Second); secs > 0 {
		opts.Settings = clickhouse.Settings{"max_execution_time": secs}
	}
	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}
