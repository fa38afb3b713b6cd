// Package app wires the triage console from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"alert-triage/internal/api"
	"alert-triage/internal/config"
	"alert-triage/internal/encryption"
	"alert-triage/internal/kafka"
	"alert-triage/internal/metrics"
	"alert-triage/internal/middleware"
	"alert-triage/internal/secrets"
	"alert-triage/internal/session"
	"alert-triage/internal/storage"
	reports "alert-triage/internal/storage/s3"
	"alert-triage/internal/triage"
)

// App holds the console and every resource it was built on.
type App struct {
	Console *triage.Console
	Client  *api.Client
	Metrics *metrics.Handler

	logger   *slog.Logger
	store    session.Store
	producer *kafka.Producer
	journal  *storage.BatchWriter
	ch       storage.Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Build connects the session store and the optional integrations, then
// creates the console. Optional integrations that cannot be reached are
// logged and left out; a session store that cannot be reached is fatal.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Metrics: metrics.New(),
		logger:  logger,
	}

	if err := resolveCredentials(ctx, cfg, logger); err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg.Session, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	guard := session.NewGuard(store, logger)
	a.Client = api.NewClient(cfg.API.BaseURL,
		api.WithToken(func() string { return guard.Current().Token }),
		api.WithTimeout(cfg.API.Timeout),
		api.WithLogger(logger),
	)

	opts := []triage.Option{
		triage.WithLogger(logger),
		triage.WithMetrics(a.Metrics),
	}

	if cfg.Kafka.Enabled {
		producer, err := newProducer(ctx, cfg.Kafka, logger)
		if err != nil {
			logger.Warn("event publishing disabled", "error", err)
		} else {
			a.producer = producer
			opts = append(opts, triage.WithPublisher(producer))
		}
	}

	if cfg.Journal.Enabled {
		if err := a.openJournal(ctx, cfg.Journal); err != nil {
			logger.Warn("decision journal disabled", "error", err)
		} else {
			opts = append(opts, triage.WithJournal(a.journal))
		}
	}

	if cfg.Export.Enabled {
		exporter, err := newExporter(ctx, cfg.Export, logger)
		if err != nil {
			logger.Warn("report export disabled", "error", err)
		} else {
			opts = append(opts, triage.WithExporter(exporter))
		}
	}

	a.Console = triage.New(cfg.Triage, a.Client, guard, opts...)

	if cfg.Metrics.Enabled {
		serveCtx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		limiter := middleware.NewRateLimiter(cfg.Metrics.RequestsPerMinute, time.Minute)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			err := a.Metrics.Serve(serveCtx, cfg.Metrics.Addr, logger,
				middleware.SecurityHeaders, middleware.RateLimit(limiter, logger))
			if err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	return a, nil
}

// resolveCredentials replaces credential references in cfg with their values.
func resolveCredentials(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	r := secrets.NewResolver(secrets.Options{
		EnvPrefix: cfg.Secrets.EnvPrefix,
		Dir:       cfg.Secrets.Dir,
		Logger:    logger,
	})
	err := r.ResolveAll(ctx, map[string]*string{
		"session.redis.password":      &cfg.Session.Redis.Password,
		"session.encryption_key":      &cfg.Session.EncryptionKey,
		"kafka.sasl_password":         &cfg.Kafka.SASLPassword,
		"journal.clickhouse.password": &cfg.Journal.ClickHouse.Password,
		"export.access_key_id":        &cfg.Export.AccessKeyID,
		"export.secret_access_key":    &cfg.Export.SecretKey,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve credentials: %w", err)
	}
	return nil
}

func newStore(ctx context.Context, cfg config.SessionConfig, logger *slog.Logger) (session.Store, error) {
	if cfg.Store != "redis" {
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), nil
	}

	client, err := session.DialRedis(ctx, session.RedisConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
		MaxRetries:   cfg.Redis.MaxRetries,
		TLSEnabled:   cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect session store: %w", err)
	}
	store := session.NewRedisStore(client, cfg.Prefix, cfg.Profile, cfg.TTL)
	if cfg.EncryptionKey != "" {
		engine, err := encryption.NewEngineFromString(cfg.EncryptionKey, logger)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("invalid session encryption key: %w", err)
		}
		store.WithCipher(engine)
	}
	logger.Info("using redis session store", "addr", cfg.Redis.Addr, "profile", cfg.Profile, "sealed", cfg.EncryptionKey != "")
	return store, nil
}

func newProducer(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger) (*kafka.Producer, error) {
	kcfg := kafka.DefaultConfig()
	kcfg.Brokers = cfg.Brokers
	kcfg.Topic = cfg.Topic
	kcfg.Partitions = cfg.Partitions
	kcfg.ReplicationFactor = cfg.ReplicationFactor
	kcfg.Retention = cfg.Retention
	kcfg.Compression = cfg.Compression
	kcfg.SecurityProtocol = cfg.SecurityProtocol
	kcfg.SASLMechanism = cfg.SASLMechanism
	kcfg.SASLUsername = cfg.SASLUsername
	kcfg.SASLPassword = cfg.SASLPassword
	kcfg.TLSCAFile = cfg.TLSCAFile
	kcfg.BatchTimeout = cfg.BatchTimeout
	if cfg.MaxAttempts > 0 {
		kcfg.MaxAttempts = cfg.MaxAttempts
	}
	kcfg.WriteTimeout = cfg.WriteTimeout
	kcfg.RequiredAcks = cfg.RequiredAcks

	if cfg.CreateTopic {
		admin, err := kafka.NewAdmin(kcfg, logger)
		if err != nil {
			return nil, err
		}
		if err := admin.EnsureTopic(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure topic %s: %w", cfg.Topic, err)
		}
	}

	return kafka.NewProducer(kcfg, logger)
}

func (a *App) openJournal(ctx context.Context, cfg config.JournalConfig) error {
	ch, err := storage.Open(ctx, storage.ClickHouseConfig{
		Hosts:            cfg.ClickHouse.Hosts,
		Database:         cfg.ClickHouse.Database,
		Username:         cfg.ClickHouse.Username,
		Password:         cfg.ClickHouse.Password,
		MaxOpenConns:     cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:     cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime:  cfg.ClickHouse.ConnMaxLifetime,
		TLSEnabled:       cfg.ClickHouse.TLSEnabled,
		DialTimeout:      cfg.ClickHouse.DialTimeout,
		Compression:      cfg.ClickHouse.Compression,
		MaxExecutionTime: cfg.ClickHouse.MaxExecutionTime,
	})
	if err != nil {
		return err
	}

	if err := storage.NewMigrator(ch, a.logger).Run(ctx); err != nil {
		ch.Close()
		return fmt.Errorf("failed to run journal migrations: %w", err)
	}

	a.ch = ch
	a.journal = storage.NewBatchWriter(ch, storage.BatchWriterConfig{
		BatchSize:     cfg.BatchWriter.BatchSize,
		FlushInterval: cfg.BatchWriter.FlushInterval,
		MaxRetries:    cfg.BatchWriter.MaxRetries,
		RetryDelay:    cfg.BatchWriter.RetryDelay,
		MaxBuffered:   cfg.BatchWriter.MaxBuffered,
	}, a.logger)
	return nil
}

func newExporter(ctx context.Context, cfg config.ExportConfig, logger *slog.Logger) (*reports.Exporter, error) {
	bcfg := reports.DefaultConfig()
	bcfg.Region = cfg.Region
	bcfg.Bucket = cfg.Bucket
	bcfg.Prefix = cfg.Prefix
	bcfg.Endpoint = cfg.Endpoint
	bcfg.AccessKeyID = cfg.AccessKeyID
	bcfg.SecretAccessKey = cfg.SecretKey
	bcfg.UsePathStyle = cfg.ForcePathStyle
	if cfg.StorageClass != "" {
		bcfg.StorageClass = cfg.StorageClass
	}

	bucket, err := reports.OpenBucket(ctx, bcfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("report export enabled", "bucket", bucket.Name(), "prefix", cfg.Prefix)
	return reports.NewExporter(bucket, logger), nil
}

// Close stops the console and releases every resource in reverse order of
// construction. Pending journal rows are flushed first.
func (a *App) Close() error {
	var errs []error

	if a.Console != nil {
		a.Console.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
		m := a.journal.Metrics()
		a.logger.Info("decision journal closed",
			"written", m.Written,
			"batches", m.Batches,
			"retries", m.Retries,
			"dropped", m.Dropped,
		)
	}
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
		s := a.producer.Stats()
		a.logger.Info("event producer closed",
			"published", s.Published,
			"retries", s.Retries,
			"failed", s.Failed,
		)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session store: %w", err))
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
	}

	return errors.Join(errs...)
}
