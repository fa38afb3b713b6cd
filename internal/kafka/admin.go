package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// Admin creates the event topic on clusters without auto-creation.
type Admin struct {
	cfg    *Config
	dialer *kafka.Dialer
	logger *slog.Logger
}

// NewAdmin validates cfg and prepares a dialer for it.
func NewAdmin(cfg *Config, logger *slog.Logger) (*Admin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := cfg.dialer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{cfg: cfg, dialer: d, logger: logger}, nil
}

// EnsureTopic creates the topic on the controller unless some broker
// already reports partitions for it.
func (a *Admin) EnsureTopic(ctx context.Context) error {
	conn, err := a.dialAny(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	parts, err := conn.ReadPartitions(a.cfg.Topic)
	if err == nil && len(parts) > 0 {
		a.logger.Debug("event topic present", "topic", a.cfg.Topic, "partitions", len(parts))
		return nil
	}

	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: find controller: %w", err)
	}
	cc, err := a.dialer.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return fmt.Errorf("kafka: dial controller: %w", err)
	}
	defer cc.Close()

	if err := cc.CreateTopics(a.topicConfig()); err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", a.cfg.Topic, err)
	}
	a.logger.Info("event topic created",
		"topic", a.cfg.Topic,
		"partitions", a.cfg.Partitions,
		"replication_factor", a.cfg.ReplicationFactor,
		"retention", a.cfg.Retention,
	)
	return nil
}

func (a *Admin) topicConfig() kafka.TopicConfig {
	tc := kafka.TopicConfig{
		Topic:             a.cfg.Topic,
		NumPartitions:     a.cfg.Partitions,
		ReplicationFactor: a.cfg.ReplicationFactor,
	}
	if a.cfg.Retention > 0 {
		tc.ConfigEntries = append(tc.ConfigEntries, kafka.ConfigEntry{
			ConfigName:  "retention.ms",
			ConfigValue: strconv.FormatInt(a.cfg.Retention.Milliseconds(), 10),
		})
	}
	return tc
}

// dialAny returns a connection to the first broker that answers.
func (a *Admin) dialAny(ctx context.Context) (*kafka.Conn, error) {
	var last error
	for _, b := range a.cfg.Brokers {
		conn, err := a.dialer.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn, nil
		}
		a.logger.Debug("broker unreachable", "broker", b, "error", err)
		last = err
	}
	return nil, fmt.Errorf("kafka: no broker reachable: %w", last)
}
