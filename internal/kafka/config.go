// Package kafka publishes triage events to a Kafka topic so that other
// SOC tooling can follow alert resolutions, log purges and session teardowns.
package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// Config describes the triage event topic and how to reach it.
type Config struct {
	Brokers []string
	Topic   string

	// Used only when the topic is created.
	Partitions        int
	ReplicationFactor int
	Retention         time.Duration

	// Compression is one of none, gzip, snappy, lz4, zstd.
	Compression string

	// SecurityProtocol is PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL.
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	TLSCAFile        string
	TLSSkipVerify    bool

	BatchTimeout time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	// RequiredAcks is -1 for all replicas, 1 for the leader, 0 for none.
	RequiredAcks int

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns settings for a local single-broker cluster.
func DefaultConfig() *Config {
	return &Config{
		Brokers:           []string{"localhost:9092"},
		Topic:             "triage-events",
		Partitions:        3,
		ReplicationFactor: 1,
		Retention:         30 * 24 * time.Hour,
		Compression:       "lz4",
		SecurityProtocol:  "PLAINTEXT",
		BatchTimeout:      10 * time.Millisecond,
		MaxAttempts:       4,
		RetryBackoff:      100 * time.Millisecond,
		RequiredAcks:      -1,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

var codecs = map[string]kafka.Compression{
	"":       0,
	"none":   0,
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("at least one broker is required"))
	}
	for _, b := range c.Brokers {
		if _, _, err := net.SplitHostPort(b); err != nil {
			errs = append(errs, fmt.Errorf("broker %q: %w", b, err))
		}
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("topic is required"))
	}
	if c.Partitions < 1 || c.ReplicationFactor < 1 {
		errs = append(errs, errors.New("partitions and replication factor must be at least 1"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}
	if _, ok := codecs[c.Compression]; !ok {
		errs = append(errs, fmt.Errorf("unknown compression %q", c.Compression))
	}
	if c.RequiredAcks < -1 || c.RequiredAcks > 1 {
		errs = append(errs, fmt.Errorf("required acks %d is not -1, 0 or 1", c.RequiredAcks))
	}

	switch c.SecurityProtocol {
	case "PLAINTEXT", "SSL":
	case "SASL_PLAINTEXT", "SASL_SSL":
		switch c.SASLMechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			errs = append(errs, fmt.Errorf("unknown SASL mechanism %q", c.SASLMechanism))
		}
		if c.SASLUsername == "" || c.SASLPassword == "" {
			errs = append(errs, errors.New("SASL requires a username and password"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown security protocol %q", c.SecurityProtocol))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("kafka config: %w", err)
	}
	return nil
}

func (c *Config) usesSASL() bool {
	return c.SecurityProtocol == "SASL_PLAINTEXT" || c.SecurityProtocol == "SASL_SSL"
}

func (c *Config) usesTLS() bool {
	return c.SecurityProtocol == "SSL" || c.SecurityProtocol == "SASL_SSL"
}

// dialer builds a kafka-go dialer carrying the TLS and SASL settings. The
// producer's transport and the admin connections share it.
func (c *Config) dialer() (*kafka.Dialer, error) {
	d := &kafka.Dialer{Timeout: c.DialTimeout, DualStack: true}

	if c.usesTLS() {
		t, err := c.tlsConfig()
		if err != nil {
			return nil, err
		}
		d.TLS = t
	}
	if c.usesSASL() {
		m, err := c.mechanism()
		if err != nil {
			return nil, err
		}
		d.SASLMechanism = m
	}
	return d, nil
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	t := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.TLSSkipVerify,
	}
	if c.TLSCAFile == "" {
		return t, nil
	}

	pem, err := os.ReadFile(c.TLSCAFile)
	if err != nil {
		return nil, fmt.Errorf("kafka: read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("kafka: no certificates in %s", c.TLSCAFile)
	}
	t.RootCAs = pool
	return t, nil
}

func (c *Config) mechanism() (sasl.Mechanism, error) {
	switch c.SASLMechanism {
	case "PLAIN":
		return plain.Mechanism{Username: c.SASLUsername, Password: c.SASLPassword}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.SASLUsername, c.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.SASLUsername, c.SASLPassword)
	}
	return nil, fmt.Errorf("kafka: unsupported SASL mechanism %q", c.SASLMechanism)
}
