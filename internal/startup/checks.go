package startup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
)

func (d *Diagnostics) runtimeInfo() Result {
	return Result{
		Check:   "runtime",
		Status:  OK,
		Message: runtime.Version(),
		Details: map[string]string{"os": runtime.GOOS, "arch": runtime.GOARCH},
	}
}

func (d *Diagnostics) configFile() Result {
	r := Result{Check: "config_file", Details: map[string]string{"path": d.configPath}}
	_, err := os.Stat(d.configPath)
	switch {
	case err == nil:
		r.Status, r.Message = OK, "config file found"
	case errors.Is(err, os.ErrNotExist):
		r.Status, r.Message = Warn, "config file not found, defaults in use"
	default:
		r.Status, r.Message = Fail, fmt.Sprintf("config file unreadable: %s", err)
	}
	return r
}

func (d *Diagnostics) configValid() Result {
	if err := d.cfg.Validate(); err != nil {
		return Result{Check: "config_validation", Status: Fail, Message: err.Error()}
	}
	return Result{Check: "config_validation", Status: OK, Message: "configuration is valid"}
}

// logFile creates the log directory. The console owns the terminal, so
// without a log file nothing it logs is visible.
func (d *Diagnostics) logFile() Result {
	path := d.cfg.Logging.File
	if path == "" {
		return Result{Check: "log_file", Status: Warn, Message: "no log file configured; logs go to stderr behind the console"}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{
			Check:   "log_file",
			Status:  Fail,
			Message: fmt.Sprintf("cannot create log directory: %s", err),
			Details: map[string]string{"dir": dir},
		}
	}
	return Result{Check: "log_file", Status: OK, Message: "log directory ready", Details: map[string]string{"path": path}}
}

// transport flags credentials and tokens that would cross the network in
// the clear.
func (d *Diagnostics) transport() []Result {
	var out []Result

	if u, err := url.Parse(d.cfg.API.BaseURL); err == nil {
		r := Result{Check: "api_transport", Status: OK, Message: "API transport acceptable", Details: map[string]string{"scheme": u.Scheme}}
		if u.Scheme == "http" && !loopback(u.Hostname()) {
			r.Status = Warn
			r.Message = "session tokens are sent to a remote API without TLS"
			r.Details = map[string]string{"host": u.Host}
		}
		out = append(out, r)
	}

	if d.cfg.Kafka.Enabled && d.cfg.Kafka.SecurityProtocol == "SASL_PLAINTEXT" {
		out = append(out, Result{Check: "kafka_transport", Status: Warn, Message: "Kafka credentials are sent without TLS"})
	}
	if d.cfg.Session.Store == "redis" && d.cfg.Session.EncryptionKey == "" {
		out = append(out, Result{Check: "session_encryption", Status: Warn, Message: "session tokens are stored in Redis unencrypted"})
	}
	return out
}

func loopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (d *Diagnostics) apiProbe(ctx context.Context) Result {
	r := Result{Check: "api_connectivity", Details: map[string]string{"base_url": d.cfg.API.BaseURL}}
	if d.api == nil {
		r.Status, r.Message = Skip, "no API client supplied"
		return r
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.api.Health(ctx); err != nil {
		r.Status, r.Message = Fail, fmt.Sprintf("classification API is unreachable: %s", err)
		return r
	}
	r.Status, r.Message = OK, "classification API is reachable"
	return r
}

func (d *Diagnostics) sessionProbe(ctx context.Context) Result {
	if d.cfg.Session.Store != "redis" {
		return Result{
			Check:   "session_store",
			Status:  Warn,
			Message: "sessions are kept in memory and will not survive a restart",
			Details: map[string]string{"store": d.cfg.Session.Store},
		}
	}
	return d.reach(ctx, "session_store", "Redis", []string{d.cfg.Session.Redis.Addr}, Fail)
}

// kafkaProbe only warns: publishing failures never block triage.
func (d *Diagnostics) kafkaProbe(ctx context.Context) Result {
	if !d.cfg.Kafka.Enabled {
		return Result{Check: "kafka", Status: Skip, Message: "event publishing is disabled"}
	}
	return d.reach(ctx, "kafka", "Kafka", d.cfg.Kafka.Brokers, Warn)
}

func (d *Diagnostics) journalProbe(ctx context.Context) Result {
	if !d.cfg.Journal.Enabled {
		return Result{
			Check:   "journal",
			Status:  Warn,
			Message: "decision journal is disabled; triage decisions will not be persisted",
		}
	}
	return d.reach(ctx, "journal", "ClickHouse", d.cfg.Journal.ClickHouse.Hosts, Fail)
}

func (d *Diagnostics) exportInfo(context.Context) Result {
	e := d.cfg.Export
	if !e.Enabled {
		return Result{Check: "export", Status: Skip, Message: "report export is disabled"}
	}
	details := map[string]string{"bucket": e.Bucket, "region": e.Region}
	if e.Endpoint != "" {
		details["endpoint"] = e.Endpoint
	}
	return Result{Check: "export", Status: OK, Message: "report export configured", Details: details}
}

// reach succeeds when any of addrs accepts a TCP connection. failure is the
// status recorded when none does.
func (d *Diagnostics) reach(ctx context.Context, check, service string, addrs []string, failure Status) Result {
	if len(addrs) == 0 {
		return Result{Check: check, Status: Fail, Message: "no " + service + " address configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var (
		dialer net.Dialer
		errs   []error
	)
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return Result{Check: check, Status: OK, Message: service + " is reachable", Details: map[string]string{"host": addr}}
		}
		errs = append(errs, err)
	}
	return Result{
		Check:   check,
		Status:  failure,
		Message: fmt.Sprintf("cannot connect to %s: %s", service, errors.Join(errs...)),
		Details: map[string]string{"tried": fmt.Sprint(len(addrs))},
	}
}
