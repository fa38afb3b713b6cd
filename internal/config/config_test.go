package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.API.BaseURL != "http://localhost:5000/api" {
		t.Errorf("expected default API URL, got %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("expected Timeout 5s, got %v", cfg.API.Timeout)
	}

	// Test triage limits
	if cfg.Triage.ListLimit != 100 {
		t.Errorf("expected ListLimit 100, got %d", cfg.Triage.ListLimit)
	}
	if cfg.Triage.DashboardLimit != 50 {
		t.Errorf("expected DashboardLimit 50, got %d", cfg.Triage.DashboardLimit)
	}
	if cfg.Triage.BatchMax != 100 {
		t.Errorf("expected BatchMax 100, got %d", cfg.Triage.BatchMax)
	}
	if cfg.Triage.PreviewLimit != 20 {
		t.Errorf("expected PreviewLimit 20, got %d", cfg.Triage.PreviewLimit)
	}
	if cfg.Triage.PasswordMinLength != 8 {
		t.Errorf("expected PasswordMinLength 8, got %d", cfg.Triage.PasswordMinLength)
	}

	if cfg.Session.Store != "memory" {
		t.Errorf("expected memory session store, got %s", cfg.Session.Store)
	}

	// Optional integrations are off by default
	if cfg.Kafka.Enabled || cfg.Journal.Enabled || cfg.Export.Enabled || cfg.Metrics.Enabled {
		t.Error("expected optional integrations to be disabled by default")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig should be valid, got error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }},
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api" }},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }},
		{"unknown store", func(c *Config) { c.Session.Store = "disk" }},
		{"redis without addr", func(c *Config) {
			c.Session.Store = "redis"
			c.Session.Redis.Addr = ""
		}},
		{"zero list limit", func(c *Config) { c.Triage.ListLimit = 0 }},
		{"batch max above bound", func(c *Config) { c.Triage.BatchMax = 101 }},
		{"zero preview", func(c *Config) { c.Triage.PreviewLimit = 0 }},
		{"short password minimum", func(c *Config) { c.Triage.PasswordMinLength = 6 }},
		{"zero confirmation ttl", func(c *Config) { c.Triage.ConfirmationTTL = 0 }},
		{"kafka without topic", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Topic = ""
		}},
		{"journal without hosts", func(c *Config) {
			c.Journal.Enabled = true
			c.Journal.ClickHouse.Hosts = nil
		}},
		{"export without bucket", func(c *Config) { c.Export.Enabled = true }},
		{"metrics without addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		sep      string
		expected []string
	}{
		{
			name:     "simple split",
			input:    "a,b,c",
			sep:      ",",
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "with spaces",
			input:    "a , b , c",
			sep:      ",",
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "empty parts filtered",
			input:    "a,,b",
			sep:      ",",
			expected: []string{"a", "b"},
		},
		{
			name:     "empty string",
			input:    "",
			sep:      ",",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitAndTrim(tt.input, tt.sep)
			if len(result) != len(tt.expected) {
				t.Errorf("splitAndTrim(%q, %q) = %v, expected %v", tt.input, tt.sep, result, tt.expected)
				return
			}
			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("splitAndTrim(%q, %q)[%d] = %q, expected %q", tt.input, tt.sep, i, v, tt.expected[i])
				}
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Run("log level override", func(t *testing.T) {
		t.Setenv("TRIAGE_LOG_LEVEL", "debug")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
		}
	})

	t.Run("api url override", func(t *testing.T) {
		t.Setenv("TRIAGE_API_URL", "https://triage.example.com/api")
		t.Setenv("TRIAGE_API_TIMEOUT", "9s")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if cfg.API.BaseURL != "https://triage.example.com/api" {
			t.Errorf("unexpected base url %s", cfg.API.BaseURL)
		}
		if cfg.API.Timeout != 9*time.Second {
			t.Errorf("expected 9s timeout, got %v", cfg.API.Timeout)
		}
	})

	t.Run("error detail toggle", func(t *testing.T) {
		cfg := DefaultConfig()
		if cfg.API.ShowErrorDetail {
			t.Fatal("error detail must be off by default")
		}
		t.Setenv("TRIAGE_SHOW_ERROR_DETAIL", "true")
		cfg.applyEnvOverrides()
		if !cfg.API.ShowErrorDetail {
			t.Error("expected ShowErrorDetail from TRIAGE_SHOW_ERROR_DETAIL")
		}
		t.Setenv("TRIAGE_SHOW_ERROR_DETAIL", "maybe")
		cfg.applyEnvOverrides()
		if !cfg.API.ShowErrorDetail {
			t.Error("an unparsable value should leave the setting alone")
		}
	})

	t.Run("kafka brokers enable publishing", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if !cfg.Kafka.Enabled {
			t.Error("expected Kafka.Enabled when brokers are set")
		}
		if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
			t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
		}
	})

	t.Run("redis session store", func(t *testing.T) {
		t.Setenv("TRIAGE_SESSION_STORE", "redis")
		t.Setenv("REDIS_ADDR", "cache:6379")
		t.Setenv("REDIS_DB", "3")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if cfg.Session.Store != "redis" || cfg.Session.Redis.Addr != "cache:6379" || cfg.Session.Redis.DB != 3 {
			t.Errorf("unexpected session config %+v", cfg.Session)
		}
	})

	t.Run("export bucket enables export", func(t *testing.T) {
		t.Setenv("TRIAGE_EXPORT_BUCKET", "soc-reports")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if !cfg.Export.Enabled || cfg.Export.Bucket != "soc-reports" {
			t.Errorf("unexpected export config %+v", cfg.Export)
		}
	})
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
api:
  base_url: http://classifier.internal:5000/api
  timeout: 3s
triage:
  list_limit: 40
logging:
  level: warn
  file: /tmp/triage.log
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("TRIAGE_CONFIG_PATH", path)
	t.Setenv("TRIAGE_LOG_LEVEL", "error")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.BaseURL != "http://classifier.internal:5000/api" {
		t.Errorf("unexpected base url %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %v", cfg.API.Timeout)
	}
	if cfg.Triage.ListLimit != 40 {
		t.Errorf("expected ListLimit 40, got %d", cfg.Triage.ListLimit)
	}
	// Values absent from the file keep their defaults.
	if cfg.Triage.DashboardLimit != 50 {
		t.Errorf("expected DashboardLimit 50, got %d", cfg.Triage.DashboardLimit)
	}
	// Environment wins over the file.
	if cfg.Logging.Level != "error" {
		t.Errorf("expected env log level, got %s", cfg.Logging.Level)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("TRIAGE_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Triage.ListLimit != 100 {
		t.Errorf("expected defaults, got ListLimit %d", cfg.Triage.ListLimit)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api: [unclosed"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("TRIAGE_CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}
}
