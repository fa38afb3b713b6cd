package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEnvSource(t *testing.T) {
	src := EnvSource{Prefix: "TRIAGE_"}
	ctx := context.Background()

	t.Setenv("TRIAGE_CLICKHOUSE_PASSWORD", "ch-pass")
	t.Setenv("REDIS_PASSWORD_FOR_TEST", "redis-pass")

	tests := []struct {
		key, want string
	}{
		{"clickhouse.password", "ch-pass"},
		{"clickhouse-password", "ch-pass"},
		{"TRIAGE_CLICKHOUSE_PASSWORD", "ch-pass"},
		{"REDIS_PASSWORD_FOR_TEST", "redis-pass"},
	}
	for _, tt := range tests {
		got, err := src.Lookup(ctx, tt.key)
		if err != nil || got != tt.want {
			t.Errorf("Lookup(%q) = %q, %v; want %q", tt.key, got, err, tt.want)
		}
	}

	if _, err := src.Lookup(ctx, "nothing_here"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(missing) = %v, want ErrNotFound", err)
	}
}

func TestEnvSourceIgnoresEmptyVariables(t *testing.T) {
	t.Setenv("TRIAGE_BLANK", "")
	if _, err := (EnvSource{Prefix: "TRIAGE_"}).Lookup(context.Background(), "blank"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(blank) = %v, want ErrNotFound", err)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	src := DirSource{Dir: dir}
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "clickhouse_password"), []byte("secret-value\r\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := src.Lookup(ctx, "clickhouse/password")
	if err != nil || got != "secret-value" {
		t.Errorf("Lookup() = %q, %v; want trimmed value", got, err)
	}
	if _, err := src.Lookup(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(missing) = %v, want ErrNotFound", err)
	}
}

func TestDirSourceStaysInside(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "secrets")
	if err := os.Mkdir(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(parent, "outside"), []byte("leak"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(parent, "outside"), filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	src := DirSource{Dir: dir}
	for _, key := range []string{"../outside", "..", "link"} {
		if v, err := src.Lookup(context.Background(), key); err == nil {
			t.Errorf("Lookup(%q) = %q, want an error", key, v)
		}
	}
}

func testResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	return NewResolver(Options{EnvPrefix: "TRIAGE_", Dir: dir, CacheTTL: time.Minute}), dir
}

func TestParse(t *testing.T) {
	r, _ := testResolver(t)
	tests := []struct {
		ref  string
		want Ref
	}{
		{"plain-value", Ref{Key: "plain-value"}},
		{"env:REDIS_PASSWORD", Ref{Scheme: "env", Key: "REDIS_PASSWORD"}},
		{"file:clickhouse_password", Ref{Scheme: "file", Key: "clickhouse_password"}},
		{"p@ss:word", Ref{Key: "p@ss:word"}},
		{"vault:secret/redis", Ref{Key: "vault:secret/redis"}},
	}
	for _, tt := range tests {
		if got := r.Parse(tt.ref); got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.ref, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	r, dir := testResolver(t)
	ctx := context.Background()
	t.Setenv("TRIAGE_REDIS_PASSWORD", "from-env")
	if err := os.WriteFile(filepath.Join(dir, "kafka_password"), []byte("from-file"), 0o600); err != nil {
		t.Fatal(err)
	}

	for ref, want := range map[string]string{
		"literal-value":        "literal-value",
		"env:redis_password":   "from-env",
		"file:kafka_password":  "from-file",
		"vault:secret/session": "vault:secret/session",
	} {
		got, err := r.Resolve(ctx, ref)
		if err != nil || got != want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", ref, got, err, want)
		}
	}

	if _, err := r.Resolve(ctx, "env:missing_for_test"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(missing) = %v, want ErrNotFound", err)
	}
}

func TestResolverCaches(t *testing.T) {
	r, dir := testResolver(t)
	ctx := context.Background()
	path := filepath.Join(dir, "rotating")
	os.WriteFile(path, []byte("v1"), 0o600)

	if v, _ := r.Resolve(ctx, "file:rotating"); v != "v1" {
		t.Fatalf("first read = %q", v)
	}
	os.WriteFile(path, []byte("v2"), 0o600)
	if v, _ := r.Resolve(ctx, "file:rotating"); v != "v1" {
		t.Errorf("cached read = %q, want v1", v)
	}
	r.Forget()
	if v, _ := r.Resolve(ctx, "file:rotating"); v != "v2" {
		t.Errorf("read after Forget = %q, want v2", v)
	}
}

func TestResolverWithoutDir(t *testing.T) {
	r := NewResolver(Options{EnvPrefix: "TRIAGE_"})
	if p := r.Parse("file:x"); !p.Literal() {
		t.Errorf("file references should be literal without a directory, got %+v", p)
	}
	if _, err := r.Lookup(context.Background(), "file", "x"); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("Lookup() = %v, want ErrUnknownScheme", err)
	}
}

func TestResolveAll(t *testing.T) {
	r, _ := testResolver(t)
	t.Setenv("TRIAGE_REDIS_PASSWORD", "resolved")

	redis := "env:redis_password"
	literal := "keep-me"
	empty := ""
	missing := "env:not_set_anywhere"

	err := r.ResolveAll(context.Background(), map[string]*string{
		"session.redis.password":   &redis,
		"kafka.sasl_password":      &literal,
		"journal.password":         &empty,
		"export.secret_access_key": &missing,
	})
	if err == nil || !strings.Contains(err.Error(), "export.secret_access_key") {
		t.Errorf("ResolveAll() = %v, want an error naming export.secret_access_key", err)
	}
	if redis != "resolved" {
		t.Errorf("redis = %q, want resolved", redis)
	}
	if literal != "keep-me" || empty != "" {
		t.Errorf("literal/empty changed: %q %q", literal, empty)
	}
	if missing != "env:not_set_anywhere" {
		t.Errorf("failed reference changed to %q", missing)
	}
}
