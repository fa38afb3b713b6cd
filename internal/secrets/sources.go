package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// EnvSource reads secrets from environment variables. A key is upper-cased,
// '.' and '-' become '_', and Prefix is added when missing. The key exactly
// as written is tried second.
type EnvSource struct {
	Prefix string
}

func (EnvSource) Scheme() string { return "env" }

func (e EnvSource) Lookup(_ context.Context, key string) (string, error) {
	for _, name := range []string{e.varName(key), key} {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v, nil
		}
	}
	return "", ErrNotFound
}

var envReplacer = strings.NewReplacer(".", "_", "-", "_")

func (e EnvSource) varName(key string) string {
	name := envReplacer.Replace(strings.ToUpper(key))
	if !strings.HasPrefix(name, e.Prefix) {
		name = e.Prefix + name
	}
	return name
}

// DirSource reads one secret per file from Dir, the layout of Docker and
// Kubernetes mounted secrets. A "/" in the key maps to "_" in the file
// name, and lookups cannot leave Dir.
type DirSource struct {
	Dir string
}

func (DirSource) Scheme() string { return "file" }

func (d DirSource) Lookup(_ context.Context, key string) (string, error) {
	root, err := os.OpenRoot(d.Dir)
	if err != nil {
		return "", fmt.Errorf("open secrets dir: %w", err)
	}
	defer root.Close()

	f, err := root.Open(strings.ReplaceAll(key, "/", "_"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
