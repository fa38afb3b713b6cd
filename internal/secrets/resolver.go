// Package secrets resolves credential references in configuration.
//
// A configured credential is either a literal value or a reference of the
// form "env:NAME" or "file:NAME". References are resolved once at startup
// so that passwords never need to be written into the config file.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

var (
	// ErrNotFound is returned when a source has no value for a key.
	ErrNotFound = errors.New("secret not found")

	// ErrUnknownScheme is returned for a reference to an unregistered source.
	ErrUnknownScheme = errors.New("no secret source for scheme")
)

// Source looks up secrets for one reference scheme.
type Source interface {
	Scheme() string
	Lookup(ctx context.Context, key string) (string, error)
}

// Ref is a parsed credential reference. A literal has an empty Scheme.
type Ref struct {
	Scheme string
	Key    string
}

func (r Ref) Literal() bool { return r.Scheme == "" }

// Options configures a Resolver.
type Options struct {
	// EnvPrefix is prepended to environment keys that lack it.
	EnvPrefix string
	// Dir holds one file per secret, as mounted by Docker or Kubernetes.
	// Empty disables file references.
	Dir      string
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// Resolver turns references into values and caches what it has looked up.
type Resolver struct {
	sources map[string]Source
	cache   *cache.Cache
	logger  *slog.Logger
}

// NewResolver registers the env source, and the file source when opts.Dir
// is set.
func NewResolver(opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	r := &Resolver{
		sources: make(map[string]Source),
		cache:   cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		logger:  opts.Logger,
	}
	r.Register(EnvSource{Prefix: opts.EnvPrefix})
	if opts.Dir != "" {
		r.Register(DirSource{Dir: opts.Dir})
	}
	return r
}

// Register adds s, replacing any source with the same scheme.
func (r *Resolver) Register(s Source) {
	r.sources[s.Scheme()] = s
}

// Parse splits ref into scheme and key. A prefix that names no registered
// source leaves the whole value literal, so a password may contain ':'.
func (r *Resolver) Parse(ref string) Ref {
	scheme, key, ok := strings.Cut(ref, ":")
	if _, known := r.sources[scheme]; !ok || !known {
		return Ref{Key: ref}
	}
	return Ref{Scheme: scheme, Key: key}
}

// Lookup fetches key from the source for scheme, consulting the cache first.
func (r *Resolver) Lookup(ctx context.Context, scheme, key string) (string, error) {
	src, ok := r.sources[scheme]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownScheme, scheme)
	}

	id := scheme + ":" + key
	if v, ok := r.cache.Get(id); ok {
		return v.(string), nil
	}
	v, err := src.Lookup(ctx, key)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", id, err)
	}
	r.cache.SetDefault(id, v)
	r.logger.Debug("secret resolved", "scheme", scheme, "key", key)
	return v, nil
}

// Resolve returns the value ref stands for.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	p := r.Parse(ref)
	if p.Literal() {
		return p.Key, nil
	}
	return r.Lookup(ctx, p.Scheme, p.Key)
}

// ResolveAll replaces each referenced value in place, keyed by the config
// field it came from. Empty values are skipped and a value that fails to
// resolve is left unchanged. Every failure is reported.
func (r *Resolver) ResolveAll(ctx context.Context, fields map[string]*string) error {
	var errs []error
	for field, v := range fields {
		if v == nil || *v == "" {
			continue
		}
		got, err := r.Resolve(ctx, *v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			continue
		}
		*v = got
	}
	return errors.Join(errs...)
}

// Forget drops every cached value.
func (r *Resolver) Forget() {
	r.cache.Flush()
}
