// Package resolve looks up definitions by qualified name, memoizing every successful lookup.
//
// A Cache consults, in order: its memo of earlier results, a table of known on-disk locations handed to it at
// construction, and finally a fallback Resolver.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrEmptyName is returned when resolving an empty name.
var ErrEmptyName = errors.New("resolve: empty name")

// NotFoundError indicates that no source knows the given name. It's also returned when a fallback Resolver reports
// neither a Definition nor an error.
type NotFoundError string

// Error returns the error message for a NotFoundError.
func (n NotFoundError) Error() string {
	return fmt.Sprintf("resolve: no definition for %q", string(n))
}

// Definition is a resolved definition and where it was read from.
type Definition struct {
	Name     string
	Location string
	Data     []byte
}

// Resolver resolves a qualified name into a Definition.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*Definition, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, name string) (*Definition, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, name string) (*Definition, error) {
	return f(ctx, name)
}

// Reader loads the Definition stored at location.
type Reader func(name, location string) (*Definition, error)

// ReadFile is the default Reader. It reads the whole file at location.
func ReadFile(name, location string) (*Definition, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read definition %q: %w", name, err)
	}
	return &Definition{Name: name, Location: location, Data: data}, nil
}

// Option configures a Cache.
type Option func(*Cache)

// WithReader replaces ReadFile as the way known locations are loaded.
func WithReader(r Reader) Option {
	return func(c *Cache) {
		c.read = r
	}
}

// WithLogger sets the logger. By default, nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// Cache is a memoizing Resolver. It is safe for concurrent use.
type Cache struct {
	locations map[string]string
	fallback  Resolver
	read      Reader
	logger    *slog.Logger
	group     singleflight.Group

	mu   sync.RWMutex // Protects memo.
	memo map[string]*Definition
}

// NewCache returns a Cache for the given name-to-location table, which is copied. fallback may be nil, in which case
// names missing from the table can't be resolved.
func NewCache(locations map[string]string, fallback Resolver, opts ...Option) *Cache {
	c := &Cache{
		locations: make(map[string]string, len(locations)),
		fallback:  fallback,
		read:      ReadFile,
		logger:    slog.New(slog.DiscardHandler),
		memo:      make(map[string]*Definition),
	}
	for name, location := range locations {
		c.locations[name] = location
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the Definition for name. Concurrent calls for a name that isn't cached yet share a single lookup.
// The shared lookup isn't cancelled with any one caller's ctx; each caller stops waiting for it once its own ctx is
// done, and the result is still memoized for later calls.
func (c *Cache) Resolve(ctx context.Context, name string) (*Definition, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if def, ok := c.cached(name); ok {
		return def, nil
	}

	lookup := context.WithoutCancel(ctx)
	ch := c.group.DoChan(name, func() (interface{}, error) {
		if def, ok := c.cached(name); ok {
			return def, nil
		}
		def, err := c.load(lookup, name)
		if err != nil {
			return nil, err
		}
		if def == nil {
			return nil, NotFoundError(name)
		}
		c.mu.Lock()
		c.memo[name] = def
		c.mu.Unlock()
		return def, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Definition), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of memoized Definitions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.memo)
}

func (c *Cache) cached(name string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.memo[name]
	return def, ok
}

// load tries the known location first, then the fallback.
func (c *Cache) load(ctx context.Context, name string) (*Definition, error) {
	if location, ok := c.locations[name]; ok {
		c.logger.Debug("resolving from known location", "name", name, "location", location)
		return c.read(name, location)
	}
	if c.fallback == nil {
		return nil, NotFoundError(name)
	}
	c.logger.Debug("resolving through fallback", "name", name)
	return c.fallback.Resolve(ctx, name)
}

// ScanLocations builds a location table from the regular files in dirs, keyed by file name without extension. When
// two directories hold the same name, the first one wins. Directories that can't be read are logged and skipped.
func ScanLocations(logger *slog.Logger, dirs ...string) map[string]string {
	locations := make(map[string]string)

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.Error("cannot scan definition directory", "dir", dir, "error", err)
			continue
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
			if _, ok := locations[name]; ok {
				continue
			}
			locations[name] = filepath.Join(dir, entry.Name())
		}
	}

	return locations
}

// SearchDirs returns a Resolver that looks for a file named after the definition, with any extension, in each of dirs
// in turn.
func SearchDirs(read Reader, dirs ...string) Resolver {
	return ResolverFunc(func(ctx context.Context, name string) (*Definition, error) {
		for _, dir := range dirs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			matches, err := filepath.Glob(filepath.Join(dir, globEscape(name)+".*"))
			if err != nil {
				return nil, fmt.Errorf("search %q: %w", dir, err)
			}
			if len(matches) > 0 {
				return read(name, matches[0])
			}
		}
		return nil, NotFoundError(name)
	})
}

// globEscape escapes the characters filepath.Match treats specially.
func globEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`).Replace(s)
}
