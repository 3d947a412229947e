package resolve

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCache_Resolve(t *testing.T) {
	t.Run("reads known locations and memoizes them", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "core.def", "core v1")

		var reads int32
		read := func(name, location string) (*Definition, error) {
			atomic.AddInt32(&reads, 1)
			return ReadFile(name, location)
		}
		c := NewCache(map[string]string{"core": path}, nil, WithReader(read))

		def, err := c.Resolve(context.Background(), "core")
		require.NoError(t, err)
		assert.Equal(t, "core v1", string(def.Data))
		assert.Equal(t, path, def.Location)

		again, err := c.Resolve(context.Background(), "core")
		require.NoError(t, err)
		assert.Same(t, def, again)
		assert.Equal(t, int32(1), atomic.LoadInt32(&reads))
		assert.Equal(t, 1, c.Len())
	})

	t.Run("falls back and memoizes the fallback result", func(t *testing.T) {
		var calls int32
		fallback := ResolverFunc(func(_ context.Context, name string) (*Definition, error) {
			atomic.AddInt32(&calls, 1)
			return &Definition{Name: name, Location: "generic"}, nil
		})
		c := NewCache(nil, fallback)

		for i := 0; i < 3; i++ {
			def, err := c.Resolve(context.Background(), "plugin")
			require.NoError(t, err)
			assert.Equal(t, "generic", def.Location)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("prefers known locations over the fallback", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "core.def", "known")
		fallback := ResolverFunc(func(context.Context, string) (*Definition, error) {
			t.Fatal("fallback must not be consulted")
			return nil, nil
		})
		c := NewCache(map[string]string{"core": path}, fallback)

		def, err := c.Resolve(context.Background(), "core")
		require.NoError(t, err)
		assert.Equal(t, "known", string(def.Data))
	})

	t.Run("does not memoize failures", func(t *testing.T) {
		var fail atomic.Bool
		fail.Store(true)
		fallback := ResolverFunc(func(_ context.Context, name string) (*Definition, error) {
			if fail.Load() {
				return nil, errors.New("unavailable")
			}
			return &Definition{Name: name}, nil
		})
		c := NewCache(nil, fallback)

		_, err := c.Resolve(context.Background(), "x")
		require.Error(t, err)
		assert.Equal(t, 0, c.Len())

		fail.Store(false)
		_, err = c.Resolve(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("rejects empty names and reports unknown ones", func(t *testing.T) {
		c := NewCache(nil, nil)

		_, err := c.Resolve(context.Background(), "")
		assert.ErrorIs(t, err, ErrEmptyName)

		_, err = c.Resolve(context.Background(), "missing")
		var notFound NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, NotFoundError("missing"), notFound)
	})

	t.Run("collapses concurrent misses", func(t *testing.T) {
		var calls int32
		release := make(chan struct{})
		fallback := ResolverFunc(func(_ context.Context, name string) (*Definition, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return &Definition{Name: name}, nil
		})
		c := NewCache(nil, fallback)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.Resolve(context.Background(), "shared")
				assert.NoError(t, err)
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("treats a missing fallback result as not found", func(t *testing.T) {
		var calls int32
		fallback := ResolverFunc(func(context.Context, string) (*Definition, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		})
		c := NewCache(nil, fallback)

		for i := 0; i < 2; i++ {
			def, err := c.Resolve(context.Background(), "ghost")
			assert.Nil(t, def)
			var notFound NotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, NotFoundError("ghost"), notFound)
		}
		assert.Equal(t, 0, c.Len())
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("a cancelled caller does not fail others waiting on the same name", func(t *testing.T) {
		entered := make(chan struct{})
		release := make(chan struct{})
		fallback := ResolverFunc(func(ctx context.Context, name string) (*Definition, error) {
			close(entered)
			select {
			case <-release:
				return &Definition{Name: name}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
		c := NewCache(nil, fallback)

		ctx, cancel := context.WithCancel(context.Background())
		first := make(chan error, 1)
		go func() {
			_, err := c.Resolve(ctx, "shared")
			first <- err
		}()
		<-entered

		second := make(chan error, 1)
		go func() {
			def, err := c.Resolve(context.Background(), "shared")
			if err == nil && def.Name != "shared" {
				err = errors.New("unexpected definition " + def.Name)
			}
			second <- err
		}()
		time.Sleep(20 * time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-first, context.Canceled)

		close(release)
		assert.NoError(t, <-second)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("does not share the caller's location table", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "a.def", "a")
		table := map[string]string{"a": path}
		c := NewCache(table, nil)
		delete(table, "a")

		_, err := c.Resolve(context.Background(), "a")
		assert.NoError(t, err)
	})
}

func TestScanLocations(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	a := writeFile(t, first, "alpha.def", "1")
	writeFile(t, second, "alpha.def", "2")
	b := writeFile(t, second, "beta.yaml", "3")
	require.NoError(t, os.Mkdir(filepath.Join(first, "nested"), 0o755))

	locations := ScanLocations(discard(), first, filepath.Join(first, "missing"), second)

	assert.Equal(t, map[string]string{"alpha": a, "beta": b}, locations)
}

func TestSearchDirs(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	path := writeFile(t, second, "gamma.def", "g")
	r := SearchDirs(ReadFile, first, second)

	def, err := r.Resolve(context.Background(), "gamma")
	require.NoError(t, err)
	assert.Equal(t, path, def.Location)

	_, err = r.Resolve(context.Background(), "delta")
	var notFound NotFoundError
	assert.ErrorAs(t, err, &notFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, "gamma")
	assert.ErrorIs(t, err, context.Canceled)
}
