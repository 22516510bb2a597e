package lstore

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/levelkv/lib/comch"
	"github.com/ValentinKolb/levelkv/lib/engine"
	"github.com/ValentinKolb/levelkv/lib/host"
	"github.com/ValentinKolb/levelkv/lib/level"
	"github.com/ValentinKolb/levelkv/lib/store"
	storetesting "github.com/ValentinKolb/levelkv/lib/store/testing"
	"github.com/ValentinKolb/levelkv/lib/transport/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEngine connects an engine to a host served over an in-process pipe
func newEngine(t testing.TB, cfg engine.Config, opts ...engine.Option) *engine.Engine {
	t.Helper()
	backend := mem.NewBackend()
	h, err := host.New(host.Config{
		Level:      cfg.Level,
		Partitions: cfg.Partitions,
		Hasher:     cfg.Hasher,
		Seeds:      level.Seeds{First: 7, Second: 11},
	}, backend, nil)
	require.NoError(t, err)

	codec, err := comch.NewCodec("binary")
	require.NoError(t, err)
	hostEnd, engineEnd := comch.NewPipe(codec)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Serve(ctx, hostEnd)

	e, err := engine.Open(context.Background(), cfg, engineEnd, backend, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		e.Close()
		cancel()
		h.Close()
	})
	return e
}

func testConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Level = 6
	cfg.CacheSize = 32
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestLocalStore(t *testing.T) {
	storetesting.RunStoreTests(t, "lstore", func() store.IStore {
		return NewLocalStore(newEngine(t, testConfig()))
	})
}

func BenchmarkLocalStore(b *testing.B) {
	storetesting.RunStoreBenchmarks(b, "lstore", func() store.IStore {
		return NewLocalStore(newEngine(b, testConfig()))
	})
}

// sameBuckets sends every key to the same four candidates
type sameBuckets struct{}

func (sameBuckets) Hash(level.Key) (uint64, uint64) { return 0, 0 }

func TestFullTableReturnsTableFull(t *testing.T) {
	cfg := testConfig()
	cfg.Level = 3
	cfg.AutoExpand = false
	s := NewLocalStore(newEngine(t, cfg, engine.WithHasher(func(level.Seeds) level.Hasher { return sameBuckets{} })))

	for i := 0; i < 4*level.Assoc; i++ {
		require.NoError(t, s.Set(string(rune('a'+i)), []byte("v")))
	}
	err := s.Set("overflow", []byte("v"))
	assert.Equal(t, store.RetCTableFull, store.CodeOf(err), "error: %v", err)

	// overwriting an existing key needs no free slot
	assert.NoError(t, s.Set("a", []byte("w")))
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s := NewLocalStore(newEngine(t, testConfig()))
	require.NoError(t, s.Set("key", []byte("value")))
	require.NoError(t, s.Close())

	_, _, err := s.Get("key")
	assert.Equal(t, store.RetCUnavailable, store.CodeOf(err))
	assert.Equal(t, store.RetCUnavailable, store.CodeOf(s.Set("key", []byte("value"))))
}
