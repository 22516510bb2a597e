package cache

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ValentinKolb/levelkv/lib/level"
	"github.com/ValentinKolb/levelkv/lib/transport"
	"github.com/ValentinKolb/levelkv/lib/transport/mem"
	ttesting "github.com/ValentinKolb/levelkv/lib/transport/testing"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTable plays the host: it exports the regions a cache imports
type testTable struct {
	rec     *ttesting.Recorder
	regions map[string]transport.Region
	metrics *vm.Set
}

func (tt *testTable) export(t *testing.T, name string, size uint64, p transport.Partition) {
	t.Helper()
	region, err := tt.rec.Export(size)
	require.NoError(t, err)
	t.Cleanup(func() { region.Close() })
	tt.rec.Label(region.Descriptor().HostAddr, name)
	tt.regions[name] = region
	require.NoError(t, p.Import(region.Descriptor()))
}

func (tt *testTable) remoteBucket(t *testing.T, name string, offset uint64) level.Bucket {
	t.Helper()
	buf := make([]byte, level.BucketSize)
	require.NoError(t, tt.regions[name].ReadAt(buf, offset))
	var b level.Bucket
	require.NoError(t, b.UnmarshalFrom(buf))
	return b
}

func newTestCache(t *testing.T, lvl uint64, frames, partitions int) (*BucketCache, *testTable) {
	t.Helper()
	layout, err := level.NewLayout(lvl)
	require.NoError(t, err)

	tt := &testTable{
		rec:     ttesting.NewRecorder(mem.NewBackend()),
		regions: make(map[string]transport.Region),
		metrics: vm.NewSet(),
	}
	c, err := New(Options{Frames: frames, Partitions: partitions, Backend: tt.rec, Metrics: tt.metrics}, layout)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	parts := c.Partitions()
	for i, p := range parts {
		r, idx := level.RegionBottom, i
		if i >= partitions {
			r, idx = level.RegionTop, i-partitions
		}
		tt.export(t, fmt.Sprintf("%s-%d", r, idx), layout.PartitionSize(r, partitions), p)
	}
	return c, tt
}

func fetch(t *testing.T, c *BucketCache, id uint64) int {
	t.Helper()
	f := c.FetchBucket(id)
	require.NoError(t, c.Await(f))
	return f.Frame
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	layout, _ := level.NewLayout(3)
	backend := mem.NewBackend()

	_, err := New(Options{Frames: 2, Partitions: 2, Backend: backend}, layout)
	assert.Error(t, err)
	_, err = New(Options{Frames: 8, Partitions: 3, Backend: backend}, layout)
	assert.ErrorIs(t, err, level.ErrInvalidLayout)
	_, err = New(Options{Frames: 8, Partitions: 2}, layout)
	assert.Error(t, err)
}

func TestEvictionWritesBackBeforeRead(t *testing.T) {
	c, tt := newTestCache(t, 4, 4, 2)

	for i, id := range []uint64{10, 11, 12, 13} {
		assert.Equal(t, i, fetch(t, c, id))
	}

	frame, ok := c.FrameOf(10)
	require.True(t, ok)
	require.True(t, c.Bucket(frame).Insert(level.MustKey("k"), level.MustValue("v")))
	c.MarkDirty(frame)

	tt.rec.Reset()
	got := fetch(t, c, 14)

	// bucket 10 was least recently used, its frame is reused
	assert.Equal(t, frame, got)
	_, ok = c.FrameOf(10)
	assert.False(t, ok)
	assert.Equal(t, []string{"W bottom-1@256+128", "R top-0@256+128"}, opStrings(tt.rec.Ops()))

	remote := tt.remoteBucket(t, "bottom-1", 256)
	v, ok := remote.Get(level.MustKey("k"))
	assert.True(t, ok)
	assert.Equal(t, "v", v.String())
}

func TestCleanEvictionDoesNotWrite(t *testing.T) {
	c, tt := newTestCache(t, 4, 4, 2)
	for _, id := range []uint64{10, 11, 12, 13} {
		fetch(t, c, id)
	}
	// touch 10, 11 becomes the victim
	fetch(t, c, 10)

	tt.rec.Reset()
	fetch(t, c, 14)
	assert.Equal(t, []string{"R top-0@256+128"}, opStrings(tt.rec.Ops()))
	_, ok := c.FrameOf(11)
	assert.False(t, ok)
	_, ok = c.FrameOf(10)
	assert.True(t, ok)
}

func TestFlushThenFetchIsCoherent(t *testing.T) {
	c, _ := newTestCache(t, 3, 8, 2)

	frame := fetch(t, c, 5)
	b := c.Bucket(frame)
	for i := 0; i < level.Assoc; i++ {
		require.True(t, b.Insert(level.MustKey(fmt.Sprintf("key-%d", i)), level.MustValue(fmt.Sprintf("val-%d", i))))
	}
	c.MarkDirty(frame)
	require.NoError(t, c.FlushAll())
	assert.False(t, c.IsDirty(frame))

	c.Discard(frame)
	_, ok := c.FrameOf(5)
	require.False(t, ok)

	frame = fetch(t, c, 5)
	b = c.Bucket(frame)
	assert.Equal(t, level.Assoc, b.Count())
	for i := 0; i < level.Assoc; i++ {
		v, ok := b.Get(level.MustKey(fmt.Sprintf("key-%d", i)))
		assert.True(t, ok)
		assert.Equal(t, fmt.Sprintf("val-%d", i), v.String())
	}
}

func TestFetchFailureReleasesFrame(t *testing.T) {
	c, tt := newTestCache(t, 3, 4, 2)

	tt.rec.SetFailing(true)
	f := c.FetchBucket(6)
	err := c.Await(f)
	assert.ErrorIs(t, err, ErrTransport)
	_, ok := c.FrameOf(6)
	assert.False(t, ok)

	tt.rec.SetFailing(false)
	fetch(t, c, 6)
	_, ok = c.FrameOf(6)
	assert.True(t, ok)
}

func TestFailedWriteBackKeepsDirtyBucket(t *testing.T) {
	c, tt := newTestCache(t, 4, 4, 2)
	for _, id := range []uint64{10, 11, 12, 13} {
		fetch(t, c, id)
	}
	frame, _ := c.FrameOf(10)
	c.Bucket(frame).Insert(level.MustKey("k"), level.MustValue("v"))
	c.MarkDirty(frame)

	tt.rec.SetFailing(true)
	assert.ErrorIs(t, c.Await(c.FetchBucket(14)), ErrTransport)
	tt.rec.SetFailing(false)

	got, ok := c.FrameOf(10)
	require.True(t, ok)
	assert.Equal(t, frame, got)
	assert.True(t, c.IsDirty(frame))
	_, ok = c.FrameOf(14)
	assert.False(t, ok)

	require.NoError(t, c.FlushAll())
	assert.False(t, c.IsDirty(frame))
}

func TestFetchOutsideTableFails(t *testing.T) {
	c, _ := newTestCache(t, 3, 4, 2)
	assert.ErrorIs(t, c.Await(c.FetchBucket(12)), ErrTransport)
	_, err := c.NewBucket(12)
	assert.ErrorIs(t, err, ErrUnknownBucket)
}

func TestExpansionCommit(t *testing.T) {
	c, tt := newTestCache(t, 3, 8, 2)

	// bucket 4 is in the top level and survives as bottom bucket
	frame := fetch(t, c, 4)
	c.Bucket(frame).Insert(level.MustKey("old"), level.MustValue("top"))
	c.MarkDirty(frame)
	fetch(t, c, 0)
	require.NoError(t, c.FlushAll())

	parts, err := c.BeginExpansion()
	require.NoError(t, err)
	require.Len(t, parts, 2)
	next, ok := c.Expanding()
	require.True(t, ok)
	for i, p := range parts {
		tt.export(t, fmt.Sprintf("new-%d", i), next.PartitionSize(level.RegionTop, 2), p)
	}

	frame, err = c.NewBucket(12)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Bucket(frame).Count())
	c.Bucket(frame).Insert(level.MustKey("new"), level.MustValue("bucket"))
	c.MarkDirty(frame)
	require.NoError(t, c.FlushAll())

	require.NoError(t, c.CommitExpansion())
	assert.Equal(t, uint64(4), c.Layout().Level)
	_, ok = c.Expanding()
	assert.False(t, ok)

	// retired bottom buckets are gone
	_, ok = c.FrameOf(0)
	assert.False(t, ok)

	remote := tt.remoteBucket(t, "new-0", 0)
	v, ok := remote.Get(level.MustKey("new"))
	assert.True(t, ok)
	assert.Equal(t, "bucket", v.String())

	// bucket 4 is now served by the former top partitions
	for _, id := range []uint64{4, 12} {
		if f, ok := c.FrameOf(id); ok {
			c.Discard(f)
		}
	}
	frame = fetch(t, c, 4)
	v, ok = c.Bucket(frame).Get(level.MustKey("old"))
	assert.True(t, ok)
	assert.Equal(t, "top", v.String())

	frame = fetch(t, c, 12)
	v, ok = c.Bucket(frame).Get(level.MustKey("new"))
	assert.True(t, ok)
	assert.Equal(t, "bucket", v.String())
}

func TestExpansionAbort(t *testing.T) {
	c, tt := newTestCache(t, 3, 8, 2)

	parts, err := c.BeginExpansion()
	require.NoError(t, err)
	_, err = c.BeginExpansion()
	assert.Error(t, err)
	next, _ := c.Expanding()
	for i, p := range parts {
		tt.export(t, fmt.Sprintf("new-%d", i), next.PartitionSize(level.RegionTop, 2), p)
	}

	frame, err := c.NewBucket(20)
	require.NoError(t, err)
	c.Bucket(frame).Insert(level.MustKey("k"), level.MustValue("v"))
	c.MarkDirty(frame)

	tt.rec.Reset()
	require.NoError(t, c.AbortExpansion())
	assert.Empty(t, tt.rec.Ops())
	assert.Equal(t, uint64(3), c.Layout().Level)
	_, ok := c.FrameOf(20)
	assert.False(t, ok)
	assert.ErrorIs(t, c.Await(c.FetchBucket(20)), ErrTransport)

	// a new attempt starts from scratch
	_, err = c.BeginExpansion()
	assert.NoError(t, err)
}

func TestCacheMetricsAndStats(t *testing.T) {
	c, tt := newTestCache(t, 3, 4, 2)
	fetch(t, c, 1)
	fetch(t, c, 1)
	frame := fetch(t, c, 2)
	c.Bucket(frame).Insert(level.MustKey("a"), level.MustValue("b"))
	c.MarkDirty(frame)

	var buf bytes.Buffer
	tt.metrics.WritePrometheus(&buf)
	out := buf.String()
	assert.Contains(t, out, "levelkv_cache_hits_total 1")
	assert.Contains(t, out, "levelkv_cache_misses_total 2")

	s := c.Stats()
	assert.Equal(t, 4, s.Frames)
	assert.Equal(t, 2, s.Resident)
	assert.Equal(t, 1, s.Dirty)
	assert.Equal(t, 1.0, s.Occupancy.Max)

	stats := c.PartitionStats()
	assert.Len(t, stats, 4)
}

func opStrings(ops []ttesting.Op) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}
