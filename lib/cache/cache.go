package cache

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/levelkv/lib/level"
	"github.com/ValentinKolb/levelkv/lib/transport"
	"github.com/ValentinKolb/levelkv/lib/util"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("cache")

var (
	ErrTransport     = errors.New("transport failure")
	ErrUnknownBucket = errors.New("bucket id outside the table")
)

// MinFrames is the smallest supported pool: a request pins up to Assoc buckets at once
const MinFrames = level.Assoc

// Options configures a BucketCache
type Options struct {
	// Frames is the number of cache frames
	Frames int
	// Partitions is the number of transport partitions per table level
	Partitions int
	// Backend imports the regions exported by the host
	Backend transport.Backend
	// Metrics receives the cache counters. A private set is created if nil.
	Metrics *vm.Set
	// Registry receives the per partition timers. A private registry is created if nil.
	Registry gometrics.Registry
}

// DefaultOptions returns options for a small cache with two partitions per level
func DefaultOptions(backend transport.Backend) Options {
	return Options{
		Frames:     64,
		Partitions: 2,
		Backend:    backend,
	}
}

// Fetch is a pending or completed bucket fetch
type Fetch struct {
	Frame    int
	BucketID uint64
	done     *transport.Future[bool]
}

// Wait blocks until the bucket content is in the frame. It returns false on transport failure.
func (f *Fetch) Wait() bool {
	return f.done.Wait()
}

// BucketCache caches remote buckets in a fixed pool of frames.
//
// Thread-safety: not thread-safe, all methods must be called from the owning goroutine.
type BucketCache struct {
	opts   Options
	layout level.Layout

	buf      []byte         // frames * BucketSize, shared with every partition
	buckets  []level.Bucket // decoded frame contents
	decoded  []bool         // buckets[f] is in sync with buf
	bucketOf []uint64
	resident []bool
	dirty    []bool
	frameOf  map[uint64]int
	free     []int
	replacer *Replacer

	levels [2][]transport.Partition // indexed by level.Region

	// set while an expansion builds the new top level
	next      *level.Layout
	nextParts []transport.Partition

	hits, misses, evictions, flushes, failures *vm.Counter
}

// New creates a cache for the table described by layout. The partitions of
// both levels are created but not imported, see Partitions.
func New(opts Options, layout level.Layout) (*BucketCache, error) {
	if opts.Frames < MinFrames {
		return nil, fmt.Errorf("cache needs at least %d frames, got %d", MinFrames, opts.Frames)
	}
	if opts.Backend == nil {
		return nil, errors.New("cache needs a transport backend")
	}
	if err := layout.ValidatePartitions(opts.Partitions); err != nil {
		return nil, err
	}
	if opts.Metrics == nil {
		opts.Metrics = vm.NewSet()
	}
	if opts.Registry == nil {
		opts.Registry = gometrics.NewRegistry()
	}

	replacer, err := NewReplacer(opts.Frames)
	if err != nil {
		return nil, err
	}

	c := &BucketCache{
		opts:      opts,
		layout:    layout,
		buf:       make([]byte, opts.Frames*level.BucketSize),
		buckets:   make([]level.Bucket, opts.Frames),
		decoded:   make([]bool, opts.Frames),
		bucketOf:  make([]uint64, opts.Frames),
		resident:  make([]bool, opts.Frames),
		dirty:     make([]bool, opts.Frames),
		frameOf:   make(map[uint64]int, opts.Frames),
		free:      make([]int, 0, opts.Frames),
		replacer:  replacer,
		hits:      opts.Metrics.GetOrCreateCounter("levelkv_cache_hits_total"),
		misses:    opts.Metrics.GetOrCreateCounter("levelkv_cache_misses_total"),
		evictions: opts.Metrics.GetOrCreateCounter("levelkv_cache_evictions_total"),
		flushes:   opts.Metrics.GetOrCreateCounter("levelkv_cache_flushes_total"),
		failures:  opts.Metrics.GetOrCreateCounter("levelkv_cache_transport_failures_total"),
	}

	// pop order is ascending frame ids
	for f := opts.Frames - 1; f >= 0; f-- {
		c.free = append(c.free, f)
	}

	c.levels[level.RegionBottom] = c.newPartitions(layout.Level, level.RegionBottom)
	c.levels[level.RegionTop] = c.newPartitions(layout.Level, level.RegionTop)
	return c, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Layout returns the current table layout
func (c *BucketCache) Layout() level.Layout {
	return c.layout
}

// Partitions returns the partitions of both levels, bottom level first. This
// is the order in which the host exports its initial descriptors.
func (c *BucketCache) Partitions() []transport.Partition {
	out := make([]transport.Partition, 0, 2*c.opts.Partitions)
	out = append(out, c.levels[level.RegionBottom]...)
	return append(out, c.levels[level.RegionTop]...)
}

// PartitionStats returns the transfer statistics of all active partitions
func (c *BucketCache) PartitionStats() []transport.PartitionStats {
	parts := append(c.Partitions(), c.nextParts...)
	out := make([]transport.PartitionStats, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.Stats())
	}
	return out
}

// Bucket returns the bucket held by frame. The frame must be resident and its fetch completed.
func (c *BucketCache) Bucket(frame int) *level.Bucket {
	if !c.decoded[frame] {
		if err := c.buckets[frame].UnmarshalFrom(c.frameBytes(frame)); err != nil {
			Logger.Panicf("frame %d: %v", frame, err)
		}
		c.decoded[frame] = true
	}
	return &c.buckets[frame]
}

// BucketID returns the bucket cached in frame
func (c *BucketCache) BucketID(frame int) (uint64, bool) {
	return c.bucketOf[frame], c.resident[frame]
}

// FrameOf returns the frame caching bucket id
func (c *BucketCache) FrameOf(id uint64) (int, bool) {
	f, ok := c.frameOf[id]
	return f, ok
}

// MarkDirty records that frame was modified since its last flush
func (c *BucketCache) MarkDirty(frame int) {
	c.dirty[frame] = true
}

// IsDirty reports whether frame holds unflushed modifications
func (c *BucketCache) IsDirty(frame int) bool {
	return c.dirty[frame]
}

// ClearDirty marks frame as in sync with the remote table
func (c *BucketCache) ClearDirty(frame int) {
	c.dirty[frame] = false
}

// --------------------------------------------------------------------------
// Fetch & Flush
// --------------------------------------------------------------------------

// FetchBucket makes bucket id resident. A hit completes immediately. On a
// miss a frame is taken from the free list or evicted (flushing it first if
// it is dirty) and the bucket is read into it asynchronously.
func (c *BucketCache) FetchBucket(id uint64) *Fetch {
	if frame, ok := c.frameOf[id]; ok {
		c.hits.Inc()
		c.replacer.RecordAccess(frame)
		return &Fetch{Frame: frame, BucketID: id, done: transport.Resolved(true)}
	}
	c.misses.Inc()

	part, offset, err := c.locate(id)
	if err != nil {
		Logger.Errorf("Fetch of bucket %d: %v", id, err)
		return &Fetch{Frame: -1, BucketID: id, done: transport.Resolved(false)}
	}

	frame, err := c.acquireFrame()
	if err != nil {
		Logger.Errorf("Fetch of bucket %d: %v", id, err)
		return &Fetch{Frame: -1, BucketID: id, done: transport.Resolved(false)}
	}
	c.install(frame, id)

	return &Fetch{
		Frame:    frame,
		BucketID: id,
		done:     part.ScheduleReadWrite(false, c.frameOffset(frame), offset, level.BucketSize),
	}
}

// Await waits for all fetches. Frames of failed fetches are released and an
// ErrTransport is returned.
func (c *BucketCache) Await(fetches ...*Fetch) error {
	var failed []uint64
	for _, f := range fetches {
		if f.Wait() {
			continue
		}
		failed = append(failed, f.BucketID)
		if f.Frame >= 0 {
			c.Discard(f.Frame)
		}
	}
	if len(failed) > 0 {
		c.failures.Add(len(failed))
		return fmt.Errorf("%w: fetch of buckets %v failed", ErrTransport, failed)
	}
	return nil
}

// FlushBucket writes frame back to its remote location. It does not clear
// the dirty flag, the caller does that once the returned future resolves true.
func (c *BucketCache) FlushBucket(frame int) *transport.Future[bool] {
	if !c.resident[frame] {
		Logger.Errorf("Flush of frame %d which holds no bucket", frame)
		return transport.Resolved(false)
	}
	id := c.bucketOf[frame]
	part, offset, err := c.locate(id)
	if err != nil {
		Logger.Errorf("Flush of bucket %d: %v", id, err)
		return transport.Resolved(false)
	}

	if c.decoded[frame] {
		if err := c.buckets[frame].MarshalTo(c.frameBytes(frame)); err != nil {
			Logger.Panicf("frame %d: %v", frame, err)
		}
	}
	c.flushes.Inc()
	return part.ScheduleReadWrite(true, c.frameOffset(frame), offset, level.BucketSize)
}

// NewBucket makes bucket id resident with empty content instead of reading
// it. It is used for buckets of a level that is being built.
func (c *BucketCache) NewBucket(id uint64) (int, error) {
	if _, _, err := c.locate(id); err != nil {
		return -1, err
	}

	frame, ok := c.frameOf[id]
	if ok {
		c.replacer.RecordAccess(frame)
	} else {
		var err error
		if frame, err = c.acquireFrame(); err != nil {
			return -1, err
		}
		c.install(frame, id)
	}

	c.buckets[frame].Reset()
	c.decoded[frame] = true
	return frame, nil
}

// FlushAll writes every dirty frame back and waits for completion
func (c *BucketCache) FlushAll() error {
	var frames []int
	var futures []*transport.Future[bool]
	for f := range c.dirty {
		if c.dirty[f] && c.resident[f] {
			frames = append(frames, f)
			futures = append(futures, c.FlushBucket(f))
		}
	}
	if len(futures) == 0 {
		return nil
	}

	ok := make([]bool, len(futures))
	var g errgroup.Group
	for i, fut := range futures {
		g.Go(func() error {
			ok[i] = fut.Wait()
			return nil
		})
	}
	_ = g.Wait()

	var failed []uint64
	for i, f := range frames {
		if ok[i] {
			c.dirty[f] = false
		} else {
			failed = append(failed, c.bucketOf[f])
		}
	}
	if len(failed) > 0 {
		c.failures.Add(len(failed))
		return fmt.Errorf("%w: flush of buckets %v failed", ErrTransport, failed)
	}
	Logger.Debugf("Flushed %d dirty frames", len(frames))
	return nil
}

// Discard drops frame from the cache without flushing it
func (c *BucketCache) Discard(frame int) {
	if !c.resident[frame] {
		return
	}
	delete(c.frameOf, c.bucketOf[frame])
	c.resident[frame] = false
	c.dirty[frame] = false
	c.decoded[frame] = false
	c.replacer.Remove(frame)
	c.free = append(c.free, frame)
}

// DiscardRange drops every resident bucket with an id in [from, to) without flushing
func (c *BucketCache) DiscardRange(from, to uint64) int {
	n := 0
	for f := range c.resident {
		if id := c.bucketOf[f]; c.resident[f] && id >= from && id < to {
			if c.dirty[f] {
				Logger.Debugf("Discarding dirty bucket %d", id)
			}
			c.Discard(f)
			n++
		}
	}
	return n
}

// Close closes every partition. Dirty frames are not flushed, call FlushAll first.
func (c *BucketCache) Close() error {
	var errs []error
	parts := append(c.Partitions(), c.nextParts...)
	for _, p := range parts {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.nextParts = nil
	c.next = nil
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Expansion
// --------------------------------------------------------------------------

// BeginExpansion creates the partitions of the level above the current top
// level. Buckets of that level become addressable through FetchBucket,
// NewBucket and FlushBucket. The returned partitions must be imported.
func (c *BucketCache) BeginExpansion() ([]transport.Partition, error) {
	if c.next != nil {
		return nil, errors.New("expansion already in progress")
	}
	next := c.layout.Expanded()
	if next.Level > level.MaxLevel {
		return nil, fmt.Errorf("%w: level %d exceeds the maximum of %d", level.ErrInvalidLayout, next.Level, level.MaxLevel)
	}
	c.next = &next
	c.nextParts = c.newPartitions(next.Level, level.RegionTop)
	return c.nextParts, nil
}

// Expanding reports whether an expansion is in progress and returns the layout being built
func (c *BucketCache) Expanding() (level.Layout, bool) {
	if c.next == nil {
		return level.Layout{}, false
	}
	return *c.next, true
}

// CommitExpansion switches to the expanded layout: the old top level becomes
// the bottom level, the new partitions the top level. Frames of the retired
// bottom level are dropped and its partitions closed.
func (c *BucketCache) CommitExpansion() error {
	if c.next == nil {
		return errors.New("no expansion in progress")
	}
	retired := c.levels[level.RegionBottom]
	dropped := c.DiscardRange(c.layout.BottomStart(), c.next.BottomStart())

	c.levels[level.RegionBottom] = c.levels[level.RegionTop]
	c.levels[level.RegionTop] = c.nextParts
	c.layout.ExpandParameters()
	c.next, c.nextParts = nil, nil

	var errs []error
	for _, p := range retired {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	Logger.Infof("Switched to %s (dropped %d retired frames)", c.layout, dropped)
	return errors.Join(errs...)
}

// AbortExpansion drops every frame of the level being built without
// flushing and closes its partitions. The current layout stays active.
func (c *BucketCache) AbortExpansion() error {
	if c.next == nil {
		return nil
	}
	dropped := c.DiscardRange(c.next.TopStart(), c.next.TopEnd())

	var errs []error
	for _, p := range c.nextParts {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.next, c.nextParts = nil, nil
	Logger.Warningf("Expansion aborted, staying at %s (dropped %d frames)", c.layout, dropped)
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats describes the cache occupancy
type Stats struct {
	Frames    int
	Resident  int
	Dirty     int
	Occupancy util.DistributionStats // occupied slots per resident bucket
}

// Stats computes the current occupancy statistics
func (c *BucketCache) Stats() Stats {
	s := Stats{Frames: c.opts.Frames}
	var counts []float64
	for f := range c.resident {
		if !c.resident[f] {
			continue
		}
		s.Resident++
		if c.dirty[f] {
			s.Dirty++
		}
		counts = append(counts, float64(c.Bucket(f).Count()))
	}
	s.Occupancy = util.NewDistributionStats(counts)
	return s
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (c *BucketCache) frameOffset(frame int) uint64 {
	return uint64(frame) * level.BucketSize
}

func (c *BucketCache) frameBytes(frame int) []byte {
	off := frame * level.BucketSize
	return c.buf[off : off+level.BucketSize]
}

// acquireFrame returns a frame that holds no bucket
func (c *BucketCache) acquireFrame() (int, error) {
	if n := len(c.free); n > 0 {
		frame := c.free[n-1]
		c.free = c.free[:n-1]
		return frame, nil
	}

	frame, ok := c.replacer.Evict()
	if !ok {
		Logger.Panicf("no free frame and no frame to evict (%d frames)", c.opts.Frames)
	}
	c.evictions.Inc()

	// the victim's buffer is reused by the next read, so the write back must complete first
	if c.dirty[frame] {
		if !c.FlushBucket(frame).Wait() {
			c.failures.Inc()
			c.replacer.RecordAccess(frame)
			return -1, fmt.Errorf("%w: write back of evicted bucket %d failed", ErrTransport, c.bucketOf[frame])
		}
		c.dirty[frame] = false
	}

	delete(c.frameOf, c.bucketOf[frame])
	c.resident[frame] = false
	return frame, nil
}

// install maps frame to bucket id
func (c *BucketCache) install(frame int, id uint64) {
	c.bucketOf[frame] = id
	c.frameOf[id] = frame
	c.resident[frame] = true
	c.dirty[frame] = false
	c.decoded[frame] = false
	c.replacer.RecordAccess(frame)
}

// locate resolves bucket id to its partition and remote offset
func (c *BucketCache) locate(id uint64) (transport.Partition, uint64, error) {
	if c.layout.Contains(id) {
		loc := c.layout.Locate(id, c.opts.Partitions)
		return c.levels[loc.Region][loc.Partition], loc.Offset, nil
	}
	if c.next != nil && id >= c.next.TopStart() && id < c.next.TopEnd() {
		loc := c.next.Locate(id, c.opts.Partitions)
		return c.nextParts[loc.Partition], loc.Offset, nil
	}
	return nil, 0, fmt.Errorf("%w: %d (%s)", ErrUnknownBucket, id, c.layout)
}

func (c *BucketCache) newPartitions(lvl uint64, r level.Region) []transport.Partition {
	parts := make([]transport.Partition, c.opts.Partitions)
	for i := range parts {
		name := fmt.Sprintf("L%d-%s-%d", lvl, r, i)
		parts[i] = transport.NewPartition(name, c.buf, c.opts.Backend, c.opts.Registry)
	}
	return parts
}
