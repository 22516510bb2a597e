package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ValentinKolb/levelkv/lib/common"
	"github.com/ValentinKolb/levelkv/lib/comch"
	"github.com/ValentinKolb/levelkv/lib/level"
	"github.com/ValentinKolb/levelkv/lib/transport"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("host")

var ErrClosed = errors.New("host closed")

// Config holds the host parameters
type Config struct {
	// Level is the initial table level
	Level uint64
	// Partitions is the number of exported regions per level
	Partitions int
	// Hasher names the two-hash scheme used by Lookup, it must match the accelerator's
	Hasher string
	// Seeds are sent to the accelerator. Zero seeds are replaced by random ones.
	Seeds level.Seeds
}

// DefaultConfig returns the configuration used by the CLI defaults
func DefaultConfig() Config {
	return Config{Level: 10, Partitions: 2, Hasher: "siphash"}
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var w common.ConfigWriter
	w.Section("Table")
	w.Field("Start Level", c.Level)
	w.Field("Partitions per Level", c.Partitions)
	w.Field("Hasher", c.Hasher)
	return w.String()
}

// Host owns the table memory.
//
// Thread-safety: Lookup, Layout and Scan may be called concurrently with Serve.
type Host struct {
	cfg     Config
	backend transport.Backend
	hasher  level.Hasher

	mu      sync.RWMutex
	layout  level.Layout
	levels  [2][]transport.Region // indexed by level.Region
	pending []transport.Region    // new top level during an expansion
	closed  bool

	// every live region by host address
	regions *xsync.MapOf[uint64, transport.Region]

	expansions *vm.Counter
	aborts     *vm.Counter
}

// New allocates and exports both levels of the initial table
func New(cfg Config, backend transport.Backend, metrics *vm.Set) (*Host, error) {
	layout, err := level.NewLayout(cfg.Level)
	if err != nil {
		return nil, err
	}
	if err := layout.ValidatePartitions(cfg.Partitions); err != nil {
		return nil, err
	}
	if cfg.Seeds == (level.Seeds{}) {
		cfg.Seeds = level.NewSeeds()
	}
	hasher, err := level.NewHasher(cfg.Hasher, cfg.Seeds)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = vm.NewSet()
	}

	h := &Host{
		cfg:        cfg,
		backend:    backend,
		hasher:     hasher,
		layout:     layout,
		regions:    xsync.NewMapOf[uint64, transport.Region](),
		expansions: metrics.GetOrCreateCounter("levelkv_host_expansions_total"),
		aborts:     metrics.GetOrCreateCounter("levelkv_host_expansion_aborts_total"),
	}
	metrics.GetOrCreateGauge("levelkv_host_exported_bytes", func() float64 {
		return float64(h.exportedBytes())
	})

	for _, r := range []level.Region{level.RegionBottom, level.RegionTop} {
		regions, err := h.export(layout.PartitionSize(r, cfg.Partitions))
		if err != nil {
			h.Close()
			return nil, err
		}
		h.levels[r] = regions
	}

	Logger.Infof("Host table ready: %s, %d partitions per level via %s", layout, cfg.Partitions, backend.Name())
	return h, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Layout returns the current table layout
func (h *Host) Layout() level.Layout {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.layout
}

// Seeds returns the hash seeds shared with the accelerator
func (h *Host) Seeds() level.Seeds {
	return h.cfg.Seeds
}

// Expanding reports whether the new top level of an expansion is allocated
func (h *Host) Expanding() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pending != nil
}

func (h *Host) exportedBytes() uint64 {
	var total uint64
	h.regions.Range(func(_ uint64, r transport.Region) bool {
		total += r.Size()
		return true
	})
	return total
}

// --------------------------------------------------------------------------
// Control protocol
// --------------------------------------------------------------------------

// Serve runs the control protocol on ch until the accelerator sends Exit, the
// channel closes or ctx is done. It first sends the seeds and the descriptors
// of both levels, bottom level first.
// Serve may be called again for the next accelerator once it returned.
func (h *Host) Serve(ctx context.Context, ch comch.Channel) error {
	msgs := make(chan comch.Message, 16)
	stop := make(chan struct{})
	defer close(stop)
	// an accelerator that leaves mid-expansion never commits
	defer h.abortExpansion()
	ch.Receive(func(msg comch.Message) {
		select {
		case msgs <- msg:
		case <-stop:
		}
	})

	seeds := h.cfg.Seeds
	if err := ch.Send(comch.ExportSeeds{Seed1: seeds.First, Seed2: seeds.Second}); err != nil {
		return fmt.Errorf("failed to send seeds: %w", err)
	}
	h.mu.RLock()
	initial := append(append([]transport.Region(nil), h.levels[level.RegionBottom]...), h.levels[level.RegionTop]...)
	h.mu.RUnlock()
	if err := sendDescriptors(ch, initial); err != nil {
		return err
	}
	Logger.Infof("Sent seeds and %d descriptors", len(initial))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			if exit, err := h.handle(ch, msg); exit || err != nil {
				return err
			}
		case <-ch.Done():
			// handle what was delivered before the accelerator hung up
			for {
				select {
				case msg := <-msgs:
					if exit, err := h.handle(ch, msg); exit || err != nil {
						return err
					}
				default:
					Logger.Infof("Accelerator disconnected")
					return nil
				}
			}
		}
	}
}

// handle processes one message. It reports whether serving should stop.
func (h *Host) handle(ch comch.Channel, msg comch.Message) (bool, error) {
	ctrl, ok := msg.(comch.Control)
	if !ok {
		Logger.Warningf("Protocol error: unexpected %v", msg)
		return false, nil
	}

	switch ctrl.Signal {
	case comch.SignalExpand:
		return false, h.beginExpansion(ch)
	case comch.SignalExpandFinish:
		if err := h.commitExpansion(); err != nil {
			Logger.Warningf("Protocol error: %v", err)
			return false, nil
		}
		return false, h.echo(ch, ctrl)
	case comch.SignalExpandAbort:
		h.abortExpansion()
		return false, h.echo(ch, ctrl)
	case comch.SignalExit:
		Logger.Infof("Accelerator sent exit")
		return true, nil
	default:
		Logger.Warningf("Protocol error: unexpected %v", msg)
		return false, nil
	}
}

func (h *Host) echo(ch comch.Channel, ctrl comch.Control) error {
	if err := ch.Send(ctrl); err != nil && !errors.Is(err, comch.ErrClosed) {
		return fmt.Errorf("failed to acknowledge %v: %w", ctrl, err)
	}
	return nil
}

// beginExpansion allocates the doubled top level and sends one descriptor per partition
func (h *Host) beginExpansion(ch comch.Channel) error {
	h.mu.Lock()
	if h.pending != nil {
		h.mu.Unlock()
		Logger.Warningf("Protocol error: expansion requested while one is pending")
		return nil
	}
	next := h.layout.Expanded()
	h.mu.Unlock()

	regions, err := h.export(next.PartitionSize(level.RegionTop, h.cfg.Partitions))
	if err != nil {
		// no descriptors are sent, the accelerator times out and aborts
		Logger.Errorf("Failed to allocate level %d: %v", next.Level, err)
		return nil
	}

	h.mu.Lock()
	h.pending = regions
	h.mu.Unlock()

	Logger.Infof("Allocated top level of %s", next)
	return sendDescriptors(ch, regions)
}

// commitExpansion retires the bottom level: the top level becomes the bottom level, the new region the top level
func (h *Host) commitExpansion() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pending == nil {
		return errors.New("expansion finished without a pending level")
	}
	retired := h.levels[level.RegionBottom]
	h.levels[level.RegionBottom] = h.levels[level.RegionTop]
	h.levels[level.RegionTop] = h.pending
	h.pending = nil
	h.layout.ExpandParameters()
	h.release(retired)

	h.expansions.Inc()
	Logger.Infof("Switched to %s", h.layout)
	return nil
}

func (h *Host) abortExpansion() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pending == nil {
		return
	}
	h.release(h.pending)
	h.pending = nil
	h.aborts.Inc()
	Logger.Warningf("Expansion aborted, staying at %s", h.layout)
}

// --------------------------------------------------------------------------
// Static queries
// --------------------------------------------------------------------------

// Lookup searches key directly in host memory. Modifications the accelerator
// has not flushed yet are not visible.
func (h *Host) Lookup(key level.Key) (level.Value, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return level.Value{}, false, ErrClosed
	}

	h1, h2 := h.hasher.Hash(key)
	for _, id := range h.layout.Candidates(h1, h2) {
		b, err := h.readBucket(id)
		if err != nil {
			return level.Value{}, false, err
		}
		if v, ok := b.Get(key); ok {
			return v, true, nil
		}
	}
	return level.Value{}, false, nil
}

// Scan calls fn for every entry of the table
func (h *Host) Scan(fn func(key level.Key, value level.Value)) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}

	for id := h.layout.BottomStart(); id < h.layout.TopEnd(); id++ {
		b, err := h.readBucket(id)
		if err != nil {
			return err
		}
		b.Each(fn)
	}
	return nil
}

// readBucket reads bucket id from the current levels. The caller holds mu.
func (h *Host) readBucket(id uint64) (level.Bucket, error) {
	var b level.Bucket
	loc := h.layout.Locate(id, h.cfg.Partitions)
	buf := make([]byte, level.BucketSize)
	if err := h.levels[loc.Region][loc.Partition].ReadAt(buf, loc.Offset); err != nil {
		return b, fmt.Errorf("bucket %d: %w", id, err)
	}
	return b, b.UnmarshalFrom(buf)
}

// --------------------------------------------------------------------------
// Lifecycle & Helper
// --------------------------------------------------------------------------

// Close releases every exported region
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	h.regions.Range(func(addr uint64, r transport.Region) bool {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
		h.regions.Delete(addr)
		return true
	})
	h.levels = [2][]transport.Region{}
	h.pending = nil
	return errors.Join(errs...)
}

// export allocates the partitions of one level concurrently
func (h *Host) export(size uint64) ([]transport.Region, error) {
	regions := make([]transport.Region, h.cfg.Partitions)
	var g errgroup.Group
	for i := range regions {
		g.Go(func() error {
			r, err := h.backend.Export(size)
			if err != nil {
				return err
			}
			regions[i] = r
			return nil
		})
	}
	err := g.Wait()

	for _, r := range regions {
		if r == nil {
			continue
		}
		if err != nil {
			r.Close()
			continue
		}
		h.regions.Store(r.Descriptor().HostAddr, r)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to export %d bytes: %w", size, err)
	}
	return regions, nil
}

// release closes regions. The caller holds mu.
func (h *Host) release(regions []transport.Region) {
	for _, r := range regions {
		h.regions.Delete(r.Descriptor().HostAddr)
		if err := r.Close(); err != nil {
			Logger.Warningf("Failed to release region %#x: %v", r.Descriptor().HostAddr, err)
		}
	}
}

func sendDescriptors(ch comch.Channel, regions []transport.Region) error {
	for _, r := range regions {
		desc := r.Descriptor()
		if err := ch.Send(comch.ExportDescriptor{HostAddr: desc.HostAddr, Descriptor: desc.Data}); err != nil {
			return fmt.Errorf("failed to send descriptor %#x: %w", desc.HostAddr, err)
		}
	}
	return nil
}
