package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/levelkv/lib/cache"
	"github.com/ValentinKolb/levelkv/lib/comch"
	"github.com/ValentinKolb/levelkv/lib/level"
	"github.com/ValentinKolb/levelkv/lib/transport"
	"github.com/ValentinKolb/levelkv/lib/util"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("engine")

// State is the expansion state of the engine
type State uint32

const (
	StateHandshake State = iota
	StateNormal
	StateNegotiating
	StateRehashing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateNormal:
		return "normal"
	case StateNegotiating:
		return "negotiating"
	case StateRehashing:
		return "rehashing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Option customizes an engine created by Open
type Option func(*options)

type options struct {
	hasher   func(level.Seeds) level.Hasher
	metrics  *vm.Set
	registry gometrics.Registry
}

// WithHasher replaces the configured hasher. The factory receives the seeds sent by the host.
func WithHasher(factory func(level.Seeds) level.Hasher) Option {
	return func(o *options) { o.hasher = factory }
}

// WithMetrics registers the engine and cache counters in set
func WithMetrics(set *vm.Set) Option {
	return func(o *options) { o.metrics = set }
}

// WithRegistry registers the partition timers in registry
func WithRegistry(registry gometrics.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// Engine is the accelerator side of levelkv.
//
// Thread-safety: all public methods are safe for concurrent use. They are
// serialized through one FIFO request queue.
type Engine struct {
	cfg    Config
	ch     comch.Channel
	hasher level.Hasher
	cache  *cache.BucketCache

	queue *util.Queue[*request]
	inbox chan comch.Message
	state atomic.Uint32
	items atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	metrics        *vm.Set
	expansions     *vm.Counter
	aborts         *vm.Counter
	protocolErrors *vm.Counter
}

// --------------------------------------------------------------------------
// Engine Factory Method
// --------------------------------------------------------------------------

// Open performs the handshake with the host on ch: it waits for the hash seeds
// and the descriptors of both levels (bottom level first), imports them via
// backend and starts the request processor. The handshake is bounded by
// cfg.Timeout and ctx. The engine owns ch from here on, if Open fails ch is
// closed before it returns.
func Open(ctx context.Context, cfg Config, ch comch.Channel, backend transport.Backend, opts ...Option) (*Engine, error) {
	layout, err := cfg.Validate()
	if err != nil {
		if ch != nil {
			ch.Close()
		}
		return nil, errorf(RetCInternal, "invalid config: %v", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = vm.NewSet()
	}

	e := &Engine{
		cfg:            cfg,
		ch:             ch,
		queue:          util.NewQueue[*request](),
		inbox:          make(chan comch.Message, 4*cfg.Partitions+4),
		done:           make(chan struct{}),
		metrics:        o.metrics,
		expansions:     o.metrics.GetOrCreateCounter("levelkv_expansions_total"),
		aborts:         o.metrics.GetOrCreateCounter("levelkv_expansion_aborts_total"),
		protocolErrors: o.metrics.GetOrCreateCounter("levelkv_protocol_errors_total"),
	}
	e.setState(StateHandshake)
	ch.Receive(e.handle)

	e.cache, err = cache.New(cache.Options{
		Frames:     cfg.CacheSize,
		Partitions: cfg.Partitions,
		Backend:    backend,
		Metrics:    o.metrics,
		Registry:   o.registry,
	}, layout)
	if err != nil {
		ch.Close()
		return nil, errorf(RetCInternal, "failed to create cache: %v", err)
	}

	seeds, err := e.handshake(ctx)
	if err != nil {
		e.abandon()
		return nil, err
	}

	if o.hasher != nil {
		e.hasher = o.hasher(seeds)
	} else if e.hasher, err = level.NewHasher(cfg.Hasher, seeds); err != nil {
		e.abandon()
		return nil, errorf(RetCInternal, "%v", err)
	}

	o.metrics.GetOrCreateGauge("levelkv_items", func() float64 {
		return float64(e.items.Load())
	})

	e.setState(StateNormal)
	go e.run()
	Logger.Infof("Engine ready: %s, %d frames, %d partitions per level", layout, cfg.CacheSize, cfg.Partitions)
	return e, nil
}

// abandon releases the cache and the channel of an engine that never started
func (e *Engine) abandon() {
	if err := e.cache.Close(); err != nil {
		Logger.Warningf("failed to release the cache: %v", err)
	}
	if err := e.ch.Close(); err != nil {
		Logger.Warningf("failed to close the control channel: %v", err)
	}
}

// handshake collects the seeds and the initial descriptors and imports them
func (e *Engine) handshake(ctx context.Context) (level.Seeds, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	parts := e.cache.Partitions()
	var seeds *level.Seeds
	imported := 0

	for seeds == nil || imported < len(parts) {
		msg, err := e.receive(ctx)
		if err != nil {
			return level.Seeds{}, fmt.Errorf("handshake: %w", err)
		}

		switch m := msg.(type) {
		case comch.ExportSeeds:
			if seeds != nil {
				e.protocolError("duplicate seeds during handshake")
			}
			seeds = &level.Seeds{First: m.Seed1, Second: m.Seed2}
		case comch.ExportDescriptor:
			if imported == len(parts) {
				e.protocolError("surplus descriptor %#x during handshake", m.HostAddr)
				continue
			}
			if err := e.importDescriptor(parts[imported], m, e.cache.Layout(), regionOf(imported, e.cfg.Partitions)); err != nil {
				return level.Seeds{}, err
			}
			imported++
		}
	}
	return *seeds, nil
}

func regionOf(i, partitions int) level.Region {
	if i < partitions {
		return level.RegionBottom
	}
	return level.RegionTop
}

// importDescriptor imports m into p and checks that the region matches the layout
func (e *Engine) importDescriptor(p transport.Partition, m comch.ExportDescriptor, layout level.Layout, r level.Region) error {
	if err := p.Import(transport.Descriptor{HostAddr: m.HostAddr, Data: m.Descriptor}); err != nil {
		return errorf(RetCTransport, "%v", err)
	}
	want := layout.PartitionSize(r, e.cfg.Partitions)
	if got := p.RemoteSize(); got != want {
		return errorf(RetCProtocol, "partition %s: host exported %d bytes, %s level %d needs %d (level mismatch?)",
			p.Name(), got, r, layout.Level, want)
	}
	return nil
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// Search returns the value stored for key
func (e *Engine) Search(key level.Key) (level.Value, bool, error) {
	res, err := e.call(&request{op: opSearch, key: key})
	return res.value, res.found, err
}

// SearchAsync enqueues a search and returns immediately. callback runs on the
// processor goroutine and must not call back into the engine.
func (e *Engine) SearchAsync(key level.Key, callback func(value level.Value, found bool, err error)) error {
	req := &request{op: opSearch, key: key, callback: callback}
	if !e.queue.Push(req) {
		return ErrClosed
	}
	return nil
}

// Insert stores value under key, overwriting an existing value. It returns
// false if all candidate buckets are full and no expansion made room.
func (e *Engine) Insert(key level.Key, value level.Value) (bool, error) {
	res, err := e.call(&request{op: opInsert, key: key, value: value})
	return res.found, err
}

// Update replaces the value of an existing key. It returns false if key is absent.
func (e *Engine) Update(key level.Key, value level.Value) (bool, error) {
	res, err := e.call(&request{op: opUpdate, key: key, value: value})
	return res.found, err
}

// Delete removes key. It returns false if key was absent.
func (e *Engine) Delete(key level.Key) (bool, error) {
	res, err := e.call(&request{op: opDelete, key: key})
	return res.found, err
}

// Expand doubles the table. Requests submitted meanwhile wait until it completes.
func (e *Engine) Expand() error {
	_, err := e.call(&request{op: opExpand})
	return err
}

// Flush writes every dirty bucket back to the host
func (e *Engine) Flush() error {
	_, err := e.call(&request{op: opFlush})
	return err
}

// Info returns a snapshot of the table and cache state
func (e *Engine) Info() (Info, error) {
	res, err := e.call(&request{op: opInfo})
	return res.info, err
}

// State returns the current expansion state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Metrics returns the set holding the engine counters
func (e *Engine) Metrics() *vm.Set {
	return e.metrics
}

// Close flushes all dirty buckets, tells the host to exit and stops the
// processor and every partition. Requests queued before Close are completed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if _, err := e.call(&request{op: opClose}); err != nil && !errors.Is(err, ErrClosed) {
			e.closeErr = err
		}
		<-e.done
	})
	return e.closeErr
}

// call enqueues req and waits for its reply
func (e *Engine) call(req *request) (result, error) {
	req.reply = transport.NewFuture[result]()
	if !e.queue.Push(req) {
		return result{}, ErrClosed
	}
	res := req.reply.Wait()
	return res, res.err
}

// --------------------------------------------------------------------------
// Control Channel
// --------------------------------------------------------------------------

func (e *Engine) setState(s State) {
	e.state.Store(uint32(s))
}

// handle runs on the channel's dispatch goroutine. Messages the current state
// does not expect are protocol errors and are dropped.
func (e *Engine) handle(msg comch.Message) {
	state := e.State()
	if ctrl, ok := msg.(comch.Control); ok && ctrl.Signal == comch.SignalExit {
		Logger.Warningf("Host sent %v", ctrl)
		return
	}
	if !accepts(state, msg) {
		e.protocolError("unexpected %v in state %s", msg, state)
		return
	}
	select {
	case e.inbox <- msg:
	default:
		e.protocolError("inbox full, dropping %v", msg)
	}
}

func accepts(state State, msg comch.Message) bool {
	switch m := msg.(type) {
	case comch.ExportSeeds:
		return state == StateHandshake
	case comch.ExportDescriptor:
		return state == StateHandshake || state == StateNegotiating
	case comch.Control:
		return (state == StateNegotiating || state == StateRehashing) &&
			(m.Signal == comch.SignalExpandFinish || m.Signal == comch.SignalExpandAbort)
	default:
		return false
	}
}

// receive waits for the next accepted message
func (e *Engine) receive(ctx context.Context) (comch.Message, error) {
	select {
	case msg := <-e.inbox:
		return msg, nil
	case <-e.ch.Done():
		return nil, errorf(RetCProtocol, "control channel closed")
	case <-ctx.Done():
		return nil, errorf(RetCProtocol, "no response from host: %v", ctx.Err())
	}
}

// drainInbox drops stale messages left over from an earlier exchange
func (e *Engine) drainInbox() {
	for {
		select {
		case msg := <-e.inbox:
			e.protocolError("stale %v", msg)
		default:
			return
		}
	}
}

func (e *Engine) protocolError(format string, args ...any) {
	e.protocolErrors.Inc()
	Logger.Warningf("Protocol error: "+format, args...)
}
