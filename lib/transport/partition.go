package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/levelkv/lib/util"
	"github.com/rcrowley/go-metrics"
)

// request is one queued read or write
type request struct {
	isWrite      bool
	localOffset  uint64
	remoteOffset uint64
	length       uint64
	future       *Future[bool]
}

// partition implements Partition with one worker goroutine draining a FIFO queue
type partition struct {
	name     string
	local    []byte
	backend  Backend
	registry metrics.Registry

	mu     sync.Mutex // protects remote during Import and Close
	remote Memory

	queue *util.Queue[request]
	done  chan struct{}

	readTimer  metrics.Timer
	writeTimer metrics.Timer
	failures   metrics.Counter
}

// --------------------------------------------------------------------------
// Partition Factory Method
// --------------------------------------------------------------------------

// NewPartition creates a partition that moves data between local and a region
// imported through backend. Timers are registered in registry under
// "transport.<name>.*"; registry may be nil.
func NewPartition(name string, local []byte, backend Backend, registry metrics.Registry) Partition {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	p := &partition{
		name:       name,
		local:      local,
		backend:    backend,
		registry:   registry,
		queue:      util.NewQueue[request](),
		done:       make(chan struct{}),
		readTimer:  metrics.GetOrRegisterTimer("transport."+name+".read", registry),
		writeTimer: metrics.GetOrRegisterTimer("transport."+name+".write", registry),
		failures:   metrics.GetOrRegisterCounter("transport."+name+".failures", registry),
	}
	go p.run()
	return p
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.Partition)
// --------------------------------------------------------------------------

func (p *partition) Name() string {
	return p.name
}

func (p *partition) RemoteSize() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return 0
	}
	return p.remote.Size()
}

func (p *partition) Import(desc Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.remote != nil {
		return fmt.Errorf("%s: %w", p.name, ErrAlreadyImported)
	}
	if p.queue.IsClosed() {
		return fmt.Errorf("%s: %w", p.name, ErrClosed)
	}

	remote, err := p.backend.Import(desc)
	if err != nil {
		return fmt.Errorf("%s: failed to import descriptor: %w", p.name, err)
	}
	p.remote = remote
	Logger.Debugf("Partition %s imported %d bytes (host addr %#x) via %s", p.name, remote.Size(), desc.HostAddr, p.backend.Name())
	return nil
}

func (p *partition) ScheduleReadWrite(isWrite bool, localOffset, remoteOffset, length uint64) *Future[bool] {
	f := NewFuture[bool]()
	req := request{
		isWrite:      isWrite,
		localOffset:  localOffset,
		remoteOffset: remoteOffset,
		length:       length,
		future:       f,
	}
	if !p.queue.Push(req) {
		Logger.Warningf("Partition %s: request scheduled after close", p.name)
		p.failures.Inc(1)
		f.Resolve(false)
	}
	return f
}

func (p *partition) Close() error {
	p.queue.Close()
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, suffix := range []string{".read", ".write", ".failures"} {
		p.registry.Unregister("transport." + p.name + suffix)
	}

	if p.remote == nil {
		return nil
	}
	err := p.remote.Close()
	p.remote = nil
	return err
}

func (p *partition) Stats() PartitionStats {
	return PartitionStats{
		Name:      p.name,
		Reads:     p.readTimer.Count(),
		Writes:    p.writeTimer.Count(),
		Failures:  p.failures.Count(),
		ReadMean:  time.Duration(p.readTimer.Mean()),
		WriteMean: time.Duration(p.writeTimer.Mean()),
		ReadP99:   time.Duration(p.readTimer.Percentile(0.99)),
		WriteP99:  time.Duration(p.writeTimer.Percentile(0.99)),
	}
}

// --------------------------------------------------------------------------
// Worker
// --------------------------------------------------------------------------

// run executes queued requests in submission order until the queue is closed and drained
func (p *partition) run() {
	defer close(p.done)

	for {
		req, ok := p.queue.Pop()
		if !ok {
			return
		}
		req.future.Resolve(p.execute(req))
	}
}

// execute performs one request. It never panics on bad input, failures resolve as false.
func (p *partition) execute(req request) bool {
	p.mu.Lock()
	remote := p.remote
	p.mu.Unlock()

	if remote == nil {
		Logger.Errorf("Partition %s: %v", p.name, ErrNotImported)
		p.failures.Inc(1)
		return false
	}

	if err := CheckRange(req.localOffset, req.length, uint64(len(p.local))); err != nil {
		Logger.Errorf("Partition %s: local buffer: %v", p.name, err)
		p.failures.Inc(1)
		return false
	}
	buf := p.local[req.localOffset : req.localOffset+req.length]

	start := time.Now()
	var err error
	if req.isWrite {
		err = remote.WriteAt(buf, req.remoteOffset)
		p.writeTimer.UpdateSince(start)
	} else {
		err = remote.ReadAt(buf, req.remoteOffset)
		p.readTimer.UpdateSince(start)
	}

	if err != nil {
		Logger.Errorf("Partition %s: transfer (write=%t, remote=%d, len=%d) failed: %v",
			p.name, req.isWrite, req.remoteOffset, req.length, err)
		p.failures.Inc(1)
		return false
	}
	return true
}
