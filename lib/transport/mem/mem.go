package mem

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/levelkv/lib/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

const descriptorLen = 16

var (
	regions    = xsync.NewMapOf[uint64, *region]()
	nextHandle atomic.Uint64
)

// --------------------------------------------------------------------------
// Backend
// --------------------------------------------------------------------------

type backend struct{}

// NewBackend returns the in-process backend
func NewBackend() transport.Backend {
	return backend{}
}

func (backend) Name() string {
	return "mem"
}

func (backend) Export(size uint64) (transport.Region, error) {
	r := &region{
		handle: nextHandle.Add(1),
		size:   size,
		data:   make([]byte, size),
	}
	regions.Store(r.handle, r)
	return r, nil
}

func (backend) Import(desc transport.Descriptor) (transport.Memory, error) {
	if len(desc.Data) != descriptorLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", transport.ErrBadDescriptor, descriptorLen, len(desc.Data))
	}
	handle := binary.BigEndian.Uint64(desc.Data[:8])
	size := binary.BigEndian.Uint64(desc.Data[8:])

	r, ok := regions.Load(handle)
	if !ok {
		return nil, fmt.Errorf("%w: unknown region %d", transport.ErrBadDescriptor, handle)
	}
	if r.size != size {
		return nil, fmt.Errorf("%w: region %d has %d bytes, descriptor says %d", transport.ErrBadDescriptor, handle, r.size, size)
	}
	return &mapping{region: r}, nil
}

// --------------------------------------------------------------------------
// Region (exporting side)
// --------------------------------------------------------------------------

type region struct {
	handle uint64
	size   uint64 // fixed at export, data is dropped on Close
	mu     sync.RWMutex
	data   []byte
	closed bool
}

func (r *region) Descriptor() transport.Descriptor {
	data := make([]byte, descriptorLen)
	binary.BigEndian.PutUint64(data[:8], r.handle)
	binary.BigEndian.PutUint64(data[8:], r.size)
	return transport.Descriptor{HostAddr: r.handle, Data: data}
}

func (r *region) Size() uint64 {
	return r.size
}

func (r *region) ReadAt(p []byte, off uint64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return transport.ErrClosed
	}
	if err := transport.CheckRange(off, uint64(len(p)), uint64(len(r.data))); err != nil {
		return err
	}
	copy(p, r.data[off:])
	return nil
}

func (r *region) WriteAt(p []byte, off uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return transport.ErrClosed
	}
	if err := transport.CheckRange(off, uint64(len(p)), uint64(len(r.data))); err != nil {
		return err
	}
	copy(r.data[off:], p)
	return nil
}

// Close frees the region. Importers observe ErrClosed afterwards.
func (r *region) Close() error {
	regions.Delete(r.handle)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.data = nil
	return nil
}

// --------------------------------------------------------------------------
// Mapping (importing side)
// --------------------------------------------------------------------------

type mapping struct {
	*region
	detached atomic.Bool
}

func (m *mapping) ReadAt(p []byte, off uint64) error {
	if m.detached.Load() {
		return transport.ErrClosed
	}
	return m.region.ReadAt(p, off)
}

func (m *mapping) WriteAt(p []byte, off uint64) error {
	if m.detached.Load() {
		return transport.ErrClosed
	}
	return m.region.WriteAt(p, off)
}

// Close detaches the mapping, the exported region stays alive
func (m *mapping) Close() error {
	m.detached.Store(true)
	return nil
}
