// Package testing provides transport backends for tests: a Recorder that
// logs every remote access and can be switched into a failing mode.
package testing

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/levelkv/lib/transport"
)

// ErrInjected is returned by every remote access while a Recorder is failing
var ErrInjected = errors.New("injected transport failure")

// Op is one recorded remote access
type Op struct {
	Write  bool
	Memory string // name given to the imported region
	Offset uint64
	Length int
}

func (o Op) String() string {
	kind := "R"
	if o.Write {
		kind = "W"
	}
	return fmt.Sprintf("%s %s@%d+%d", kind, o.Memory, o.Offset, o.Length)
}

// Recorder wraps a backend, records the accesses to imported regions and
// fails them on demand.
type Recorder struct {
	transport.Backend

	mu    sync.Mutex
	ops   []Op
	names map[uint64]string

	failing atomic.Bool
	imports atomic.Int64
}

var _ transport.Backend = (*Recorder)(nil)

// NewRecorder wraps backend
func NewRecorder(backend transport.Backend) *Recorder {
	return &Recorder{Backend: backend, names: make(map[uint64]string)}
}

// Label registers a readable name for the region with the given host address
func (r *Recorder) Label(hostAddr uint64, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[hostAddr] = name
}

// SetFailing switches failure injection on or off
func (r *Recorder) SetFailing(fail bool) {
	r.failing.Store(fail)
}

// Ops returns a copy of the recorded accesses
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Reset clears the recorded accesses
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

// Imports returns the number of successful imports
func (r *Recorder) Imports() int {
	return int(r.imports.Load())
}

func (r *Recorder) Import(desc transport.Descriptor) (transport.Memory, error) {
	mem, err := r.Backend.Import(desc)
	if err != nil {
		return nil, err
	}
	r.imports.Add(1)

	r.mu.Lock()
	name, ok := r.names[desc.HostAddr]
	r.mu.Unlock()
	if !ok {
		name = fmt.Sprintf("%#x", desc.HostAddr)
	}
	return &memory{Memory: mem, name: name, rec: r}, nil
}

func (r *Recorder) record(op Op) error {
	if r.failing.Load() {
		return ErrInjected
	}
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
	return nil
}

type memory struct {
	transport.Memory
	name string
	rec  *Recorder
}

func (m *memory) ReadAt(p []byte, off uint64) error {
	if err := m.rec.record(Op{Memory: m.name, Offset: off, Length: len(p)}); err != nil {
		return err
	}
	return m.Memory.ReadAt(p, off)
}

func (m *memory) WriteAt(p []byte, off uint64) error {
	if err := m.rec.record(Op{Write: true, Memory: m.name, Offset: off, Length: len(p)}); err != nil {
		return err
	}
	return m.Memory.WriteAt(p, off)
}
