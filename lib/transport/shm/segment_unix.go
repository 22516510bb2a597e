//go:build unix

package shm

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/ValentinKolb/levelkv/lib/transport"
	"golang.org/x/sys/unix"
)

// segment is a memory mapped file. The creating side owns the file and
// removes it on Close, the opening side only unmaps.
type segment struct {
	file   *os.File
	mem    []byte
	addr   uint64 // address of the mapping in this process
	path   string
	owner  bool
	closed atomic.Bool
}

func createSegment(path string, size uint64) (*segment, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	mem, err := mmapFile(file, size)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &segment{file: file, mem: mem, addr: addressOf(mem), path: path, owner: true}, nil
}

func openSegment(path string, size uint64) (*segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}
	if uint64(info.Size()) != size {
		file.Close()
		return nil, fmt.Errorf("%w: segment %s has %d bytes, descriptor says %d", transport.ErrBadDescriptor, path, info.Size(), size)
	}

	mem, err := mmapFile(file, size)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &segment{file: file, mem: mem, addr: addressOf(mem), path: path}, nil
}

func mmapFile(file *os.File, size uint64) ([]byte, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return mem, nil
}

func (s *segment) Descriptor() transport.Descriptor {
	return encodeDescriptor(s.addr, s.path, uint64(len(s.mem)))
}

func (s *segment) Size() uint64 {
	return uint64(len(s.mem))
}

func (s *segment) ReadAt(p []byte, off uint64) error {
	if s.closed.Load() {
		return transport.ErrClosed
	}
	if err := transport.CheckRange(off, uint64(len(p)), s.Size()); err != nil {
		return err
	}
	copy(p, s.mem[off:])
	return nil
}

func (s *segment) WriteAt(p []byte, off uint64) error {
	if s.closed.Load() {
		return transport.ErrClosed
	}
	if err := transport.CheckRange(off, uint64(len(p)), s.Size()); err != nil {
		return err
	}
	copy(s.mem[off:], p)
	return nil
}

func (s *segment) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := unix.Munmap(s.mem)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if s.owner {
		if rerr := os.Remove(s.path); err == nil {
			err = rerr
		}
	}
	return err
}

func addressOf(mem []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(mem))))
}
