package shm

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/levelkv/lib/transport"
	"github.com/google/uuid"
)

const filePrefix = "levelkv_"

type backend struct {
	dir string
}

// NewBackend returns a shared memory backend creating its segments in dir.
// An empty dir selects /dev/shm, falling back to the temporary directory.
func NewBackend(dir string) transport.Backend {
	if dir == "" {
		dir = defaultDir()
	}
	return &backend{dir: dir}
}

func (b *backend) Name() string {
	return "shm"
}

func (b *backend) Export(size uint64) (transport.Region, error) {
	if size == 0 {
		return nil, fmt.Errorf("cannot export an empty region")
	}
	path := filepath.Join(b.dir, filePrefix+uuid.NewString())
	seg, err := createSegment(path, size)
	if err != nil {
		return nil, err
	}
	return seg, nil
}

func (b *backend) Import(desc transport.Descriptor) (transport.Memory, error) {
	size, path, err := decodeDescriptor(desc)
	if err != nil {
		return nil, err
	}
	seg, err := openSegment(path, size)
	if err != nil {
		return nil, err
	}
	return seg, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func encodeDescriptor(addr uint64, path string, size uint64) transport.Descriptor {
	data := make([]byte, 8+len(path))
	binary.BigEndian.PutUint64(data[:8], size)
	copy(data[8:], path)
	return transport.Descriptor{HostAddr: addr, Data: data}
}

func decodeDescriptor(desc transport.Descriptor) (uint64, string, error) {
	if len(desc.Data) <= 8 {
		return 0, "", fmt.Errorf("%w: data too short for shm descriptor", transport.ErrBadDescriptor)
	}
	return binary.BigEndian.Uint64(desc.Data[:8]), string(desc.Data[8:]), nil
}

// defaultDir prefers /dev/shm, the tmpfs for shared memory on Linux
func defaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
