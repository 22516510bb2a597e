package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

var (
	ErrNotImported     = errors.New("partition used before import")
	ErrAlreadyImported = errors.New("partition already imported")
	ErrOutOfRange      = errors.New("access out of range")
	ErrClosed          = errors.New("closed")
	ErrBadDescriptor   = errors.New("malformed descriptor")
)

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// Descriptor is the exported form of a host memory region. Data is backend
// specific and only interpreted by the backend that produced it.
type Descriptor struct {
	HostAddr uint64
	Data     []byte
}

// Memory is random access to a region of bytes
type Memory interface {
	// ReadAt copies len(p) bytes starting at off into p
	ReadAt(p []byte, off uint64) error
	// WriteAt copies p into the region starting at off
	WriteAt(p []byte, off uint64) error
	// Size returns the region size in bytes
	Size() uint64
	// Close releases the mapping (and, for the exporting side, the region itself)
	Close() error
}

// Region is a host memory region that has been exported through a Backend
type Region interface {
	Memory
	// Descriptor returns the descriptor that lets a peer import this region
	Descriptor() Descriptor
}

// Backend creates and imports regions
type Backend interface {
	// Name returns the name of the backend (e.g. "mem", "shm")
	Name() string
	// Export allocates a zeroed region of size bytes on the host side
	Export(size uint64) (Region, error)
	// Import maps a region exported by a peer
	Import(desc Descriptor) (Memory, error)
}

// Partition is one independently ordered channel between the fixed local
// buffer it was created with and one imported remote region.
type Partition interface {
	// Import binds the partition to a remote region. It must be called exactly once
	// before the first ScheduleReadWrite.
	Import(desc Descriptor) error
	// ScheduleReadWrite copies length bytes between local[localOffset:] and the
	// remote region at remoteOffset. isWrite selects local -> remote.
	// The future resolves true on success and false on any failure.
	ScheduleReadWrite(isWrite bool, localOffset, remoteOffset, length uint64) *Future[bool]
	// Close completes all queued requests and releases the imported mapping
	Close() error
	// Name returns the partition name used in logs and metrics
	Name() string
	// RemoteSize returns the size of the imported region, 0 before Import
	RemoteSize() uint64
	// Stats returns transfer statistics of the partition
	Stats() PartitionStats
}

// PartitionStats summarizes the transfers executed by a partition
type PartitionStats struct {
	Name      string
	Reads     int64
	Writes    int64
	Failures  int64
	ReadMean  time.Duration
	WriteMean time.Duration
	ReadP99   time.Duration
	WriteP99  time.Duration
}

func (s PartitionStats) String() string {
	return fmt.Sprintf("%-16s reads=%d (mean %s, p99 %s) writes=%d (mean %s, p99 %s) failures=%d",
		s.Name, s.Reads, s.ReadMean, s.ReadP99, s.Writes, s.WriteMean, s.WriteP99, s.Failures)
}

// CheckRange validates an access of length bytes at off into a region of size bytes
func CheckRange(off, length, size uint64) error {
	if off > size || length > size-off {
		return fmt.Errorf("%w: [%d, %d) exceeds %d bytes", ErrOutOfRange, off, off+length, size)
	}
	return nil
}
