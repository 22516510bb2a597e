package level

import (
	"errors"
	"fmt"
)

const (
	// MinLevel is the smallest supported table level
	MinLevel = 3
	// MaxLevel bounds the address space so that bucket ids and byte offsets fit into uint64
	MaxLevel = 48
)

var ErrInvalidLayout = errors.New("invalid table layout")

// Region identifies one of the two table levels
type Region uint8

const (
	RegionBottom Region = iota
	RegionTop
)

func (r Region) String() string {
	if r == RegionTop {
		return "top"
	}
	return "bottom"
}

// Candidates holds the four candidate bucket ids of a key: the top-level
// pair followed by the bottom-level pair.
type Candidates [4]uint64

// TopPair returns the two top-level candidates
func (c Candidates) TopPair() [2]uint64 { return [2]uint64{c[0], c[1]} }

// BottomPair returns the two bottom-level candidates
func (c Candidates) BottomPair() [2]uint64 { return [2]uint64{c[2], c[3]} }

// Contains reports whether id is one of the candidates
func (c Candidates) Contains(id uint64) bool {
	return c[0] == id || c[1] == id || c[2] == id || c[3] == id
}

// Layout describes the bucket id address space of a table with a given level.
//
// The top level holds AddrCapacity buckets, the bottom level half as many.
// Bottom ids start at 2^(level-1)-Assoc, top ids at 2^level-Assoc, so after a
// doubling the previous top range becomes the new bottom range and the new
// top range starts directly behind it.
type Layout struct {
	Level          uint64
	AddrCapacity   uint64
	BottomCapacity uint64
}

// NewLayout returns the layout for the given level
func NewLayout(level uint64) (Layout, error) {
	if level < MinLevel || level > MaxLevel {
		return Layout{}, fmt.Errorf("%w: level %d not in [%d, %d]", ErrInvalidLayout, level, MinLevel, MaxLevel)
	}
	return Layout{
		Level:          level,
		AddrCapacity:   1 << level,
		BottomCapacity: 1 << (level - 1),
	}, nil
}

// BottomStart is the first bottom-level bucket id
func (l Layout) BottomStart() uint64 { return 1<<(l.Level-1) - Assoc }

// TopStart is the first top-level bucket id. It is also the end of the bottom range.
func (l Layout) TopStart() uint64 { return 1<<l.Level - Assoc }

// TopEnd is one past the last top-level bucket id
func (l Layout) TopEnd() uint64 { return l.TopStart() + l.AddrCapacity }

// TotalBuckets returns the number of buckets of both levels
func (l Layout) TotalBuckets() uint64 { return l.AddrCapacity + l.BottomCapacity }

// TotalCapacity returns the number of slots of both levels
func (l Layout) TotalCapacity() uint64 { return Assoc * l.TotalBuckets() }

// Contains reports whether id addresses a bucket of the current table
func (l Layout) Contains(id uint64) bool {
	return id >= l.BottomStart() && id < l.TopEnd()
}

// RegionOf returns the level that id belongs to. id must be contained in the layout.
func (l Layout) RegionOf(id uint64) Region {
	if id >= l.TopStart() {
		return RegionTop
	}
	return RegionBottom
}

// Candidates computes the four candidate buckets of a key with the hashes h1 and h2
func (l Layout) Candidates(h1, h2 uint64) Candidates {
	half := l.AddrCapacity / 2
	quarter := l.AddrCapacity / 4
	top, bottom := l.TopStart(), l.BottomStart()
	return Candidates{
		top + h1%half,
		top + half + h2%half,
		bottom + h1%quarter,
		bottom + quarter + h2%quarter,
	}
}

// Expanded returns the layout after one doubling
func (l Layout) Expanded() Layout {
	l.ExpandParameters()
	return l
}

// ExpandParameters doubles both capacities and increments the level
func (l *Layout) ExpandParameters() {
	l.AddrCapacity *= 2
	l.BottomCapacity *= 2
	l.Level++
}

// --------------------------------------------------------------------------
// Partition Mapping
// --------------------------------------------------------------------------

// Location is the position of a bucket inside the exported host memory
type Location struct {
	Region    Region
	Partition int
	Offset    uint64
}

// ValidatePartitions checks that every level of l (and of every expanded
// layout) can be split evenly into p partitions.
func (l Layout) ValidatePartitions(p int) error {
	if p <= 0 || p&(p-1) != 0 {
		return fmt.Errorf("%w: partitions per level must be a power of two, got %d", ErrInvalidLayout, p)
	}
	if uint64(p) > l.BottomCapacity {
		return fmt.Errorf("%w: %d partitions exceed the %d bottom-level buckets", ErrInvalidLayout, p, l.BottomCapacity)
	}
	return nil
}

// RegionBuckets returns the number of buckets of the given level
func (l Layout) RegionBuckets(r Region) uint64 {
	if r == RegionTop {
		return l.AddrCapacity
	}
	return l.BottomCapacity
}

// PartitionSize returns the byte size of one of the p partitions of region r
func (l Layout) PartitionSize(r Region, p int) uint64 {
	return l.RegionBuckets(r) / uint64(p) * BucketSize
}

// Locate maps a bucket id onto (level, partition, byte offset) by splitting
// the level evenly into p partitions. The mapping is stateless: host and
// accelerator compute it independently.
func (l Layout) Locate(id uint64, p int) Location {
	r := l.RegionOf(id)
	idx := id - l.BottomStart()
	if r == RegionTop {
		idx = id - l.TopStart()
	}
	per := l.RegionBuckets(r) / uint64(p)
	return Location{
		Region:    r,
		Partition: int(idx / per),
		Offset:    (idx % per) * BucketSize,
	}
}

func (l Layout) String() string {
	return fmt.Sprintf("level=%d bottom=[%d,%d) top=[%d,%d)",
		l.Level, l.BottomStart(), l.TopStart(), l.TopStart(), l.TopEnd())
}
