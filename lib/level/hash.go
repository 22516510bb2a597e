package level

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/levelkv/lib/util"
	"github.com/cespare/xxhash/v2"
	"github.com/dchest/siphash"
)

// Hasher derives the two independent hash values of a key.
//
// Thread-safety: implementations must be safe for concurrent use.
type Hasher interface {
	Hash(key Key) (h1, h2 uint64)
}

// Seeds are the two hash seeds shared by host and accelerator
type Seeds struct {
	First  uint64
	Second uint64
}

// NewSeeds generates a random pair of distinct seeds
func NewSeeds() Seeds {
	for {
		s := Seeds{First: util.GenerateSeed(), Second: util.GenerateSeed()}
		if s.First != s.Second {
			return s
		}
	}
}

// HasherNames lists the names accepted by NewHasher
var HasherNames = []string{"siphash", "xxhash", "fnv"}

// NewHasher returns the named hasher keyed with seeds
func NewHasher(name string, seeds Seeds) (Hasher, error) {
	switch name {
	case "", "siphash":
		return SipHasher{Seeds: seeds}, nil
	case "xxhash":
		return XXHasher{Seeds: seeds}, nil
	case "fnv":
		return FNVHasher{Seeds: seeds}, nil
	default:
		return nil, fmt.Errorf("unknown hasher %q (expected one of %v)", name, HasherNames)
	}
}

// SipHasher keys SipHash-2-4 with (First, Second) for h1 and (Second, First) for h2
type SipHasher struct{ Seeds Seeds }

func (h SipHasher) Hash(key Key) (uint64, uint64) {
	return siphash.Hash(h.Seeds.First, h.Seeds.Second, key[:]),
		siphash.Hash(h.Seeds.Second, h.Seeds.First, key[:])
}

// XXHasher hashes the seed-prefixed key with xxHash64
type XXHasher struct{ Seeds Seeds }

func (h XXHasher) Hash(key Key) (uint64, uint64) {
	var buf [8 + KeySize]byte
	copy(buf[8:], key[:])
	binary.LittleEndian.PutUint64(buf[:8], h.Seeds.First)
	h1 := xxhash.Sum64(buf[:])
	binary.LittleEndian.PutUint64(buf[:8], h.Seeds.Second)
	return h1, xxhash.Sum64(buf[:])
}

// FNVHasher uses seeded FNV-1a
type FNVHasher struct{ Seeds Seeds }

func (h FNVHasher) Hash(key Key) (uint64, uint64) {
	return util.HashBytes(key[:], h.Seeds.First), util.HashBytes(key[:], h.Seeds.Second)
}
