package level

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// Assoc is the number of slots per bucket
	Assoc = 4
	// KeySize is the fixed width of a key in bytes
	KeySize = 16
	// ValueSize is the fixed width of a value in bytes
	ValueSize = 15
	// SlotSize is the serialized size of one key-value pair
	SlotSize = KeySize + ValueSize
	// BucketSize is the serialized size of a bucket: one token byte per slot followed by the slots
	BucketSize = Assoc + Assoc*SlotSize
)

var (
	ErrKeyTooLong   = errors.New("key exceeds fixed key size")
	ErrValueTooLong = errors.New("value exceeds fixed value size")
)

// Key is a fixed width, zero padded key. Keys compare by exact byte match.
type Key [KeySize]byte

// Value is a fixed width, zero padded value.
type Value [ValueSize]byte

// KeyFromString converts s into a Key. Shorter strings are zero padded.
func KeyFromString(s string) (Key, error) {
	var k Key
	if len(s) > KeySize {
		return k, fmt.Errorf("%w: %d > %d bytes", ErrKeyTooLong, len(s), KeySize)
	}
	copy(k[:], s)
	return k, nil
}

// ValueFromBytes converts b into a Value. Shorter slices are zero padded.
func ValueFromBytes(b []byte) (Value, error) {
	var v Value
	if len(b) > ValueSize {
		return v, fmt.Errorf("%w: %d > %d bytes", ErrValueTooLong, len(b), ValueSize)
	}
	copy(v[:], b)
	return v, nil
}

// MustKey is like KeyFromString but panics on error. Intended for tests and constants.
func MustKey(s string) Key {
	k, err := KeyFromString(s)
	if err != nil {
		panic(err)
	}
	return k
}

// MustValue is like ValueFromBytes but panics on error.
func MustValue(s string) Value {
	v, err := ValueFromBytes([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the key up to the first zero byte
func (k Key) String() string {
	return string(trimZero(k[:]))
}

// Bytes returns the value up to the first zero byte
func (v Value) Bytes() []byte {
	b := trimZero(v[:])
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (v Value) String() string {
	return string(trimZero(v[:]))
}

func trimZero(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
