package level

import "fmt"

// Slot is one key-value pair of a bucket
type Slot struct {
	Key   Key
	Value Value
}

// Bucket is a fixed array of Assoc slots. Token[i] != 0 marks slot i as occupied.
//
// The serialized form (see MarshalTo) is exactly BucketSize bytes and is the
// unit moved by the remote memory transport.
type Bucket struct {
	Token [Assoc]uint8
	Slots [Assoc]Slot
}

// --------------------------------------------------------------------------
// Slot Operations
// --------------------------------------------------------------------------

// Search returns the index of the occupied slot holding key
func (b *Bucket) Search(key Key) (int, bool) {
	for i := 0; i < Assoc; i++ {
		if b.Token[i] != 0 && b.Slots[i].Key == key {
			return i, true
		}
	}
	return -1, false
}

// Get returns the value stored for key
func (b *Bucket) Get(key Key) (Value, bool) {
	if i, ok := b.Search(key); ok {
		return b.Slots[i].Value, true
	}
	return Value{}, false
}

// Insert stores the pair in the first free slot. It returns false if the bucket is full.
// Insert does not check for an existing entry with the same key.
func (b *Bucket) Insert(key Key, value Value) bool {
	for i := 0; i < Assoc; i++ {
		if b.Token[i] == 0 {
			b.Slots[i] = Slot{Key: key, Value: value}
			b.Token[i] = 1
			return true
		}
	}
	return false
}

// Delete frees the slot holding key
func (b *Bucket) Delete(key Key) bool {
	if i, ok := b.Search(key); ok {
		b.Token[i] = 0
		b.Slots[i] = Slot{}
		return true
	}
	return false
}

// Update overwrites the value for key. changed is false if the stored value
// was already equal to value.
func (b *Bucket) Update(key Key, value Value) (found, changed bool) {
	i, ok := b.Search(key)
	if !ok {
		return false, false
	}
	if b.Slots[i].Value == value {
		return true, false
	}
	b.Slots[i].Value = value
	return true, true
}

// Count returns the number of occupied slots
func (b *Bucket) Count() int {
	n := 0
	for _, t := range b.Token {
		if t != 0 {
			n++
		}
	}
	return n
}

// Full reports whether every slot is occupied
func (b *Bucket) Full() bool {
	return b.Count() == Assoc
}

// Each calls fn for every occupied slot
func (b *Bucket) Each(fn func(key Key, value Value)) {
	for i := 0; i < Assoc; i++ {
		if b.Token[i] != 0 {
			fn(b.Slots[i].Key, b.Slots[i].Value)
		}
	}
}

// Reset clears all slots
func (b *Bucket) Reset() {
	*b = Bucket{}
}

// --------------------------------------------------------------------------
// Serialization
// --------------------------------------------------------------------------

// MarshalTo writes the bucket into buf, which must hold at least BucketSize bytes
func (b *Bucket) MarshalTo(buf []byte) error {
	if len(buf) < BucketSize {
		return fmt.Errorf("buffer too short for bucket: %d < %d", len(buf), BucketSize)
	}
	copy(buf[:Assoc], b.Token[:])
	off := Assoc
	for i := 0; i < Assoc; i++ {
		copy(buf[off:off+KeySize], b.Slots[i].Key[:])
		off += KeySize
		copy(buf[off:off+ValueSize], b.Slots[i].Value[:])
		off += ValueSize
	}
	return nil
}

// UnmarshalFrom reads the bucket from buf, which must hold at least BucketSize bytes
func (b *Bucket) UnmarshalFrom(buf []byte) error {
	if len(buf) < BucketSize {
		return fmt.Errorf("data too short for bucket: %d < %d", len(buf), BucketSize)
	}
	copy(b.Token[:], buf[:Assoc])
	off := Assoc
	for i := 0; i < Assoc; i++ {
		copy(b.Slots[i].Key[:], buf[off:off+KeySize])
		off += KeySize
		copy(b.Slots[i].Value[:], buf[off:off+ValueSize])
		off += ValueSize
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler
func (b *Bucket) MarshalBinary() ([]byte, error) {
	buf := make([]byte, BucketSize)
	return buf, b.MarshalTo(buf)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (b *Bucket) UnmarshalBinary(data []byte) error {
	return b.UnmarshalFrom(data)
}
