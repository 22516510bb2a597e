package cache

import (
	"fmt"

	"github.com/hashicorp/golang-lru/simplelru"
)

// --------------------------------------------------------------------------
// LRU Replacer
// --------------------------------------------------------------------------

// Replacer tracks the recency of cache frames and selects eviction victims.
// All operations are O(1).
//
// Thread-safety: not thread-safe, owned by the request processor.
type Replacer struct {
	lru *simplelru.LRU
}

// NewReplacer creates a replacer able to track up to size frames
func NewReplacer(size int) (*Replacer, error) {
	lru, err := simplelru.NewLRU(size, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create replacer: %w", err)
	}
	return &Replacer{lru: lru}, nil
}

// RecordAccess marks frame as most recently used, tracking it if it is new
func (r *Replacer) RecordAccess(frame int) {
	if r.lru.Contains(frame) {
		r.lru.Get(frame)
		return
	}
	r.lru.Add(frame, struct{}{})
}

// Evict removes and returns the least recently used frame.
// The boolean is false if no frame is tracked.
func (r *Replacer) Evict() (int, bool) {
	key, _, ok := r.lru.RemoveOldest()
	if !ok {
		return -1, false
	}
	return key.(int), true
}

// Remove stops tracking frame
func (r *Replacer) Remove(frame int) {
	r.lru.Remove(frame)
}

// Len returns the number of tracked frames
func (r *Replacer) Len() int {
	return r.lru.Len()
}
