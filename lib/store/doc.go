// Package store provides the string keyed interface (IStore) applications use
// to talk to levelkv, independent of whether requests go through the
// accelerator or read the host table directly.
//
// Implementations:
//
//   - lstore: read-write store backed by an accelerator engine.Engine
//   - hstore: read-only view on the host table (static queries on host memory)
//
// Keys are at most level.KeySize bytes and values at most level.ValueSize
// bytes. Both are zero padded on the wire, so a value must not end in zero
// bytes if it should be read back unchanged.
//
// The testing package (github.com/ValentinKolb/levelkv/lib/store/testing)
// holds a conformance suite every implementation runs.
package store
