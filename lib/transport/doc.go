// Package transport implements the remote memory transport between the host,
// which owns the authoritative bucket table, and the accelerator, which keeps
// a small bucket cache.
//
// The host exports memory regions through a Backend and ships the resulting
// Descriptor to the accelerator over the control channel. The accelerator
// binds one Partition per exported region and moves fixed-size byte ranges
// between its local buffer and the remote region with ScheduleReadWrite.
//
// Every Partition owns one FIFO queue and one worker goroutine: requests on
// the same partition complete in submission order, requests on different
// partitions are unordered. Every scheduled request resolves its Future
// exactly once, also when the partition is closed while requests are queued.
//
// Backends:
//   - mem: regions are byte slices in the current process (tests, single binary)
//   - shm: regions are memory mapped files below /dev/shm (host and accelerator
//     in different processes on the same machine)
package transport
