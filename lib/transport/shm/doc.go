// Package shm is a transport backend for host and accelerator processes on
// the same machine. Every exported region is a file below /dev/shm (or the
// temporary directory if /dev/shm is unavailable) that both sides map with
// MAP_SHARED. The descriptor carries the region size and the file path.
package shm
