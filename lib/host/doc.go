// Package host implements the host side of levelkv. The host owns the
// authoritative table: one exported memory region per transport partition and
// level. It serves the control protocol of a single accelerator (seeds and
// descriptors on connect, descriptor export, level switch and rollback during
// an expansion) and answers static lookups directly from its memory.
package host
