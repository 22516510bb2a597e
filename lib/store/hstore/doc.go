// Package hstore implements a read-only store.IStore on the host side. Get and
// Has are static queries that read the exported host memory directly without
// involving the accelerator, so they only see data the accelerator has
// flushed. All write operations fail with store.RetCUnsupportedOperation.
package hstore
