// Package cache implements the accelerator side bucket cache: a fixed pool of
// frames holding copies of remote buckets, the bucket <-> frame index, dirty
// tracking, LRU replacement and the asynchronous fetch and flush of buckets
// through the remote memory transport.
//
// A BucketCache is owned by exactly one goroutine (the request processor).
// Only the transport workers run concurrently, and they touch nothing but the
// byte ranges of the local buffer they were asked to copy.
package cache
