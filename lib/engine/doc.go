/*
Package engine implements the accelerator of levelkv: a single request
processor executing Search, Insert, Update and Delete against a level-hashed
table whose buckets live in host memory, and the expansion coordinator that
doubles the table while it is live.

# Architecture

	client goroutines ──► request queue (FIFO) ──► processor goroutine
	                                                   │
	                                 BucketCache ◄─────┤ candidates, placement
	                                      │            │
	                         transport partitions      └─► control channel (expand protocol)
	                                      │
	                                 host memory

The processor owns the bucket cache exclusively. Every public method enqueues
a request and waits for its reply, so requests complete in submission order.
An expansion runs as a request of its own: requests submitted while it runs
wait in the queue and see the doubled table.

# Expansion

	Normal ──► Negotiating ──► Rehashing ──► Normal
	  flush all     import P        split the bottom level
	  send Expand   descriptors     into the new top level,
	                                flush, ExpandFinish, wait for echo

If a relocated entry finds both of its new candidates full, the new level is
dropped, ExpandAbort is sent and the table stays at its old level.

# Usage

	e, err := engine.Open(ctx, engine.DefaultConfig(), channel, mem.NewBackend())
	if err != nil {
		return err
	}
	defer e.Close()

	ok, err := e.Insert(level.MustKey("hello"), level.MustValue("world"))
	value, found, err := e.Search(level.MustKey("hello"))
*/
package engine
