// Package lstore implements store.IStore on top of an accelerator engine.
// Every operation is forwarded to the engine's request queue, so the store is
// safe for concurrent use and operations complete in submission order.
//
// Engine errors are mapped to store return codes: a full table becomes
// RetCTableFull, transport, protocol and closed errors become RetCUnavailable.
//
// Usage Example:
//
//	e, err := engine.Open(ctx, cfg, channel, backend)
//	s := lstore.NewLocalStore(e)
//	defer s.Close()
//
//	err = s.Set("session:1", []byte("alice"))
//	value, exists, err := s.Get("session:1")
package lstore
