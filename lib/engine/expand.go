package engine

import (
	"context"
	"time"

	"github.com/ValentinKolb/levelkv/lib/comch"
	"github.com/ValentinKolb/levelkv/lib/level"
)

// expand doubles the table. It runs on the processor goroutine, so no other
// request is processed until it returns.
func (e *Engine) expand() error {
	start := time.Now()
	old := e.cache.Layout()

	// the host must see every pending modification before buckets are split
	if err := e.flush(); err != nil {
		return err
	}

	parts, err := e.cache.BeginExpansion()
	if err != nil {
		return errorf(RetCTableFull, "cannot expand %s: %v", old, err)
	}
	next, _ := e.cache.Expanding()

	e.drainInbox()
	e.setState(StateNegotiating)
	defer e.setState(StateNormal)

	Logger.Infof("Expanding %s", old)
	if err := e.ch.Send(comch.Control{Signal: comch.SignalExpand}); err != nil {
		if abortErr := e.cache.AbortExpansion(); abortErr != nil {
			Logger.Warningf("Releasing new partitions: %v", abortErr)
		}
		return errorf(RetCProtocol, "failed to request expansion: %v", err)
	}

	// each round trip with the host gets its own timeout, the split in between is unbounded
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()

	for i, p := range parts {
		msg, err := e.receive(ctx)
		if err != nil {
			return e.abort(err)
		}
		m, ok := msg.(comch.ExportDescriptor)
		if !ok {
			e.protocolError("expected descriptor %d of %d, got %v", i+1, len(parts), msg)
			return e.abort(errorf(RetCProtocol, "expected descriptor, got %v", msg))
		}
		if err := e.importDescriptor(p, m, next, level.RegionTop); err != nil {
			return e.abort(err)
		}
	}

	e.setState(StateRehashing)
	moved, err := e.split(old, next)
	if err != nil {
		return e.abort(err)
	}
	if err := e.flush(); err != nil {
		return e.abort(err)
	}

	if err := e.ch.Send(comch.Control{Signal: comch.SignalExpandFinish}); err != nil {
		return e.abort(errorf(RetCProtocol, "failed to finish expansion: %v", err))
	}
	// the host handles messages in order, it has switched levels once it read ExpandFinish
	ackCtx, ackCancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer ackCancel()
	if err := e.awaitSignal(ackCtx, comch.SignalExpandFinish); err != nil {
		Logger.Warningf("Host did not acknowledge the expansion: %v", err)
	}
	if err := e.cache.CommitExpansion(); err != nil {
		Logger.Warningf("Releasing retired partitions: %v", err)
	}

	e.expansions.Inc()
	Logger.Infof("Expanded to %s in %s, relocated %d entries", e.cache.Layout(), time.Since(start), moved)
	return nil
}

// abort drops the level being built, asks the host to release it and returns cause
func (e *Engine) abort(cause error) error {
	e.aborts.Inc()
	Logger.Warningf("Aborting expansion: %v", cause)

	if err := e.cache.AbortExpansion(); err != nil {
		Logger.Warningf("Releasing new partitions: %v", err)
	}
	if err := e.ch.Send(comch.Control{Signal: comch.SignalExpandAbort}); err != nil {
		Logger.Warningf("Failed to send abort: %v", err)
		return cause
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()
	if err := e.awaitSignal(ctx, comch.SignalExpandAbort); err != nil {
		Logger.Warningf("Host did not acknowledge the abort: %v", err)
	}
	return cause
}

// awaitSignal waits for the echo of signal. Descriptors still in flight are dropped.
func (e *Engine) awaitSignal(ctx context.Context, signal comch.Signal) error {
	for {
		msg, err := e.receive(ctx)
		if err != nil {
			return err
		}
		if ctrl, ok := msg.(comch.Control); ok && ctrl.Signal == signal {
			return nil
		}
		e.protocolError("unexpected %v while waiting for %v", msg, signal)
	}
}

// split moves every entry of the current bottom level into its top pair of
// the expanded layout. Entries of the current top level stay in place: their
// bottom pair in the expanded layout is their current top pair.
func (e *Engine) split(old, next level.Layout) (int, error) {
	constructed := newBitset(next.AddrCapacity)
	moved := 0
	var entries []level.Slot

	for id := old.BottomStart(); id < old.TopStart(); id++ {
		frames, err := e.resolve(id)
		if err != nil {
			return moved, err
		}

		entries = entries[:0]
		e.cache.Bucket(frames[0]).Each(func(k level.Key, v level.Value) {
			entries = append(entries, level.Slot{Key: k, Value: v})
		})

		for _, s := range entries {
			h1, h2 := e.hasher.Hash(s.Key)
			pair := next.Candidates(h1, h2).TopPair()

			var target [2]int
			for i, nid := range pair {
				if target[i], err = e.materialize(nid, next, constructed); err != nil {
					return moved, err
				}
			}
			if !e.place(target, s.Key, s.Value) {
				return moved, errorf(RetCTableFull, "buckets %v of %s are full", pair, next)
			}
			moved++
		}
	}
	return moved, nil
}

// materialize makes a bucket of the new top level resident. The first touch
// creates it empty, later touches fetch it (it may have been evicted since).
func (e *Engine) materialize(id uint64, next level.Layout, constructed bitset) (int, error) {
	i := id - next.TopStart()
	if !constructed.get(i) {
		frame, err := e.cache.NewBucket(id)
		if err != nil {
			return -1, errorf(RetCTransport, "%v", err)
		}
		constructed.set(i)
		return frame, nil
	}
	frames, err := e.resolve(id)
	if err != nil {
		return -1, err
	}
	return frames[0], nil
}

type bitset []uint64

func newBitset(n uint64) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) get(i uint64) bool {
	return b[i/64]&(1<<(i%64)) != 0
}

func (b bitset) set(i uint64) {
	b[i/64] |= 1 << (i % 64)
}
