package engine

import (
	"github.com/ValentinKolb/levelkv/lib/cache"
	"github.com/ValentinKolb/levelkv/lib/comch"
	"github.com/ValentinKolb/levelkv/lib/level"
	"github.com/ValentinKolb/levelkv/lib/transport"
)

type opKind uint8

const (
	opSearch opKind = iota
	opInsert
	opUpdate
	opDelete
	opExpand
	opFlush
	opInfo
	opClose
)

// request is one queued operation. Exactly one of reply and callback is set.
type request struct {
	op       opKind
	key      level.Key
	value    level.Value
	callback func(value level.Value, found bool, err error)
	reply    *transport.Future[result]
}

type result struct {
	value level.Value
	found bool
	err   error
	info  Info
}

func (r *request) complete(res result) {
	if r.callback != nil {
		r.callback(res.value, res.found, res.err)
	}
	if r.reply != nil {
		r.reply.Resolve(res)
	}
}

// --------------------------------------------------------------------------
// Worker
// --------------------------------------------------------------------------

// run processes requests one at a time in submission order
func (e *Engine) run() {
	defer close(e.done)

	closed := false
	for {
		req, ok := e.queue.Pop()
		if !ok {
			return
		}
		switch {
		case closed:
			req.complete(result{err: ErrClosed})
		case req.op == opClose:
			req.complete(result{err: e.shutdown()})
			closed = true
		default:
			req.complete(e.process(req))
		}
	}
}

func (e *Engine) process(req *request) result {
	switch req.op {
	case opSearch:
		return e.search(req.key)
	case opInsert:
		return e.insert(req.key, req.value)
	case opUpdate:
		return e.update(req.key, req.value)
	case opDelete:
		return e.delete(req.key)
	case opExpand:
		return result{err: e.expand()}
	case opFlush:
		return result{err: e.flush()}
	case opInfo:
		return result{info: e.info()}
	default:
		Logger.Panicf("unknown request op %d", req.op)
		return result{}
	}
}

// shutdown stops accepting requests, flushes, tells the host to exit and releases all resources
func (e *Engine) shutdown() error {
	e.queue.Close()
	flushErr := e.flush()
	e.setState(StateClosed)

	if err := e.ch.Send(comch.Control{Signal: comch.SignalExit}); err != nil {
		Logger.Warningf("Failed to send exit to host: %v", err)
	}
	cacheErr := e.cache.Close()
	if err := e.ch.Close(); err != nil {
		Logger.Debugf("Closing control channel: %v", err)
	}
	Logger.Infof("Engine closed")

	if flushErr != nil {
		return flushErr
	}
	if cacheErr != nil {
		return errorf(RetCTransport, "closing partitions: %v", cacheErr)
	}
	return nil
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// resolve makes all buckets resident. Fetches are issued together and may complete in any order.
func (e *Engine) resolve(ids ...uint64) ([]int, error) {
	fetches := make([]*cache.Fetch, len(ids))
	for i, id := range ids {
		fetches[i] = e.cache.FetchBucket(id)
	}
	if err := e.cache.Await(fetches...); err != nil {
		return nil, errorf(RetCTransport, "%v", err)
	}
	frames := make([]int, len(ids))
	for i, f := range fetches {
		frames[i] = f.Frame
	}
	return frames, nil
}

// candidates resolves the four candidate buckets of key in the current layout
func (e *Engine) candidates(key level.Key) ([]int, error) {
	h1, h2 := e.hasher.Hash(key)
	c := e.cache.Layout().Candidates(h1, h2)
	return e.resolve(c[:]...)
}

func (e *Engine) search(key level.Key) result {
	frames, err := e.candidates(key)
	if err != nil {
		return result{err: err}
	}
	for _, f := range frames {
		if v, ok := e.cache.Bucket(f).Get(key); ok {
			return result{value: v, found: true}
		}
	}
	return result{}
}

func (e *Engine) delete(key level.Key) result {
	frames, err := e.candidates(key)
	if err != nil {
		return result{err: err}
	}
	for _, f := range frames {
		if e.cache.Bucket(f).Delete(key) {
			e.cache.MarkDirty(f)
			e.items.Add(-1)
			return result{found: true}
		}
	}
	return result{}
}

func (e *Engine) update(key level.Key, value level.Value) result {
	frames, err := e.candidates(key)
	if err != nil {
		return result{err: err}
	}
	for _, f := range frames {
		found, changed := e.cache.Bucket(f).Update(key, value)
		if !found {
			continue
		}
		if changed {
			e.cache.MarkDirty(f)
		}
		return result{found: true}
	}
	return result{}
}

func (e *Engine) insert(key level.Key, value level.Value) result {
	ok, err := e.tryInsert(key, value)
	if err != nil {
		return result{err: err}
	}

	if !ok {
		if !e.cfg.AutoExpand {
			return result{}
		}
		Logger.Infof("All candidates of %q are full, expanding", key)
		if err := e.expand(); err != nil {
			return result{err: err}
		}
		ok, err = e.tryInsert(key, value)
		return result{found: ok, err: err}
	}

	if e.cfg.AutoExpand && e.loadFactor() >= e.cfg.MaxLoadFactor {
		Logger.Infof("Load factor %.2f reached the maximum of %.2f, expanding", e.loadFactor(), e.cfg.MaxLoadFactor)
		if err := e.expand(); err != nil {
			Logger.Warningf("Load factor expansion failed: %v", err)
		}
	}
	return result{found: true}
}

// tryInsert overwrites key in place if present, otherwise places it into the
// less loaded bucket of the top pair, then of the bottom pair.
func (e *Engine) tryInsert(key level.Key, value level.Value) (bool, error) {
	frames, err := e.candidates(key)
	if err != nil {
		return false, err
	}

	for _, f := range frames {
		found, changed := e.cache.Bucket(f).Update(key, value)
		if !found {
			continue
		}
		if changed {
			e.cache.MarkDirty(f)
		}
		return true, nil
	}

	if e.place([2]int{frames[0], frames[1]}, key, value) || e.place([2]int{frames[2], frames[3]}, key, value) {
		e.items.Add(1)
		return true, nil
	}
	return false, nil
}

// place inserts into whichever of the two frames holds fewer entries, the
// first on a tie. It returns false if both are full.
func (e *Engine) place(pair [2]int, key level.Key, value level.Value) bool {
	b0, b1 := e.cache.Bucket(pair[0]), e.cache.Bucket(pair[1])
	c0, c1 := b0.Count(), b1.Count()

	frame, b := pair[0], b0
	switch {
	case c0 <= c1 && c0 < level.Assoc:
	case c1 < level.Assoc:
		frame, b = pair[1], b1
	default:
		return false
	}

	if !b.Insert(key, value) {
		Logger.Panicf("bucket in frame %d reported %d entries but has no free slot", frame, b.Count())
	}
	e.cache.MarkDirty(frame)
	return true
}

func (e *Engine) flush() error {
	if err := e.cache.FlushAll(); err != nil {
		return errorf(RetCTransport, "%v", err)
	}
	return nil
}

func (e *Engine) loadFactor() float64 {
	return float64(e.items.Load()) / float64(e.cache.Layout().TotalCapacity())
}
