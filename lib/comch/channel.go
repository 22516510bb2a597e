package comch

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/levelkv/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("comch")

var ErrClosed = errors.New("control channel closed")

// Handler is invoked for every received message
type Handler func(msg Message)

// Channel is one end of a control channel.
//
// Thread-safety: Send may be called concurrently. The handler passed to
// Receive is never invoked concurrently with itself.
type Channel interface {
	// Send encodes and transmits msg. It does not wait for the peer to process it.
	Send(msg Message) error
	// Receive registers the handler and starts delivery. Messages that arrived
	// before are buffered and delivered first. Only the first call has an effect.
	Receive(h Handler)
	// Close shuts the channel down. Buffered messages are still delivered.
	Close() error
	// Done is closed once the channel is closed locally or by the peer
	Done() <-chan struct{}
}

// --------------------------------------------------------------------------
// Shared endpoint logic
// --------------------------------------------------------------------------

// endpoint buffers received payloads and dispatches them to the handler.
// The medium specific parts are plugged in as functions.
type endpoint struct {
	name  string
	codec ICodec
	inbox *util.Queue[[]byte]

	write   func(payload []byte) error
	release func() error

	started atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func newEndpoint(name string, codec ICodec) *endpoint {
	return &endpoint{
		name:  name,
		codec: codec,
		inbox: util.NewQueue[[]byte](),
		done:  make(chan struct{}),
	}
}

func (e *endpoint) Send(msg Message) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	payload, err := e.codec.Encode(msg)
	if err != nil {
		return err
	}
	Logger.Debugf("%s: send %v", e.name, msg)
	return e.write(payload)
}

func (e *endpoint) Receive(h Handler) {
	if e.started.Swap(true) {
		Logger.Warningf("%s: handler already registered", e.name)
		return
	}
	go e.dispatch(h)
}

func (e *endpoint) Close() error {
	e.shutdown()
	if e.release != nil {
		return e.release()
	}
	return nil
}

func (e *endpoint) Done() <-chan struct{} {
	return e.done
}

// deliver queues a received payload for dispatching
func (e *endpoint) deliver(payload []byte) bool {
	return e.inbox.Push(payload)
}

// shutdown stops accepting messages. It is safe to call more than once.
func (e *endpoint) shutdown() {
	e.once.Do(func() {
		e.inbox.Close()
		close(e.done)
	})
}

func (e *endpoint) dispatch(h Handler) {
	for {
		payload, ok := e.inbox.Pop()
		if !ok {
			return
		}
		msg, err := e.codec.Decode(payload)
		if err != nil {
			Logger.Warningf("%s: dropping undecodable message: %v", e.name, err)
			continue
		}
		Logger.Debugf("%s: received %v", e.name, msg)
		h(msg)
	}
}

// --------------------------------------------------------------------------
// In-process pipe
// --------------------------------------------------------------------------

// NewPipe returns two connected channel ends. Payloads still pass through
// the codec so that both ends behave like a remote channel.
func NewPipe(codec ICodec) (Channel, Channel) {
	a := newEndpoint("pipe/a", codec)
	b := newEndpoint("pipe/b", codec)
	a.write = pipeWriter(b)
	b.write = pipeWriter(a)
	// closing one end hangs up the other, queued messages are still delivered
	a.release = func() error { b.shutdown(); return nil }
	b.release = func() error { a.shutdown(); return nil }
	return a, b
}

func pipeWriter(peer *endpoint) func([]byte) error {
	return func(payload []byte) error {
		if !peer.deliver(payload) {
			return ErrClosed
		}
		return nil
	}
}
