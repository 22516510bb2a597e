package comch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
)

const (
	headerSize   = 12
	maxFrameSize = 1 << 20
)

// --------------------------------------------------------------------------
// Framing
// --------------------------------------------------------------------------

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: sequence number (uint64, big endian)
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload
func writeFrame(conn net.Conn, seq uint64, payload []byte) error {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[:8], seq)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(payload)))

	b := net.Buffers{header, payload}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads one frame. The returned payload is freshly allocated.
func readFrame(r io.Reader, header []byte) (uint64, []byte, error) {
	if _, err := io.ReadFull(r, header[:headerSize]); err != nil {
		return 0, nil, err
	}
	seq := binary.BigEndian.Uint64(header[:8])
	n := binary.BigEndian.Uint32(header[8:12])
	if n > maxFrameSize {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", n, maxFrameSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return seq, payload, nil
}

// --------------------------------------------------------------------------
// Socket channel
// --------------------------------------------------------------------------

type socketChannel struct {
	*endpoint
	conn    net.Conn
	writeMu sync.Mutex
	nextSeq uint64
	reader  sync.WaitGroup
}

func newSocketChannel(conn net.Conn, codec ICodec, onClose func()) *socketChannel {
	c := &socketChannel{
		endpoint: newEndpoint(conn.LocalAddr().Network()+"/"+conn.RemoteAddr().String(), codec),
		conn:     conn,
	}
	c.write = c.writePayload
	c.release = func() error {
		err := c.conn.Close()
		c.reader.Wait()
		if onClose != nil {
			onClose()
		}
		return err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			Logger.Warningf("%s: failed to set TCP_NODELAY: %v", c.name, err)
		}
	}

	c.reader.Add(1)
	go c.readLoop()
	return c
}

func (c *socketChannel) writePayload(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.nextSeq++
	if err := writeFrame(c.conn, c.nextSeq, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// readLoop reads frames until the connection fails and hands them to the endpoint
func (c *socketChannel) readLoop() {
	defer c.reader.Done()
	defer c.shutdown()

	header := make([]byte, headerSize)
	var expected uint64 = 1
	for {
		seq, payload, err := readFrame(c.conn, header)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				Logger.Infof("%s: connection closed", c.name)
			} else {
				Logger.Errorf("%s: read failed: %v", c.name, err)
			}
			return
		}
		if seq != expected {
			Logger.Warningf("%s: frame sequence gap, expected %d got %d", c.name, expected, seq)
		}
		expected = seq + 1

		if !c.deliver(payload) {
			return
		}
	}
}

// Dial connects to a listening peer. network is "tcp" or "unix".
func Dial(ctx context.Context, network, address string, codec ICodec) (Channel, error) {
	if err := checkNetwork(network); err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	Logger.Infof("Connected control channel to %s via %s (codec %s)", address, network, codec.Name())
	return newSocketChannel(conn, codec, nil), nil
}

// --------------------------------------------------------------------------
// Listener
// --------------------------------------------------------------------------

// Listener accepts control channel connections. At most one connection is
// active at a time; connections arriving while one is active are rejected.
type Listener struct {
	listener net.Listener
	codec    ICodec
	active   atomic.Bool
}

// Listen creates a listener. For unix sockets a stale socket file is removed first.
func Listen(network, address string, codec ICodec) (*Listener, error) {
	if err := checkNetwork(network); err != nil {
		return nil, err
	}
	if network == "unix" {
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", address, err)
		}
	}
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	Logger.Infof("Control channel listening on %s via %s (codec %s)", l.Addr(), network, codec.Name())
	return &Listener{listener: l, codec: codec}, nil
}

// Addr returns the address the listener is bound to
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept waits for the peer to connect
func (l *Listener) Accept(ctx context.Context) (Channel, error) {
	type result struct {
		conn net.Conn
		err  error
	}

	for {
		ch := make(chan result, 1)
		go func() {
			conn, err := l.listener.Accept()
			ch <- result{conn, err}
		}()

		var res result
		select {
		case res = <-ch:
		case <-ctx.Done():
			// unblock the pending Accept
			l.listener.Close()
			return nil, ctx.Err()
		}
		if res.err != nil {
			return nil, res.err
		}

		if !l.active.CompareAndSwap(false, true) {
			Logger.Warningf("Rejecting control connection from %s: a peer is already connected", res.conn.RemoteAddr())
			res.conn.Close()
			continue
		}
		Logger.Infof("Accepted control connection from %s", res.conn.RemoteAddr())
		return newSocketChannel(res.conn, l.codec, func() { l.active.Store(false) }), nil
	}
}

// Close stops listening. Accepted channels stay open.
func (l *Listener) Close() error {
	return l.listener.Close()
}

func checkNetwork(network string) error {
	switch network {
	case "tcp", "unix":
		return nil
	default:
		return fmt.Errorf("unsupported control channel network %q (expected tcp or unix)", network)
	}
}
