package host

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/levelkv/lib/comch"
	"github.com/ValentinKolb/levelkv/lib/level"
	"github.com/ValentinKolb/levelkv/lib/transport"
	"github.com/ValentinKolb/levelkv/lib/transport/mem"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// accel plays the accelerator end of the control channel
type accel struct {
	ch   comch.Channel
	msgs chan comch.Message
}

func newAccel(ch comch.Channel) *accel {
	a := &accel{ch: ch, msgs: make(chan comch.Message, 64)}
	ch.Receive(func(msg comch.Message) { a.msgs <- msg })
	return a
}

func (a *accel) next(t *testing.T) comch.Message {
	t.Helper()
	select {
	case msg := <-a.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message from host")
		return nil
	}
}

func (a *accel) silent(t *testing.T) {
	t.Helper()
	select {
	case msg := <-a.msgs:
		t.Fatalf("unexpected message %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func (a *accel) descriptors(t *testing.T, n int) []comch.ExportDescriptor {
	t.Helper()
	out := make([]comch.ExportDescriptor, n)
	for i := range out {
		d, ok := a.next(t).(comch.ExportDescriptor)
		require.True(t, ok, "message %d is not a descriptor", i)
		out[i] = d
	}
	return out
}

type fixture struct {
	host    *Host
	accel   *accel
	backend transport.Backend
	metrics *vm.Set
	served  chan error
}

func startHost(t *testing.T) *fixture {
	t.Helper()
	backend := mem.NewBackend()
	metrics := vm.NewSet()
	h, err := New(Config{Level: 3, Partitions: 2, Hasher: "fnv", Seeds: level.Seeds{First: 1, Second: 2}}, backend, metrics)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	codec, err := comch.NewCodec("binary")
	require.NoError(t, err)
	hostEnd, accelEnd := comch.NewPipe(codec)
	f := &fixture{host: h, accel: newAccel(accelEnd), backend: backend, metrics: metrics, served: make(chan error, 1)}
	go func() { f.served <- h.Serve(context.Background(), hostEnd) }()
	return f
}

func (f *fixture) handshake(t *testing.T) []comch.ExportDescriptor {
	t.Helper()
	seeds, ok := f.accel.next(t).(comch.ExportSeeds)
	require.True(t, ok)
	assert.Equal(t, comch.ExportSeeds{Seed1: 1, Seed2: 2}, seeds)
	return f.accel.descriptors(t, 4)
}

func (f *fixture) exit(t *testing.T) {
	t.Helper()
	require.NoError(t, f.accel.ch.Send(comch.Control{Signal: comch.SignalExit}))
	select {
	case err := <-f.served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after exit")
	}
}

func (f *fixture) importDesc(t *testing.T, d comch.ExportDescriptor) transport.Memory {
	t.Helper()
	m, err := f.backend.Import(transport.Descriptor{HostAddr: d.HostAddr, Data: d.Descriptor})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{Level: 2, Partitions: 2}, mem.NewBackend(), nil)
	assert.ErrorIs(t, err, level.ErrInvalidLayout)
	_, err = New(Config{Level: 3, Partitions: 8}, mem.NewBackend(), nil)
	assert.ErrorIs(t, err, level.ErrInvalidLayout)
	_, err = New(Config{Level: 3, Partitions: 2, Hasher: "md5"}, mem.NewBackend(), nil)
	assert.Error(t, err)
}

func TestHandshakeSendsSeedsAndBothLevels(t *testing.T) {
	f := startHost(t)
	descs := f.handshake(t)

	// bottom level first: 2 buckets per partition, then top level: 4 buckets per partition
	for i, want := range []uint64{256, 256, 512, 512} {
		assert.Equal(t, want, f.importDesc(t, descs[i]).Size(), "descriptor %d", i)
	}
	f.exit(t)
}

func TestLookupReadsHostMemory(t *testing.T) {
	f := startHost(t)
	descs := f.handshake(t)

	key, value := level.MustKey("answer"), level.MustValue("42")
	_, found, err := f.host.Lookup(key)
	require.NoError(t, err)
	assert.False(t, found)

	// place the entry into its first bottom candidate
	layout := f.host.Layout()
	h1, h2 := level.FNVHasher{Seeds: f.host.Seeds()}.Hash(key)
	id := layout.Candidates(h1, h2).BottomPair()[0]
	loc := layout.Locate(id, 2)
	require.Equal(t, level.RegionBottom, loc.Region)

	var b level.Bucket
	require.True(t, b.Insert(key, value))
	buf, err := b.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, f.importDesc(t, descs[loc.Partition]).WriteAt(buf, loc.Offset))

	got, found, err := f.host.Lookup(key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, value, got)

	n := 0
	require.NoError(t, f.host.Scan(func(k level.Key, v level.Value) {
		n++
		assert.Equal(t, key, k)
	}))
	assert.Equal(t, 1, n)
	f.exit(t)
}

func TestExpandFinishSwitchesLevels(t *testing.T) {
	f := startHost(t)
	initial := f.handshake(t)
	top := f.importDesc(t, initial[2])

	// mark the first bucket of the old top level
	marker := bytes.Repeat([]byte{0xEE}, level.BucketSize)
	require.NoError(t, top.WriteAt(marker, 0))

	require.NoError(t, f.accel.ch.Send(comch.Control{Signal: comch.SignalExpand}))
	descs := f.accel.descriptors(t, 2)
	for _, d := range descs {
		assert.Equal(t, uint64(8*level.BucketSize), f.importDesc(t, d).Size())
	}
	assert.True(t, f.host.Expanding())

	require.NoError(t, f.accel.ch.Send(comch.Control{Signal: comch.SignalExpandFinish}))
	assert.Equal(t, comch.Control{Signal: comch.SignalExpandFinish}, f.accel.next(t))

	layout := f.host.Layout()
	assert.Equal(t, uint64(4), layout.Level)
	assert.Equal(t, uint64(16), layout.AddrCapacity)
	assert.False(t, f.host.Expanding())

	// the old top level now serves the bottom level
	f.host.mu.RLock()
	got := make([]byte, level.BucketSize)
	require.NoError(t, f.host.levels[level.RegionBottom][0].ReadAt(got, 0))
	f.host.mu.RUnlock()
	assert.Equal(t, marker, got)

	var out bytes.Buffer
	f.metrics.WritePrometheus(&out)
	assert.Contains(t, out.String(), "levelkv_host_expansions_total 1")
	f.exit(t)
}

func TestExpandAbortReleasesRegion(t *testing.T) {
	f := startHost(t)
	f.handshake(t)

	require.NoError(t, f.accel.ch.Send(comch.Control{Signal: comch.SignalExpand}))
	descs := f.accel.descriptors(t, 2)
	require.NoError(t, f.accel.ch.Send(comch.Control{Signal: comch.SignalExpandAbort}))
	assert.Equal(t, comch.Control{Signal: comch.SignalExpandAbort}, f.accel.next(t))

	assert.Equal(t, uint64(3), f.host.Layout().Level)
	assert.False(t, f.host.Expanding())
	for _, d := range descs {
		_, err := f.backend.Import(transport.Descriptor{HostAddr: d.HostAddr, Data: d.Descriptor})
		assert.Error(t, err, "released region must not be importable")
	}
	f.exit(t)
}

func TestProtocolErrorsAreIgnored(t *testing.T) {
	f := startHost(t)
	f.handshake(t)

	// finish without a pending expansion is not acknowledged
	require.NoError(t, f.accel.ch.Send(comch.Control{Signal: comch.SignalExpandFinish}))
	require.NoError(t, f.accel.ch.Send(comch.ExportSeeds{Seed1: 3, Seed2: 4}))
	f.accel.silent(t)
	assert.Equal(t, uint64(3), f.host.Layout().Level)

	// the host still serves
	require.NoError(t, f.accel.ch.Send(comch.Control{Signal: comch.SignalExpand}))
	f.accel.descriptors(t, 2)
	f.exit(t)
}

func TestClosedHostRejectsLookups(t *testing.T) {
	h, err := New(Config{Level: 3, Partitions: 1}, mem.NewBackend(), nil)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, _, err = h.Lookup(level.MustKey("k"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSessionEndAbortsPendingExpansion(t *testing.T) {
	f := startHost(t)
	f.handshake(t)

	require.NoError(t, f.accel.ch.Send(comch.Control{Signal: comch.SignalExpand}))
	f.accel.descriptors(t, 2)
	f.exit(t)

	assert.False(t, f.host.Expanding())
	assert.Equal(t, uint64(3), f.host.Layout().Level)
	var out bytes.Buffer
	f.metrics.WritePrometheus(&out)
	assert.Contains(t, out.String(), "levelkv_host_expansion_aborts_total 1")

	// the next accelerator gets the same table
	codec, err := comch.NewCodec("binary")
	require.NoError(t, err)
	hostEnd, accelEnd := comch.NewPipe(codec)
	f.accel = newAccel(accelEnd)
	go func() { f.served <- f.host.Serve(context.Background(), hostEnd) }()
	f.handshake(t)
	f.exit(t)
}

func TestAcceleratorHangUpAbortsPendingExpansion(t *testing.T) {
	f := startHost(t)
	f.handshake(t)

	require.NoError(t, f.accel.ch.Send(comch.Control{Signal: comch.SignalExpand}))
	f.accel.descriptors(t, 2)
	require.True(t, f.host.Expanding())

	// the accelerator goes away without saying exit
	require.NoError(t, f.accel.ch.Close())
	select {
	case err := <-f.served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the accelerator hung up")
	}

	assert.False(t, f.host.Expanding())
	assert.Equal(t, uint64(3), f.host.Layout().Level)
}
