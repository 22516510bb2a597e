package transport_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/levelkv/lib/transport"
	"github.com/ValentinKolb/levelkv/lib/transport/mem"
	"github.com/rcrowley/go-metrics"
)

func waitFuture(t *testing.T, f *transport.Future[bool]) bool {
	t.Helper()
	select {
	case <-f.Done():
		return f.Wait()
	case <-time.After(2 * time.Second):
		t.Fatal("future did not resolve")
		return false
	}
}

func newImported(t *testing.T, local []byte, size uint64) (transport.Partition, transport.Region) {
	t.Helper()
	backend := mem.NewBackend()
	region, err := backend.Export(size)
	if err != nil {
		t.Fatal(err)
	}
	p := transport.NewPartition("test", local, backend, nil)
	if err := p.Import(region.Descriptor()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		p.Close()
		region.Close()
	})
	return p, region
}

func TestPartitionWriteThenReadIsOrdered(t *testing.T) {
	local := make([]byte, 256)
	copy(local[:128], bytes.Repeat([]byte{0xAB}, 128))
	p, region := newImported(t, local, 1024)
	if got := p.RemoteSize(); got != 1024 {
		t.Fatalf("RemoteSize = %d, want 1024", got)
	}

	// queue both requests before waiting: the read must observe the write
	w := p.ScheduleReadWrite(true, 0, 512, 128)
	r := p.ScheduleReadWrite(false, 128, 512, 128)

	if !waitFuture(t, w) || !waitFuture(t, r) {
		t.Fatal("transfers failed")
	}
	if !bytes.Equal(local[:128], local[128:]) {
		t.Error("read did not observe the preceding write")
	}

	remote := make([]byte, 128)
	if err := region.ReadAt(remote, 512); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(remote, local[:128]) {
		t.Error("remote region does not hold the written bytes")
	}
}

func TestPartitionFailures(t *testing.T) {
	local := make([]byte, 128)
	p, _ := newImported(t, local, 256)

	tests := []struct {
		name                string
		localOff, remoteOff uint64
		length              uint64
	}{
		{name: "remote out of range", localOff: 0, remoteOff: 200, length: 128},
		{name: "local out of range", localOff: 64, remoteOff: 0, length: 128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if waitFuture(t, p.ScheduleReadWrite(false, tt.localOff, tt.remoteOff, tt.length)) {
				t.Error("expected failure")
			}
		})
	}

	if got := p.Stats().Failures; got != 2 {
		t.Errorf("Failures = %d, want 2", got)
	}
}

func TestPartitionNotImported(t *testing.T) {
	p := transport.NewPartition("lonely", make([]byte, 128), mem.NewBackend(), nil)
	defer p.Close()

	if waitFuture(t, p.ScheduleReadWrite(false, 0, 0, 128)) {
		t.Error("request before import must fail")
	}
}

func TestPartitionDoubleImport(t *testing.T) {
	p, region := newImported(t, make([]byte, 128), 128)
	if err := p.Import(region.Descriptor()); !errors.Is(err, transport.ErrAlreadyImported) {
		t.Errorf("expected ErrAlreadyImported, got %v", err)
	}
}

func TestPartitionCloseResolvesEverything(t *testing.T) {
	backend := mem.NewBackend()
	region, _ := backend.Export(128 * 64)
	defer region.Close()

	registry := metrics.NewRegistry()
	local := make([]byte, 128)
	p := transport.NewPartition("closing", local, backend, registry)
	if err := p.Import(region.Descriptor()); err != nil {
		t.Fatal(err)
	}

	futures := make([]*transport.Future[bool], 0, 64)
	for i := 0; i < 64; i++ {
		futures = append(futures, p.ScheduleReadWrite(i%2 == 0, 0, uint64(i)*128, 128))
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	for i, f := range futures {
		select {
		case <-f.Done():
			if !f.Wait() {
				t.Errorf("request %d queued before close failed", i)
			}
		default:
			t.Fatalf("request %d unresolved after Close", i)
		}
	}

	if waitFuture(t, p.ScheduleReadWrite(false, 0, 0, 128)) {
		t.Error("request after close must fail")
	}
	if registry.Get("transport.closing.read") != nil {
		t.Error("metrics should be unregistered on close")
	}
}

func TestPartitionStats(t *testing.T) {
	local := make([]byte, 128)
	p, _ := newImported(t, local, 128)

	waitFuture(t, p.ScheduleReadWrite(true, 0, 0, 128))
	waitFuture(t, p.ScheduleReadWrite(false, 0, 0, 128))
	waitFuture(t, p.ScheduleReadWrite(false, 0, 0, 128))

	s := p.Stats()
	if s.Reads != 2 || s.Writes != 1 || s.Failures != 0 {
		t.Errorf("unexpected stats %s", s)
	}
}

func TestFutureWaitContext(t *testing.T) {
	f := transport.NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.WaitContext(ctx); err == nil {
		t.Error("expected context error")
	}

	f.Resolve(7)
	f.Resolve(8) // ignored
	if f.Wait() != 7 {
		t.Errorf("Wait = %d, want 7", f.Wait())
	}
	if transport.Resolved(true).Wait() != true {
		t.Error("Resolved future has wrong value")
	}
}
