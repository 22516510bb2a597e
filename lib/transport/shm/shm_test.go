//go:build unix

package shm

import (
	"bytes"
	"os"
	"testing"

	"github.com/ValentinKolb/levelkv/lib/transport"
)

func TestSegmentSharing(t *testing.T) {
	b := NewBackend(t.TempDir())

	region, err := b.Export(4096)
	if err != nil {
		t.Fatal(err)
	}
	desc := region.Descriptor()

	m, err := b.Import(desc)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.WriteAt([]byte("bucket"), 128); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 6)
	if err := region.ReadAt(got, 128); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("bucket")) {
		t.Errorf("exporter sees %q, want bucket", got)
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	_, path, _ := decodeDescriptor(desc)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("importer close must not remove the segment: %v", err)
	}

	if err := region.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("exporter close should remove %s", path)
	}
}

func TestImportSizeMismatch(t *testing.T) {
	b := NewBackend(t.TempDir())
	region, err := b.Export(256)
	if err != nil {
		t.Fatal(err)
	}
	defer region.Close()

	_, path, _ := decodeDescriptor(region.Descriptor())
	if _, err := b.Import(encodeDescriptor(0, path, 512)); err == nil {
		t.Error("expected size mismatch error")
	}
	if _, err := b.Import(transport.Descriptor{Data: []byte{0}}); err == nil {
		t.Error("expected error for short descriptor")
	}
}

func TestPartitionOverShm(t *testing.T) {
	b := NewBackend(t.TempDir())
	region, err := b.Export(1024)
	if err != nil {
		t.Fatal(err)
	}
	defer region.Close()

	local := []byte("0123456789abcdef")
	p := transport.NewPartition("shm-test", local, b, nil)
	defer p.Close()
	if err := p.Import(region.Descriptor()); err != nil {
		t.Fatal(err)
	}
	if !p.ScheduleReadWrite(true, 0, 1000, 16).Wait() {
		t.Fatal("write failed")
	}
	got := make([]byte, 16)
	region.ReadAt(got, 1000)
	if !bytes.Equal(got, local) {
		t.Errorf("got %q, want %q", got, local)
	}
}
