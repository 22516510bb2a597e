package mem

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/levelkv/lib/transport"
)

func TestExportImport(t *testing.T) {
	b := NewBackend()
	region, err := b.Export(256)
	if err != nil {
		t.Fatal(err)
	}
	defer region.Close()

	m, err := b.Import(region.Descriptor())
	if err != nil {
		t.Fatal(err)
	}
	if m.Size() != 256 {
		t.Errorf("Size = %d, want 256", m.Size())
	}

	if err := m.WriteAt([]byte("hello"), 10); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 5)
	if err := region.ReadAt(got, 10); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("host sees %q, want hello", got)
	}

	if err := m.WriteAt(make([]byte, 10), 250); !errors.Is(err, transport.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}

	m.Close()
	if err := m.ReadAt(got, 0); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("detached mapping should fail with ErrClosed, got %v", err)
	}
	if err := region.ReadAt(got, 0); err != nil {
		t.Errorf("closing the mapping must not free the region: %v", err)
	}
}

func TestImportErrors(t *testing.T) {
	b := NewBackend()
	region, _ := b.Export(128)
	desc := region.Descriptor()
	region.Close()

	if _, err := b.Import(desc); !errors.Is(err, transport.ErrBadDescriptor) {
		t.Errorf("import of freed region: expected ErrBadDescriptor, got %v", err)
	}
	if _, err := b.Import(transport.Descriptor{Data: []byte{1, 2, 3}}); !errors.Is(err, transport.ErrBadDescriptor) {
		t.Errorf("short descriptor: expected ErrBadDescriptor, got %v", err)
	}
}

func TestMappingObservesRegionClose(t *testing.T) {
	b := NewBackend()
	region, _ := b.Export(128)
	m, err := b.Import(region.Descriptor())
	if err != nil {
		t.Fatal(err)
	}
	region.Close()
	if err := m.WriteAt([]byte{1}, 0); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("expected ErrClosed after the host freed the region, got %v", err)
	}
}

func TestSizeStableAcrossClose(t *testing.T) {
	b := NewBackend()
	region, _ := b.Export(512)
	desc := region.Descriptor()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if region.Size() != 512 {
				t.Errorf("Size changed to %d", region.Size())
				return
			}
			region.Descriptor()
		}
	}()
	go func() {
		defer wg.Done()
		region.Close()
	}()
	wg.Wait()

	if region.Size() != 512 {
		t.Errorf("Size after Close = %d, want 512", region.Size())
	}
	if got := region.Descriptor(); !bytes.Equal(got.Data, desc.Data) {
		t.Errorf("descriptor changed after Close: %x != %x", got.Data, desc.Data)
	}
}
