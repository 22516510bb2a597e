package cache

import "testing"

func TestReplacerEvictOrder(t *testing.T) {
	r, err := NewReplacer(4)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Evict(); ok {
		t.Fatal("evict on empty replacer should report none")
	}

	for _, f := range []int{0, 1, 2, 3} {
		r.RecordAccess(f)
	}
	// touch 0 again, 1 becomes the oldest
	r.RecordAccess(0)

	for _, want := range []int{1, 2, 3, 0} {
		got, ok := r.Evict()
		if !ok || got != want {
			t.Fatalf("Evict = (%d, %t), want (%d, true)", got, ok, want)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestReplacerRemove(t *testing.T) {
	r, _ := NewReplacer(3)
	r.RecordAccess(5)
	r.RecordAccess(6)
	r.Remove(5)
	r.Remove(42) // untracked frames are ignored

	got, ok := r.Evict()
	if !ok || got != 6 {
		t.Fatalf("Evict = (%d, %t), want (6, true)", got, ok)
	}
	if _, ok := r.Evict(); ok {
		t.Error("replacer should be empty")
	}
}

func TestReplacerInvalidSize(t *testing.T) {
	if _, err := NewReplacer(0); err == nil {
		t.Error("size 0 should be rejected")
	}
}
