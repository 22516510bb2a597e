package level

import "testing"

func TestHashers(t *testing.T) {
	seeds := Seeds{First: 11, Second: 42}
	other := Seeds{First: 12, Second: 42}
	key := MustKey("hash-me")

	for _, name := range HasherNames {
		t.Run(name, func(t *testing.T) {
			h, err := NewHasher(name, seeds)
			if err != nil {
				t.Fatal(err)
			}
			h1, h2 := h.Hash(key)
			if h1 == h2 {
				t.Error("h1 and h2 should differ")
			}
			if a, b := h.Hash(key); a != h1 || b != h2 {
				t.Error("hash is not deterministic")
			}
			o, _ := NewHasher(name, other)
			if a, _ := o.Hash(key); a == h1 {
				t.Error("seed does not influence h1")
			}
		})
	}

	if _, err := NewHasher("md5", seeds); err == nil {
		t.Error("unknown hasher should be rejected")
	}
}

func TestNewSeedsDistinct(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := NewSeeds()
		if s.First == s.Second {
			t.Fatal("seeds must differ")
		}
	}
}
