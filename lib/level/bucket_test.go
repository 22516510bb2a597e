package level

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBucketSize(t *testing.T) {
	if BucketSize != 128 {
		t.Fatalf("BucketSize = %d, want 128", BucketSize)
	}
}

func TestBucketInsertUntilFull(t *testing.T) {
	var b Bucket
	for i := 0; i < Assoc; i++ {
		if !b.Insert(MustKey(string(rune('a'+i))), MustValue("v")) {
			t.Fatalf("insert %d failed on non-full bucket", i)
		}
		if b.Count() != i+1 {
			t.Errorf("Count = %d, want %d", b.Count(), i+1)
		}
	}
	if !b.Full() {
		t.Error("bucket should be full")
	}
	if b.Insert(MustKey("z"), MustValue("v")) {
		t.Error("insert into full bucket should fail")
	}
}

func TestBucketSlotOperations(t *testing.T) {
	var b Bucket
	k := MustKey("key")
	b.Insert(MustKey("other"), MustValue("x"))
	b.Insert(k, MustValue("one"))

	tests := []struct {
		name        string
		value       Value
		wantFound   bool
		wantChanged bool
	}{
		{name: "same value", value: MustValue("one"), wantFound: true, wantChanged: false},
		{name: "new value", value: MustValue("two"), wantFound: true, wantChanged: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, changed := b.Update(k, tt.value)
			if found != tt.wantFound || changed != tt.wantChanged {
				t.Errorf("Update = (%t, %t), want (%t, %t)", found, changed, tt.wantFound, tt.wantChanged)
			}
		})
	}

	if v, ok := b.Get(k); !ok || v.String() != "two" {
		t.Errorf("Get = (%q, %t), want (two, true)", v.String(), ok)
	}
	if found, _ := b.Update(MustKey("missing"), MustValue("x")); found {
		t.Error("update of missing key should report not found")
	}

	if !b.Delete(k) {
		t.Error("first delete should succeed")
	}
	if b.Delete(k) {
		t.Error("second delete should report false")
	}
	if b.Count() != 1 {
		t.Errorf("Count = %d, want 1", b.Count())
	}

	// freed slot is reused by the next insert
	b.Insert(MustKey("new"), MustValue("n"))
	if i, _ := b.Search(MustKey("new")); i != 1 {
		t.Errorf("insert should reuse slot 1, used %d", i)
	}
}

func TestBucketMarshalLayout(t *testing.T) {
	var b Bucket
	b.Insert(MustKey("k1"), MustValue("v1"))
	b.Insert(MustKey("k2"), MustValue("v2"))
	b.Delete(MustKey("k1"))

	buf, err := b.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != BucketSize {
		t.Fatalf("len = %d, want %d", len(buf), BucketSize)
	}
	// token array first, then the slots
	if buf[0] != 0 || buf[1] != 1 {
		t.Errorf("tokens = %v, want [0 1 ...]", buf[:Assoc])
	}
	if string(buf[Assoc+SlotSize:Assoc+SlotSize+2]) != "k2" {
		t.Errorf("slot 1 key not at expected offset")
	}

	var decoded Bucket
	if err := decoded.UnmarshalBinary(buf); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b, decoded); diff != "" {
		t.Errorf("decoded bucket differs (-want +got):\n%s", diff)
	}

	if err := decoded.UnmarshalFrom(buf[:BucketSize-1]); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestKeyConversion(t *testing.T) {
	if _, err := KeyFromString("0123456789abcdef"); err != nil {
		t.Errorf("16 byte key should be accepted: %v", err)
	}
	if _, err := KeyFromString("0123456789abcdefg"); err == nil {
		t.Error("17 byte key should be rejected")
	}
	if _, err := ValueFromBytes(make([]byte, ValueSize+1)); err == nil {
		t.Error("oversized value should be rejected")
	}
	if got := MustKey("abc").String(); got != "abc" {
		t.Errorf("String = %q, want abc", got)
	}
	if got := string(MustValue("xyz").Bytes()); got != "xyz" {
		t.Errorf("Bytes = %q, want xyz", got)
	}
}
