package testing

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/levelkv/lib/level"
	"github.com/ValentinKolb/levelkv/lib/store"
)

// StoreFactory is a function that creates a new, empty instance of a store
type StoreFactory func() store.IStore

// RunStoreTests runs a comprehensive test suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("UnsupportedOperations", func(t *testing.T) {
			testUnsupportedOperations(t, factory())
		})

		t.Run("ManyKeys", func(t *testing.T) {
			testManyKeys(t, factory())
		})

		t.Run("ConcurrentAccess", func(t *testing.T) {
			testConcurrentAccess(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the store supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, s store.IStore, feature store.Feature) {
	if !s.SupportsFeature(feature) {
		t.Skip()
	}
}

func expectCode(t *testing.T, err error, code store.RetCode, op string) {
	t.Helper()
	if got := store.CodeOf(err); got != code {
		t.Errorf("%s: expected code %s, got %s (%v)", op, code, got, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, s store.IStore) {
	defer s.Close()

	requireFeature(t, s, store.FeatureSet)
	requireFeature(t, s, store.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	if err := s.Set(testKey, testValue1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, exists, err := s.Get(testKey)
	if err != nil || !exists {
		t.Errorf("Expected key %s to exist after Set (err=%v)", testKey, err)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	if err := s.Set(testKey, testValue2); err != nil {
		t.Fatalf("Set of existing key failed: %v", err)
	}

	result, exists, _ = s.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after overwrite", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, exists, err = s.Get("nonexistent-key")
	if err != nil || exists {
		t.Errorf("Expected nonexistent key to return exists=false, err=nil (got %t, %v)", exists, err)
	}

	retrieved, _, _ := s.Get(testKey)
	retrieved[0] = 'X'
	original, _, _ := s.Get(testKey)
	if bytes.Equal(retrieved, original) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testUpdate(t *testing.T, s store.IStore) {
	defer s.Close()

	requireFeature(t, s, store.FeatureSet)
	requireFeature(t, s, store.FeatureUpdate)
	requireFeature(t, s, store.FeatureGet)

	updated, err := s.Update("missing", []byte("value"))
	if err != nil || updated {
		t.Errorf("Expected Update of a missing key to return false, nil (got %t, %v)", updated, err)
	}
	if _, exists, _ := s.Get("missing"); exists {
		t.Errorf("Update must not create a missing key")
	}

	s.Set("present", []byte("old"))
	updated, err = s.Update("present", []byte("new"))
	if err != nil || !updated {
		t.Errorf("Expected Update of an existing key to return true, nil (got %t, %v)", updated, err)
	}
	result, _, _ := s.Get("present")
	if !bytes.Equal(result, []byte("new")) {
		t.Errorf("Expected value new after Update, got %s", result)
	}

	// same value again still reports the key as present
	updated, err = s.Update("present", []byte("new"))
	if err != nil || !updated {
		t.Errorf("Expected Update with an unchanged value to return true, nil (got %t, %v)", updated, err)
	}
}

func testDelete(t *testing.T, s store.IStore) {
	defer s.Close()

	requireFeature(t, s, store.FeatureSet)
	requireFeature(t, s, store.FeatureDelete)
	requireFeature(t, s, store.FeatureGet)

	testKey := "delete-key"
	s.Set(testKey, []byte("delete-value"))

	deleted, err := s.Delete(testKey)
	if err != nil || !deleted {
		t.Errorf("Expected Delete to return true, nil (got %t, %v)", deleted, err)
	}
	if _, exists, _ := s.Get(testKey); exists {
		t.Errorf("Expected key %s to not exist after Delete", testKey)
	}

	deleted, err = s.Delete(testKey)
	if err != nil || deleted {
		t.Errorf("Expected second Delete to return false, nil (got %t, %v)", deleted, err)
	}

	deleted, err = s.Delete("nonexistent-key")
	if err != nil || deleted {
		t.Errorf("Expected Delete of a nonexistent key to return false, nil (got %t, %v)", deleted, err)
	}

	// the freed slot can be used again
	if err := s.Set(testKey, []byte("again")); err != nil {
		t.Errorf("Set after Delete failed: %v", err)
	}
	if result, _, _ := s.Get(testKey); !bytes.Equal(result, []byte("again")) {
		t.Errorf("Expected value again, got %s", result)
	}
}

func testHas(t *testing.T, s store.IStore) {
	defer s.Close()

	requireFeature(t, s, store.FeatureHas)

	if exists, err := s.Has("nonexistent-key"); err != nil || exists {
		t.Errorf("Expected Has to return false for a nonexistent key (got %t, %v)", exists, err)
	}

	if !s.SupportsFeature(store.FeatureSet) {
		return
	}
	s.Set("has-key", []byte("has-value"))
	if exists, err := s.Has("has-key"); err != nil || !exists {
		t.Errorf("Expected Has to return true after Set (got %t, %v)", exists, err)
	}

	if !s.SupportsFeature(store.FeatureDelete) {
		return
	}
	s.Delete("has-key")
	if exists, _ := s.Has("has-key"); exists {
		t.Errorf("Expected Has to return false after Delete")
	}
}

func testEdgeCases(t *testing.T, s store.IStore) {
	defer s.Close()

	requireFeature(t, s, store.FeatureGet)

	longKey := strings.Repeat("k", level.KeySize+1)
	_, _, err := s.Get(longKey)
	expectCode(t, err, store.RetCInvalidOperation, "Get with a long key")

	if !s.SupportsFeature(store.FeatureSet) {
		return
	}

	err = s.Set(longKey, []byte("v"))
	expectCode(t, err, store.RetCInvalidOperation, "Set with a long key")

	err = s.Set("key", bytes.Repeat([]byte("v"), level.ValueSize+1))
	expectCode(t, err, store.RetCInvalidOperation, "Set with a long value")

	// maximum sizes fit
	maxKey := strings.Repeat("m", level.KeySize)
	maxValue := bytes.Repeat([]byte("x"), level.ValueSize)
	if err := s.Set(maxKey, maxValue); err != nil {
		t.Errorf("Set with maximum key and value size failed: %v", err)
	}
	if result, exists, _ := s.Get(maxKey); !exists || !bytes.Equal(result, maxValue) {
		t.Errorf("Expected %s for the maximum size key, got %s (exists=%t)", maxValue, result, exists)
	}

	// an empty value is a present key
	if err := s.Set("empty", nil); err != nil {
		t.Errorf("Set with an empty value failed: %v", err)
	}
	if result, exists, _ := s.Get("empty"); !exists || len(result) != 0 {
		t.Errorf("Expected an existing empty value, got %q (exists=%t)", result, exists)
	}

	// keys that share a prefix are distinct
	s.Set("prefix", []byte("short"))
	s.Set("prefix-long", []byte("long"))
	if result, _, _ := s.Get("prefix"); !bytes.Equal(result, []byte("short")) {
		t.Errorf("Expected short, got %s", result)
	}
}

func testUnsupportedOperations(t *testing.T, s store.IStore) {
	defer s.Close()

	if !s.SupportsFeature(store.FeatureSet) {
		expectCode(t, s.Set("key", []byte("value")), store.RetCUnsupportedOperation, "Set")
	}
	if !s.SupportsFeature(store.FeatureUpdate) {
		_, err := s.Update("key", []byte("value"))
		expectCode(t, err, store.RetCUnsupportedOperation, "Update")
	}
	if !s.SupportsFeature(store.FeatureDelete) {
		_, err := s.Delete("key")
		expectCode(t, err, store.RetCUnsupportedOperation, "Delete")
	}
}

func testManyKeys(t *testing.T, s store.IStore) {
	defer s.Close()

	requireFeature(t, s, store.FeatureSet)
	requireFeature(t, s, store.FeatureGet)

	numKeys := 300
	for i := 0; i < numKeys; i++ {
		if err := s.Set(fmt.Sprintf("many-%d", i), []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("Set of key %d failed: %v", i, err)
		}
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("many-%d", i)
		result, exists, err := s.Get(key)
		if err != nil || !exists {
			t.Errorf("Expected key %s to exist (err=%v)", key, err)
			continue
		}
		if expected := fmt.Sprintf("value-%d", i); string(result) != expected {
			t.Errorf("Expected value %s for key %s, got %s", expected, key, result)
		}
	}
}

func testConcurrentAccess(t *testing.T, s store.IStore) {
	defer s.Close()

	requireFeature(t, s, store.FeatureSet)
	requireFeature(t, s, store.FeatureGet)
	requireFeature(t, s, store.FeatureDelete)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				value := []byte(fmt.Sprintf("w%d-v%d", w, i))
				if err := s.Set(key, value); err != nil {
					errs <- err
					continue
				}
				result, exists, err := s.Get(key)
				if err != nil || !exists || !bytes.Equal(result, value) {
					errs <- fmt.Errorf("read back of %s: %q, %t, %v", key, result, exists, err)
				}
				if i%5 == 0 {
					if deleted, err := s.Delete(key); err != nil || !deleted {
						errs <- fmt.Errorf("delete of %s: %t, %v", key, deleted, err)
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			_, exists, _ := s.Get(fmt.Sprintf("w%d-k%d", w, i))
			if exists == (i%5 == 0) {
				t.Errorf("Unexpected presence %t of w%d-k%d", exists, w, i)
			}
		}
	}
}
