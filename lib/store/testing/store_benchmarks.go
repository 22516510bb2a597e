package testing

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/levelkv/lib/store"
)

// KeySpace bounds the number of distinct keys a benchmark touches, so the
// table does not grow with b.N
const KeySpace = 20_000

// Benchmark is one named store benchmark
type Benchmark struct {
	Name string
	Run  func(b *testing.B, s store.IStore)
}

// Benchmarks lists all store benchmarks in the order RunStoreBenchmarks runs them
var Benchmarks = []Benchmark{
	{Name: "Set", Run: benchmarkSet},
	{Name: "SetExisting", Run: benchmarkSetExisting},
	{Name: "Get", Run: benchmarkGet},
	{Name: "Update", Run: benchmarkUpdate},
	{Name: "Delete", Run: benchmarkDelete},
	{Name: "Has", Run: benchmarkHas},
	{Name: "Has(not)", Run: benchmarkHasNot},
	{Name: "MixedUsage", Run: benchmarkMixedUsage},
}

// RunStoreBenchmarks runs all benchmarks for a store implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		for _, bm := range Benchmarks {
			b.Run(bm.Name, func(b *testing.B) {
				s := factory()
				b.Cleanup(func() {
					s.Close()
				})
				bm.Run(b, s)
			})
		}
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchKey(i int) string {
	return fmt.Sprintf("bench-%d", i%KeySpace)
}

func benchValue(i int) []byte {
	return []byte(fmt.Sprintf("v-%d", i))
}

// prefill sets up to KeySpace keys and returns how many were written
func prefill(b *testing.B, s store.IStore, n int) int {
	if n > KeySpace {
		n = KeySpace
	}
	for i := 0; i < n; i++ {
		if err := s.Set(benchKey(i), benchValue(i)); err != nil {
			b.Fatalf("prefill of key %d failed: %v", i, err)
		}
	}
	return n
}

func benchmarkSet(b *testing.B, s store.IStore) {
	requireFeature(b, s, store.FeatureSet)

	var counter int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := int(atomic.AddInt64(&counter, 1))
			s.Set(benchKey(i), benchValue(i))
		}
	})
}

func benchmarkSetExisting(b *testing.B, s store.IStore) {
	requireFeature(b, s, store.FeatureSet)

	numKeys := prefill(b, s, b.N)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			s.Set(benchKey(counter%numKeys), benchValue(counter))
			counter++
		}
	})
}

func benchmarkGet(b *testing.B, s store.IStore) {
	requireFeature(b, s, store.FeatureSet)
	requireFeature(b, s, store.FeatureGet)

	numKeys := prefill(b, s, b.N)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			s.Get(benchKey(counter % numKeys))
			counter++
		}
	})
}

func benchmarkUpdate(b *testing.B, s store.IStore) {
	requireFeature(b, s, store.FeatureSet)
	requireFeature(b, s, store.FeatureUpdate)

	numKeys := prefill(b, s, b.N)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			s.Update(benchKey(counter%numKeys), benchValue(counter+1))
			counter++
		}
	})
}

func benchmarkDelete(b *testing.B, s store.IStore) {
	requireFeature(b, s, store.FeatureSet)
	requireFeature(b, s, store.FeatureDelete)

	numKeys := prefill(b, s, b.N)

	var counter int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := int(atomic.AddInt64(&counter, 1) - 1)
			s.Delete(benchKey(i % numKeys))
		}
	})
}

func benchmarkHas(b *testing.B, s store.IStore) {
	requireFeature(b, s, store.FeatureSet)
	requireFeature(b, s, store.FeatureHas)

	numKeys := prefill(b, s, b.N)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			s.Has(benchKey(counter % numKeys))
			counter++
		}
	})
}

func benchmarkHasNot(b *testing.B, s store.IStore) {
	requireFeature(b, s, store.FeatureHas)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			s.Has(fmt.Sprintf("missing-%d", counter%KeySpace))
			counter++
		}
	})
}

func benchmarkMixedUsage(b *testing.B, s store.IStore) {
	requireFeature(b, s, store.FeatureSet)
	requireFeature(b, s, store.FeatureGet)
	requireFeature(b, s, store.FeatureDelete)
	requireFeature(b, s, store.FeatureHas)

	numKeys := prefill(b, s, b.N)

	var counter int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		localCounter := 0
		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys
			key := benchKey(idx)

			switch localCounter % 4 {
			case 0:
				s.Get(key)
			case 1:
				s.Set(key, benchValue(localCounter))
			case 2:
				s.Delete(key)
			case 3:
				s.Has(key)
			}
			localCounter++
		}
	})
}
