// Package testing contains a conformance suite and benchmarks for
// store.IStore implementations.
//
// Usage:
//
//	func TestStore(t *testing.T) {
//		storetesting.RunStoreTests(t, "lstore", func() store.IStore {
//			return newStore(t)
//		})
//	}
//
// Each subtest calls the factory once and closes the store when it returns.
// Tests of features the store does not support are skipped.
package testing
