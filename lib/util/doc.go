// Package util contains small helpers shared by the levelkv packages: a
// strictly ordered blocking queue used by every worker goroutine, seed
// generation, seeded hashing and distribution statistics.
package util
