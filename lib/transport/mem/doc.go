// Package mem is an in-process transport backend. Exported regions are plain
// byte slices registered in a process wide registry; the descriptor carries
// the registry handle. Host and accelerator must run in the same process.
package mem
