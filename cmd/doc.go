// Package cmd implements the command-line interface of levelkv. It provides
// a command to run the host, which owns the table memory, and a command
// group to run the accelerator against it.
//
// The package is organized into several subpackages:
//
//   - host: Starts the host and serves accelerators over the control channel
//   - accel: Accelerator commands (set, get, del, ..., shell, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// A typical session:
//
//	levelkv host --level=12 --endpoint=/tmp/levelkv.sock
//	levelkv accel --level=12 --endpoint=/tmp/levelkv.sock shell
//
// See levelkv -help for a list of all commands.
package cmd
