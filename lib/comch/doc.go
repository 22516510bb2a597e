// Package comch implements the control channel between host and accelerator:
// a bidirectional, message oriented side channel used for the seed and
// descriptor handshake and for coordinating table expansion.
//
// Messages are a closed set of variants (ExportDescriptor, ExportSeeds,
// Control) implementing Message; consumers switch on the concrete type.
// A Codec turns messages into payloads (binary, msgpack or json) and a
// Channel moves payloads between the two peers. Received messages are handed
// to the Handler registered with Receive, on a goroutine owned by the channel,
// in the order in which the peer sent them.
//
// Channels:
//   - Pipe: an in-process pair of connected channels
//   - Dial / Listen: stream sockets (tcp or unix) with length-prefixed frames
package comch
