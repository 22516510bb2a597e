package comch

import (
	"errors"
	"fmt"
)

var ErrUnknownMessage = errors.New("unknown message type")

// ICodec turns control messages into payloads and back
type ICodec interface {
	// Name returns the codec name (binary, msgpack, json)
	Name() string
	// Encode serializes msg
	Encode(msg Message) ([]byte, error)
	// Decode parses a payload produced by Encode
	Decode(b []byte) (Message, error)
}

// CodecNames lists the names accepted by NewCodec
var CodecNames = []string{"binary", "msgpack", "json"}

// NewCodec returns the named codec
func NewCodec(name string) (ICodec, error) {
	switch name {
	case "", "binary":
		return NewBinaryCodec(), nil
	case "msgpack":
		return NewMsgpackCodec(), nil
	case "json":
		return NewJSONCodec(), nil
	default:
		return nil, fmt.Errorf("invalid codec %s (expected one of %v)", name, CodecNames)
	}
}
