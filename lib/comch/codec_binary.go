package comch

import (
	"encoding/binary"
	"fmt"
)

// NewBinaryCodec creates a codec using a compact fixed layout:
//
//	ExportDescriptor: type(1) | host_addr(8) | desc_len(8) | desc bytes
//	ExportSeeds:      type(1) | seed1(8) | seed2(8)
//	Control:          type(1) | signal(1)
//
// All integers are big endian.
func NewBinaryCodec() ICodec {
	return binaryCodec{}
}

type binaryCodec struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see comch.ICodec)
// --------------------------------------------------------------------------

func (binaryCodec) Name() string {
	return "binary"
}

func (binaryCodec) Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case ExportDescriptor:
		result := make([]byte, 1+8+8+len(m.Descriptor))
		result[0] = byte(MsgExportDescriptor)
		binary.BigEndian.PutUint64(result[1:9], m.HostAddr)
		binary.BigEndian.PutUint64(result[9:17], uint64(len(m.Descriptor)))
		copy(result[17:], m.Descriptor)
		return result, nil
	case ExportSeeds:
		result := make([]byte, 17)
		result[0] = byte(MsgExportSeeds)
		binary.BigEndian.PutUint64(result[1:9], m.Seed1)
		binary.BigEndian.PutUint64(result[9:17], m.Seed2)
		return result, nil
	case Control:
		return []byte{byte(MsgControl), byte(m.Signal)}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

func (binaryCodec) Decode(b []byte) (Message, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("data too short for message type")
	}

	switch MsgType(b[0]) {
	case MsgExportDescriptor:
		if len(b) < 17 {
			return nil, fmt.Errorf("data too short for descriptor header")
		}
		n := binary.BigEndian.Uint64(b[9:17])
		if uint64(len(b)-17) != n {
			return nil, fmt.Errorf("descriptor length mismatch: header says %d, got %d", n, len(b)-17)
		}
		desc := make([]byte, n)
		copy(desc, b[17:])
		return ExportDescriptor{HostAddr: binary.BigEndian.Uint64(b[1:9]), Descriptor: desc}, nil
	case MsgExportSeeds:
		if len(b) != 17 {
			return nil, fmt.Errorf("data too short for seeds")
		}
		return ExportSeeds{
			Seed1: binary.BigEndian.Uint64(b[1:9]),
			Seed2: binary.BigEndian.Uint64(b[9:17]),
		}, nil
	case MsgControl:
		if len(b) != 2 {
			return nil, fmt.Errorf("data too short for control signal")
		}
		s := Signal(b[1])
		if !s.valid() {
			return nil, fmt.Errorf("invalid control signal %d", b[1])
		}
		return Control{Signal: s}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, b[0])
	}
}
