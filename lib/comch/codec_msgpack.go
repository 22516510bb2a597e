package comch

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// NewMsgpackCodec creates a codec encoding every message as a msgpack array
// whose first element is the message type.
func NewMsgpackCodec() ICodec {
	return msgpackCodec{}
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string {
	return "msgpack"
}

func (msgpackCodec) Encode(msg Message) ([]byte, error) {
	var o []byte
	switch m := msg.(type) {
	case ExportDescriptor:
		o = msgp.AppendArrayHeader(o, 3)
		o = msgp.AppendUint8(o, uint8(MsgExportDescriptor))
		o = msgp.AppendUint64(o, m.HostAddr)
		o = msgp.AppendBytes(o, m.Descriptor)
	case ExportSeeds:
		o = msgp.AppendArrayHeader(o, 3)
		o = msgp.AppendUint8(o, uint8(MsgExportSeeds))
		o = msgp.AppendUint64(o, m.Seed1)
		o = msgp.AppendUint64(o, m.Seed2)
	case Control:
		o = msgp.AppendArrayHeader(o, 2)
		o = msgp.AppendUint8(o, uint8(MsgControl))
		o = msgp.AppendUint8(o, uint8(m.Signal))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
	return o, nil
}

func (msgpackCodec) Decode(b []byte) (Message, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	if sz < 2 {
		return nil, fmt.Errorf("msgpack message has %d elements", sz)
	}
	t, b, err := msgp.ReadUint8Bytes(b)
	if err != nil {
		return nil, err
	}

	switch MsgType(t) {
	case MsgExportDescriptor:
		if sz != 3 {
			return nil, fmt.Errorf("descriptor message has %d elements", sz)
		}
		var m ExportDescriptor
		if m.HostAddr, b, err = msgp.ReadUint64Bytes(b); err != nil {
			return nil, err
		}
		if m.Descriptor, _, err = msgp.ReadBytesBytes(b, nil); err != nil {
			return nil, err
		}
		return m, nil
	case MsgExportSeeds:
		if sz != 3 {
			return nil, fmt.Errorf("seeds message has %d elements", sz)
		}
		var m ExportSeeds
		if m.Seed1, b, err = msgp.ReadUint64Bytes(b); err != nil {
			return nil, err
		}
		if m.Seed2, _, err = msgp.ReadUint64Bytes(b); err != nil {
			return nil, err
		}
		return m, nil
	case MsgControl:
		s, _, err := msgp.ReadUint8Bytes(b)
		if err != nil {
			return nil, err
		}
		if !Signal(s).valid() {
			return nil, fmt.Errorf("invalid control signal %d", s)
		}
		return Control{Signal: Signal(s)}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, t)
	}
}
