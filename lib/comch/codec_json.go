package comch

import (
	"encoding/json"
	"fmt"
)

// NewJSONCodec creates a human readable codec. Messages are wrapped in an
// envelope {"type": <MsgType>, "payload": {...}}.
func NewJSONCodec() ICodec {
	return jsonCodec{}
}

type jsonCodec struct{}

type envelope struct {
	Type    MsgType         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Encode(msg Message) ([]byte, error) {
	switch msg.(type) {
	case ExportDescriptor, ExportSeeds, Control:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: msg.Type(), Payload: payload})
}

func (jsonCodec) Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case MsgExportDescriptor:
		var m ExportDescriptor
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MsgExportSeeds:
		var m ExportSeeds
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MsgControl:
		var m Control
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, err
		}
		if !m.Signal.valid() {
			return nil, fmt.Errorf("invalid control signal %d", m.Signal)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, env.Type)
	}
}
