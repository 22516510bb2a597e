package comch

import "fmt"

// MsgType tags the message variants on the wire
type MsgType uint8

const (
	MsgExportDescriptor MsgType = iota + 1
	MsgExportSeeds
	MsgControl
)

func (t MsgType) String() string {
	switch t {
	case MsgExportDescriptor:
		return "ExportDescriptor"
	case MsgExportSeeds:
		return "ExportSeeds"
	case MsgControl:
		return "Control"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// Signal is the payload of a Control message
type Signal uint8

const (
	// SignalExpand asks the host to allocate the doubled top level
	SignalExpand Signal = iota + 1
	// SignalExpandFinish commits an expansion. The host echoes it once the levels are swapped.
	SignalExpandFinish
	// SignalExpandAbort rolls back an expansion. The host frees the new region and echoes it.
	SignalExpandAbort
	// SignalExit tells the peer to shut down
	SignalExit
)

func (s Signal) String() string {
	switch s {
	case SignalExpand:
		return "Expand"
	case SignalExpandFinish:
		return "ExpandFinish"
	case SignalExpandAbort:
		return "ExpandAbort"
	case SignalExit:
		return "Exit"
	default:
		return fmt.Sprintf("Signal(%d)", uint8(s))
	}
}

func (s Signal) valid() bool {
	return s >= SignalExpand && s <= SignalExit
}

// Message is implemented by ExportDescriptor, ExportSeeds and Control
type Message interface {
	Type() MsgType
	isMessage()
}

// ExportDescriptor carries the transport descriptor of one exported host region
type ExportDescriptor struct {
	HostAddr   uint64
	Descriptor []byte
}

// ExportSeeds carries the two hash seeds of the table
type ExportSeeds struct {
	Seed1 uint64
	Seed2 uint64
}

// Control carries a protocol signal
type Control struct {
	Signal Signal
}

func (ExportDescriptor) Type() MsgType { return MsgExportDescriptor }
func (ExportSeeds) Type() MsgType      { return MsgExportSeeds }
func (Control) Type() MsgType          { return MsgControl }

func (ExportDescriptor) isMessage() {}
func (ExportSeeds) isMessage()      {}
func (Control) isMessage()          {}

func (m ExportDescriptor) String() string {
	return fmt.Sprintf("ExportDescriptor{host_addr=%#x, len=%d}", m.HostAddr, len(m.Descriptor))
}

func (m Control) String() string {
	return "Control{" + m.Signal.String() + "}"
}
