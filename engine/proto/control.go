package proto

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/xiaonanln/gwsync/engine/netutil"
)

// ControlMessage is TickrateRequest or TickrateAck, depending on Type
type ControlMessage struct {
	Type MsgType
	Hz   uint8
}

func (m ControlMessage) String() string {
	switch m.Type {
	case CT_TICKRATE_REQUEST:
		return fmt.Sprintf("TickrateRequest<%d>", m.Hz)
	case CT_TICKRATE_ACK:
		return fmt.Sprintf("TickrateAck<%d>", m.Hz)
	}
	return fmt.Sprintf("ControlMessage<%d:%d>", m.Type, m.Hz)
}

// EncodeControlMessage encodes m into buf, which needs CONTROL_MESSAGE_SIZE bytes of capacity
func EncodeControlMessage(m ControlMessage, buf []byte) ([]byte, error) {
	var p netutil.Packet
	p.Reset(buf)
	p.AppendByte(byte(m.Type))
	p.AppendByte(m.Hz)
	if err := p.Err(); err != nil {
		return nil, err
	}
	return p.Payload(), nil
}

// DecodeControlMessage decodes a control message; errors are caused by ErrMalformed
func DecodeControlMessage(b []byte) (ControlMessage, error) {
	if len(b) != CONTROL_MESSAGE_SIZE {
		return ControlMessage{}, errors.Wrapf(ErrMalformed, "control message of %d bytes", len(b))
	}

	m := ControlMessage{Type: MsgType(b[0]), Hz: b[1]}
	if m.Type != CT_TICKRATE_REQUEST && m.Type != CT_TICKRATE_ACK {
		return ControlMessage{}, errors.Wrapf(ErrMalformed, "unknown control message type %d", m.Type)
	}
	return m, nil
}
