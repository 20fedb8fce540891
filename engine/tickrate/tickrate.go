// Package tickrate negotiates the frame rate of one connection direction.
//
// The side about to push frames sends TickrateRequest{hz}; the receiver clamps hz to its maximum
// and answers TickrateAck{hz}. Both sides then throttle to the acked rate.
package tickrate

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/netutil"
	"github.com/xiaonanln/gwsync/engine/proto"
)

// ErrProtocolViolation is the cause of every unexpected, oversize or malformed control message
var ErrProtocolViolation = errors.New("control protocol violation")

// IsProtocolViolation checks if err is caused by ErrProtocolViolation
func IsProtocolViolation(err error) bool {
	return errors.Cause(err) == ErrProtocolViolation
}

// State is the negotiated rate of one connection direction, shared between tasks
type State struct {
	hz atomic.Uint32
}

// NewState creates a State holding hz
func NewState(hz uint8) *State {
	s := &State{}
	s.Store(hz)
	return s
}

// Load returns the current rate in Hz
func (s *State) Load() uint8 {
	return uint8(s.hz.Load())
}

// Store sets the current rate in Hz
func (s *State) Store(hz uint8) {
	s.hz.Store(uint32(hz))
}

// Interval returns 1/max(1,hz) seconds
func (s *State) Interval() time.Duration {
	hz := s.Load()
	if hz == 0 {
		hz = 1
	}
	return time.Second / time.Duration(hz)
}

// Clamp limits hz to max; a rate of 0 becomes 1
func Clamp(hz uint8, max uint8) uint8 {
	if hz > max {
		hz = max
	}
	if hz == 0 {
		hz = 1
	}
	return hz
}

// Request runs the sending side of the handshake and returns the acked rate
//
// The ack is used as-is: the receiver alone limits what it accepts. An ack of 0 or above the
// requested rate is a protocol violation.
func Request(rw io.ReadWriter, hz uint8) (uint8, error) {
	if err := writeControl(rw, proto.CT_TICKRATE_REQUEST, hz); err != nil {
		return 0, err
	}

	ack, err := readControl(rw, proto.CT_TICKRATE_ACK)
	if err != nil {
		return 0, err
	}

	if ack == 0 || ack > Clamp(hz, hz) {
		return 0, errors.Wrapf(ErrProtocolViolation, "tickrate ack %d for a request of %d", ack, hz)
	}
	if consts.DEBUG_MODE {
		gwlog.Debugf("tickrate: requested %d, acked %d", hz, ack)
	}
	return ack, nil
}

// Respond runs the receiving side of the handshake and returns the effective rate
func Respond(rw io.ReadWriter, max uint8) (uint8, error) {
	hz, err := readControl(rw, proto.CT_TICKRATE_REQUEST)
	if err != nil {
		return 0, err
	}

	effective := Clamp(hz, max)
	if err := writeControl(rw, proto.CT_TICKRATE_ACK, effective); err != nil {
		return 0, err
	}
	return effective, nil
}

// WaitClosed idles on a control stream after the handshake
//
// It returns io.EOF when the peer closes the stream, and a protocol violation if anything arrives.
func WaitClosed(r io.Reader) error {
	var buf [proto.MAX_CONTROL_MESSAGE_SIZE]byte
	msg, err := netutil.ReadMessage(r, buf[:0], proto.MAX_CONTROL_MESSAGE_SIZE)
	if err != nil {
		if netutil.IsMessageTooLarge(err) {
			return errors.Wrap(ErrProtocolViolation, err.Error())
		}
		return err
	}
	return errors.Wrapf(ErrProtocolViolation, "unexpected control message of %d bytes after handshake", len(msg))
}

func writeControl(w io.Writer, mt proto.MsgType, hz uint8) error {
	var buf [proto.CONTROL_MESSAGE_SIZE]byte
	b, err := proto.EncodeControlMessage(proto.ControlMessage{Type: mt, Hz: hz}, buf[:0])
	if err != nil {
		return err
	}
	return netutil.WriteMessage(w, b)
}

func readControl(r io.Reader, expect proto.MsgType) (uint8, error) {
	var buf [proto.MAX_CONTROL_MESSAGE_SIZE]byte
	b, err := netutil.ReadMessage(r, buf[:0], proto.MAX_CONTROL_MESSAGE_SIZE)
	if err != nil {
		if netutil.IsMessageTooLarge(err) {
			return 0, errors.Wrap(ErrProtocolViolation, err.Error())
		}
		return 0, err
	}

	m, err := proto.DecodeControlMessage(b)
	if err != nil {
		return 0, errors.Wrap(ErrProtocolViolation, err.Error())
	}
	if m.Type != expect {
		return 0, errors.Wrapf(ErrProtocolViolation, "got %s, expecting type %d", m, expect)
	}
	return m.Hz, nil
}
