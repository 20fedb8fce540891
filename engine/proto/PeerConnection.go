package proto

import (
	"io"

	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/netutil"
)

// DatagramSender sends best effort datagrams without blocking
type DatagramSender interface {
	// TrySendDatagram returns false if the datagram was dropped; b is not retained
	TrySendDatagram(b []byte) bool
}

// PeerConnection is the sending half of the replication protocol towards one peer
//
// It owns preallocated encode buffers and must only be used by one goroutine.
type PeerConnection struct {
	stream io.WriteCloser
	dgram  DatagramSender
	closed xnsyncutil.AtomicBool
	sbuf   [MAX_STREAM_MESSAGE_SIZE]byte
	dbuf   [MAX_DATAGRAM_SIZE]byte
}

// NewPeerConnection creates a PeerConnection over the outbound reliable stream and the datagram channel
func NewPeerConnection(stream io.WriteCloser, dgram DatagramSender) *PeerConnection {
	return &PeerConnection{
		stream: stream,
		dgram:  dgram,
	}
}

// SendStreamMessage encodes msg and writes it length prefixed on the reliable stream
//
// Encoding errors are returned before anything is written and leave the stream usable.
func (pc *PeerConnection) SendStreamMessage(msg StreamMessage) error {
	b, err := EncodeStreamMessage(msg, pc.sbuf[:0])
	if err != nil {
		return err
	}
	return netutil.WriteMessage(pc.stream, b)
}

// SendAgentIFrame sends MT_AGENT_IFRAME message
func (pc *PeerConnection) SendAgentIFrame(f *AgentIFrame) error {
	return pc.SendStreamMessage(f)
}

// SendObjectIFrame sends MT_OBJECT_IFRAME message
func (pc *PeerConnection) SendObjectIFrame(f *ObjectIFrame) error {
	return pc.SendStreamMessage(f)
}

// SendOwnershipClaim sends MT_OWNERSHIP_CLAIM message
func (pc *PeerConnection) SendOwnershipClaim(obj common.ObjectID, timestamp uint64, seq uint64) error {
	return pc.SendStreamMessage(&OwnershipClaim{Object: obj, Timestamp: timestamp, Seq: seq})
}

// SendOwnershipRelease sends MT_OWNERSHIP_RELEASE message
func (pc *PeerConnection) SendOwnershipRelease(obj common.ObjectID) error {
	return pc.SendStreamMessage(&OwnershipRelease{Object: obj})
}

// SendDatagram encodes dg and offers it to the datagram channel
//
// sent is false when the channel dropped the datagram; err is only set for encoding errors.
func (pc *PeerConnection) SendDatagram(dg Datagram) (sent bool, err error) {
	b, err := EncodeDatagram(dg, pc.dbuf[:0])
	if err != nil {
		return false, err
	}
	return pc.dgram.TrySendDatagram(b), nil
}

// SendAgentPFrame sends DT_AGENT_PFRAME datagram
func (pc *PeerConnection) SendAgentPFrame(f *AgentPFrame) (bool, error) {
	return pc.SendDatagram(f)
}

// SendObjectPFrame sends DT_OBJECT_PFRAME datagram
func (pc *PeerConnection) SendObjectPFrame(f *ObjectPFrame) (bool, error) {
	return pc.SendDatagram(f)
}

// Close closes the outbound stream
func (pc *PeerConnection) Close() error {
	if pc.closed.Load() {
		return nil
	}
	pc.closed.Store(true)
	return pc.stream.Close()
}

// IsClosed returns if the connection is closed
func (pc *PeerConnection) IsClosed() bool {
	return pc.closed.Load()
}
