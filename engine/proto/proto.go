package proto

import (
	"github.com/pkg/errors"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/netutil"
)

// MsgType is the discriminant byte written first in every message
type MsgType uint8

// Stream message types, sent on the reliable unidirectional stream
const (
	// MT_AGENT_IFRAME is the absolute pose of the sender's agent
	MT_AGENT_IFRAME MsgType = iota
	// MT_OBJECT_IFRAME is the absolute pose of an object owned by the sender
	MT_OBJECT_IFRAME
	// MT_OWNERSHIP_CLAIM claims an object for the sender
	MT_OWNERSHIP_CLAIM
	// MT_OWNERSHIP_RELEASE releases an object owned by the sender
	MT_OWNERSHIP_RELEASE
)

// Datagram message types
const (
	// DT_AGENT_PFRAME is a delta pose of the sender's agent
	DT_AGENT_PFRAME MsgType = iota
	// DT_OBJECT_PFRAME is a delta pose of an object owned by the sender
	DT_OBJECT_PFRAME
)

// Control message types, sent on the bidirectional control stream
const (
	// CT_TICKRATE_REQUEST asks the receiver for a frame rate
	CT_TICKRATE_REQUEST MsgType = 1 + iota
	// CT_TICKRATE_ACK answers a request with the effective rate
	CT_TICKRATE_ACK
)

const (
	msgTypeSize    = 1
	frameIDSize    = 2
	vector3Size    = 12
	packedQuatSize = 4
	deltaSize      = 6
	boneCountSize  = 1
	boneSize       = 1 + packedQuatSize
	objectIDSize   = common.OBJECTID_LENGTH

	absoluteRootSize = vector3Size + packedQuatSize + vector3Size + vector3Size
	deltaRootSize    = deltaSize + packedQuatSize + deltaSize + deltaSize
	maxBonesSize     = boneCountSize + consts.MAX_BONES*boneSize
)

// Static maximum sizes of encoded messages, including the type byte
const (
	MAX_AGENT_IFRAME_SIZE     = msgTypeSize + frameIDSize + absoluteRootSize + maxBonesSize
	MAX_OBJECT_IFRAME_SIZE    = msgTypeSize + objectIDSize + frameIDSize + absoluteRootSize
	OWNERSHIP_CLAIM_SIZE      = msgTypeSize + objectIDSize + 8 + 8
	OWNERSHIP_RELEASE_SIZE    = msgTypeSize + objectIDSize
	MAX_AGENT_PFRAME_SIZE     = msgTypeSize + frameIDSize*2 + deltaRootSize + maxBonesSize
	MAX_OBJECT_PFRAME_SIZE    = msgTypeSize + objectIDSize + frameIDSize*2 + deltaRootSize
	CONTROL_MESSAGE_SIZE      = msgTypeSize + 1
	MAX_STREAM_MESSAGE_SIZE   = max(MAX_AGENT_IFRAME_SIZE, MAX_OBJECT_IFRAME_SIZE, OWNERSHIP_CLAIM_SIZE, OWNERSHIP_RELEASE_SIZE)
	MAX_DATAGRAM_SIZE         = max(MAX_AGENT_PFRAME_SIZE, MAX_OBJECT_PFRAME_SIZE)
	MAX_CONTROL_MESSAGE_SIZE  = consts.MAX_CONTROL_MESSAGE_SIZE
	maxDatagramSizeHeadroom   = consts.MAX_TRANSPORT_DATAGRAM_SIZE - MAX_DATAGRAM_SIZE
	maxControlMessageHeadroom = MAX_CONTROL_MESSAGE_SIZE - CONTROL_MESSAGE_SIZE
)

// every datagram must fit into one transport datagram, every control message into its budget
var (
	_ [maxDatagramSizeHeadroom]struct{}
	_ [maxControlMessageHeadroom]struct{}
)

var (
	// ErrMalformed is the cause of every decode failure: truncated or trailing bytes, unknown type, bad bone list
	ErrMalformed = errors.New("malformed message")
	// ErrFrameTooLarge is returned by encoders when a frame holds more bones than MAX_BONES or a bone id out of range
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrInvalidObjectID is returned by encoders when an object id is not OBJECTID_LENGTH bytes
	ErrInvalidObjectID = errors.New("invalid object id")
)

// IsMalformed checks if err is caused by ErrMalformed
func IsMalformed(err error) bool {
	return errors.Cause(err) == ErrMalformed
}

// IsEncodeError checks if err was returned by an encoder, before anything was written
func IsEncodeError(err error) bool {
	switch errors.Cause(err) {
	case ErrFrameTooLarge, ErrInvalidObjectID, netutil.ErrPacketOverflow:
		return true
	}
	return false
}
