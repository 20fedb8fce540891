package session

import (
	"fmt"

	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/pose"
)

// EventType is the type of presentation events
type EventType int

const (
	// AgentPose is a reconstructed pose of a remote agent
	AgentPose EventType = iota
	// ObjectPose is a reconstructed pose of an object owned by a remote peer
	ObjectPose
	// OwnershipChanged is emitted when an object gets a new owner or loses its owner
	OwnershipChanged
	// PeerConnected is emitted when a session starts
	PeerConnected
	// PeerDisconnected is emitted when a session ends
	PeerDisconnected
)

var eventTypeNames = [...]string{"AgentPose", "ObjectPose", "OwnershipChanged", "PeerConnected", "PeerDisconnected"}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return fmt.Sprintf("EventType(%d)", int(t))
	}
	return eventTypeNames[t]
}

// Event is one item of the presentation event stream
//
// Peer is the remote peer for pose and connection events, and the new owner for OwnershipChanged (nil when released).
type Event struct {
	Type   EventType
	Peer   common.PeerID
	Object common.ObjectID
	Pose   pose.Pose
	// Keyframe is set for poses taken directly from an I-frame
	Keyframe bool
	Err      error
}

func (e Event) String() string {
	switch e.Type {
	case AgentPose:
		return fmt.Sprintf("%s<%s %s>", e.Type, e.Peer, e.Pose)
	case ObjectPose:
		return fmt.Sprintf("%s<%s by %s %s>", e.Type, e.Object, e.Peer, e.Pose)
	case OwnershipChanged:
		return fmt.Sprintf("%s<%s owner=%s>", e.Type, e.Object, e.Peer)
	default:
		return fmt.Sprintf("%s<%s>", e.Type, e.Peer)
	}
}
