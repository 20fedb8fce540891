package proto

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/netutil"
	"github.com/xiaonanln/gwsync/engine/pose"
	"github.com/xiaonanln/gwsync/engine/quant"
)

// BoneFrame is the absolute rotation of one bone
type BoneFrame struct {
	Bone     uint8
	Rotation quant.PackedQuat
}

// AgentIFrame is the absolute pose of an agent that starts epoch ID
type AgentIFrame struct {
	ID              uint16
	Position        pose.Vector3
	Rotation        quant.PackedQuat
	LinearVelocity  pose.Vector3
	AngularVelocity pose.Vector3
	Bones           []BoneFrame
}

// ObjectIFrame is the absolute pose of an object that starts epoch ID
type ObjectIFrame struct {
	Object          common.ObjectID
	ID              uint16
	Position        pose.Vector3
	Rotation        quant.PackedQuat
	LinearVelocity  pose.Vector3
	AngularVelocity pose.Vector3
}

// OwnershipClaim claims Object for the sending peer
type OwnershipClaim struct {
	Object    common.ObjectID
	Timestamp uint64
	Seq       uint64
}

// OwnershipRelease releases Object owned by the sending peer
type OwnershipRelease struct {
	Object common.ObjectID
}

// AgentPFrame is the pose of an agent relative to I-frame IFrameID
//
// Rotations are absolute; position and velocities are deltas from the I-frame.
type AgentPFrame struct {
	IFrameID        uint16
	Seq             uint16
	Position        quant.Delta
	Rotation        quant.PackedQuat
	LinearVelocity  quant.Delta
	AngularVelocity quant.Delta
	Bones           []BoneFrame
}

// ObjectPFrame is the pose of an object relative to I-frame IFrameID
type ObjectPFrame struct {
	Object          common.ObjectID
	IFrameID        uint16
	Seq             uint16
	Position        quant.Delta
	Rotation        quant.PackedQuat
	LinearVelocity  quant.Delta
	AngularVelocity quant.Delta
}

// StreamMessage is one of *AgentIFrame, *ObjectIFrame, *OwnershipClaim, *OwnershipRelease
type StreamMessage interface {
	MsgType() MsgType
	streamMessage()
	appendTo(p *netutil.Packet) error
	readFrom(p *netutil.Packet) error
}

// Datagram is one of *AgentPFrame, *ObjectPFrame
type Datagram interface {
	MsgType() MsgType
	datagram()
	appendTo(p *netutil.Packet) error
	readFrom(p *netutil.Packet) error
}

// MsgType returns MT_AGENT_IFRAME
func (f *AgentIFrame) MsgType() MsgType { return MT_AGENT_IFRAME }

// MsgType returns MT_OBJECT_IFRAME
func (f *ObjectIFrame) MsgType() MsgType { return MT_OBJECT_IFRAME }

// MsgType returns MT_OWNERSHIP_CLAIM
func (m *OwnershipClaim) MsgType() MsgType { return MT_OWNERSHIP_CLAIM }

// MsgType returns MT_OWNERSHIP_RELEASE
func (m *OwnershipRelease) MsgType() MsgType { return MT_OWNERSHIP_RELEASE }

// MsgType returns DT_AGENT_PFRAME
func (f *AgentPFrame) MsgType() MsgType { return DT_AGENT_PFRAME }

// MsgType returns DT_OBJECT_PFRAME
func (f *ObjectPFrame) MsgType() MsgType { return DT_OBJECT_PFRAME }

func (f *AgentIFrame) streamMessage() {}
func (f *ObjectIFrame) streamMessage() {}
func (m *OwnershipClaim) streamMessage() {}
func (m *OwnershipRelease) streamMessage() {}
func (f *AgentPFrame) datagram() {}
func (f *ObjectPFrame) datagram() {}

func (f *AgentIFrame) String() string {
	return fmt.Sprintf("AgentIFrame<%d pos=%s bones=%d>", f.ID, f.Position, len(f.Bones))
}

func (f *ObjectIFrame) String() string {
	return fmt.Sprintf("ObjectIFrame<%s %d pos=%s>", f.Object, f.ID, f.Position)
}

func (m *OwnershipClaim) String() string {
	return fmt.Sprintf("OwnershipClaim<%s ts=%d seq=%d>", m.Object, m.Timestamp, m.Seq)
}

func (m *OwnershipRelease) String() string {
	return fmt.Sprintf("OwnershipRelease<%s>", m.Object)
}

func (f *AgentPFrame) String() string {
	return fmt.Sprintf("AgentPFrame<%d#%d dpos=%v bones=%d>", f.IFrameID, f.Seq, f.Position, len(f.Bones))
}

func (f *ObjectPFrame) String() string {
	return fmt.Sprintf("ObjectPFrame<%s %d#%d dpos=%v>", f.Object, f.IFrameID, f.Seq, f.Position)
}

// EncodeStreamMessage encodes msg with its type byte into buf[:cap(buf)]
//
// A buffer of MAX_STREAM_MESSAGE_SIZE bytes fits any valid message.
func EncodeStreamMessage(msg StreamMessage, buf []byte) ([]byte, error) {
	return encode(msg.MsgType(), msg.appendTo, buf)
}

// EncodeDatagram encodes dg with its type byte into buf[:cap(buf)]
//
// A buffer of MAX_DATAGRAM_SIZE bytes fits any valid datagram.
func EncodeDatagram(dg Datagram, buf []byte) ([]byte, error) {
	return encode(dg.MsgType(), dg.appendTo, buf)
}

func encode(mt MsgType, appendTo func(p *netutil.Packet) error, buf []byte) ([]byte, error) {
	var p netutil.Packet
	p.Reset(buf)
	p.AppendByte(byte(mt))
	if err := appendTo(&p); err != nil {
		return nil, err
	}
	if err := p.Err(); err != nil {
		return nil, err
	}
	return p.Payload(), nil
}

// DecodeStreamMessage decodes one stream message; errors are caused by ErrMalformed
func DecodeStreamMessage(b []byte) (StreamMessage, error) {
	p := netutil.NewReadPacket(b)
	mt := MsgType(p.ReadOneByte())
	if p.Err() != nil {
		return nil, errors.Wrap(ErrMalformed, "empty stream message")
	}

	var msg StreamMessage
	switch mt {
	case MT_AGENT_IFRAME:
		msg = &AgentIFrame{}
	case MT_OBJECT_IFRAME:
		msg = &ObjectIFrame{}
	case MT_OWNERSHIP_CLAIM:
		msg = &OwnershipClaim{}
	case MT_OWNERSHIP_RELEASE:
		msg = &OwnershipRelease{}
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown stream message type %d", mt)
	}

	if err := decodeBody(p, msg.readFrom); err != nil {
		return nil, errors.WithMessagef(err, "decode stream message type %d", mt)
	}
	return msg, nil
}

// DecodeDatagram decodes one datagram; errors are caused by ErrMalformed
func DecodeDatagram(b []byte) (Datagram, error) {
	p := netutil.NewReadPacket(b)
	mt := MsgType(p.ReadOneByte())
	if p.Err() != nil {
		return nil, errors.Wrap(ErrMalformed, "empty datagram")
	}

	var dg Datagram
	switch mt {
	case DT_AGENT_PFRAME:
		dg = &AgentPFrame{}
	case DT_OBJECT_PFRAME:
		dg = &ObjectPFrame{}
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown datagram type %d", mt)
	}

	if err := decodeBody(p, dg.readFrom); err != nil {
		return nil, errors.WithMessagef(err, "decode datagram type %d", mt)
	}
	return dg, nil
}

func decodeBody(p *netutil.Packet, readFrom func(p *netutil.Packet) error) error {
	if err := readFrom(p); err != nil {
		return err
	}
	if err := p.Err(); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	if p.HasUnreadPayload() {
		return errors.Wrapf(ErrMalformed, "%d trailing bytes", len(p.UnreadPayload()))
	}
	return nil
}

func appendObjectID(p *netutil.Packet, id common.ObjectID) error {
	if len(id) != common.OBJECTID_LENGTH {
		return errors.Wrapf(ErrInvalidObjectID, "%q", string(id))
	}
	p.AppendString(string(id))
	return nil
}

func readObjectID(p *netutil.Packet) common.ObjectID {
	return common.ObjectID(p.ReadBytes(common.OBJECTID_LENGTH))
}

func appendVector3(p *netutil.Packet, v pose.Vector3) {
	p.AppendFloat32(v.X)
	p.AppendFloat32(v.Y)
	p.AppendFloat32(v.Z)
}

func readVector3(p *netutil.Packet) (v pose.Vector3) {
	v.X = p.ReadFloat32()
	v.Y = p.ReadFloat32()
	v.Z = p.ReadFloat32()
	return
}

func appendDelta(p *netutil.Packet, d quant.Delta) {
	p.AppendInt16(d[0])
	p.AppendInt16(d[1])
	p.AppendInt16(d[2])
}

func readDelta(p *netutil.Packet) (d quant.Delta) {
	d[0] = p.ReadInt16()
	d[1] = p.ReadInt16()
	d[2] = p.ReadInt16()
	return
}

func appendBones(p *netutil.Packet, bones []BoneFrame) error {
	if len(bones) > consts.MAX_BONES {
		return errors.Wrapf(ErrFrameTooLarge, "%d bones > %d", len(bones), consts.MAX_BONES)
	}
	for _, b := range bones {
		if b.Bone >= consts.MAX_BONES {
			return errors.Wrapf(ErrFrameTooLarge, "bone id %d out of range", b.Bone)
		}
	}

	p.AppendByte(uint8(len(bones)))
	for _, b := range bones {
		p.AppendByte(b.Bone)
		p.AppendUint32(uint32(b.Rotation))
	}
	return nil
}

func readBones(p *netutil.Packet) ([]BoneFrame, error) {
	n := int(p.ReadOneByte())
	if n > consts.MAX_BONES {
		return nil, errors.Wrapf(ErrMalformed, "%d bones > %d", n, consts.MAX_BONES)
	}
	if n == 0 {
		return nil, nil
	}
	if len(p.UnreadPayload()) < n*boneSize {
		return nil, errors.Wrapf(ErrMalformed, "bone list of %d truncated", n)
	}

	bones := make([]BoneFrame, n)
	for i := range bones {
		bones[i].Bone = p.ReadOneByte()
		bones[i].Rotation = quant.PackedQuat(p.ReadUint32())
		if bones[i].Bone >= consts.MAX_BONES {
			return nil, errors.Wrapf(ErrMalformed, "bone id %d out of range", bones[i].Bone)
		}
	}
	return bones, nil
}

func (f *AgentIFrame) appendTo(p *netutil.Packet) error {
	p.AppendUint16(f.ID)
	appendVector3(p, f.Position)
	p.AppendUint32(uint32(f.Rotation))
	appendVector3(p, f.LinearVelocity)
	appendVector3(p, f.AngularVelocity)
	return appendBones(p, f.Bones)
}

func (f *AgentIFrame) readFrom(p *netutil.Packet) (err error) {
	f.ID = p.ReadUint16()
	f.Position = readVector3(p)
	f.Rotation = quant.PackedQuat(p.ReadUint32())
	f.LinearVelocity = readVector3(p)
	f.AngularVelocity = readVector3(p)
	f.Bones, err = readBones(p)
	return
}

func (f *ObjectIFrame) appendTo(p *netutil.Packet) error {
	if err := appendObjectID(p, f.Object); err != nil {
		return err
	}
	p.AppendUint16(f.ID)
	appendVector3(p, f.Position)
	p.AppendUint32(uint32(f.Rotation))
	appendVector3(p, f.LinearVelocity)
	appendVector3(p, f.AngularVelocity)
	return nil
}

func (f *ObjectIFrame) readFrom(p *netutil.Packet) error {
	f.Object = readObjectID(p)
	f.ID = p.ReadUint16()
	f.Position = readVector3(p)
	f.Rotation = quant.PackedQuat(p.ReadUint32())
	f.LinearVelocity = readVector3(p)
	f.AngularVelocity = readVector3(p)
	return nil
}

func (m *OwnershipClaim) appendTo(p *netutil.Packet) error {
	if err := appendObjectID(p, m.Object); err != nil {
		return err
	}
	p.AppendUint64(m.Timestamp)
	p.AppendUint64(m.Seq)
	return nil
}

func (m *OwnershipClaim) readFrom(p *netutil.Packet) error {
	m.Object = readObjectID(p)
	m.Timestamp = p.ReadUint64()
	m.Seq = p.ReadUint64()
	return nil
}

func (m *OwnershipRelease) appendTo(p *netutil.Packet) error {
	return appendObjectID(p, m.Object)
}

func (m *OwnershipRelease) readFrom(p *netutil.Packet) error {
	m.Object = readObjectID(p)
	return nil
}

func (f *AgentPFrame) appendTo(p *netutil.Packet) error {
	p.AppendUint16(f.IFrameID)
	p.AppendUint16(f.Seq)
	appendDelta(p, f.Position)
	p.AppendUint32(uint32(f.Rotation))
	appendDelta(p, f.LinearVelocity)
	appendDelta(p, f.AngularVelocity)
	return appendBones(p, f.Bones)
}

func (f *AgentPFrame) readFrom(p *netutil.Packet) (err error) {
	f.IFrameID = p.ReadUint16()
	f.Seq = p.ReadUint16()
	f.Position = readDelta(p)
	f.Rotation = quant.PackedQuat(p.ReadUint32())
	f.LinearVelocity = readDelta(p)
	f.AngularVelocity = readDelta(p)
	f.Bones, err = readBones(p)
	return
}

func (f *ObjectPFrame) appendTo(p *netutil.Packet) error {
	if err := appendObjectID(p, f.Object); err != nil {
		return err
	}
	p.AppendUint16(f.IFrameID)
	p.AppendUint16(f.Seq)
	appendDelta(p, f.Position)
	p.AppendUint32(uint32(f.Rotation))
	appendDelta(p, f.LinearVelocity)
	appendDelta(p, f.AngularVelocity)
	return nil
}

func (f *ObjectPFrame) readFrom(p *netutil.Packet) error {
	f.Object = readObjectID(p)
	f.IFrameID = p.ReadUint16()
	f.Seq = p.ReadUint16()
	f.Position = readDelta(p)
	f.Rotation = quant.PackedQuat(p.ReadUint32())
	f.LinearVelocity = readDelta(p)
	f.AngularVelocity = readDelta(p)
	return nil
}
