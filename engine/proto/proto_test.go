package proto

import (
	"bytes"
	"io"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/netutil"
	"github.com/xiaonanln/gwsync/engine/pose"
	"github.com/xiaonanln/gwsync/engine/quant"
)

const testObject = common.ObjectID("crate00000000001")

func fullBones() []BoneFrame {
	bones := make([]BoneFrame, consts.MAX_BONES)
	for i := range bones {
		bones[i] = BoneFrame{Bone: uint8(i), Rotation: quant.EncodeQuat(pose.QuatFromEuler(float64(i)*0.1, 0, 0))}
	}
	return bones
}

func testStreamMessages() []StreamMessage {
	return []StreamMessage{
		&AgentIFrame{
			ID:              7,
			Position:        pose.Vector3{X: 1, Y: 2, Z: 3},
			Rotation:        quant.EncodeQuat(pose.QuatFromEuler(0.3, 1.2, -0.5)),
			LinearVelocity:  pose.Vector3{X: 0.5},
			AngularVelocity: pose.Vector3{Y: -1},
			Bones:           []BoneFrame{{Bone: 3, Rotation: quant.IdentityPackedQuat}, {Bone: 63, Rotation: 12345}},
		},
		&AgentIFrame{ID: 65535, Bones: fullBones()},
		&ObjectIFrame{Object: testObject, ID: 1, Position: pose.Vector3{X: -4}, Rotation: quant.IdentityPackedQuat},
		&OwnershipClaim{Object: testObject, Timestamp: 1700000000000, Seq: 42},
		&OwnershipRelease{Object: testObject},
	}
}

func testDatagrams() []Datagram {
	return []Datagram{
		&AgentPFrame{
			IFrameID:        7,
			Seq:             3,
			Position:        quant.Delta{1, -2, 3},
			Rotation:        quant.IdentityPackedQuat,
			LinearVelocity:  quant.Delta{-32768, 0, 32767},
			AngularVelocity: quant.Delta{5, 5, 5},
			Bones:           []BoneFrame{{Bone: 0, Rotation: 99}},
		},
		&AgentPFrame{IFrameID: 1, Seq: 65535, Bones: fullBones()},
		&ObjectPFrame{Object: testObject, IFrameID: 2, Seq: 1, Position: quant.Delta{100, 200, 300}, Rotation: 77},
	}
}

func TestStaticSizes(t *testing.T) {
	assert.Equal(t, 364, MAX_AGENT_IFRAME_SIZE)
	assert.Equal(t, 59, MAX_OBJECT_IFRAME_SIZE)
	assert.Equal(t, 33, OWNERSHIP_CLAIM_SIZE)
	assert.Equal(t, 17, OWNERSHIP_RELEASE_SIZE)
	assert.Equal(t, 348, MAX_AGENT_PFRAME_SIZE)
	assert.Equal(t, 43, MAX_OBJECT_PFRAME_SIZE)
	assert.Equal(t, MAX_AGENT_IFRAME_SIZE, MAX_STREAM_MESSAGE_SIZE)
	assert.Equal(t, MAX_AGENT_PFRAME_SIZE, MAX_DATAGRAM_SIZE)

	b, err := EncodeStreamMessage(&AgentIFrame{Bones: fullBones()}, make([]byte, 0, MAX_STREAM_MESSAGE_SIZE))
	assert.Equal(t, nil, err)
	assert.Equal(t, MAX_AGENT_IFRAME_SIZE, len(b))

	b, err = EncodeDatagram(&AgentPFrame{Bones: fullBones()}, make([]byte, 0, MAX_DATAGRAM_SIZE))
	assert.Equal(t, nil, err)
	assert.Equal(t, MAX_AGENT_PFRAME_SIZE, len(b))
}

func TestStreamMessageRoundTrip(t *testing.T) {
	for _, msg := range testStreamMessages() {
		b, err := EncodeStreamMessage(msg, make([]byte, 0, MAX_STREAM_MESSAGE_SIZE))
		assert.Equal(t, nil, err)
		assert.Equal(t, byte(msg.MsgType()), b[0])

		decoded, err := DecodeStreamMessage(b)
		assert.Equal(t, nil, err)
		assert.Equal(t, msg, decoded)
	}
}

func TestDatagramRoundTrip(t *testing.T) {
	for _, dg := range testDatagrams() {
		b, err := EncodeDatagram(dg, make([]byte, 0, MAX_DATAGRAM_SIZE))
		assert.Equal(t, nil, err)
		assert.Equal(t, byte(dg.MsgType()), b[0])

		decoded, err := DecodeDatagram(b)
		assert.Equal(t, nil, err)
		assert.Equal(t, dg, decoded)
	}
}

func TestWireLayout(t *testing.T) {
	want := []byte{byte(DT_OBJECT_PFRAME)}
	want = append(want, string(testObject)...)
	want = append(want, 0x02, 0x01, 0x04, 0x03, 0xFF, 0xFF, 0, 0, 1, 0, 0x0D, 0x0C, 0x0B, 0x0A)
	want = append(want, make([]byte, 12)...)

	b, err := EncodeDatagram(&ObjectPFrame{Object: testObject, IFrameID: 0x0102, Seq: 0x0304, Position: quant.Delta{-1, 0, 1}, Rotation: 0x0A0B0C0D}, make([]byte, 0, MAX_DATAGRAM_SIZE))
	assert.Equal(t, nil, err)
	assert.Equal(t, want, b)

	b, err = EncodeStreamMessage(&OwnershipRelease{Object: testObject}, make([]byte, 0, MAX_STREAM_MESSAGE_SIZE))
	assert.Equal(t, nil, err)
	assert.Equal(t, append([]byte{3}, string(testObject)...), b)
}

func TestEncodeOverflow(t *testing.T) {
	_, err := EncodeDatagram(&AgentPFrame{}, make([]byte, 0, 10))
	assert.Equal(t, netutil.ErrPacketOverflow, errors.Cause(err))
	_, err = EncodeStreamMessage(&OwnershipRelease{Object: testObject}, nil)
	assert.Equal(t, netutil.ErrPacketOverflow, errors.Cause(err))
	assert.T(t, IsEncodeError(err))
	assert.T(t, !IsEncodeError(io.EOF))
}

func TestDecodeTruncated(t *testing.T) {
	for _, msg := range testStreamMessages() {
		b, _ := EncodeStreamMessage(msg, make([]byte, 0, MAX_STREAM_MESSAGE_SIZE))
		for n := 0; n < len(b); n++ {
			_, err := DecodeStreamMessage(b[:n])
			assert.Tf(t, IsMalformed(err), "%s truncated to %d: %v", msg, n, err)
		}
	}
	for _, dg := range testDatagrams() {
		b, _ := EncodeDatagram(dg, make([]byte, 0, MAX_DATAGRAM_SIZE))
		for n := 0; n < len(b); n++ {
			_, err := DecodeDatagram(b[:n])
			assert.Tf(t, IsMalformed(err), "%s truncated to %d: %v", dg, n, err)
		}
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	for _, msg := range testStreamMessages() {
		b, _ := EncodeStreamMessage(msg, make([]byte, 0, MAX_STREAM_MESSAGE_SIZE+1))
		_, err := DecodeStreamMessage(append(b, 0))
		assert.Tf(t, IsMalformed(err), "%s with trailing byte: %v", msg, err)
	}
	for _, dg := range testDatagrams() {
		b, _ := EncodeDatagram(dg, make([]byte, 0, MAX_DATAGRAM_SIZE+1))
		_, err := DecodeDatagram(append(b, 0))
		assert.Tf(t, IsMalformed(err), "%s with trailing byte: %v", dg, err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := DecodeStreamMessage([]byte{4, 0, 0})
	assert.T(t, IsMalformed(err))
	_, err = DecodeDatagram([]byte{2, 0, 0})
	assert.T(t, IsMalformed(err))
	_, err = DecodeDatagram(nil)
	assert.T(t, IsMalformed(err))
}

func TestDecodeBadBones(t *testing.T) {
	b, _ := EncodeStreamMessage(&AgentIFrame{Bones: []BoneFrame{{Bone: 1}}}, make([]byte, 0, MAX_STREAM_MESSAGE_SIZE))
	boneCountAt := 1 + 2 + absoluteRootSize

	bad := append([]byte(nil), b...)
	bad[boneCountAt] = consts.MAX_BONES + 1
	_, err := DecodeStreamMessage(bad)
	assert.T(t, IsMalformed(err), err)

	bad = append([]byte(nil), b...)
	bad[boneCountAt+1] = consts.MAX_BONES
	_, err = DecodeStreamMessage(bad)
	assert.T(t, IsMalformed(err), err)
}

func TestEncodeFrameTooLarge(t *testing.T) {
	bones := append(fullBones(), BoneFrame{Bone: 1})
	_, err := EncodeStreamMessage(&AgentIFrame{Bones: bones}, make([]byte, 0, 1024))
	assert.Equal(t, ErrFrameTooLarge, errors.Cause(err))

	_, err = EncodeDatagram(&AgentPFrame{Bones: []BoneFrame{{Bone: consts.MAX_BONES}}}, make([]byte, 0, 1024))
	assert.Equal(t, ErrFrameTooLarge, errors.Cause(err))

	_, err = EncodeStreamMessage(&OwnershipClaim{Object: "short"}, make([]byte, 0, 1024))
	assert.Equal(t, ErrInvalidObjectID, errors.Cause(err))
}

func TestControlMessage(t *testing.T) {
	b, err := EncodeControlMessage(ControlMessage{Type: CT_TICKRATE_REQUEST, Hz: 90}, make([]byte, 0, CONTROL_MESSAGE_SIZE))
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte{1, 90}, b)

	m, err := DecodeControlMessage([]byte{2, 60})
	assert.Equal(t, nil, err)
	assert.Equal(t, ControlMessage{Type: CT_TICKRATE_ACK, Hz: 60}, m)

	for _, bad := range [][]byte{nil, {1}, {1, 2, 3}, {0, 30}, {3, 30}} {
		_, err := DecodeControlMessage(bad)
		assert.T(t, IsMalformed(err), bad)
	}
}

type nopCloser struct {
	io.Writer
	closed bool
}

func (c *nopCloser) Close() error {
	c.closed = true
	return nil
}

type fakeDatagrams struct {
	sent [][]byte
	full bool
}

func (d *fakeDatagrams) TrySendDatagram(b []byte) bool {
	if d.full {
		return false
	}
	d.sent = append(d.sent, append([]byte(nil), b...))
	return true
}

func TestPeerConnection(t *testing.T) {
	var stream bytes.Buffer
	w := &nopCloser{Writer: &stream}
	dgs := &fakeDatagrams{}
	pc := NewPeerConnection(w, dgs)

	assert.Equal(t, nil, pc.SendAgentIFrame(&AgentIFrame{ID: 1}))
	assert.Equal(t, nil, pc.SendOwnershipClaim(testObject, 10, 1))
	assert.Equal(t, nil, pc.SendOwnershipRelease(testObject))
	assert.T(t, pc.SendObjectIFrame(&ObjectIFrame{Object: "bad"}) != nil)

	msg, err := netutil.ReadMessage(&stream, nil, MAX_STREAM_MESSAGE_SIZE)
	assert.Equal(t, nil, err)
	decoded, err := DecodeStreamMessage(msg)
	assert.Equal(t, nil, err)
	assert.Equal(t, &AgentIFrame{ID: 1}, decoded)

	msg, _ = netutil.ReadMessage(&stream, nil, MAX_STREAM_MESSAGE_SIZE)
	decoded, _ = DecodeStreamMessage(msg)
	assert.Equal(t, &OwnershipClaim{Object: testObject, Timestamp: 10, Seq: 1}, decoded)

	msg, _ = netutil.ReadMessage(&stream, nil, MAX_STREAM_MESSAGE_SIZE)
	decoded, _ = DecodeStreamMessage(msg)
	assert.Equal(t, &OwnershipRelease{Object: testObject}, decoded)
	assert.Equal(t, 0, stream.Len())

	sent, err := pc.SendAgentPFrame(&AgentPFrame{IFrameID: 1, Seq: 1})
	assert.T(t, sent)
	assert.Equal(t, nil, err)
	dgs.full = true
	sent, err = pc.SendObjectPFrame(&ObjectPFrame{Object: testObject, IFrameID: 1, Seq: 1})
	assert.T(t, !sent)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(dgs.sent))

	dg, err := DecodeDatagram(dgs.sent[0])
	assert.Equal(t, nil, err)
	assert.Equal(t, &AgentPFrame{IFrameID: 1, Seq: 1}, dg)

	assert.Equal(t, nil, pc.Close())
	assert.T(t, pc.IsClosed())
	assert.T(t, w.closed)
}
