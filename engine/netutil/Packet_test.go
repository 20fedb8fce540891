package netutil

import (
	"testing"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
)

func TestPacketAppendRead(t *testing.T) {
	var buf [64]byte
	p := NewPacket(buf[:0])
	p.AppendByte(0xAB)
	p.AppendUint16(0x1234)
	p.AppendInt16(-2)
	p.AppendUint32(0xDEADBEEF)
	p.AppendUint64(1 << 40)
	p.AppendFloat32(1.5)
	p.AppendBytes([]byte{1, 2, 3})
	p.AppendString("ab")
	assert.Equal(t, nil, p.Err())
	assert.Equal(t, 1+2+2+4+8+4+3+2, p.GetPayloadLen())
	assert.Equal(t, []byte{0xAB, 0x34, 0x12}, p.Payload()[:3])

	r := NewReadPacket(p.Payload())
	assert.Equal(t, byte(0xAB), r.ReadOneByte())
	assert.Equal(t, uint16(0x1234), r.ReadUint16())
	assert.Equal(t, int16(-2), r.ReadInt16())
	assert.Equal(t, uint32(0xDEADBEEF), r.ReadUint32())
	assert.Equal(t, uint64(1<<40), r.ReadUint64())
	assert.Equal(t, float32(1.5), r.ReadFloat32())
	assert.Equal(t, []byte{1, 2, 3}, r.ReadBytes(3))
	assert.Equal(t, []byte("ab"), r.ReadBytes(2))
	assert.T(t, !r.HasUnreadPayload())
	assert.Equal(t, nil, r.Err())
}

func TestPacketOverflow(t *testing.T) {
	p := NewPacket(make([]byte, 0, 5))
	p.AppendUint32(1)
	p.AppendUint16(2)
	assert.Equal(t, ErrPacketOverflow, errors.Cause(p.Err()))
	// sticky: later appends that would fit are ignored
	p.AppendByte(3)
	assert.Equal(t, 4, p.GetPayloadLen())

	p.Reset(make([]byte, 0, 5))
	assert.Equal(t, nil, p.Err())
	assert.Equal(t, 5, p.PayloadCap())
}

func TestPacketTruncated(t *testing.T) {
	r := NewReadPacket([]byte{1, 2, 3})
	assert.Equal(t, uint16(0x0201), r.ReadUint16())
	assert.Equal(t, uint32(0), r.ReadUint32())
	assert.Equal(t, ErrPacketTruncated, errors.Cause(r.Err()))
	assert.Equal(t, byte(0), r.ReadOneByte())
	assert.Equal(t, []byte{3}, r.UnreadPayload())
}

func BenchmarkPacketAppend(b *testing.B) {
	var buf [128]byte
	var p Packet
	for i := 0; i < b.N; i++ {
		p.Reset(buf[:0])
		p.AppendUint16(uint16(i))
		p.AppendFloat32(1)
		p.AppendUint64(uint64(i))
	}
}
