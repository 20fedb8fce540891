package netutil

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

var (
	packetEndian = binary.LittleEndian

	// ErrPacketOverflow is set when appending past the capacity of the packet buffer
	ErrPacketOverflow = errors.New("packet overflow")
	// ErrPacketTruncated is set when reading past the end of the payload
	ErrPacketTruncated = errors.New("packet truncated")
)

// Packet is a little endian writer and reader over a caller supplied buffer
//
// Packet never allocates: appending past cap(buf) or reading past the payload leaves the packet
// untouched and sets a sticky error that is returned by Err. Callers check Err once after a
// sequence of Append or Read calls.
type Packet struct {
	bytes      []byte
	payloadLen int
	readCursor int
	err        error
}

// NewPacket creates a packet for writing into buf[:cap(buf)]
func NewPacket(buf []byte) *Packet {
	p := &Packet{}
	p.Reset(buf)
	return p
}

// NewReadPacket creates a packet for reading payload
func NewReadPacket(payload []byte) *Packet {
	p := &Packet{}
	p.ResetRead(payload)
	return p
}

// Reset reuses the packet for writing into buf[:cap(buf)]
func (p *Packet) Reset(buf []byte) {
	p.bytes = buf[:cap(buf)]
	p.payloadLen = 0
	p.readCursor = 0
	p.err = nil
}

// ResetRead reuses the packet for reading payload
func (p *Packet) ResetRead(payload []byte) {
	p.bytes = payload
	p.payloadLen = len(payload)
	p.readCursor = 0
	p.err = nil
}

// Err returns the first overflow or truncation error
func (p *Packet) Err() error {
	return p.err
}

// Payload returns the written payload
func (p *Packet) Payload() []byte {
	return p.bytes[:p.payloadLen]
}

// GetPayloadLen returns the length of written payload
func (p *Packet) GetPayloadLen() int {
	return p.payloadLen
}

// PayloadCap returns the capacity of the packet buffer
func (p *Packet) PayloadCap() int {
	return len(p.bytes)
}

// UnreadPayload returns the unread payload
func (p *Packet) UnreadPayload() []byte {
	return p.bytes[p.readCursor:p.payloadLen]
}

// HasUnreadPayload returns if there is payload not read yet
func (p *Packet) HasUnreadPayload() bool {
	return p.readCursor < p.payloadLen
}

func (p *Packet) reserve(n int) []byte {
	if p.err != nil {
		return nil
	}
	if p.payloadLen+n > len(p.bytes) {
		p.err = errors.Wrapf(ErrPacketOverflow, "append %d bytes at %d/%d", n, p.payloadLen, len(p.bytes))
		return nil
	}
	b := p.bytes[p.payloadLen : p.payloadLen+n]
	p.payloadLen += n
	return b
}

func (p *Packet) consume(n int) []byte {
	if p.err != nil {
		return nil
	}
	if p.readCursor+n > p.payloadLen {
		p.err = errors.Wrapf(ErrPacketTruncated, "read %d bytes at %d/%d", n, p.readCursor, p.payloadLen)
		return nil
	}
	b := p.bytes[p.readCursor : p.readCursor+n]
	p.readCursor += n
	return b
}

// AppendByte appends one byte to the end of payload
func (p *Packet) AppendByte(v byte) {
	if b := p.reserve(1); b != nil {
		b[0] = v
	}
}

// ReadOneByte reads one byte from the beginning of unread payload
func (p *Packet) ReadOneByte() byte {
	if b := p.consume(1); b != nil {
		return b[0]
	}
	return 0
}

// AppendUint16 appends one uint16 to the end of payload
func (p *Packet) AppendUint16(v uint16) {
	if b := p.reserve(2); b != nil {
		packetEndian.PutUint16(b, v)
	}
}

// ReadUint16 reads one uint16 from the beginning of unread payload
func (p *Packet) ReadUint16() uint16 {
	if b := p.consume(2); b != nil {
		return packetEndian.Uint16(b)
	}
	return 0
}

// AppendInt16 appends one int16 to the end of payload
func (p *Packet) AppendInt16(v int16) {
	p.AppendUint16(uint16(v))
}

// ReadInt16 reads one int16 from the beginning of unread payload
func (p *Packet) ReadInt16() int16 {
	return int16(p.ReadUint16())
}

// AppendUint32 appends one uint32 to the end of payload
func (p *Packet) AppendUint32(v uint32) {
	if b := p.reserve(4); b != nil {
		packetEndian.PutUint32(b, v)
	}
}

// ReadUint32 reads one uint32 from the beginning of unread payload
func (p *Packet) ReadUint32() uint32 {
	if b := p.consume(4); b != nil {
		return packetEndian.Uint32(b)
	}
	return 0
}

// AppendUint64 appends one uint64 to the end of payload
func (p *Packet) AppendUint64(v uint64) {
	if b := p.reserve(8); b != nil {
		packetEndian.PutUint64(b, v)
	}
}

// ReadUint64 reads one uint64 from the beginning of unread payload
func (p *Packet) ReadUint64() uint64 {
	if b := p.consume(8); b != nil {
		return packetEndian.Uint64(b)
	}
	return 0
}

// AppendFloat32 appends one float32 to the end of payload
func (p *Packet) AppendFloat32(f float32) {
	p.AppendUint32(math.Float32bits(f))
}

// ReadFloat32 reads one float32 from the beginning of unread payload
func (p *Packet) ReadFloat32() float32 {
	return math.Float32frombits(p.ReadUint32())
}

// AppendBytes appends slice of bytes to the end of payload
func (p *Packet) AppendBytes(v []byte) {
	if b := p.reserve(len(v)); b != nil {
		copy(b, v)
	}
}

// AppendString appends the bytes of s without a length prefix
func (p *Packet) AppendString(s string) {
	if b := p.reserve(len(s)); b != nil {
		copy(b, s)
	}
}

// ReadBytes reads size bytes from the beginning of unread payload; bytes are not copied
func (p *Packet) ReadBytes(size int) []byte {
	return p.consume(size)
}
