// Package quant implements the lossy fixed width encodings used by pose frames.
//
// All functions are pure and never fail: inputs out of range are clamped.
package quant

import (
	"math"

	"github.com/xiaonanln/gwsync/engine/pose"
)

const (
	// POSITION_SCALE is the number of position delta steps per unit (1mm)
	POSITION_SCALE = 1000
	// VELOCITY_SCALE is the number of velocity delta steps per unit/s
	VELOCITY_SCALE = 500

	quatFieldBits = 10
	quatFieldMax  = 1<<quatFieldBits - 1
	quatFieldMask = quatFieldMax
)

// quatRange is the largest magnitude a non-largest component of a unit quaternion can have
var quatRange = 1 / math.Sqrt2

// PackedQuat is a smallest-three quaternion: bits 31..30 are the index of the dropped (largest)
// component, followed by three 10 bit fields for the remaining components in x, y, z, w order
type PackedQuat uint32

// IdentityPackedQuat is EncodeQuat(pose.IdentityQuat)
var IdentityPackedQuat = EncodeQuat(pose.IdentityQuat)

// Delta is a fixed point 16 bit per axis difference from a baseline vector
type Delta [3]int16

// EncodeQuat quantizes q; zero or non-finite quaternions encode as identity
func EncodeQuat(q pose.Quat) PackedQuat {
	q = q.Normalized()
	c := [4]float64{float64(q.X), float64(q.Y), float64(q.Z), float64(q.W)}

	largest := 0
	for i := 1; i < 4; i++ {
		if math.Abs(c[i]) > math.Abs(c[largest]) {
			largest = i
		}
	}
	if c[largest] < 0 {
		for i := range c {
			c[i] = -c[i]
		}
	}

	packed := uint32(largest) << (3 * quatFieldBits)
	shift := 2 * quatFieldBits
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		packed |= encodeQuatField(c[i]) << shift
		shift -= quatFieldBits
	}
	return PackedQuat(packed)
}

func encodeQuatField(v float64) uint32 {
	f := math.Round((v + quatRange) / (2 * quatRange) * quatFieldMax)
	if f < 0 {
		f = 0
	} else if f > quatFieldMax {
		f = quatFieldMax
	}
	return uint32(f)
}

func decodeQuatField(f uint32) float64 {
	return float64(f)/quatFieldMax*(2*quatRange) - quatRange
}

// DecodeQuat restores a unit quaternion from its packed form
func DecodeQuat(p PackedQuat) pose.Quat {
	largest := int(uint32(p) >> (3 * quatFieldBits))
	var c [4]float64
	sum := 0.0
	shift := 2 * quatFieldBits
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		c[i] = decodeQuatField((uint32(p) >> shift) & quatFieldMask)
		sum += c[i] * c[i]
		shift -= quatFieldBits
	}
	c[largest] = math.Sqrt(math.Max(0, 1-sum))

	q := pose.Quat{X: float32(c[0]), Y: float32(c[1]), Z: float32(c[2]), W: float32(c[3])}
	return q.Normalized()
}

func encodeDelta(cur, base pose.Vector3, scale float64) (d Delta) {
	diff := [3]float64{
		float64(cur.X) - float64(base.X),
		float64(cur.Y) - float64(base.Y),
		float64(cur.Z) - float64(base.Z),
	}
	for i, v := range diff {
		d[i] = clampInt16(math.Round(v * scale))
	}
	return
}

func clampInt16(v float64) int16 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func decodeDelta(d Delta, base pose.Vector3, scale float64) pose.Vector3 {
	return pose.Vector3{
		X: float32(float64(base.X) + float64(d[0])/scale),
		Y: float32(float64(base.Y) + float64(d[1])/scale),
		Z: float32(float64(base.Z) + float64(d[2])/scale),
	}
}

// EncodePosition quantizes cur relative to base in 1mm steps
func EncodePosition(cur, base pose.Vector3) Delta {
	return encodeDelta(cur, base, POSITION_SCALE)
}

// DecodePosition is the left inverse of EncodePosition up to quantization error
func DecodePosition(d Delta, base pose.Vector3) pose.Vector3 {
	return decodeDelta(d, base, POSITION_SCALE)
}

// EncodeVelocity quantizes a linear or angular velocity relative to base
func EncodeVelocity(cur, base pose.Vector3) Delta {
	return encodeDelta(cur, base, VELOCITY_SCALE)
}

// DecodeVelocity is the left inverse of EncodeVelocity up to quantization error
func DecodeVelocity(d Delta, base pose.Vector3) pose.Vector3 {
	return decodeDelta(d, base, VELOCITY_SCALE)
}
