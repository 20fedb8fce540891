package pose

import (
	"fmt"
	"math"
)

// Vector3 is a position, linear velocity or angular velocity
type Vector3 struct {
	X float32
	Y float32
	Z float32
}

func (p Vector3) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", p.X, p.Y, p.Z)
}

// DistanceTo calculates distance between two positions
func (p Vector3) DistanceTo(o Vector3) float32 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	dz := p.Z - o.Z
	return float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
}

// Sub calculates Vector3 p - Vector3 o
func (p Vector3) Sub(o Vector3) Vector3 {
	return Vector3{p.X - o.X, p.Y - o.Y, p.Z - o.Z}
}

// Add calculates Vector3 p + Vector3 o
func (p Vector3) Add(o Vector3) Vector3 {
	return Vector3{p.X + o.X, p.Y + o.Y, p.Z + o.Z}
}

// Mul calculates Vector3 p * m
func (p Vector3) Mul(m float32) Vector3 {
	return Vector3{p.X * m, p.Y * m, p.Z * m}
}

// Quat is a rotation quaternion
type Quat struct {
	X float32
	Y float32
	Z float32
	W float32
}

// IdentityQuat is the rotation that does nothing
var IdentityQuat = Quat{0, 0, 0, 1}

func (q Quat) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f, %.4f)", q.X, q.Y, q.Z, q.W)
}

// QuatFromAxisAngle creates the rotation of angle radians around axis
func QuatFromAxisAngle(axis Vector3, angle float64) Quat {
	l := math.Sqrt(float64(axis.X*axis.X + axis.Y*axis.Y + axis.Z*axis.Z))
	if l == 0 {
		return IdentityQuat
	}
	s := math.Sin(angle/2) / l
	return Quat{
		X: float32(float64(axis.X) * s),
		Y: float32(float64(axis.Y) * s),
		Z: float32(float64(axis.Z) * s),
		W: float32(math.Cos(angle / 2)),
	}
}

// QuatFromEuler creates a rotation from yaw (Y), pitch (X) and roll (Z) in radians, applied in YXZ order
func QuatFromEuler(pitch, yaw, roll float64) Quat {
	cx, sx := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	cz, sz := math.Cos(roll/2), math.Sin(roll/2)
	return Quat{
		X: float32(sx*cy*cz + cx*sy*sz),
		Y: float32(cx*sy*cz - sx*cy*sz),
		Z: float32(cx*cy*sz - sx*sy*cz),
		W: float32(cx*cy*cz + sx*sy*sz),
	}
}

// Components returns x, y, z, w in that order
func (q Quat) Components() [4]float32 {
	return [4]float32{q.X, q.Y, q.Z, q.W}
}

// QuatFromComponents is the inverse of Components
func QuatFromComponents(c [4]float32) Quat {
	return Quat{c[0], c[1], c[2], c[3]}
}

// Dot calculates the 4D dot product
func (q Quat) Dot(o Quat) float64 {
	return float64(q.X)*float64(o.X) + float64(q.Y)*float64(o.Y) + float64(q.Z)*float64(o.Z) + float64(q.W)*float64(o.W)
}

// Length returns the norm of q
func (q Quat) Length() float64 {
	return math.Sqrt(q.Dot(q))
}

// Normalized returns q scaled to unit length, or identity if q is zero or not finite
func (q Quat) Normalized() Quat {
	l := q.Length()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return IdentityQuat
	}
	return Quat{float32(float64(q.X) / l), float32(float64(q.Y) / l), float32(float64(q.Z) / l), float32(float64(q.W) / l)}
}

// AngleTo returns the rotation angle in radians between q and o; q and -q are the same rotation
func (q Quat) AngleTo(o Quat) float64 {
	d := math.Abs(q.Normalized().Dot(o.Normalized()))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}
