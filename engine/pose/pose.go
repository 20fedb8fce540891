package pose

import (
	"fmt"
	"sync"
)

// BoneRotation is the absolute rotation of one skeleton bone
type BoneRotation struct {
	Bone     uint8
	Rotation Quat
}

// Pose is the absolute state of a replicated entity
//
// Bones is only used by agents. It holds the actively driven bones only: every P-frame carries
// all of them, and receivers keep the keyframe rotation of any bone left out.
type Pose struct {
	Position        Vector3
	Rotation        Quat
	LinearVelocity  Vector3
	AngularVelocity Vector3
	Bones           []BoneRotation
}

func (p Pose) String() string {
	return fmt.Sprintf("Pose<pos=%s rot=%s bones=%d>", p.Position, p.Rotation, len(p.Bones))
}

// Clone returns a copy of p that shares no memory with it
func (p Pose) Clone() Pose {
	if p.Bones != nil {
		p.Bones = append([]BoneRotation(nil), p.Bones...)
	}
	return p
}

// Keyframe is the absolute pose that starts epoch ID
//
// Gen is set by receivers and numbers the keyframes stored in one slot, so a keyframe that
// reuses the ID of the previous one is still told apart.
type Keyframe struct {
	ID   uint16
	Gen  uint32
	Pose Pose
}

// Slot holds an optional value guarded by its own lock
//
// The lock is only held to copy the value in or out.
type Slot[T any] struct {
	mu  sync.Mutex
	val T
	ok  bool
}

// Store replaces the value
func (s *Slot[T]) Store(v T) {
	s.mu.Lock()
	s.val = v
	s.ok = true
	s.mu.Unlock()
}

// Load returns the value and whether one was stored
func (s *Slot[T]) Load() (v T, ok bool) {
	s.mu.Lock()
	v, ok = s.val, s.ok
	s.mu.Unlock()
	return
}

// TryLoad is Load without waiting: ok is false if the slot is empty or currently locked
func (s *Slot[T]) TryLoad() (v T, ok bool) {
	if !s.mu.TryLock() {
		return
	}
	v, ok = s.val, s.ok
	s.mu.Unlock()
	return
}

// Clear empties the slot
func (s *Slot[T]) Clear() {
	var zero T
	s.mu.Lock()
	s.val = zero
	s.ok = false
	s.mu.Unlock()
}

// Slots is the shared pose state of one entity: the current keyframe and the latest pose
//
// The two slots are locked independently so the writer of one never blocks a reader of the other.
type Slots struct {
	I Slot[Keyframe]
	P Slot[Pose]
}
