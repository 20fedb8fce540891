// Package reorder restores sequence order of P-frames received over an unordered channel.
package reorder

import (
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
)

// CAPACITY is the number of out-of-order frames one Buffer holds
const CAPACITY = consts.REORDER_BUFFER_CAPACITY

// Result tells what Insert did with a frame
type Result int

const (
	// Delivered means the frame was delivered, possibly followed by buffered successors
	Delivered Result = iota
	// Buffered means the frame is held until its predecessors arrive
	Buffered
	// SkippedAhead means the gap was too large: the frame was delivered and older buffered frames dropped
	SkippedAhead
	// StaleEpoch means the frame belongs to another epoch and was discarded
	StaleEpoch
	// Duplicate means the frame is at or before the last delivered sequence and was discarded
	Duplicate
)

var resultNames = [...]string{"Delivered", "Buffered", "SkippedAhead", "StaleEpoch", "Duplicate"}

func (r Result) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "Result?"
}

type slot[F any] struct {
	seq   uint16
	frame F
	ok    bool
}

// Buffer is the reorder buffer of one logical stream (one entity in one epoch)
//
// Sequence numbers are compared with wrapping u16 arithmetic. Buffer is not safe for concurrent use.
type Buffer[F any] struct {
	epoch       uint16
	started     bool
	lastApplied uint16
	ring        [CAPACITY]slot[F]
}

// New creates a Buffer tracking epoch
func New[F any](epoch uint16) *Buffer[F] {
	return &Buffer[F]{epoch: epoch}
}

// Reset starts tracking a new epoch: nothing delivered, ring cleared
func (b *Buffer[F]) Reset(epoch uint16) {
	b.epoch = epoch
	b.started = false
	b.lastApplied = 0
	b.clearRing()
}

// Epoch returns the epoch being tracked
func (b *Buffer[F]) Epoch() uint16 {
	return b.epoch
}

// LastApplied returns the last delivered sequence number, 0 if nothing was delivered in this epoch
func (b *Buffer[F]) LastApplied() uint16 {
	return b.lastApplied
}

// Pending returns the number of buffered frames
func (b *Buffer[F]) Pending() (n int) {
	for i := range b.ring {
		if b.ring[i].ok {
			n++
		}
	}
	return
}

// Insert offers frame seq of epoch; deliver is called for every frame released, in sequence order
func (b *Buffer[F]) Insert(epoch uint16, seq uint16, frame F, deliver func(F)) Result {
	if epoch != b.epoch {
		if consts.DEBUG_REORDER {
			gwlog.Debugf("reorder: epoch %d seq %d is stale, tracking epoch %d", epoch, seq, b.epoch)
		}
		return StaleEpoch
	}

	if !b.started && seq == 1 {
		b.apply(seq, frame, deliver)
		b.drain(deliver)
		return Delivered
	}

	if b.started {
		if d := seq - b.lastApplied; d == 0 || d >= 0x8000 {
			return Duplicate
		}
	}

	next := b.lastApplied + 1
	if seq == next {
		b.apply(seq, frame, deliver)
		b.drain(deliver)
		return Delivered
	}

	if gap := seq - next; gap <= CAPACITY {
		b.ring[slotIndex(seq)] = slot[F]{seq: seq, frame: frame, ok: true}
		if consts.DEBUG_REORDER {
			gwlog.Debugf("reorder: epoch %d buffered seq %d, last applied %d", epoch, seq, b.lastApplied)
		}
		return Buffered
	}

	if consts.DEBUG_REORDER {
		gwlog.Debugf("reorder: epoch %d skips ahead from %d to %d, dropping %d buffered", epoch, b.lastApplied, seq, b.Pending())
	}
	b.apply(seq, frame, deliver)
	b.clearRing()
	return SkippedAhead
}

func (b *Buffer[F]) apply(seq uint16, frame F, deliver func(F)) {
	b.started = true
	b.lastApplied = seq
	deliver(frame)
}

func (b *Buffer[F]) drain(deliver func(F)) {
	for {
		next := b.lastApplied + 1
		s := &b.ring[slotIndex(next)]
		if !s.ok || s.seq != next {
			return
		}
		frame := s.frame
		*s = slot[F]{}
		b.apply(next, frame, deliver)
	}
}

func (b *Buffer[F]) clearRing() {
	for i := range b.ring {
		b.ring[i] = slot[F]{}
	}
}

func slotIndex(seq uint16) int {
	return int((seq - 1) % CAPACITY)
}
