// Package ownership is the last-writer-wins register deciding which peer publishes each object.
//
// Claims are ordered by (timestamp, seq, peer id bytes); a claim wins only if it is strictly
// greater than the current record, so every peer converges on the same owner without coordination.
package ownership

import (
	"fmt"
	"sync"

	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
)

// Record is the current claim of one object
type Record struct {
	Owner     common.PeerID
	Timestamp uint64
	Seq       uint64
}

func (r Record) String() string {
	return fmt.Sprintf("Record<%s ts=%d seq=%d>", r.Owner, r.Timestamp, r.Seq)
}

// Less orders records by timestamp, then seq, then owner bytes
func (r Record) Less(o Record) bool {
	if r.Timestamp != o.Timestamp {
		return r.Timestamp < o.Timestamp
	}
	if r.Seq != o.Seq {
		return r.Seq < o.Seq
	}
	return r.Owner.Compare(o.Owner) < 0
}

// Register maps objects to their owners
//
// Every operation is atomic; RemoveAllBy scans under the same lock.
type Register struct {
	mu      sync.Mutex
	records map[common.ObjectID]Record
}

// NewRegister creates an empty Register
func NewRegister() *Register {
	return &Register{
		records: map[common.ObjectID]Record{},
	}
}

// TryClaim records the claim if obj is unowned or the claim dominates the current record
//
// It returns whether claimer now owns obj by this claim.
func (r *Register) TryClaim(obj common.ObjectID, claimer common.PeerID, timestamp uint64, seq uint64) bool {
	claim := Record{Owner: claimer, Timestamp: timestamp, Seq: seq}

	r.mu.Lock()
	cur, ok := r.records[obj]
	won := !ok || cur.Less(claim)
	if won {
		r.records[obj] = claim
	}
	r.mu.Unlock()

	if consts.DEBUG_OWNERSHIP {
		gwlog.Debugf("ownership: %s claims %s with %s: won=%v (was %v %s)", claimer, obj, claim, won, ok, cur)
	}
	return won
}

// Release removes the record of obj if releaser owns it
func (r *Register) Release(obj common.ObjectID, releaser common.PeerID) bool {
	r.mu.Lock()
	cur, ok := r.records[obj]
	released := ok && cur.Owner == releaser
	if released {
		delete(r.records, obj)
	}
	r.mu.Unlock()

	if consts.DEBUG_OWNERSHIP {
		gwlog.Debugf("ownership: %s releases %s: %v", releaser, obj, released)
	}
	return released
}

// Owner returns the owner of obj
func (r *Register) Owner(obj common.ObjectID) (common.PeerID, bool) {
	rec, ok := r.Record(obj)
	return rec.Owner, ok
}

// Record returns the current record of obj
func (r *Register) Record(obj common.ObjectID) (Record, bool) {
	r.mu.Lock()
	rec, ok := r.records[obj]
	r.mu.Unlock()
	return rec, ok
}

// IsOwner checks if peer owns obj
func (r *Register) IsOwner(obj common.ObjectID, peer common.PeerID) bool {
	owner, ok := r.Owner(obj)
	return ok && owner == peer
}

// ObjectsOwnedBy returns all objects owned by peer
func (r *Register) ObjectsOwnedBy(peer common.PeerID) []common.ObjectID {
	var objs []common.ObjectID
	r.mu.Lock()
	for obj, rec := range r.records {
		if rec.Owner == peer {
			objs = append(objs, obj)
		}
	}
	r.mu.Unlock()
	return objs
}

// RemoveAllBy drops every record owned by peer and returns the freed objects
func (r *Register) RemoveAllBy(peer common.PeerID) []common.ObjectID {
	var removed []common.ObjectID
	r.mu.Lock()
	for obj, rec := range r.records {
		if rec.Owner == peer {
			delete(r.records, obj)
			removed = append(removed, obj)
		}
	}
	r.mu.Unlock()

	if consts.DEBUG_OWNERSHIP && len(removed) > 0 {
		gwlog.Debugf("ownership: removed %d objects owned by %s", len(removed), peer)
	}
	return removed
}

// Len returns the number of owned objects
func (r *Register) Len() int {
	r.mu.Lock()
	n := len(r.records)
	r.mu.Unlock()
	return n
}
