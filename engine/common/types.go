package common

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/uuid"
)

// OBJECTID_LENGTH is the length of Object IDs
const OBJECTID_LENGTH = uuid.UUID_LENGTH

// PEERID_LENGTH is the length of Peer IDs
const PEERID_LENGTH = sha256.Size

// ObjectID identifies a replicated dynamic object
type ObjectID string

// IsNil returns if ObjectID is nil
func (id ObjectID) IsNil() bool {
	return id == ""
}

// GenObjectID generates a new ObjectID
func GenObjectID() ObjectID {
	return ObjectID(uuid.GenUUID())
}

// MustObjectID assures a string to be ObjectID
func MustObjectID(id string) ObjectID {
	if len(id) != OBJECTID_LENGTH {
		gwlog.Panicf("%s of len %d is not a valid object ID (len=%d)", id, len(id), OBJECTID_LENGTH)
	}
	return ObjectID(id)
}

// PeerID is the stable identity of a peer, used as map key and as the final ownership tiebreak
type PeerID [PEERID_LENGTH]byte

// NilPeerID is the zero PeerID
var NilPeerID PeerID

// PeerIDFromCertificate derives the PeerID of a peer from its DER encoded certificate
func PeerIDFromCertificate(der []byte) PeerID {
	return PeerID(sha256.Sum256(der))
}

// PeerIDFromString derives a PeerID from a configured name
func PeerIDFromString(name string) PeerID {
	return PeerID(sha256.Sum256([]byte(name)))
}

// GenPeerID generates a random PeerID
func GenPeerID() PeerID {
	var id PeerID
	if _, err := rand.Read(id[:]); err != nil {
		gwlog.Panicf("generate peer id failed: %v", err)
	}
	return id
}

// ParsePeerID parses the hex form produced by PeerID.Hex
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrap(err, "parse peer id")
	}
	if len(b) != PEERID_LENGTH {
		return id, errors.Errorf("parse peer id: length is %d, should be %d", len(b), PEERID_LENGTH)
	}
	copy(id[:], b)
	return id, nil
}

// IsNil returns if PeerID is all zero
func (id PeerID) IsNil() bool {
	return id == NilPeerID
}

// Compare compares two PeerIDs bytewise
func (id PeerID) Compare(other PeerID) int {
	return bytes.Compare(id[:], other[:])
}

// Hex returns the full hex form of PeerID
func (id PeerID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id PeerID) String() string {
	return "Peer<" + hex.EncodeToString(id[:4]) + ">"
}

// ObjectIDSet is the data structure for a set of object IDs
type ObjectIDSet map[ObjectID]struct{}

// Add adds an object ID to ObjectIDSet
func (s ObjectIDSet) Add(id ObjectID) {
	s[id] = struct{}{}
}

// Del removes an object ID from ObjectIDSet
func (s ObjectIDSet) Del(id ObjectID) {
	delete(s, id)
}

// Contains checks if object ID is in ObjectIDSet
func (s ObjectIDSet) Contains(id ObjectID) bool {
	_, ok := s[id]
	return ok
}

// ToList convert ObjectIDSet to a slice of object IDs
func (s ObjectIDSet) ToList() []ObjectID {
	list := make([]ObjectID, 0, len(s))
	for id := range s {
		list = append(list, id)
	}
	return list
}
