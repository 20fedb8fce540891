package transport

import (
	"sync"

	"github.com/xiaonanln/gwsync/engine/consts"
)

// Datagram is a pooled copy of an outgoing datagram, queued between TrySendDatagram and the
// routine that hands it to the network
type Datagram struct {
	n   int
	buf [consts.MAX_TRANSPORT_DATAGRAM_SIZE]byte
}

var datagramPool = sync.Pool{
	New: func() interface{} {
		return &Datagram{}
	},
}

// NewDatagram copies b into a pooled buffer; it fails if b is over MAX_TRANSPORT_DATAGRAM_SIZE
func NewDatagram(b []byte) (*Datagram, bool) {
	if len(b) > consts.MAX_TRANSPORT_DATAGRAM_SIZE {
		return nil, false
	}
	d := datagramPool.Get().(*Datagram)
	d.n = copy(d.buf[:], b)
	return d, true
}

// Bytes returns the payload, valid until Release
func (d *Datagram) Bytes() []byte {
	return d.buf[:d.n]
}

// Release puts d back to the pool; d must not be used afterwards
func (d *Datagram) Release() {
	d.n = 0
	datagramPool.Put(d)
}
