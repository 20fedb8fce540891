package session

import (
	"sync"

	"github.com/xiaonanln/gwsync/engine/proto"
)

// outbox queues ownership messages for the send loop of one session
type outbox struct {
	lock    sync.Mutex
	pending []proto.StreamMessage
	spare   []proto.StreamMessage
}

func (o *outbox) push(msg proto.StreamMessage) {
	o.lock.Lock()
	o.pending = append(o.pending, msg)
	o.lock.Unlock()
}

// swap takes all pending messages in push order
//
// The returned slice is only valid until the next swap.
func (o *outbox) swap() []proto.StreamMessage {
	o.lock.Lock()
	msgs := o.pending
	clear(o.spare) // already sent
	o.pending = o.spare[:0]
	o.spare = msgs
	o.lock.Unlock()
	return msgs
}

func (o *outbox) len() int {
	o.lock.Lock()
	defer o.lock.Unlock()
	return len(o.pending)
}
