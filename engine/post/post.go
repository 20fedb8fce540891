package post

import (
	"sync"

	"github.com/xiaonanln/gwsync/engine/gwutils"
)

// Callback is the type of functions to be posted
type Callback func()

// Queue runs callbacks posted from any goroutine in the goroutine calling Tick
type Queue struct {
	lock      sync.Mutex
	callbacks []Callback
	spare     []Callback
}

// Post adds f to the queue; it is safe to call from any goroutine
func (q *Queue) Post(f Callback) {
	q.lock.Lock()
	q.callbacks = append(q.callbacks, f)
	q.lock.Unlock()
}

// Len returns the number of callbacks waiting for Tick
func (q *Queue) Len() int {
	q.lock.Lock()
	n := len(q.callbacks)
	q.lock.Unlock()
	return n
}

// Tick runs posted callbacks until none is left, including those posted by the callbacks themselves
//
// A panicking callback is logged and does not stop the others.
func (q *Queue) Tick() (n int) {
	for {
		q.lock.Lock()
		if len(q.callbacks) == 0 {
			q.lock.Unlock()
			return
		}
		run := q.callbacks
		clear(q.spare)
		q.callbacks = q.spare[:0]
		q.lock.Unlock()

		for _, f := range run {
			gwutils.RunPanicless(f)
		}
		n += len(run)
		q.spare = run
	}
}

var mainQueue Queue

// Post a callback which will be executed by the main routine
func Post(f Callback) {
	mainQueue.Post(f)
}

// Tick is called by the main routine to run all posted callbacks
func Tick() int {
	return mainQueue.Tick()
}
