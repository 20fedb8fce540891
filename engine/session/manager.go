package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/gwutils"
	"github.com/xiaonanln/gwsync/engine/netutil"
	"github.com/xiaonanln/gwsync/engine/opmon"
	"github.com/xiaonanln/gwsync/engine/ownership"
	"github.com/xiaonanln/gwsync/engine/pose"
	"github.com/xiaonanln/gwsync/engine/proto"
	"github.com/xiaonanln/gwsync/engine/transport"
)

var errManagerClosed = errors.New("session manager closed")

// Options configures a Manager
type Options struct {
	// Tickrate is the rate requested from every peer we send to
	Tickrate uint8
	// MaxTickrate is the highest rate a peer may send to us at
	MaxTickrate uint8
	// IFrameIntervalTicks is the number of local ticks between two agent keyframes
	IFrameIntervalTicks int
	// PFrameApplyPacing is the pause between P-frames released together by a reorder buffer, 0 disables it
	PFrameApplyPacing time.Duration
	// ConnectRetryInterval is the delay before Connect redials
	ConnectRetryInterval time.Duration
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		Tickrate:             consts.DEFAULT_TICKRATE,
		MaxTickrate:          consts.MAX_TICKRATE,
		IFrameIntervalTicks:  consts.IFRAME_INTERVAL_TICKS,
		PFrameApplyPacing:    consts.PFRAME_APPLY_PACING,
		ConnectRetryInterval: consts.CONNECT_RETRY_INTERVAL,
	}
}

type localObject struct {
	pose.Slots
}

// Manager replicates the local peer to every connected peer
type Manager struct {
	local    common.PeerID
	opts     Options
	register *ownership.Register

	localAgent   pose.Slots
	nextKeyframe uint16 // only used by the command routine

	localObjectsLock sync.RWMutex
	localObjects     map[common.ObjectID]*localObject
	grabbed          common.ObjectIDSet // only used by the command routine
	claimSeq         uint64             // only used by the command routine

	// objectKeyframes outlives ownership periods so a reclaimed object never reuses a keyframe id
	objectKeyframes map[common.ObjectID]uint16 // only used by the command routine

	// ownershipLock orders local ownership changes with the claims queued for new sessions
	ownershipLock sync.Mutex

	sessionsLock sync.RWMutex
	sessions     map[common.PeerID]*Session
	sessionsWg   sync.WaitGroup

	cmdQueue       *xnsyncutil.SyncQueue
	warnedQueueLen atomic.Int64
	cmdTerminated  *xnsyncutil.OneTimeCond
	events         chan Event

	ctx         context.Context
	cancel      context.CancelFunc
	terminating xnsyncutil.AtomicBool
}

// NewManager creates a Manager for the local peer and starts its command routine
func NewManager(local common.PeerID, opts Options) *Manager {
	if opts.MaxTickrate == 0 {
		opts.MaxTickrate = consts.MAX_TICKRATE
	}
	if opts.Tickrate == 0 {
		opts.Tickrate = consts.DEFAULT_TICKRATE
	}
	if opts.IFrameIntervalTicks <= 0 {
		opts.IFrameIntervalTicks = consts.IFRAME_INTERVAL_TICKS
	}
	if opts.ConnectRetryInterval <= 0 {
		opts.ConnectRetryInterval = consts.CONNECT_RETRY_INTERVAL
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		local:           local,
		opts:            opts,
		register:        ownership.NewRegister(),
		localObjects:    map[common.ObjectID]*localObject{},
		grabbed:         common.ObjectIDSet{},
		objectKeyframes: map[common.ObjectID]uint16{},
		sessions:        map[common.PeerID]*Session{},
		cmdQueue:        xnsyncutil.NewSyncQueue(),
		cmdTerminated:   xnsyncutil.NewOneTimeCond(),
		events:          make(chan Event, consts.EVENT_QUEUE_SIZE),
		ctx:             ctx,
		cancel:          cancel,
	}

	go m.commandRoutine()
	go gwutils.RepeatUntilPanicless(ctx, m.keyframeRoutine)
	return m
}

func (m *Manager) String() string {
	return fmt.Sprintf("Manager<%s>", m.local)
}

// LocalPeer returns the id of this peer
func (m *Manager) LocalPeer() common.PeerID {
	return m.local
}

// Options returns the effective options
func (m *Manager) Options() Options {
	return m.opts
}

// Events returns the presentation event stream
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		opmon.EventsDropped.Inc()
		if consts.DEBUG_MODE {
			gwlog.Warnf("%s: event queue full, drop %s", m, ev)
		}
	}
}

// IsOwner returns if the local peer owns obj
func (m *Manager) IsOwner(obj common.ObjectID) bool {
	return m.register.IsOwner(obj, m.local)
}

// Owner returns the current owner of obj
func (m *Manager) Owner(obj common.ObjectID) (common.PeerID, bool) {
	return m.register.Owner(obj)
}

// Register returns the ownership register shared by all sessions
func (m *Manager) Register() *ownership.Register {
	return m.register
}

func (m *Manager) localObject(obj common.ObjectID) *localObject {
	m.localObjectsLock.RLock()
	lo := m.localObjects[obj]
	m.localObjectsLock.RUnlock()
	return lo
}

// Sessions returns the running sessions
func (m *Manager) Sessions() []*Session {
	m.sessionsLock.RLock()
	defer m.sessionsLock.RUnlock()
	res := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		res = append(res, s)
	}
	return res
}

// Session returns the running session to peer, or nil
func (m *Manager) Session(peer common.PeerID) *Session {
	m.sessionsLock.RLock()
	defer m.sessionsLock.RUnlock()
	return m.sessions[peer]
}

// Serve runs a session for every connection accepted by ln until ctx is done or ln fails
func (m *Manager) Serve(ctx context.Context, ln transport.Listener) error {
	gwlog.Infof("%s: serving on %s", m, ln.Addr())
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || m.terminating.Load() {
				return nil
			}
			return err
		}
		m.AddConn(conn)
	}
}

// AddConn starts a session on conn
//
// A running session to the same peer is closed and replaced.
func (m *Manager) AddConn(conn transport.Conn) *Session {
	s := newSession(m, conn)

	m.ownershipLock.Lock()
	m.sessionsLock.Lock()
	if m.terminating.Load() {
		// terminating, not accepting more connections
		m.sessionsLock.Unlock()
		m.ownershipLock.Unlock()
		s.Close()
		s.finish(errManagerClosed)
		return s
	}
	old := m.sessions[s.peer]
	m.sessions[s.peer] = s
	m.sessionsWg.Add(1)
	m.sessionsLock.Unlock()

	// the new peer learns every object we own before any pose
	for _, obj := range m.register.ObjectsOwnedBy(m.local) {
		if rec, ok := m.register.Record(obj); ok && rec.Owner == m.local {
			s.outbox.push(&proto.OwnershipClaim{Object: obj, Timestamp: rec.Timestamp, Seq: rec.Seq})
		}
	}
	m.ownershipLock.Unlock()

	opmon.Sessions.Inc()
	if old != nil {
		gwlog.Warnf("%s: %s replaces %s", m, s, old)
		old.Close()
	}
	gwlog.Infof("%s: %s connected", m, s)
	m.emit(Event{Type: PeerConnected, Peer: s.peer})

	go func() {
		defer m.sessionsWg.Done()
		err := s.run(m.ctx)
		m.onSessionEnd(s, err)
	}()
	return s
}

// Close closes all sessions and stops the command routine
func (m *Manager) Close() {
	m.sessionsLock.Lock()
	if m.terminating.Load() {
		m.sessionsLock.Unlock()
		return
	}
	m.terminating.Store(true)
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessionsLock.Unlock()

	m.cancel()
	for _, s := range sessions {
		s.Close()
	}
	m.sessionsWg.Wait()
	m.cmdQueue.Close()
	m.cmdTerminated.Wait()
	gwlog.Infof("%s: closed", m)
}

// onSessionEnd deregisters s and releases everything its peer owned, unless s was replaced
func (m *Manager) onSessionEnd(s *Session, err error) {
	opmon.Sessions.Dec()
	if netutil.IsConnectionError(err) || m.terminating.Load() {
		gwlog.Infof("%s: %s disconnected: %v", m, s, err)
	} else {
		gwlog.Errorf("%s: %s failed: %v", m, s, err)
	}

	m.sessionsLock.Lock()
	current := m.sessions[s.peer] == s
	if current {
		delete(m.sessions, s.peer)
	}
	m.sessionsLock.Unlock()

	if !current {
		return
	}

	released := m.register.RemoveAllBy(s.peer)
	opmon.OwnedObjects.Set(float64(m.register.Len()))
	for _, obj := range released {
		if consts.DEBUG_OWNERSHIP {
			gwlog.Debugf("%s: %s released by disconnect of %s", m, obj, s.peer)
		}
		m.emit(Event{Type: OwnershipChanged, Object: obj})
	}
	m.emit(Event{Type: PeerDisconnected, Peer: s.peer, Err: err})
}

// broadcast queues msg for every running session; the caller holds ownershipLock
func (m *Manager) broadcast(msg proto.StreamMessage) {
	m.sessionsLock.RLock()
	for _, s := range m.sessions {
		s.outbox.push(msg)
	}
	m.sessionsLock.RUnlock()
}

// forgetRemoteObject drops what the session of a former owner received for obj
func (m *Manager) forgetRemoteObject(owner common.PeerID, obj common.ObjectID) {
	if owner == m.local {
		return
	}
	if s := m.Session(owner); s != nil {
		s.forgetObject(obj)
	}
}

func (m *Manager) applyRemoteClaim(peer common.PeerID, claim *proto.OwnershipClaim) {
	prev, hadOwner := m.register.Owner(claim.Object)
	if !m.register.TryClaim(claim.Object, peer, claim.Timestamp, claim.Seq) {
		if consts.DEBUG_OWNERSHIP {
			gwlog.Debugf("%s: claim of %s by %s lost", m, claim.Object, peer)
		}
		return
	}
	if consts.DEBUG_OWNERSHIP {
		gwlog.Debugf("%s: %s is now owned by %s", m, claim.Object, peer)
	}
	if hadOwner && prev != peer {
		m.forgetRemoteObject(prev, claim.Object)
	}
	opmon.OwnedObjects.Set(float64(m.register.Len()))
	m.emit(Event{Type: OwnershipChanged, Peer: peer, Object: claim.Object})
}

func (m *Manager) applyRemoteRelease(peer common.PeerID, release *proto.OwnershipRelease) {
	if !m.register.Release(release.Object, peer) {
		return
	}
	m.forgetRemoteObject(peer, release.Object)
	opmon.OwnedObjects.Set(float64(m.register.Len()))
	m.emit(Event{Type: OwnershipChanged, Object: release.Object})
}
