// Package session runs the replication protocol on connections to other peers.
//
// A Manager owns the local agent, the objects published locally, the ownership register and one
// Session per connected peer. Every Session runs four tasks that stop together: the send loop,
// the I-frame loop, the P-frame loop and the control loop.
package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/gwutils"
	"github.com/xiaonanln/gwsync/engine/pose"
	"github.com/xiaonanln/gwsync/engine/proto"
	"github.com/xiaonanln/gwsync/engine/reorder"
	"github.com/xiaonanln/gwsync/engine/tickrate"
	"github.com/xiaonanln/gwsync/engine/transport"
	"golang.org/x/sync/errgroup"
)

// Session is the replication state of one connection to a remote peer
type Session struct {
	mgr  *Manager
	conn transport.Conn
	peer common.PeerID

	outRate  *tickrate.State // rate we send at, acked by the peer
	inRate   *tickrate.State // rate the peer sends at, clamped by us
	outReady chan struct{}
	inReady  chan struct{}
	outbox   outbox

	// remote agent state, written by the I-frame and P-frame loops
	agent       pose.Slots
	agentGen    uint32 // only used by the I-frame loop
	agentBuf    *reorder.Buffer[*proto.AgentPFrame]
	agentBufGen uint32 // keyframe generation agentBuf was built for

	objectsLock sync.Mutex
	objects     map[common.ObjectID]*remoteObject

	closed     xnsyncutil.AtomicBool
	done       chan struct{}
	err        error
	terminated *xnsyncutil.OneTimeCond
}

type remoteObject struct {
	pose.Slots
	gen    uint32                               // only used by the I-frame loop
	buf    *reorder.Buffer[*proto.ObjectPFrame] // only used by the P-frame loop
	bufGen uint32
}

func newSession(mgr *Manager, conn transport.Conn) *Session {
	return &Session{
		mgr:        mgr,
		conn:       conn,
		peer:       conn.RemotePeer(),
		outRate:    tickrate.NewState(0),
		inRate:     tickrate.NewState(0),
		outReady:   make(chan struct{}),
		inReady:    make(chan struct{}),
		objects:    map[common.ObjectID]*remoteObject{},
		done:       make(chan struct{}),
		terminated: xnsyncutil.NewOneTimeCond(),
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("Session<%s@%s>", s.peer, s.conn.RemoteAddr())
}

// Peer returns the id of the remote peer
func (s *Session) Peer() common.PeerID {
	return s.peer
}

// RemoteAddr returns the transport address of the remote peer
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// OutboundTickrate returns the negotiated rate frames are sent to the peer at, 0 before the handshake
func (s *Session) OutboundTickrate() uint8 {
	return s.outRate.Load()
}

// InboundTickrate returns the negotiated rate the peer sends frames at, 0 before the handshake
func (s *Session) InboundTickrate() uint8 {
	return s.inRate.Load()
}

// RemoteAgentPose returns the latest reconstructed pose of the remote agent
func (s *Session) RemoteAgentPose() (pose.Pose, bool) {
	if p, ok := s.agent.P.Load(); ok {
		return p, true
	}
	kf, ok := s.agent.I.Load()
	return kf.Pose, ok
}

// Done is closed when all tasks of the session have stopped
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session; only valid after Done is closed
func (s *Session) Err() error {
	return s.err
}

// Wait blocks until the session terminates
func (s *Session) Wait() {
	s.terminated.Wait()
}

// Close closes the connection, which makes every task stop
func (s *Session) Close() error {
	if s.closed.Load() {
		return nil
	}
	s.closed.Store(true)
	return s.conn.Close()
}

// IsClosed returns if Close was called
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// run runs all tasks of the session until one of them fails
func (s *Session) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	go func() {
		// blocked stream reads only return when the connection is closed
		<-gctx.Done()
		s.conn.Close()
	}()

	s.goTask(g, gctx, "control", s.controlLoop)
	s.goTask(g, gctx, "send", s.sendLoop)
	s.goTask(g, gctx, "iframe", s.recvIFrameLoop)
	s.goTask(g, gctx, "pframe", s.recvPFrameLoop)

	err := g.Wait()
	s.finish(err)
	return err
}

func (s *Session) finish(err error) {
	s.err = err
	close(s.done)
	s.terminated.Signal()
}

func (s *Session) goTask(g *errgroup.Group, ctx context.Context, name string, task func(ctx context.Context) error) {
	g.Go(func() error {
		err := gwutils.CatchPanic(func() error {
			return task(ctx)
		})
		if consts.DEBUG_SESSIONS {
			gwlog.Debugf("%s: %s loop quit: %v", s, name, err)
		}
		return err
	})
}

// controlLoop negotiates the tickrate of both directions, then waits for the control streams to close
func (s *Session) controlLoop(ctx context.Context) error {
	opts := s.mgr.opts
	handshakeTimer := time.AfterFunc(consts.HANDSHAKE_TIMEOUT, func() {
		gwlog.Warnf("%s: tickrate handshake timed out", s)
		s.conn.Close()
	})
	defer handshakeTimer.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stream, err := s.conn.OpenStream(gctx)
		if err != nil {
			return err
		}
		defer stream.Close()

		hz, err := tickrate.Request(stream, opts.Tickrate)
		if err != nil {
			return err
		}
		s.outRate.Store(hz)
		close(s.outReady)
		gwlog.Infof("%s: sending at %d Hz (requested %d)", s, hz, opts.Tickrate)
		return tickrate.WaitClosed(stream)
	})
	g.Go(func() error {
		stream, err := s.conn.AcceptStream(gctx)
		if err != nil {
			return err
		}
		defer stream.Close()

		hz, err := tickrate.Respond(stream, opts.MaxTickrate)
		if err != nil {
			return err
		}
		s.inRate.Store(hz)
		close(s.inReady)
		gwlog.Infof("%s: receiving at %d Hz", s, hz)
		return tickrate.WaitClosed(stream)
	})
	go func() {
		// the timer only guards the handshake itself
		for _, ready := range []chan struct{}{s.outReady, s.inReady} {
			select {
			case <-ready:
			case <-gctx.Done():
				return
			}
		}
		handshakeTimer.Stop()
	}()
	return g.Wait()
}
