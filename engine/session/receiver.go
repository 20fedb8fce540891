package session

import (
	"context"
	"time"

	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/netutil"
	"github.com/xiaonanln/gwsync/engine/opmon"
	"github.com/xiaonanln/gwsync/engine/proto"
	"github.com/xiaonanln/gwsync/engine/reorder"
)

// recvIFrameLoop reads the peer's reliable stream until it closes
func (s *Session) recvIFrameLoop(ctx context.Context) error {
	stream, err := s.conn.AcceptUniStream(ctx)
	if err != nil {
		return err
	}

	buf := make([]byte, proto.MAX_STREAM_MESSAGE_SIZE)
	for {
		b, err := netutil.ReadMessage(stream, buf, proto.MAX_STREAM_MESSAGE_SIZE)
		if err != nil {
			if netutil.IsMessageTooLarge(err) {
				gwlog.Errorf("%s: %v, closing", s, err)
			}
			return err
		}

		msg, err := proto.DecodeStreamMessage(b)
		if err != nil {
			gwlog.Warnf("%s: discard stream message: %v", s, err)
			opmon.FramesDropped.WithLabelValues(opmon.DropMalformed).Inc()
			continue
		}
		if consts.DEBUG_FRAMES {
			gwlog.Debugf("%s: RECV %s", s, msg)
		}
		s.handleStreamMessage(msg)
	}
}

func (s *Session) handleStreamMessage(msg proto.StreamMessage) {
	switch m := msg.(type) {
	case *proto.AgentIFrame:
		opmon.FramesReceived.WithLabelValues(opmon.KindAgentIFrame).Inc()
		kf := agentKeyframe(m)
		s.agentGen++
		kf.Gen = s.agentGen
		s.agent.I.Store(kf)
		s.agent.P.Clear()
		s.mgr.emit(Event{Type: AgentPose, Peer: s.peer, Pose: kf.Pose.Clone(), Keyframe: true})
	case *proto.ObjectIFrame:
		opmon.FramesReceived.WithLabelValues(opmon.KindObjectIFrame).Inc()
		if !s.mgr.register.IsOwner(m.Object, s.peer) {
			opmon.FramesDropped.WithLabelValues(opmon.DropNotOwner).Inc()
			return
		}
		ro := s.remoteObject(m.Object, true)
		kf := objectKeyframe(m)
		ro.gen++
		kf.Gen = ro.gen
		ro.I.Store(kf)
		ro.P.Clear()
		s.mgr.emit(Event{Type: ObjectPose, Peer: s.peer, Object: m.Object, Pose: kf.Pose, Keyframe: true})
	case *proto.OwnershipClaim:
		opmon.FramesReceived.WithLabelValues(opmon.KindClaim).Inc()
		s.mgr.applyRemoteClaim(s.peer, m)
	case *proto.OwnershipRelease:
		opmon.FramesReceived.WithLabelValues(opmon.KindRelease).Inc()
		s.mgr.applyRemoteRelease(s.peer, m)
	}
}

func (s *Session) remoteObject(obj common.ObjectID, create bool) *remoteObject {
	s.objectsLock.Lock()
	defer s.objectsLock.Unlock()
	ro := s.objects[obj]
	if ro == nil && create {
		ro = &remoteObject{}
		s.objects[obj] = ro
	}
	return ro
}

// forgetObject drops the state received for obj when its owner changes
func (s *Session) forgetObject(obj common.ObjectID) {
	s.objectsLock.Lock()
	delete(s.objects, obj)
	s.objectsLock.Unlock()
}

// recvPFrameLoop reads datagrams and applies them in order through the reorder buffers
func (s *Session) recvPFrameLoop(ctx context.Context) error {
	for {
		b, err := s.conn.ReceiveDatagram(ctx)
		if err != nil {
			return err
		}

		dg, err := proto.DecodeDatagram(b)
		if err != nil {
			gwlog.Warnf("%s: discard datagram: %v", s, err)
			opmon.FramesDropped.WithLabelValues(opmon.DropMalformed).Inc()
			continue
		}
		if consts.DEBUG_FRAMES {
			gwlog.Debugf("%s: RECV %s", s, dg)
		}

		switch f := dg.(type) {
		case *proto.AgentPFrame:
			opmon.FramesReceived.WithLabelValues(opmon.KindAgentPFrame).Inc()
			s.handleAgentPFrame(f)
		case *proto.ObjectPFrame:
			opmon.FramesReceived.WithLabelValues(opmon.KindObjectPFrame).Inc()
			s.handleObjectPFrame(f)
		}
	}
}

func (s *Session) handleAgentPFrame(f *proto.AgentPFrame) {
	kf, ok := s.agent.I.Load()
	if !ok || kf.ID != f.IFrameID {
		// no ordering between the stream and datagrams: the I-frame may still be on its way
		opmon.FramesDropped.WithLabelValues(opmon.DropStale).Inc()
		return
	}

	// every stored keyframe starts a new sequence, even one that reuses the previous id
	if s.agentBuf == nil {
		s.agentBuf = reorder.New[*proto.AgentPFrame](kf.ID)
		s.agentBufGen = kf.Gen
	} else if s.agentBufGen != kf.Gen || s.agentBuf.Epoch() != kf.ID {
		s.agentBuf.Reset(kf.ID)
		s.agentBufGen = kf.Gen
	}

	var released int
	res := s.agentBuf.Insert(f.IFrameID, f.Seq, f, func(f *proto.AgentPFrame) {
		s.pace(&released)
		p := agentPose(&kf, f)
		s.agent.P.Store(p)
		s.mgr.emit(Event{Type: AgentPose, Peer: s.peer, Pose: p.Clone()})
	})
	opmon.ReorderResults.WithLabelValues(res.String()).Inc()
}

func (s *Session) handleObjectPFrame(f *proto.ObjectPFrame) {
	if !s.mgr.register.IsOwner(f.Object, s.peer) {
		opmon.FramesDropped.WithLabelValues(opmon.DropNotOwner).Inc()
		return
	}

	ro := s.remoteObject(f.Object, false)
	if ro == nil {
		opmon.FramesDropped.WithLabelValues(opmon.DropStale).Inc()
		return
	}
	kf, ok := ro.I.Load()
	if !ok || kf.ID != f.IFrameID {
		opmon.FramesDropped.WithLabelValues(opmon.DropStale).Inc()
		return
	}

	if ro.buf == nil {
		ro.buf = reorder.New[*proto.ObjectPFrame](kf.ID)
		ro.bufGen = kf.Gen
	} else if ro.bufGen != kf.Gen || ro.buf.Epoch() != kf.ID {
		ro.buf.Reset(kf.ID)
		ro.bufGen = kf.Gen
	}

	var released int
	res := ro.buf.Insert(f.IFrameID, f.Seq, f, func(f *proto.ObjectPFrame) {
		s.pace(&released)
		p := objectPose(&kf, f)
		ro.P.Store(p)
		s.mgr.emit(Event{Type: ObjectPose, Peer: s.peer, Object: f.Object, Pose: p})
	})
	opmon.ReorderResults.WithLabelValues(res.String()).Inc()
}

// pace sleeps between frames released by one insert so a burst is not applied at once
func (s *Session) pace(released *int) {
	if *released > 0 && s.mgr.opts.PFrameApplyPacing > 0 {
		time.Sleep(s.mgr.opts.PFrameApplyPacing)
	}
	*released++
}
