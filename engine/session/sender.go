package session

import (
	"context"
	"time"

	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/opmon"
	"github.com/xiaonanln/gwsync/engine/pose"
	"github.com/xiaonanln/gwsync/engine/proto"
)

// outStream is the sending state of one replicated entity
type outStream struct {
	started  bool
	epoch    uint16
	seq      uint16
	baseline pose.Pose
}

// rekey returns true if kf starts a new epoch, which resets the baseline and the sequence
func (o *outStream) rekey(kf *pose.Keyframe) bool {
	if o.started && o.epoch == kf.ID {
		return false
	}
	o.started = true
	o.epoch = kf.ID
	o.seq = 0
	o.baseline = kf.Pose
	return true
}

// sender is owned by the send loop; frames are reused between ticks
type sender struct {
	s       *Session
	pc      *proto.PeerConnection
	agent   outStream
	objects map[common.ObjectID]*outStream

	agentIFrame  proto.AgentIFrame
	agentPFrame  proto.AgentPFrame
	objectIFrame proto.ObjectIFrame
	objectPFrame proto.ObjectPFrame
}

// sendLoop sends the local state to the peer at the negotiated rate
func (s *Session) sendLoop(ctx context.Context) error {
	select {
	case <-s.outReady:
	case <-ctx.Done():
		return ctx.Err()
	}

	stream, err := s.conn.OpenUniStream(ctx)
	if err != nil {
		return err
	}

	snd := &sender{
		s:       s,
		pc:      proto.NewPeerConnection(stream, s.conn),
		objects: map[common.ObjectID]*outStream{},
	}
	defer snd.pc.Close()

	// hz is read every tick so a renegotiated rate applies at once
	timer := time.NewTimer(s.outRate.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		timer.Reset(s.outRate.Interval())

		op := opmon.StartOperation("session.send")
		err := snd.tick()
		op.Finish(consts.SEND_TICK_WARN_THRESHOLD)
		if err != nil {
			return err
		}
	}
}

func (snd *sender) tick() error {
	if err := snd.flushOutbox(); err != nil {
		return err
	}
	if err := snd.sendAgent(); err != nil {
		return err
	}
	return snd.sendObjects()
}

// flushOutbox sends pending ownership messages before any pose of this tick
func (snd *sender) flushOutbox() error {
	for _, msg := range snd.s.outbox.swap() {
		if err := snd.sendStream(msg); err != nil {
			return err
		}
		switch msg.(type) {
		case *proto.OwnershipClaim:
			opmon.FramesSent.WithLabelValues(opmon.KindClaim).Inc()
		case *proto.OwnershipRelease:
			opmon.FramesSent.WithLabelValues(opmon.KindRelease).Inc()
		}
	}
	return nil
}

// sendStream writes msg on the reliable stream; frames that can not be encoded are logged and dropped
func (snd *sender) sendStream(msg proto.StreamMessage) error {
	err := snd.pc.SendStreamMessage(msg)
	if err != nil && proto.IsEncodeError(err) {
		gwlog.Errorf("%s: drop %s: %v", snd.s, msg, err)
		opmon.FramesDropped.WithLabelValues(opmon.DropTooLarge).Inc()
		return nil
	}
	if consts.DEBUG_FRAMES && err == nil {
		gwlog.Debugf("%s: SEND %s", snd.s, msg)
	}
	return err
}

// sendDatagram offers dg to the datagram channel; a full channel drops it silently
func (snd *sender) sendDatagram(dg proto.Datagram, kind string) {
	sent, err := snd.pc.SendDatagram(dg)
	if err != nil {
		gwlog.Errorf("%s: drop %s: %v", snd.s, dg, err)
		opmon.FramesDropped.WithLabelValues(opmon.DropTooLarge).Inc()
		return
	}
	if !sent {
		opmon.FramesDropped.WithLabelValues(opmon.DropSendQueueFull).Inc()
		return
	}
	if consts.DEBUG_FRAMES {
		gwlog.Debugf("%s: SEND %s", snd.s, dg)
	}
	opmon.FramesSent.WithLabelValues(kind).Inc()
}

func (snd *sender) sendAgent() error {
	agent := &snd.s.mgr.localAgent
	kf, ok := agent.I.Load()
	if !ok {
		return nil
	}

	if snd.agent.rekey(&kf) {
		fillAgentIFrame(&snd.agentIFrame, &kf)
		if err := snd.sendStream(&snd.agentIFrame); err != nil {
			return err
		}
		opmon.FramesSent.WithLabelValues(opmon.KindAgentIFrame).Inc()
		return nil
	}

	cur, ok := agent.P.Load()
	if !ok {
		return nil
	}
	snd.agent.seq++
	fillAgentPFrame(&snd.agentPFrame, snd.agent.epoch, snd.agent.seq, &snd.agent.baseline, &cur)
	snd.sendDatagram(&snd.agentPFrame, opmon.KindAgentPFrame)
	return nil
}

// sendObjects sends every object this peer owns and has published state for
func (snd *sender) sendObjects() error {
	mgr := snd.s.mgr
	owned := mgr.register.ObjectsOwnedBy(mgr.local)

	for obj := range snd.objects {
		if !mgr.register.IsOwner(obj, mgr.local) {
			delete(snd.objects, obj) // a reclaimed object starts over with an I-frame
		}
	}

	for _, obj := range owned {
		lo := mgr.localObject(obj)
		if lo == nil {
			continue
		}
		kf, ok := lo.I.Load()
		if !ok {
			continue
		}

		out := snd.objects[obj]
		if out == nil {
			out = &outStream{}
			snd.objects[obj] = out
		}

		if out.rekey(&kf) {
			fillObjectIFrame(&snd.objectIFrame, obj, &kf)
			if err := snd.sendStream(&snd.objectIFrame); err != nil {
				return err
			}
			opmon.FramesSent.WithLabelValues(opmon.KindObjectIFrame).Inc()
			continue
		}

		cur, ok := lo.P.Load()
		if !ok {
			continue
		}
		out.seq++
		fillObjectPFrame(&snd.objectPFrame, obj, out.epoch, out.seq, &out.baseline, &cur)
		snd.sendDatagram(&snd.objectPFrame, opmon.KindObjectPFrame)
	}
	return nil
}
