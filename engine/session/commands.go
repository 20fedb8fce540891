package session

import (
	"time"

	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/gwutils"
	"github.com/xiaonanln/gwsync/engine/opmon"
	"github.com/xiaonanln/gwsync/engine/pose"
	"github.com/xiaonanln/gwsync/engine/proto"
)

type setAgentPoseCmd struct {
	pose pose.Pose
}

type publishObjectCmd struct {
	obj      common.ObjectID
	pose     pose.Pose
	keyframe bool
}

type claimObjectCmd struct {
	obj common.ObjectID
}

type releaseObjectCmd struct {
	obj common.ObjectID
}

type updateGrabbedCmd struct {
	objs []common.ObjectID
}

type keyframeCmd struct{}

// SetLocalAgentPose sets the pose of the local agent sent to every peer
//
// p.Bones should list only the bones driven right now; bones at rest are better left out since
// every P-frame repeats the whole list.
func (m *Manager) SetLocalAgentPose(p pose.Pose) {
	m.pushCommand(&setAgentPoseCmd{pose: p.Clone()})
}

// PublishObjectIFrame starts a new epoch of obj at pose p; obj must be owned locally
func (m *Manager) PublishObjectIFrame(obj common.ObjectID, p pose.Pose) {
	m.pushCommand(&publishObjectCmd{obj: obj, pose: p, keyframe: true})
}

// PublishObjectPFrame updates the pose of obj sent relative to its last I-frame; obj must be owned locally
func (m *Manager) PublishObjectPFrame(obj common.ObjectID, p pose.Pose) {
	m.pushCommand(&publishObjectCmd{obj: obj, pose: p})
}

// ClaimObject claims obj for the local peer and tells every peer
func (m *Manager) ClaimObject(obj common.ObjectID) {
	m.pushCommand(&claimObjectCmd{obj: obj})
}

// ReleaseObject releases obj if the local peer owns it
func (m *Manager) ReleaseObject(obj common.ObjectID) {
	m.pushCommand(&releaseObjectCmd{obj: obj})
}

// UpdateGrabbedObjects claims the objects newly in objs and releases the ones grabbed before but not anymore
func (m *Manager) UpdateGrabbedObjects(objs []common.ObjectID) {
	m.pushCommand(&updateGrabbedCmd{objs: append([]common.ObjectID(nil), objs...)})
}

func (m *Manager) pushCommand(cmd interface{}) {
	m.cmdQueue.Push(cmd)
	m.checkCommandQueueLen(m.cmdQueue.Len())
}

// checkCommandQueueLen warns once for every hundred commands waiting; it returns whether it warned
func (m *Manager) checkCommandQueueLen(qlen int) bool {
	if qlen <= 100 || qlen%100 != 0 {
		return false
	}
	if prev := m.warnedQueueLen.Swap(int64(qlen)); prev == int64(qlen) {
		return false
	}
	gwlog.Warnf("%s: command queue length = %d", m, qlen)
	return true
}

// commandRoutine applies commands in push order until the queue is closed
func (m *Manager) commandRoutine() {
	defer m.cmdTerminated.Signal()
	for {
		cmd := m.cmdQueue.Pop()
		if cmd == nil { // queue is closed
			return
		}
		gwutils.RunPanicless(func() {
			m.handleCommand(cmd)
		})
	}
}

func (m *Manager) handleCommand(cmd interface{}) {
	switch c := cmd.(type) {
	case *setAgentPoseCmd:
		m.localAgent.P.Store(c.pose)
		if _, ok := m.localAgent.I.Load(); !ok {
			m.promoteAgentKeyframe()
		}
	case *keyframeCmd:
		m.promoteAgentKeyframe()
	case *publishObjectCmd:
		m.handlePublishObject(c)
	case *claimObjectCmd:
		m.claimObject(c.obj)
	case *releaseObjectCmd:
		m.releaseObject(c.obj)
	case *updateGrabbedCmd:
		m.handleUpdateGrabbed(c.objs)
	default:
		gwlog.Panicf("%s: unknown command: %T", m, cmd)
	}
}

// promoteAgentKeyframe makes the current local agent pose the keyframe of a new epoch
func (m *Manager) promoteAgentKeyframe() {
	p, ok := m.localAgent.P.Load()
	if !ok {
		return
	}
	m.nextKeyframe++
	m.localAgent.I.Store(pose.Keyframe{ID: m.nextKeyframe, Pose: p.Clone()})
}

// keyframeRoutine asks for a new agent keyframe every IFrameIntervalTicks local ticks
func (m *Manager) keyframeRoutine() {
	interval := time.Second * time.Duration(m.opts.IFrameIntervalTicks) / time.Duration(max(1, m.opts.Tickrate))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cmdQueue.Push(&keyframeCmd{})
		}
	}
}

func (m *Manager) handlePublishObject(c *publishObjectCmd) {
	if !m.register.IsOwner(c.obj, m.local) {
		gwlog.Warnf("%s: publish %s refused: not owned by %s", m, c.obj, m.local)
		opmon.FramesDropped.WithLabelValues(opmon.DropNotOwner).Inc()
		return
	}

	m.localObjectsLock.Lock()
	lo := m.localObjects[c.obj]
	if lo == nil {
		lo = &localObject{}
		m.localObjects[c.obj] = lo
	}
	m.localObjectsLock.Unlock()

	if c.keyframe {
		m.objectKeyframes[c.obj]++
		lo.I.Store(pose.Keyframe{ID: m.objectKeyframes[c.obj], Pose: c.pose})
		lo.P.Clear()
	} else {
		lo.P.Store(c.pose)
	}
}

func (m *Manager) claimObject(obj common.ObjectID) {
	m.ownershipLock.Lock()
	defer m.ownershipLock.Unlock()

	if m.register.IsOwner(obj, m.local) {
		return
	}

	m.claimSeq++
	ts := uint64(time.Now().UnixMilli())
	prev, hadOwner := m.register.Owner(obj)
	if !m.register.TryClaim(obj, m.local, ts, m.claimSeq) {
		if consts.DEBUG_OWNERSHIP {
			gwlog.Debugf("%s: claim of %s lost", m, obj)
		}
		return
	}
	if hadOwner {
		m.forgetRemoteObject(prev, obj)
	}
	m.broadcast(&proto.OwnershipClaim{Object: obj, Timestamp: ts, Seq: m.claimSeq})
	opmon.OwnedObjects.Set(float64(m.register.Len()))
	m.emit(Event{Type: OwnershipChanged, Peer: m.local, Object: obj})
}

func (m *Manager) releaseObject(obj common.ObjectID) {
	m.ownershipLock.Lock()
	defer m.ownershipLock.Unlock()

	m.localObjectsLock.Lock()
	delete(m.localObjects, obj)
	m.localObjectsLock.Unlock()

	if !m.register.Release(obj, m.local) {
		return
	}
	m.broadcast(&proto.OwnershipRelease{Object: obj})
	opmon.OwnedObjects.Set(float64(m.register.Len()))
	m.emit(Event{Type: OwnershipChanged, Object: obj})
}

func (m *Manager) handleUpdateGrabbed(objs []common.ObjectID) {
	grabbed := common.ObjectIDSet{}
	for _, obj := range objs {
		grabbed.Add(obj)
		if !m.grabbed.Contains(obj) {
			m.claimObject(obj)
		}
	}
	for obj := range m.grabbed {
		if !grabbed.Contains(obj) {
			m.releaseObject(obj)
		}
	}
	m.grabbed = grabbed
}
