package session

import (
	"context"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/pose"
	"github.com/xiaonanln/gwsync/engine/transport/loopback"
)

const waitTimeout = 5 * time.Second

func testOptions() Options {
	opts := DefaultOptions()
	opts.Tickrate = 60
	opts.PFrameApplyPacing = 0
	opts.ConnectRetryInterval = 50 * time.Millisecond
	return opts
}

func newTestManager(t *testing.T, name string, opts Options) *Manager {
	m := NewManager(common.PeerIDFromString(name), opts)
	t.Cleanup(m.Close)
	return m
}

func connectPair(a, b *Manager) (*loopback.Conn, *loopback.Conn) {
	ca, cb := loopback.Pair(a.LocalPeer(), b.LocalPeer())
	a.AddConn(ca)
	b.AddConn(cb)
	return ca, cb
}

func waitEvent(t *testing.T, m *Manager, what string, pred func(ev Event) bool) Event {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev := <-m.Events():
			if pred(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("%s: timed out waiting for %s", m, what)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testPose(x float32) pose.Pose {
	return pose.Pose{
		Position:        pose.Vector3{X: x, Y: 1.5, Z: -2},
		Rotation:        pose.QuatFromAxisAngle(pose.Vector3{Y: 1}, 0.5),
		LinearVelocity:  pose.Vector3{X: 0.5},
		AngularVelocity: pose.Vector3{Z: 0.1},
		Bones: []pose.BoneRotation{
			{Bone: 3, Rotation: pose.QuatFromAxisAngle(pose.Vector3{X: 1}, 0.3)},
		},
	}
}

func TestAgentPoseReplication(t *testing.T) {
	a := newTestManager(t, "alice", testOptions())
	b := newTestManager(t, "bob", testOptions())
	connectPair(a, b)

	a.SetLocalAgentPose(testPose(1))
	ev := waitEvent(t, b, "agent keyframe", func(ev Event) bool {
		return ev.Type == AgentPose && ev.Keyframe
	})
	assert.Equal(t, a.LocalPeer(), ev.Peer)
	assert.Equal(t, testPose(1).Position, ev.Pose.Position)
	assert.T(t, ev.Pose.Rotation.AngleTo(testPose(1).Rotation) < 0.02)
	assert.Equal(t, 1, len(ev.Pose.Bones))

	moved := testPose(3.25)
	a.SetLocalAgentPose(moved)
	ev = waitEvent(t, b, "agent P-frame at the moved position", func(ev Event) bool {
		return ev.Type == AgentPose && !ev.Keyframe && ev.Pose.Position.DistanceTo(moved.Position) < 0.01
	})
	assert.T(t, ev.Pose.LinearVelocity.DistanceTo(moved.LinearVelocity) < 0.01)

	s := b.Session(a.LocalPeer())
	assert.NotEqual(t, (*Session)(nil), s)
	p, ok := s.RemoteAgentPose()
	assert.T(t, ok)
	assert.T(t, p.Position.DistanceTo(moved.Position) < 0.01, p)
}

func TestTickrateClampedOnBothSides(t *testing.T) {
	fast := testOptions()
	fast.Tickrate = 200
	slow := testOptions()
	slow.MaxTickrate = 20

	a := newTestManager(t, "alice", fast)
	b := newTestManager(t, "bob", slow)
	connectPair(a, b)

	eventually(t, "handshake", func() bool {
		sa, sb := a.Session(b.LocalPeer()), b.Session(a.LocalPeer())
		return sa != nil && sb != nil && sa.OutboundTickrate() != 0 && sb.InboundTickrate() != 0 &&
			sa.InboundTickrate() != 0 && sb.OutboundTickrate() != 0
	})
	sa, sb := a.Session(b.LocalPeer()), b.Session(a.LocalPeer())
	assert.Equal(t, uint8(20), sa.OutboundTickrate())
	assert.Equal(t, uint8(20), sb.InboundTickrate())
	assert.Equal(t, uint8(60), sb.OutboundTickrate())
	assert.Equal(t, uint8(60), sa.InboundTickrate())
}

func TestObjectOwnershipAndPublishing(t *testing.T) {
	a := newTestManager(t, "alice", testOptions())
	b := newTestManager(t, "bob", testOptions())
	ca, _ := connectPair(a, b)
	obj := common.MustObjectID("crate00000000001")

	a.ClaimObject(obj)
	waitEvent(t, b, "ownership of the crate", func(ev Event) bool {
		return ev.Type == OwnershipChanged && ev.Object == obj && ev.Peer == a.LocalPeer()
	})
	assert.T(t, a.IsOwner(obj))
	assert.T(t, !b.IsOwner(obj))
	owner, ok := b.Owner(obj)
	assert.T(t, ok)
	assert.Equal(t, a.LocalPeer(), owner)

	start := testPose(0)
	start.Bones = nil
	a.PublishObjectIFrame(obj, start)
	ev := waitEvent(t, b, "object keyframe", func(ev Event) bool {
		return ev.Type == ObjectPose && ev.Keyframe && ev.Object == obj
	})
	assert.Equal(t, start.Position, ev.Pose.Position)

	moved := start
	moved.Position = pose.Vector3{X: 2, Y: 0.5}
	a.PublishObjectPFrame(obj, moved)
	waitEvent(t, b, "object P-frame", func(ev Event) bool {
		return ev.Type == ObjectPose && !ev.Keyframe && ev.Object == obj && ev.Pose.Position.DistanceTo(moved.Position) < 0.01
	})

	// bob does not own the crate: nothing is published
	b.PublishObjectIFrame(obj, start)
	time.Sleep(50 * time.Millisecond)
	for drained := false; !drained; {
		select {
		case ev := <-a.Events():
			assert.Tf(t, ev.Type != ObjectPose, "unexpected %s", ev)
		default:
			drained = true
		}
	}

	// alice goes away: bob forgets her claims
	assert.Equal(t, nil, ca.Close())
	waitEvent(t, b, "disconnect", func(ev Event) bool {
		return ev.Type == PeerDisconnected && ev.Peer == a.LocalPeer()
	})
	_, ok = b.Owner(obj)
	assert.T(t, !ok)
	assert.Equal(t, (*Session)(nil), b.Session(a.LocalPeer()))
	assert.T(t, a.IsOwner(obj), "the local claim survives the disconnect")
}

func TestReclaimedObjectReplicates(t *testing.T) {
	a := newTestManager(t, "alice", testOptions())
	b := newTestManager(t, "bob", testOptions())
	connectPair(a, b)
	obj := common.MustObjectID("crate00000000002")

	start := testPose(0)
	start.Bones = nil
	a.ClaimObject(obj)
	a.PublishObjectIFrame(obj, start)
	for i := 1; i <= 5; i++ {
		p := start
		p.Position.X = float32(i) / 10
		a.PublishObjectPFrame(obj, p)
		time.Sleep(20 * time.Millisecond)
	}
	waitEvent(t, b, "first ownership period", func(ev Event) bool {
		return ev.Type == ObjectPose && !ev.Keyframe && ev.Object == obj
	})

	a.ReleaseObject(obj)
	waitEvent(t, b, "release", func(ev Event) bool {
		return ev.Type == OwnershipChanged && ev.Object == obj && ev.Peer.IsNil()
	})

	a.ClaimObject(obj)
	restart := start
	restart.Position = pose.Vector3{X: 50}
	a.PublishObjectIFrame(obj, restart)
	moved := restart
	moved.Position = pose.Vector3{X: 52}
	a.PublishObjectPFrame(obj, moved)
	waitEvent(t, b, "P-frame of the second ownership period", func(ev Event) bool {
		return ev.Type == ObjectPose && !ev.Keyframe && ev.Object == obj && ev.Pose.Position.DistanceTo(moved.Position) < 0.01
	})
}

func TestNewSessionLearnsExistingClaims(t *testing.T) {
	a := newTestManager(t, "alice", testOptions())
	b := newTestManager(t, "bob", testOptions())
	obj := common.MustObjectID("ball000000000001")

	a.ClaimObject(obj)
	eventually(t, "local claim", func() bool { return a.IsOwner(obj) })

	connectPair(a, b)
	eventually(t, "claim replicated", func() bool {
		owner, ok := b.Owner(obj)
		return ok && owner == a.LocalPeer()
	})
}

func TestReleaseAndGrab(t *testing.T) {
	a := newTestManager(t, "alice", testOptions())
	b := newTestManager(t, "bob", testOptions())
	connectPair(a, b)
	o1 := common.MustObjectID("obj0000000000001")
	o2 := common.MustObjectID("obj0000000000002")

	a.UpdateGrabbedObjects([]common.ObjectID{o1, o2})
	eventually(t, "both grabbed objects claimed", func() bool {
		return b.Register().IsOwner(o1, a.LocalPeer()) && b.Register().IsOwner(o2, a.LocalPeer())
	})

	a.UpdateGrabbedObjects([]common.ObjectID{o2})
	eventually(t, "dropped object released", func() bool {
		_, ok := b.Owner(o1)
		return !ok && !a.IsOwner(o1)
	})
	assert.T(t, a.IsOwner(o2))

	// the higher timestamp wins: bob takes o2 over
	b.ClaimObject(o2)
	eventually(t, "o2 taken over", func() bool {
		return a.Register().IsOwner(o2, b.LocalPeer()) && b.IsOwner(o2)
	})

	b.ReleaseObject(o2)
	eventually(t, "o2 released", func() bool {
		_, ok := a.Owner(o2)
		return !ok
	})
}

func TestReplacedSessionKeepsClaims(t *testing.T) {
	a := newTestManager(t, "alice", testOptions())
	b := newTestManager(t, "bob", testOptions())
	obj := common.MustObjectID("obj0000000000003")
	connectPair(a, b)

	a.ClaimObject(obj)
	eventually(t, "claim replicated", func() bool { return b.Register().IsOwner(obj, a.LocalPeer()) })
	first := b.Session(a.LocalPeer())

	// bob replaces the session before alice drops the old connection
	ca, cb := loopback.Pair(a.LocalPeer(), b.LocalPeer())
	second := b.AddConn(cb)
	<-first.Done()
	a.AddConn(ca)

	assert.Equal(t, second, b.Session(a.LocalPeer()))
	assert.T(t, b.Register().IsOwner(obj, a.LocalPeer()), "a replaced session must not drop the claims of its peer")
	timeout := time.After(100 * time.Millisecond)
	for done := false; !done; {
		select {
		case ev := <-b.Events():
			assert.Tf(t, !(ev.Type == OwnershipChanged && ev.Object == obj && ev.Peer.IsNil()), "unexpected %s", ev)
			assert.Tf(t, ev.Type != PeerDisconnected, "unexpected %s", ev)
		case <-timeout:
			done = true
		}
	}
}

func TestServeAndConnect(t *testing.T) {
	network := loopback.NewNetwork()
	a := newTestManager(t, "alice", testOptions())
	b := newTestManager(t, "bob", testOptions())

	ln, err := network.Listen("bob:1", b.LocalPeer())
	assert.Equal(t, nil, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx, ln)

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- a.Connect(ctx, network.Dialer(a.LocalPeer()), "bob:1")
	}()

	waitEvent(t, b, "alice connected", func(ev Event) bool {
		return ev.Type == PeerConnected && ev.Peer == a.LocalPeer()
	})

	// the connector redials after the session breaks
	first := a.Session(b.LocalPeer())
	assert.NotEqual(t, (*Session)(nil), first)
	first.Close()
	eventually(t, "reconnect", func() bool {
		s := a.Session(b.LocalPeer())
		return s != nil && s != first
	})

	cancel()
	select {
	case err := <-connectErr:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(waitTimeout):
		t.Fatalf("Connect did not return")
	}
}

func TestCloseStopsSessions(t *testing.T) {
	a := NewManager(common.PeerIDFromString("alice"), testOptions())
	b := newTestManager(t, "bob", testOptions())
	connectPair(a, b)
	s := a.Session(b.LocalPeer())

	a.Close()
	<-s.Done()
	assert.Equal(t, 0, len(a.Sessions()))

	ca, _ := loopback.Pair(a.LocalPeer(), b.LocalPeer())
	late := a.AddConn(ca)
	<-late.Done()
	assert.T(t, ca.IsClosed())
}
