package main

import (
	"math"
	"time"

	timer "github.com/xiaonanln/goTimer"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/pose"
	"github.com/xiaonanln/gwsync/engine/session"
)

const (
	demoMoveInterval = time.Millisecond * 20
	demoRadius       = 2.0
	demoPeriod       = time.Second * 8
)

var demoObjectID = common.MustObjectID("demo-ball0000000")

// startDemo walks the local agent around a circle and carries the demo ball while no one else holds it
func startDemo(mgr *session.Manager) {
	gwlog.Infof("%s: demo mode, agent walks around a circle and carries %s", mgr, demoObjectID)
	start := time.Now()
	yAxis := pose.Vector3{Y: 1}
	ballKeyed := false

	timer.AddTimer(demoMoveInterval, func() {
		phase := 2 * math.Pi * float64(time.Since(start)) / float64(demoPeriod)
		pos := pose.Vector3{
			X: float32(demoRadius * math.Cos(phase)),
			Y: 1.7,
			Z: float32(demoRadius * math.Sin(phase)),
		}
		speed := float32(2 * math.Pi * demoRadius / demoPeriod.Seconds())
		agent := pose.Pose{
			Position:       pos,
			Rotation:       pose.QuatFromAxisAngle(yAxis, -phase),
			LinearVelocity: pose.Vector3{X: float32(-math.Sin(phase)), Z: float32(math.Cos(phase))}.Mul(speed),
		}
		mgr.SetLocalAgentPose(agent)

		if owner, ok := mgr.Owner(demoObjectID); ok && owner != mgr.LocalPeer() {
			mgr.UpdateGrabbedObjects(nil)
			ballKeyed = false
			return
		}
		mgr.UpdateGrabbedObjects([]common.ObjectID{demoObjectID})
		ball := pose.Pose{
			Position: pos.Add(pose.Vector3{Y: -0.5}),
			Rotation: pose.IdentityQuat,
		}
		if !mgr.IsOwner(demoObjectID) {
			return
		}
		if !ballKeyed {
			mgr.PublishObjectIFrame(demoObjectID, ball)
			ballKeyed = true
		} else {
			mgr.PublishObjectPFrame(demoObjectID, ball)
		}
	})
}
