package session

import (
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/pose"
	"github.com/xiaonanln/gwsync/engine/proto"
	"github.com/xiaonanln/gwsync/engine/quant"
)

func encodeBones(dst []proto.BoneFrame, bones []pose.BoneRotation) []proto.BoneFrame {
	dst = dst[:0]
	for _, b := range bones {
		dst = append(dst, proto.BoneFrame{Bone: b.Bone, Rotation: quant.EncodeQuat(b.Rotation)})
	}
	return dst
}

func decodeBones(bones []proto.BoneFrame) []pose.BoneRotation {
	if len(bones) == 0 {
		return nil
	}
	res := make([]pose.BoneRotation, len(bones))
	for i, b := range bones {
		res[i] = pose.BoneRotation{Bone: b.Bone, Rotation: quant.DecodeQuat(b.Rotation)}
	}
	return res
}

// mergeBones overrides the keyframe bones with the driven ones
func mergeBones(base []pose.BoneRotation, driven []proto.BoneFrame) []pose.BoneRotation {
	if len(driven) == 0 {
		return pose.Pose{Bones: base}.Clone().Bones
	}
	res := make([]pose.BoneRotation, len(base), len(base)+len(driven))
	copy(res, base)
outer:
	for _, d := range driven {
		rot := quant.DecodeQuat(d.Rotation)
		for i := range res {
			if res[i].Bone == d.Bone {
				res[i].Rotation = rot
				continue outer
			}
		}
		res = append(res, pose.BoneRotation{Bone: d.Bone, Rotation: rot})
	}
	return res
}

func fillAgentIFrame(f *proto.AgentIFrame, kf *pose.Keyframe) {
	f.ID = kf.ID
	f.Position = kf.Pose.Position
	f.Rotation = quant.EncodeQuat(kf.Pose.Rotation)
	f.LinearVelocity = kf.Pose.LinearVelocity
	f.AngularVelocity = kf.Pose.AngularVelocity
	f.Bones = encodeBones(f.Bones, kf.Pose.Bones)
}

func fillAgentPFrame(f *proto.AgentPFrame, epoch uint16, seq uint16, base *pose.Pose, cur *pose.Pose) {
	f.IFrameID = epoch
	f.Seq = seq
	f.Position = quant.EncodePosition(cur.Position, base.Position)
	f.Rotation = quant.EncodeQuat(cur.Rotation)
	f.LinearVelocity = quant.EncodeVelocity(cur.LinearVelocity, base.LinearVelocity)
	f.AngularVelocity = quant.EncodeVelocity(cur.AngularVelocity, base.AngularVelocity)
	f.Bones = encodeBones(f.Bones, cur.Bones)
}

func fillObjectIFrame(f *proto.ObjectIFrame, obj common.ObjectID, kf *pose.Keyframe) {
	f.Object = obj
	f.ID = kf.ID
	f.Position = kf.Pose.Position
	f.Rotation = quant.EncodeQuat(kf.Pose.Rotation)
	f.LinearVelocity = kf.Pose.LinearVelocity
	f.AngularVelocity = kf.Pose.AngularVelocity
}

func fillObjectPFrame(f *proto.ObjectPFrame, obj common.ObjectID, epoch uint16, seq uint16, base *pose.Pose, cur *pose.Pose) {
	f.Object = obj
	f.IFrameID = epoch
	f.Seq = seq
	f.Position = quant.EncodePosition(cur.Position, base.Position)
	f.Rotation = quant.EncodeQuat(cur.Rotation)
	f.LinearVelocity = quant.EncodeVelocity(cur.LinearVelocity, base.LinearVelocity)
	f.AngularVelocity = quant.EncodeVelocity(cur.AngularVelocity, base.AngularVelocity)
}

func agentKeyframe(f *proto.AgentIFrame) pose.Keyframe {
	return pose.Keyframe{
		ID: f.ID,
		Pose: pose.Pose{
			Position:        f.Position,
			Rotation:        quant.DecodeQuat(f.Rotation),
			LinearVelocity:  f.LinearVelocity,
			AngularVelocity: f.AngularVelocity,
			Bones:           decodeBones(f.Bones),
		},
	}
}

func objectKeyframe(f *proto.ObjectIFrame) pose.Keyframe {
	return pose.Keyframe{
		ID: f.ID,
		Pose: pose.Pose{
			Position:        f.Position,
			Rotation:        quant.DecodeQuat(f.Rotation),
			LinearVelocity:  f.LinearVelocity,
			AngularVelocity: f.AngularVelocity,
		},
	}
}

// agentPose reconstructs the absolute pose of f relative to its keyframe
func agentPose(kf *pose.Keyframe, f *proto.AgentPFrame) pose.Pose {
	return pose.Pose{
		Position:        quant.DecodePosition(f.Position, kf.Pose.Position),
		Rotation:        quant.DecodeQuat(f.Rotation),
		LinearVelocity:  quant.DecodeVelocity(f.LinearVelocity, kf.Pose.LinearVelocity),
		AngularVelocity: quant.DecodeVelocity(f.AngularVelocity, kf.Pose.AngularVelocity),
		Bones:           mergeBones(kf.Pose.Bones, f.Bones),
	}
}

func objectPose(kf *pose.Keyframe, f *proto.ObjectPFrame) pose.Pose {
	return pose.Pose{
		Position:        quant.DecodePosition(f.Position, kf.Pose.Position),
		Rotation:        quant.DecodeQuat(f.Rotation),
		LinearVelocity:  quant.DecodeVelocity(f.LinearVelocity, kf.Pose.LinearVelocity),
		AngularVelocity: quant.DecodeVelocity(f.AngularVelocity, kf.Pose.AngularVelocity),
	}
}
