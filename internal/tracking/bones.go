package tracking

import "github.com/banshee-data/sensorybox/internal/geom"

// SelectContactBone returns the contact point of a finger: the PrevJoint of
// the first bone tagged Distal. The chain is searched by tag, not by index,
// so reordered or short chains still resolve. ok is false when the chain has
// no distal bone.
func SelectContactBone(chain []Bone) (p geom.Point3, ok bool) {
	for _, b := range chain {
		if b.Type == Distal {
			return b.PrevJoint, true
		}
	}
	return geom.Point3{}, false
}

// ContactPoint is SelectContactBone applied to the finger's chain.
func (f Finger) ContactPoint() (geom.Point3, bool) {
	return SelectContactBone(f.Bones)
}

// ChainFromJoints builds the standard four-bone chain from the five joint
// positions of a finger, wrist to tip: carpal, metacarpophalangeal, proximal
// interphalangeal, distal interphalangeal, and tip.
func ChainFromJoints(carp, mcp, pip, dip, tip geom.Point3) []Bone {
	return []Bone{
		{Type: Metacarpal, PrevJoint: carp, NextJoint: mcp},
		{Type: Proximal, PrevJoint: mcp, NextJoint: pip},
		{Type: Intermediate, PrevJoint: pip, NextJoint: dip},
		{Type: Distal, PrevJoint: dip, NextJoint: tip},
	}
}
