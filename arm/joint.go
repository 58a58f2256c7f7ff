// Package arm holds the shared, mutex-guarded record of the arm: joint
// limits and cached angles, gripper state, the last solved target and the
// repeat-cycle flag.
package arm

import (
	"github.com/mastercactapus/voxarm/kinematics"
	"github.com/pkg/errors"
)

// JointName identifies a controllable joint.
type JointName string

const (
	Base     JointName = "base"
	Shoulder JointName = "shoulder"
	Elbow    JointName = "elbow"
	Wrist    JointName = "wrist"
)

// Joints returns the controllable joints in payload order.
func Joints() []JointName {
	return []JointName{Base, Shoulder, Elbow, Wrist}
}

// ParseJoint returns the JointName for s, which must already be lower case.
func ParseJoint(s string) (JointName, error) {
	for _, j := range Joints() {
		if string(j) == s {
			return j, nil
		}
	}
	return "", errors.Errorf("unknown joint '%s'", s)
}

// Joint is a single servo with its allowed range and last commanded angle.
type Joint struct {
	Name  JointName `json:"name"`
	Min   int       `json:"min_angle"`
	Max   int       `json:"max_angle"`
	Angle int       `json:"current_angle"`
}

// Limit returns the joint range.
func (j Joint) Limit() kinematics.Limit { return kinematics.Limit{Min: j.Min, Max: j.Max} }

// Contains reports whether deg is within the joint range.
func (j Joint) Contains(deg int) bool { return deg >= j.Min && deg <= j.Max }

// GripperState is the discrete end-effector state.
type GripperState string

const (
	GripperOpen   GripperState = "open"
	GripperClosed GripperState = "closed"
)

// Gripper describes the end effector.
type Gripper struct {
	OpenAngle   int          `json:"open_angle"`
	ClosedAngle int          `json:"closed_angle"`
	State       GripperState `json:"current_state"`
}

// Pose maps joints to angles.
type Pose map[JointName]int

// DefaultHome is the rest pose used by "home" and the repeat cycle.
var DefaultHome = Pose{Base: 10, Shoulder: 70, Elbow: 160, Wrist: 120}

// DefaultJoints is the stock joint table.
func DefaultJoints() []Joint {
	return []Joint{
		{Name: Base, Min: 0, Max: 180, Angle: 90},
		{Name: Shoulder, Min: 0, Max: 170, Angle: 90},
		{Name: Elbow, Min: 0, Max: 170, Angle: 90},
		{Name: Wrist, Min: 0, Max: 180, Angle: 90},
	}
}

// DefaultGripper is the stock gripper.
var DefaultGripper = Gripper{OpenAngle: 120, ClosedAngle: 0, State: GripperOpen}
