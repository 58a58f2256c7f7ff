// Package command turns free-text operator input into a single Intent.
package command

import (
	"github.com/mastercactapus/voxarm/arm"
	"github.com/mastercactapus/voxarm/coord"
)

// Kind identifies the Intent variant.
type Kind int

const (
	Unknown Kind = iota
	Stop
	Home
	Repeat
	MoveTo
	SetJointAngle
	Jog
	Vision
	Help
	Greeting
	GripperToggle
)

var kindNames = [...]string{
	Unknown:       "unknown",
	Stop:          "stop",
	Home:          "home",
	Repeat:        "repeat",
	MoveTo:        "move_to",
	SetJointAngle: "set_joint_angle",
	Jog:           "jog",
	Vision:        "vision",
	Help:          "help",
	Greeting:      "greeting",
	GripperToggle: "gripper_toggle",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "invalid"
	}
	return kindNames[k]
}

// Gripper directives as they appear on the wire.
const (
	GripperOpen  = "open"
	GripperClose = "close"
)

// Intent is the structured form of one operator command. Only the fields
// relevant to Kind are set.
type Intent struct {
	Kind Kind

	// MoveTo
	Coord coord.Point

	// MoveTo (optional) and GripperToggle. Empty on a GripperToggle means
	// "toggle" with no explicit state.
	Gripper string

	// Jog
	Axis  coord.Axis
	Delta float64

	// SetJointAngle
	Joint   arm.JointName
	Degrees float64

	// Text is the trimmed input the intent was parsed from.
	Text string
}
