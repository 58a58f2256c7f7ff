// Package machine turns operator commands into controller commands and
// runs the unattended repeat cycle.
package machine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/voxarm/actuator"
	"github.com/mastercactapus/voxarm/arm"
	"github.com/mastercactapus/voxarm/command"
	"github.com/mastercactapus/voxarm/kinematics"
)

// Sender delivers a command to the controller.
type Sender interface {
	Send(ctx context.Context, cmd actuator.Command) (actuator.Ack, error)
}

// FrameSource returns the latest camera frame, or false if there is none.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, bool)
}

// Vision answers a free-text question about an image.
type Vision interface {
	Describe(ctx context.Context, image []byte, query string) (string, error)
}

const (
	DefaultSettleDelay = time.Second
	DefaultCycleDelay  = time.Second
)

// Config holds the fixed parameters of a Machine.
type Config struct {
	Solver kinematics.Solver
	Home   arm.Pose

	// SettleDelay is how long motion is assumed to take.
	SettleDelay time.Duration
	// CycleDelay is the pause between repeat cycles.
	CycleDelay time.Duration

	// Optional; vision queries report the camera as unavailable without them.
	Frames FrameSource
	Vision Vision
}

// Machine dispatches operator commands against a single arm.
type Machine struct {
	state  *arm.State
	out    Sender
	solver kinematics.Solver
	home   arm.Pose
	settle time.Duration
	cycle  time.Duration
	frames FrameSource
	vision Vision

	sleep func(time.Duration)

	// motionMx is held across every SET_ANGLES exchange so a pose built
	// from the cached angles can't revert a concurrent move.
	motionMx sync.Mutex

	repeatMx   sync.Mutex
	repeatDone chan struct{}
	tasks      int32
}

// NewMachine creates a Machine. Zero delays are replaced by the defaults.
func NewMachine(state *arm.State, out Sender, cfg Config) *Machine {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.CycleDelay == 0 {
		cfg.CycleDelay = DefaultCycleDelay
	}
	if cfg.Home == nil {
		cfg.Home = arm.DefaultHome
	}
	return &Machine{
		state:  state,
		out:    out,
		solver: cfg.Solver,
		home:   cfg.Home,
		settle: cfg.SettleDelay,
		cycle:  cfg.CycleDelay,
		frames: cfg.Frames,
		vision: cfg.Vision,
		sleep:  time.Sleep,
	}
}

// Handle interprets text and carries it out.
func (m *Machine) Handle(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)
	in := command.Parse(text)

	// vision answers are returned as-is; the gripper override below
	// doesn't apply to them
	if in.Kind == command.Vision {
		return m.describe(ctx, text)
	}

	res := m.dispatch(ctx, in)

	if ov, ok := command.GripperOverride(text); ok {
		res = m.send(ctx, actuator.Command{Name: actuator.GripperToggle, Gripper: ov.Gripper})
	}

	if res.Status == StatusSuccess && res.Message == "" {
		res.Message = "Done."
	}
	return res
}

// Close stops the repeat cycle, if running, and waits for it to exit.
func (m *Machine) Close() {
	m.state.StopRepeat()

	m.repeatMx.Lock()
	done := m.repeatDone
	m.repeatMx.Unlock()

	if done != nil {
		<-done
	}
}
