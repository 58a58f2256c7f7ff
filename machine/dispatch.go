package machine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/mastercactapus/voxarm/actuator"
	"github.com/mastercactapus/voxarm/arm"
	"github.com/mastercactapus/voxarm/command"
	"github.com/mastercactapus/voxarm/coord"
	"github.com/mastercactapus/voxarm/kinematics"
	"github.com/pkg/errors"
)

var helpExamples = []string{
	"move arm to x=20, y=0, z=25, g open",
	"jog x by 5",
	"move y by -10",
	"move base to 45 degrees",
	"move to home",
	"repeat",
	"stop",
	"close gripper",
}

func (m *Machine) dispatch(ctx context.Context, in command.Intent) Result {
	switch in.Kind {
	case command.Stop:
		if m.state.StopRepeat() {
			return info("Repetition stopped.")
		}
		return m.send(ctx, actuator.Command{Name: actuator.EmergencyStop})
	case command.Home:
		return m.sendPose(ctx, m.homeCommand(command.GripperOpen))
	case command.Repeat:
		return m.startRepeat()
	case command.MoveTo:
		return m.moveTo(ctx, in)
	case command.SetJointAngle:
		return m.setJointAngle(ctx, in)
	case command.Jog:
		return m.jog(ctx, in)
	case command.Greeting:
		return success("Hello! How can I help you with the arm today?")
	}
	return help()
}

func help() Result {
	var b strings.Builder
	b.WriteString("You can try:")
	for _, ex := range helpExamples {
		b.WriteString("\n• " + ex)
	}
	return success(b.String())
}

// send delivers cmd and reports the controller's answer.
func (m *Machine) send(ctx context.Context, cmd actuator.Command) Result {
	ack, err := m.out.Send(ctx, cmd)
	if err != nil {
		return failure(err.Error())
	}
	return success(ack.Status)
}

// sendPose is send for SET_ANGLES commands.
func (m *Machine) sendPose(ctx context.Context, cmd actuator.Command) Result {
	m.motionMx.Lock()
	defer m.motionMx.Unlock()
	return m.send(ctx, cmd)
}

func (m *Machine) homeCommand(gripper string) actuator.Command {
	pose := make(arm.Pose, len(m.home))
	for j, deg := range m.home {
		pose[j] = deg
	}
	return actuator.Command{Name: actuator.SetAngles, Angles: pose, Gripper: gripper}
}

func anglesCommand(a kinematics.Angles) actuator.Command {
	return actuator.Command{
		Name: actuator.SetAngles,
		Angles: arm.Pose{
			arm.Base:     a.Base,
			arm.Shoulder: a.Shoulder,
			arm.Elbow:    a.Elbow,
		},
	}
}

func unreachableMessage(err error) string {
	if errors.Is(err, kinematics.ErrUnreachable) {
		return "Target is unreachable."
	}
	return "Calculation error. The target might be out of the arm's work envelope."
}

func (m *Machine) moveTo(ctx context.Context, in command.Intent) Result {
	angles, err := m.solver.Solve(in.Coord)
	if err != nil {
		return failure(unreachableMessage(err))
	}
	m.state.SetLastCoordinate(in.Coord)

	res := m.sendPose(ctx, anglesCommand(angles))
	if in.Gripper == "" {
		return res
	}

	// the gripper must act after the arm has arrived
	m.sleep(m.settle)
	return m.send(ctx, actuator.Command{Name: actuator.GripperToggle, Gripper: in.Gripper})
}

func (m *Machine) jog(ctx context.Context, in command.Intent) Result {
	var angles kinematics.Angles
	_, err := m.state.UpdateLastCoordinate(func(cur *coord.Point) (coord.Point, error) {
		if cur == nil {
			return coord.Point{}, arm.ErrNoLastCoordinate
		}
		next := cur.Jog(in.Axis, in.Delta)
		a, err := m.solver.Solve(next)
		if err != nil {
			return coord.Point{}, err
		}
		angles = a
		return next, nil
	})
	if errors.Is(err, arm.ErrNoLastCoordinate) {
		return failure("Cannot jog. Please move to an absolute position first.")
	}
	if err != nil {
		return failure("Jog move is unreachable: " + unreachableMessage(err))
	}
	return m.sendPose(ctx, anglesCommand(angles))
}

// setJointAngle always sends a full pose: the cached angle of every joint
// with only the commanded one replaced.
func (m *Machine) setJointAngle(ctx context.Context, in command.Intent) Result {
	j, ok := m.state.Joint(in.Joint)
	if !ok {
		return failure(fmt.Sprintf("Unknown joint %s.", in.Joint))
	}
	deg := math.Round(in.Degrees)
	if math.IsNaN(deg) || deg < float64(j.Min) || deg > float64(j.Max) {
		return failure(fmt.Sprintf("For %s, angle must be between %d and %d°.", j.Name, j.Min, j.Max))
	}

	m.motionMx.Lock()
	defer m.motionMx.Unlock()

	pose := m.state.Angles()
	pose[j.Name] = int(deg)
	return m.send(ctx, actuator.Command{Name: actuator.SetAngles, Angles: pose})
}
