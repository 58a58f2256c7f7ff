package machine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mastercactapus/voxarm/actuator"
	"github.com/mastercactapus/voxarm/arm"
	"github.com/mastercactapus/voxarm/coord"
	"github.com/mastercactapus/voxarm/kinematics"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Sender that keeps every command and applies SET_ANGLES to
// the state the way the real gateway does.
type recorder struct {
	state *arm.State

	mx   sync.Mutex
	cmds []actuator.Command
	err  error
	ack  string
}

func (r *recorder) Send(ctx context.Context, cmd actuator.Command) (actuator.Ack, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.cmds = append(r.cmds, cmd)
	if r.err != nil {
		return actuator.Ack{}, r.err
	}
	if cmd.Name == actuator.SetAngles {
		r.state.ApplyAngles(cmd.Angles, time.Now())
	}
	return actuator.Ack{Status: r.ack}, nil
}

func (r *recorder) sent() []actuator.Command {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]actuator.Command(nil), r.cmds...)
}

func (r *recorder) fail(err error) {
	r.mx.Lock()
	r.err = err
	r.mx.Unlock()
}

func testSolver() kinematics.Solver {
	return kinematics.Solver{
		Geometry: kinematics.DefaultGeometry,
		Base:     kinematics.Limit{Min: 0, Max: 180},
		Shoulder: kinematics.Limit{Min: 0, Max: 170},
		Elbow:    kinematics.Limit{Min: 0, Max: 170},
	}
}

func newTestMachine(t *testing.T) (*Machine, *recorder, *arm.State) {
	state, err := arm.NewState(arm.DefaultJoints(), arm.DefaultGripper)
	require.NoError(t, err)
	rec := &recorder{state: state, ack: "ok"}
	m := NewMachine(state, rec, Config{
		Solver:      testSolver(),
		SettleDelay: time.Millisecond,
		CycleDelay:  time.Millisecond,
	})
	m.sleep = func(time.Duration) {}
	t.Cleanup(m.Close)
	return m, rec, state
}

func TestMachine_MoveTo(t *testing.T) {
	m, rec, state := newTestMachine(t)
	var slept []time.Duration
	m.sleep = func(d time.Duration) { slept = append(slept, d) }

	res := m.Handle(context.Background(), "move arm to x=20, y=0, z=25, g open")
	assert.Equal(t, StatusSuccess, res.Status)

	last, ok := state.LastCoordinate()
	require.True(t, ok)
	assert.Equal(t, coord.Point{X: 20, Y: 0, Z: 25}, last)

	cmds := rec.sent()
	require.Len(t, cmds, 2)
	assert.Equal(t, actuator.Command{
		Name:   actuator.SetAngles,
		Angles: arm.Pose{arm.Base: 90, arm.Shoulder: 75, arm.Elbow: 104},
	}, cmds[0])
	assert.Equal(t, actuator.Command{Name: actuator.GripperToggle, Gripper: "open"}, cmds[1])
	assert.Equal(t, []time.Duration{time.Millisecond}, slept)
}

func TestMachine_MoveToUnreachable(t *testing.T) {
	m, rec, state := newTestMachine(t)

	res := m.Handle(context.Background(), "move x=50, y=0, z=7")
	assert.Equal(t, Result{Status: StatusError, Message: "Target is unreachable."}, res)
	assert.Empty(t, rec.sent())
	_, ok := state.LastCoordinate()
	assert.False(t, ok)
}

func TestMachine_Jog(t *testing.T) {
	m, rec, state := newTestMachine(t)

	res := m.Handle(context.Background(), "jog x by 5")
	assert.Equal(t, Result{Status: StatusError, Message: "Cannot jog. Please move to an absolute position first."}, res)
	assert.Empty(t, rec.sent())
	_, ok := state.LastCoordinate()
	assert.False(t, ok)

	m.Handle(context.Background(), "move x=20, y=0, z=25")
	res = m.Handle(context.Background(), "jog x by 5")
	assert.Equal(t, StatusSuccess, res.Status)
	last, _ := state.LastCoordinate()
	assert.Equal(t, coord.Point{X: 25, Y: 0, Z: 25}, last)
	assert.Len(t, rec.sent(), 2)

	res = m.Handle(context.Background(), "nudge y by -3.5")
	assert.Equal(t, StatusSuccess, res.Status)
	last, _ = state.LastCoordinate()
	assert.Equal(t, coord.Point{X: 25, Y: -3.5, Z: 25}, last)

	// unreachable jog leaves the target alone
	res = m.Handle(context.Background(), "jog z by 100")
	assert.Equal(t, Result{Status: StatusError, Message: "Jog move is unreachable: Target is unreachable."}, res)
	last, _ = state.LastCoordinate()
	assert.Equal(t, coord.Point{X: 25, Y: -3.5, Z: 25}, last)
	assert.Len(t, rec.sent(), 3)
}

func TestMachine_SetJointAngle(t *testing.T) {
	m, rec, _ := newTestMachine(t)

	res := m.Handle(context.Background(), "move base to 200 degrees")
	assert.Equal(t, Result{Status: StatusError, Message: "For base, angle must be between 0 and 180°."}, res)
	assert.Empty(t, rec.sent())

	res = m.Handle(context.Background(), "move elbow to 45 degrees")
	assert.Equal(t, StatusSuccess, res.Status)
	res = m.Handle(context.Background(), "move wrist to 30 degrees")
	assert.Equal(t, StatusSuccess, res.Status)

	cmds := rec.sent()
	require.Len(t, cmds, 2)
	assert.Equal(t, arm.Pose{arm.Base: 90, arm.Shoulder: 90, arm.Elbow: 45, arm.Wrist: 90}, cmds[0].Angles)
	assert.Equal(t, arm.Pose{arm.Base: 90, arm.Shoulder: 90, arm.Elbow: 45, arm.Wrist: 30}, cmds[1].Angles)
}

// gatedSender holds every command until the gate opens.
type gatedSender struct {
	recorder
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedSender) Send(ctx context.Context, cmd actuator.Command) (actuator.Ack, error) {
	g.entered <- struct{}{}
	<-g.gate
	return g.recorder.Send(ctx, cmd)
}

func TestMachine_SetJointAngleConcurrent(t *testing.T) {
	state, err := arm.NewState(arm.DefaultJoints(), arm.DefaultGripper)
	require.NoError(t, err)
	out := &gatedSender{
		recorder: recorder{state: state},
		entered:  make(chan struct{}, 2),
		gate:     make(chan struct{}),
	}
	m := NewMachine(state, out, Config{Solver: testSolver()})
	m.sleep = func(time.Duration) {}

	var wg sync.WaitGroup
	run := func(text string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, StatusSuccess, m.Handle(context.Background(), text).Status)
		}()
	}

	run("move elbow to 45 degrees")
	<-out.entered
	run("move wrist to 30 degrees")

	// the second command must not build its pose while the first is in flight
	select {
	case <-out.entered:
		t.Fatal("second pose sent before the first was applied")
	case <-time.After(50 * time.Millisecond):
	}
	close(out.gate)
	wg.Wait()

	assert.Equal(t, 45, state.Angles()[arm.Elbow])
	assert.Equal(t, 30, state.Angles()[arm.Wrist])
	cmds := out.sent()
	require.Len(t, cmds, 2)
	assert.Equal(t, arm.Pose{arm.Base: 90, arm.Shoulder: 90, arm.Elbow: 45, arm.Wrist: 30}, cmds[1].Angles)
}

func TestMachine_HomeGripperOverride(t *testing.T) {
	m, rec, _ := newTestMachine(t)
	rec.ack = ""

	res := m.Handle(context.Background(), "go home and close gripper")
	assert.Equal(t, Result{Status: StatusSuccess, Message: "Done."}, res)

	cmds := rec.sent()
	require.Len(t, cmds, 2)
	assert.Equal(t, actuator.Command{Name: actuator.SetAngles, Angles: arm.DefaultHome, Gripper: "open"}, cmds[0])
	assert.Equal(t, actuator.Command{Name: actuator.GripperToggle, Gripper: "close"}, cmds[1])
}

func TestMachine_GripperOverrideReplacesResult(t *testing.T) {
	m, rec, _ := newTestMachine(t)

	// bare "gripper" inside a move command toggles after the move
	res := m.Handle(context.Background(), "move x=20, y=0, z=25 gripper open")
	assert.Equal(t, StatusSuccess, res.Status)
	cmds := rec.sent()
	require.Len(t, cmds, 3)
	assert.Equal(t, "open", cmds[1].Gripper)
	assert.Equal(t, actuator.Command{Name: actuator.GripperToggle}, cmds[2])

	// the override result wins even over a failed primary
	res = m.Handle(context.Background(), "jog z by 100 and open gripper")
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, actuator.Command{Name: actuator.GripperToggle, Gripper: "open"}, rec.sent()[3])
}

func TestMachine_Stop(t *testing.T) {
	m, rec, _ := newTestMachine(t)

	res := m.Handle(context.Background(), "EMERGENCY stop")
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []actuator.Command{{Name: actuator.EmergencyStop}}, rec.sent())
}

func TestMachine_TransportError(t *testing.T) {
	m, rec, state := newTestMachine(t)
	rec.fail(&actuator.TransportError{Message: "Cannot connect to controller: refused"})

	res := m.Handle(context.Background(), "move base to 45 degrees")
	assert.Equal(t, Result{Status: StatusError, Message: "Cannot connect to controller: refused"}, res)
	assert.Equal(t, "❌ Cannot connect to controller: refused", res.String())
	assert.Equal(t, 90, state.Angles()[arm.Base])
}

func TestMachine_HelpAndGreeting(t *testing.T) {
	m, rec, _ := newTestMachine(t)

	res := m.Handle(context.Background(), "xyzzy")
	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, strings.HasPrefix(res.Message, "You can try:\n"))
	assert.Contains(t, res.Message, "• jog x by 5")

	assert.Equal(t, res, m.Handle(context.Background(), "help"))
	assert.Equal(t, res, m.Handle(context.Background(), ""))

	res = m.Handle(context.Background(), "hey")
	assert.Equal(t, "Hello! How can I help you with the arm today?", res.Message)
	assert.Empty(t, rec.sent())
}

type fakeFrames struct{ frame []byte }

func (f fakeFrames) Frame(context.Context) ([]byte, bool) { return f.frame, f.frame != nil }

type fakeVision struct {
	answer string
	err    error
	query  string
}

func (f *fakeVision) Describe(_ context.Context, _ []byte, q string) (string, error) {
	f.query = q
	return f.answer, f.err
}

func TestMachine_Vision(t *testing.T) {
	m, rec, _ := newTestMachine(t)

	res := m.Handle(context.Background(), "what do you see in the frame")
	assert.Equal(t, Result{Status: StatusError, Message: "Camera not available."}, res)

	v := &fakeVision{answer: "a red cube"}
	m.frames = fakeFrames{frame: []byte{0xff, 0xd8}}
	m.vision = v

	// no gripper override for vision answers
	res = m.Handle(context.Background(), "do you see the gripper in the frame")
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "a red cube", res.Message)
	assert.Equal(t, []byte{0xff, 0xd8}, res.Image)
	assert.Equal(t, "Analyze this image: do you see the gripper in the frame", v.query)
	assert.Empty(t, rec.sent())

	v.err = errors.New(strings.Repeat("x", 150))
	res = m.Handle(context.Background(), "what do you see in the frame")
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "Vision analysis unavailable. Error: "+strings.Repeat("x", 100)+"...", res.Message)
}
