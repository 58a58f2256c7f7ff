package machine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mastercactapus/voxarm/actuator"
	"github.com/mastercactapus/voxarm/arm"
	"github.com/mastercactapus/voxarm/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepSleep calls hook with the 1-based index of each sleep.
func stepSleep(hook func(n int)) func(time.Duration) {
	var mx sync.Mutex
	var n int
	return func(time.Duration) {
		mx.Lock()
		n++
		i := n
		mx.Unlock()
		hook(i)
	}
}

func waitIdle(t *testing.T, m *Machine) {
	require.Eventually(t, func() bool { return m.RepeatTasks() == 0 }, time.Second, time.Millisecond)
}

func names(cmds []actuator.Command) []string {
	var res []string
	for _, c := range cmds {
		s := string(c.Name)
		if c.Gripper != "" {
			s += ":" + c.Gripper
		}
		res = append(res, s)
	}
	return res
}

func TestRepeat_NoTarget(t *testing.T) {
	m, rec, state := newTestMachine(t)

	res := m.Handle(context.Background(), "repeat")
	assert.Equal(t, Result{Status: StatusError, Message: "No last coordinate to repeat."}, res)
	assert.False(t, state.Repeating())
	assert.Equal(t, 0, m.RepeatTasks())
	assert.Empty(t, rec.sent())
}

func TestRepeat_StopAtCheckpoint(t *testing.T) {
	m, rec, state := newTestMachine(t)
	state.SetLastCoordinate(coord.Point{X: 20, Y: 0, Z: 25})

	stopped := make(chan struct{})
	m.sleep = stepSleep(func(n int) {
		// stop while waiting for the gripper to close
		if n == 2 {
			assert.Equal(t, info("Repetition stopped."), m.Handle(context.Background(), "stop"))
			close(stopped)
		}
	})

	res := m.Handle(context.Background(), "repeat")
	assert.Equal(t, success("Starting repeat cycle. Say 'stop' to end."), res)

	<-stopped
	m.Close()

	assert.Equal(t, []string{"SET_ANGLES", "GRIPPER_TOGGLE:close"}, names(rec.sent()))
	assert.Equal(t, 0, m.RepeatTasks())
	assert.False(t, state.Repeating())
}

func TestRepeat_FullCycle(t *testing.T) {
	m, rec, state := newTestMachine(t)
	state.SetLastCoordinate(coord.Point{X: 20, Y: 0, Z: 25})

	// five pauses per cycle; stop during the inter-cycle delay of the
	// second cycle
	m.sleep = stepSleep(func(n int) {
		if n == 10 {
			state.StopRepeat()
		}
	})

	m.Handle(context.Background(), "repeat")
	waitIdle(t, m)

	cycle := []string{"SET_ANGLES", "GRIPPER_TOGGLE:close", "SET_ANGLES", "GRIPPER_TOGGLE:open"}
	assert.Equal(t, append(append([]string{}, cycle...), cycle...), names(rec.sent()))

	cmds := rec.sent()
	assert.Equal(t, arm.DefaultHome, cmds[0].Angles)
	assert.Equal(t, "", cmds[0].Gripper)
	assert.Equal(t, arm.Pose{arm.Base: 90, arm.Shoulder: 75, arm.Elbow: 104}, cmds[2].Angles)
}

func TestRepeat_SecondRequestIsNoop(t *testing.T) {
	m, _, state := newTestMachine(t)
	state.SetLastCoordinate(coord.Point{X: 20, Y: 0, Z: 25})

	release := make(chan struct{})
	m.sleep = func(time.Duration) { <-release }

	res := m.Handle(context.Background(), "repeat")
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, m.RepeatTasks())

	res = m.Handle(context.Background(), "repeat")
	assert.Equal(t, info("Already in repeat mode."), res)
	assert.Equal(t, 1, m.RepeatTasks())

	state.StopRepeat()
	close(release)
	m.Close()
	assert.Equal(t, 0, m.RepeatTasks())
}

func TestRepeat_UnreachableAborts(t *testing.T) {
	m, rec, state := newTestMachine(t)
	state.SetLastCoordinate(coord.Point{X: 20, Y: 0, Z: 25})

	m.sleep = stepSleep(func(n int) {
		if n == 1 {
			// the target moves out of reach mid-cycle
			state.SetLastCoordinate(coord.Point{X: 100, Y: 0, Z: 25})
		}
	})

	m.Handle(context.Background(), "repeat")
	waitIdle(t, m)

	assert.False(t, state.Repeating())
	assert.Equal(t, []string{"SET_ANGLES", "GRIPPER_TOGGLE:close"}, names(rec.sent()))

	// the process carries on normally
	res := m.Handle(context.Background(), "move x=20, y=0, z=25")
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestRepeat_RestartWaitsForPrevious(t *testing.T) {
	m, _, state := newTestMachine(t)
	state.SetLastCoordinate(coord.Point{X: 20, Y: 0, Z: 25})

	first := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m.sleep = func(time.Duration) {
		once.Do(func() {
			close(first)
			<-release
		})
	}

	m.Handle(context.Background(), "repeat")
	<-first
	m.Handle(context.Background(), "stop")
	assert.Equal(t, 1, m.RepeatTasks())

	restarted := make(chan Result)
	go func() { restarted <- m.Handle(context.Background(), "repeat") }()

	// the stale run is still parked in its delay, so the restart waits
	select {
	case <-restarted:
		t.Fatal("restart did not wait for the previous run")
	case <-time.After(20 * time.Millisecond):
	}
	assert.LessOrEqual(t, m.RepeatTasks(), 1)

	close(release)
	res := <-restarted
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, m.RepeatTasks())

	state.StopRepeat()
	m.Close()
	assert.Equal(t, 0, m.RepeatTasks())
}
