package machine

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/voxarm/actuator"
	"github.com/mastercactapus/voxarm/arm"
	"github.com/mastercactapus/voxarm/command"
)

// RepeatTasks returns the number of running repeat cycles (0 or 1).
func (m *Machine) RepeatTasks() int {
	return int(atomic.LoadInt32(&m.tasks))
}

func (m *Machine) startRepeat() Result {
	m.repeatMx.Lock()
	defer m.repeatMx.Unlock()

	gen, err := m.state.StartRepeat()
	switch err {
	case nil:
	case arm.ErrNoLastCoordinate:
		return failure("No last coordinate to repeat.")
	case arm.ErrRepeatActive:
		return info("Already in repeat mode.")
	default:
		return failure(err.Error())
	}

	// a stopped run may still be finishing its current step
	if m.repeatDone != nil {
		<-m.repeatDone
	}

	done := make(chan struct{})
	m.repeatDone = done
	atomic.AddInt32(&m.tasks, 1)
	go func() {
		defer close(done)
		defer atomic.AddInt32(&m.tasks, -1)
		m.repeatLoop(gen)
	}()

	return success("Starting repeat cycle. Say 'stop' to end.")
}

// repeatLoop drives the arm between home and the last target until the
// run identified by gen is stopped. The flag is checked before every
// command and after every delay; nothing is interrupted mid-step.
func (m *Machine) repeatLoop(gen uint64) {
	log.Println("Repeat cycle started.")
	defer log.Println("Repeat cycle finished.")

	ctx := context.Background()
	active := func() bool { return m.state.RepeatActive(gen) }
	pause := func(d time.Duration) bool {
		m.sleep(d)
		return active()
	}
	send := func(cmd actuator.Command) {
		// failures are logged by the gateway; the cycle carries on
		if cmd.Name == actuator.SetAngles {
			m.sendPose(ctx, cmd)
		} else {
			m.send(ctx, cmd)
		}
	}

	for active() {
		send(m.homeCommand(""))
		if !pause(m.settle) {
			return
		}
		send(actuator.Command{Name: actuator.GripperToggle, Gripper: command.GripperClose})
		if !pause(m.settle) {
			return
		}

		target, ok := m.state.LastCoordinate()
		if !ok {
			m.state.EndRepeat(gen)
			return
		}
		angles, err := m.solver.Solve(target)
		if err != nil {
			log.Printf("ERROR: repeat: reach (%s): %+v", target, err)
			m.state.EndRepeat(gen)
			return
		}

		send(anglesCommand(angles))
		if !pause(m.settle) {
			return
		}
		send(actuator.Command{Name: actuator.GripperToggle, Gripper: command.GripperOpen})
		if !pause(m.settle) {
			return
		}
		if !pause(m.cycle) {
			return
		}
	}
}
