package actuator

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/mastercactapus/voxarm/arm"
)

const (
	DefaultCommandTimeout   = 15 * time.Second
	DefaultTelemetryTimeout = 3 * time.Second
)

// Gateway sends commands through a Transport and keeps the arm.State cache
// in line with what the controller acknowledged.
//
// The cache is optimistic: it records what was sent, not what the servos
// did, and is never read back from telemetry.
type Gateway struct {
	t     Transport
	state *arm.State

	CommandTimeout   time.Duration
	TelemetryTimeout time.Duration

	now func() time.Time
}

// NewGateway creates a Gateway with the default timeouts.
func NewGateway(t Transport, state *arm.State) *Gateway {
	return &Gateway{
		t:                t,
		state:            state,
		CommandTimeout:   DefaultCommandTimeout,
		TelemetryTimeout: DefaultTelemetryTimeout,
		now:              time.Now,
	}
}

// Send delivers cmd. It is never retried, and once started it is bounded
// only by CommandTimeout, not by cancellation of ctx.
func (g *Gateway) Send(ctx context.Context, cmd Command) (Ack, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.CommandTimeout)
	defer cancel()

	ack, err := g.t.Do(ctx, cmd)
	if err != nil {
		log.Printf("ERROR: send %s: %+v", cmd.Name, err)
		return Ack{}, err
	}

	switch cmd.Name {
	case SetAngles:
		var gs arm.GripperState
		if cmd.Gripper != "" {
			gs = gripperState(cmd.Gripper)
		}
		g.state.ApplyPose(cmd.Angles, gs, g.now())
	case GripperToggle:
		if cmd.Gripper == "" {
			g.state.ToggleGripper()
		} else {
			g.state.SetGripper(gripperState(cmd.Gripper))
		}
	}
	return ack, nil
}

// Telemetry returns the controller's telemetry document as-is.
func (g *Gateway) Telemetry(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, g.TelemetryTimeout)
	defer cancel()

	data, err := g.t.Telemetry(ctx)
	if err != nil {
		log.Printf("ERROR: telemetry: %+v", err)
		return nil, err
	}
	return data, nil
}

func gripperState(s string) arm.GripperState {
	if s == "close" || s == "closed" {
		return arm.GripperClosed
	}
	return arm.GripperOpen
}
