// Package actuator talks to the remote arm controller.
package actuator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mastercactapus/voxarm/arm"
	"github.com/pkg/errors"
)

// Name is the controller command verb.
type Name string

const (
	SetAngles     Name = "SET_ANGLES"
	GripperToggle Name = "GRIPPER_TOGGLE"
	EmergencyStop Name = "EMERGENCY_STOP"
	Telemetry     Name = "TELEMETRY"
)

// Command is a single controller instruction. It is encoded as one flat
// JSON object: {"command": "SET_ANGLES", "base": 90, ..., "gripper": "open"}.
type Command struct {
	Name    Name
	Angles  arm.Pose
	Gripper string
}

func (c Command) fields() map[string]interface{} {
	m := make(map[string]interface{}, len(c.Angles)+3)
	m["command"] = c.Name
	for j, deg := range c.Angles {
		m[string(j)] = deg
	}
	if c.Gripper != "" {
		m["gripper"] = c.Gripper
	}
	return m
}

func (c Command) MarshalJSON() ([]byte, error) { return json.Marshal(c.fields()) }

func (c *Command) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	err := json.Unmarshal(data, &m)
	if err != nil {
		return err
	}
	var name string
	err = json.Unmarshal(m["command"], &name)
	if err != nil {
		return errors.Wrap(err, "command")
	}
	*c = Command{Name: Name(name)}
	if raw, ok := m["gripper"]; ok {
		err = json.Unmarshal(raw, &c.Gripper)
		if err != nil {
			return errors.Wrap(err, "gripper")
		}
	}
	for _, j := range arm.Joints() {
		raw, ok := m[string(j)]
		if !ok {
			continue
		}
		var deg int
		err = json.Unmarshal(raw, &deg)
		if err != nil {
			return errors.Wrap(err, string(j))
		}
		if c.Angles == nil {
			c.Angles = make(arm.Pose, 4)
		}
		c.Angles[j] = deg
	}
	return nil
}

// Ack is a successful controller reply.
type Ack struct {
	// Status is the controller's status text, "Done" if it sent none.
	Status string
}

// TransportError is any failure to get a successful reply.
type TransportError struct {
	// Message is a human readable diagnostic.
	Message string

	// StatusCode is set when the controller answered with a non-success
	// status. It is zero when the controller could not be reached or sent
	// something unreadable.
	StatusCode int

	Err error
}

func (e *TransportError) Error() string { return e.Message }
func (e *TransportError) Cause() error  { return e.Err }
func (e *TransportError) Unwrap() error { return e.Err }

func unreachable(err error) *TransportError {
	return &TransportError{Message: fmt.Sprintf("Cannot connect to controller: %v", err), Err: err}
}

func badStatus(code int) *TransportError {
	return &TransportError{Message: fmt.Sprintf("Controller returned status %d", code), StatusCode: code}
}

// Transport carries commands to the controller.
type Transport interface {
	Do(ctx context.Context, cmd Command) (Ack, error)
	Telemetry(ctx context.Context) (json.RawMessage, error)
}

type reply struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (r reply) ack() Ack {
	if r.Status == "" {
		return Ack{Status: "Done"}
	}
	return Ack{Status: r.Status}
}
