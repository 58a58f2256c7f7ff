package arm

import (
	"sync"
	"time"

	"github.com/mastercactapus/voxarm/coord"
	"github.com/pkg/errors"
)

var (
	// ErrNoLastCoordinate is returned when an operation needs a previously
	// solved target and none exists yet.
	ErrNoLastCoordinate = errors.New("no last coordinate")

	// ErrRepeatActive is returned by StartRepeat while a cycle is running.
	ErrRepeatActive = errors.New("repeat already active")
)

// State is the process-wide arm record. All access goes through its methods.
type State struct {
	mx sync.Mutex

	order    []JointName
	joints   map[JointName]*Joint
	gripper  Gripper
	last     *coord.Point
	lastSync time.Time

	repeat    bool
	repeatGen uint64

	changes chan Snapshot
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	Joints    []Joint      `json:"joints"`
	Gripper   Gripper      `json:"gripper"`
	Last      *coord.Point `json:"last_coordinate"`
	Repeating bool         `json:"repeat_active"`

	// LastSync is when a SET_ANGLES command was last acknowledged. The
	// cached angles are never read back from the controller, so anything
	// older than the last motion is a guess.
	LastSync *time.Time `json:"last_sync,omitempty"`
}

// NewState validates the joint table and returns a State in its initial form.
func NewState(joints []Joint, g Gripper) (*State, error) {
	s := &State{
		joints:  make(map[JointName]*Joint, len(joints)),
		gripper: g,
		changes: make(chan Snapshot, 1),
	}
	for _, j := range joints {
		if _, err := ParseJoint(string(j.Name)); err != nil {
			return nil, err
		}
		if _, ok := s.joints[j.Name]; ok {
			return nil, errors.Errorf("joint '%s' defined twice", j.Name)
		}
		if j.Min > j.Max {
			return nil, errors.Errorf("joint '%s': min %d > max %d", j.Name, j.Min, j.Max)
		}
		if !j.Contains(j.Angle) {
			return nil, errors.Errorf("joint '%s': angle %d outside [%d, %d]", j.Name, j.Angle, j.Min, j.Max)
		}
		j := j
		s.joints[j.Name] = &j
		s.order = append(s.order, j.Name)
	}
	for _, name := range Joints() {
		if _, ok := s.joints[name]; !ok {
			return nil, errors.Errorf("joint '%s' missing", name)
		}
	}
	switch g.State {
	case GripperOpen, GripperClosed:
	default:
		return nil, errors.Errorf("invalid gripper state '%s'", g.State)
	}
	return s, nil
}

// Changes returns a channel that receives the latest snapshot after each
// mutation. Only the newest snapshot is kept if the reader falls behind.
func (s *State) Changes() <-chan Snapshot { return s.changes }

func (s *State) snapshot() Snapshot {
	snap := Snapshot{
		Joints:    make([]Joint, 0, len(s.order)),
		Gripper:   s.gripper,
		Repeating: s.repeat,
	}
	for _, name := range s.order {
		snap.Joints = append(snap.Joints, *s.joints[name])
	}
	if s.last != nil {
		p := *s.last
		snap.Last = &p
	}
	if !s.lastSync.IsZero() {
		t := s.lastSync
		snap.LastSync = &t
	}
	return snap
}

// notify must be called with mx held.
func (s *State) notify() {
	snap := s.snapshot()
	select {
	case <-s.changes:
	default:
	}
	select {
	case s.changes <- snap:
	default:
	}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.snapshot()
}

// Joint returns the named joint.
func (s *State) Joint(name JointName) (Joint, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	j, ok := s.joints[name]
	if !ok {
		return Joint{}, false
	}
	return *j, true
}

// Angles returns the cached angle of every controllable joint.
func (s *State) Angles() Pose {
	s.mx.Lock()
	defer s.mx.Unlock()
	p := make(Pose, len(s.joints))
	for name, j := range s.joints {
		p[name] = j.Angle
	}
	return p
}

// ApplyAngles records p as the new cached angles. Unknown joints are
// ignored and angles are clamped to the joint range.
func (s *State) ApplyAngles(p Pose, at time.Time) {
	s.ApplyPose(p, "", at)
}

// ApplyPose is ApplyAngles that also records the gripper state, unless g
// is empty. Readers see both changes together.
func (s *State) ApplyPose(p Pose, g GripperState, at time.Time) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for name, deg := range p {
		j, ok := s.joints[name]
		if !ok {
			continue
		}
		j.Angle = j.Limit().Clamp(deg)
	}
	if g != "" {
		s.gripper.State = g
	}
	s.lastSync = at
	s.notify()
}

// Gripper returns the cached gripper record.
func (s *State) Gripper() Gripper {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.gripper
}

// SetGripper records the gripper state.
func (s *State) SetGripper(state GripperState) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.gripper.State = state
	s.notify()
}

// ToggleGripper flips the cached gripper state and returns the new value.
func (s *State) ToggleGripper() GripperState {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.gripper.State == GripperOpen {
		s.gripper.State = GripperClosed
	} else {
		s.gripper.State = GripperOpen
	}
	s.notify()
	return s.gripper.State
}

// LastCoordinate returns the last successfully solved target.
func (s *State) LastCoordinate() (coord.Point, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.last == nil {
		return coord.Point{}, false
	}
	return *s.last, true
}

// SetLastCoordinate records p as the last solved target.
func (s *State) SetLastCoordinate(p coord.Point) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.last = &p
	s.notify()
}

// UpdateLastCoordinate atomically derives a new target from the current
// one. fn receives nil if no target is set. The result is stored only if
// fn returns a nil error.
func (s *State) UpdateLastCoordinate(fn func(cur *coord.Point) (coord.Point, error)) (coord.Point, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	var cur *coord.Point
	if s.last != nil {
		p := *s.last
		cur = &p
	}
	next, err := fn(cur)
	if err != nil {
		return coord.Point{}, err
	}
	s.last = &next
	s.notify()
	return next, nil
}

// StartRepeat sets the repeat flag and returns a token for the new run.
// It fails if no target has been solved yet or a run is already active.
func (s *State) StartRepeat() (uint64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.last == nil {
		return 0, ErrNoLastCoordinate
	}
	if s.repeat {
		return 0, ErrRepeatActive
	}
	s.repeat = true
	s.repeatGen++
	s.notify()
	return s.repeatGen, nil
}

// RepeatActive reports whether the run identified by gen should continue.
func (s *State) RepeatActive(gen uint64) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.repeat && s.repeatGen == gen
}

// Repeating reports whether any run is active.
func (s *State) Repeating() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.repeat
}

// StopRepeat clears the repeat flag and reports whether it was set.
func (s *State) StopRepeat() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	was := s.repeat
	s.repeat = false
	if was {
		s.notify()
	}
	return was
}

// EndRepeat clears the flag only if gen is still the active run.
func (s *State) EndRepeat(gen uint64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.repeatGen != gen || !s.repeat {
		return
	}
	s.repeat = false
	s.notify()
}
