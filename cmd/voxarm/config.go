package main

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mastercactapus/voxarm/actuator"
	"github.com/mastercactapus/voxarm/arm"
	"github.com/mastercactapus/voxarm/kinematics"
	"github.com/mastercactapus/voxarm/machine"
	"github.com/pkg/errors"
)

type duration struct{ time.Duration }

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Config is the server configuration, read from an optional TOML file.
type Config struct {
	Addr       string           `toml:"addr"`
	Controller ControllerConfig `toml:"controller"`
	Arm        ArmConfig        `toml:"arm"`
}

type ControllerConfig struct {
	URL string `toml:"url"`

	// SerialPort, if set, is used instead of URL.
	SerialPort string `toml:"serial_port"`
	Baud       int    `toml:"baud"`

	CommandTimeout   duration `toml:"command_timeout"`
	TelemetryTimeout duration `toml:"telemetry_timeout"`
}

type JointConfig struct {
	Name  string `toml:"name"`
	Min   int    `toml:"min"`
	Max   int    `toml:"max"`
	Angle int    `toml:"angle"`
}

type GripperConfig struct {
	OpenAngle   int    `toml:"open_angle"`
	ClosedAngle int    `toml:"closed_angle"`
	State       string `toml:"state"`
}

type ArmConfig struct {
	Geometry kinematics.Geometry `toml:"geometry"`
	Joints   []JointConfig       `toml:"joints"`
	Home     map[string]int      `toml:"home"`
	Gripper  GripperConfig       `toml:"gripper"`

	SettleDelay duration `toml:"settle_delay"`
	CycleDelay  duration `toml:"cycle_delay"`
}

func defaultConfig() Config {
	var joints []JointConfig
	for _, j := range arm.DefaultJoints() {
		joints = append(joints, JointConfig{Name: string(j.Name), Min: j.Min, Max: j.Max, Angle: j.Angle})
	}
	home := make(map[string]int, len(arm.DefaultHome))
	for j, deg := range arm.DefaultHome {
		home[string(j)] = deg
	}
	return Config{
		Addr: ":5000",
		Controller: ControllerConfig{
			URL:              "http://10.44.37.80",
			Baud:             115200,
			CommandTimeout:   duration{actuator.DefaultCommandTimeout},
			TelemetryTimeout: duration{actuator.DefaultTelemetryTimeout},
		},
		Arm: ArmConfig{
			Geometry: kinematics.DefaultGeometry,
			Joints:   joints,
			Home:     home,
			Gripper: GripperConfig{
				OpenAngle:   arm.DefaultGripper.OpenAngle,
				ClosedAngle: arm.DefaultGripper.ClosedAngle,
				State:       string(arm.DefaultGripper.State),
			},
			SettleDelay: duration{machine.DefaultSettleDelay},
			CycleDelay:  duration{machine.DefaultCycleDelay},
		},
	}
}

// loadConfig returns the defaults overlaid with the file at path, if any.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config '%s'", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, errors.Errorf("read config '%s': unknown key '%s'", path, undecoded[0])
	}
	return cfg, nil
}

func (c ArmConfig) newState() (*arm.State, error) {
	joints := make([]arm.Joint, 0, len(c.Joints))
	for _, j := range c.Joints {
		joints = append(joints, arm.Joint{Name: arm.JointName(j.Name), Min: j.Min, Max: j.Max, Angle: j.Angle})
	}
	return arm.NewState(joints, arm.Gripper{
		OpenAngle:   c.Gripper.OpenAngle,
		ClosedAngle: c.Gripper.ClosedAngle,
		State:       arm.GripperState(c.Gripper.State),
	})
}

// solver builds the IK solver from the joint limits held by state.
func (c ArmConfig) solver(state *arm.State) kinematics.Solver {
	limit := func(name arm.JointName) kinematics.Limit {
		j, _ := state.Joint(name)
		return j.Limit()
	}
	return kinematics.Solver{
		Geometry: c.Geometry,
		Base:     limit(arm.Base),
		Shoulder: limit(arm.Shoulder),
		Elbow:    limit(arm.Elbow),
	}
}

// home validates the home pose against the joint limits held by state.
func (c ArmConfig) home(state *arm.State) (arm.Pose, error) {
	pose := make(arm.Pose, len(c.Home))
	for name, deg := range c.Home {
		j, ok := state.Joint(arm.JointName(name))
		if !ok {
			return nil, errors.Errorf("home: unknown joint '%s'", name)
		}
		if !j.Contains(deg) {
			return nil, errors.Errorf("home: %s angle %d outside [%d, %d]", name, deg, j.Min, j.Max)
		}
		pose[j.Name] = deg
	}
	return pose, nil
}

func (c ArmConfig) validate() error {
	g := c.Geometry
	if g.Humerus <= 0 || g.Ulna <= 0 {
		return errors.New("geometry: link lengths must be positive")
	}
	if c.SettleDelay.Duration < 0 || c.CycleDelay.Duration < 0 {
		return errors.New("delays must not be negative")
	}
	return nil
}
