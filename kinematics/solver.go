// Package kinematics maps cartesian targets to servo angles for a
// base-rotating arm with two planar links (humerus and ulna).
package kinematics

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/mastercactapus/voxarm/coord"
	"github.com/pkg/errors"
)

var (
	// ErrUnreachable is returned when the target lies outside the annulus
	// the two links can reach.
	ErrUnreachable = errors.New("target is unreachable")

	// ErrDomain is returned when the solution is numerically undefined
	// (non-finite input, zero divisor or an acos argument outside [-1, 1]).
	ErrDomain = errors.New("target is outside the work envelope")
)

// IsUnreachable reports whether err means the target cannot be solved.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrDomain)
}

// Geometry holds the arm dimensions in centimetres.
type Geometry struct {
	BaseHeight float64 `toml:"base_height"`
	Humerus    float64 `toml:"humerus"`
	Ulna       float64 `toml:"ulna"`
}

// DefaultGeometry is the stock arm.
var DefaultGeometry = Geometry{
	BaseHeight: 7,
	Humerus:    19,
	Ulna:       15,
}

// MinReach is the inner radius of the reachable annulus.
func (g Geometry) MinReach() float64 { return math.Abs(g.Humerus - g.Ulna) }

// MaxReach is the outer radius of the reachable annulus.
func (g Geometry) MaxReach() float64 { return g.Humerus + g.Ulna }

// Limit is an inclusive servo range in degrees.
type Limit struct{ Min, Max int }

// Clamp will limit deg to [Min, Max].
func (l Limit) Clamp(deg int) int {
	if deg < l.Min {
		return l.Min
	}
	if deg > l.Max {
		return l.Max
	}
	return deg
}

// Angles is a solved pose for the three positioning joints.
type Angles struct {
	Base     int
	Shoulder int
	Elbow    int
}

// Solver computes joint angles for a fixed geometry and set of limits.
// The zero value is not usable; Base, Shoulder and Elbow must be set.
type Solver struct {
	Geometry

	Base, Shoulder, Elbow Limit
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func acos(num, den float64) (float64, error) {
	if den == 0 {
		return 0, errors.Wrap(ErrDomain, "division by zero")
	}
	arg := num / den
	if math.IsNaN(arg) || arg < -1 || arg > 1 {
		return 0, errors.Wrapf(ErrDomain, "acos(%g)", arg)
	}
	return math.Acos(arg), nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Solve returns the clamped servo angles that place the wrist at p.
//
// The base angle is measured so that a target straight ahead (positive X)
// is 90 degrees. Results are rounded to the nearest degree.
func (s Solver) Solve(p coord.Point) (Angles, error) {
	if !finite(p.X, p.Y, p.Z) {
		return Angles{}, errors.Wrapf(ErrDomain, "non-finite target (%s)", p)
	}
	h, u := s.Humerus, s.Ulna

	base := 90 - degrees(math.Atan2(p.Y, p.X))

	r := p.RadiusXY()
	zPrime := p.Z - s.BaseHeight
	d := r3.Vector{X: r, Y: zPrime}.Norm()

	if d > s.MaxReach() || d < s.MinReach() {
		return Angles{}, errors.Wrapf(ErrUnreachable, "reach %.2f outside [%g, %g]", d, s.MinReach(), s.MaxReach())
	}

	alpha1, err := acos(h*h+d*d-u*u, 2*h*d)
	if err != nil {
		return Angles{}, err
	}
	alpha2 := math.Atan2(zPrime, r)

	beta, err := acos(h*h+u*u-d*d, 2*h*u)
	if err != nil {
		return Angles{}, err
	}

	shoulder := degrees(alpha1 + alpha2)
	elbow := 180 - degrees(math.Pi-beta)
	if !finite(base, shoulder, elbow) {
		return Angles{}, errors.Wrap(ErrDomain, "non-finite angle")
	}

	return Angles{
		Base:     s.Base.Clamp(int(math.Round(base))),
		Shoulder: s.Shoulder.Clamp(int(math.Round(shoulder))),
		Elbow:    s.Elbow.Clamp(int(math.Round(elbow))),
	}, nil
}
