package coord

import (
	"fmt"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Point is a position in the arm frame, in centimetres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Axis names one of the three cartesian axes.
type Axis byte

const (
	AxisX Axis = 'x'
	AxisY Axis = 'y'
	AxisZ Axis = 'z'
)

// ParseAxis returns the Axis for "x", "y" or "z" (any case).
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return 0, errors.Errorf("unknown axis '%s'", s)
}

func (a Axis) String() string { return string(a) }

// Unit returns the unit vector along a.
func (a Axis) Unit() Point {
	switch a {
	case AxisX:
		return Point{X: 1}
	case AxisY:
		return Point{Y: 1}
	case AxisZ:
		return Point{Z: 1}
	}
	return Point{}
}

func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y && p.Z == b.Z
}

func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	p.Z *= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

// Jog returns p moved by delta along axis a.
func (p Point) Jog(a Axis, delta float64) Point {
	return p.Add(a.Unit().Mul(delta))
}

// Vector converts p to an r3 vector.
func (p Point) Vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// RadiusXY will return the distance of p from the Z axis.
func (p Point) RadiusXY() float64 {
	return r3.Vector{X: p.X, Y: p.Y}.Norm()
}

func (p Point) String() string {
	return fmt.Sprintf("x=%g, y=%g, z=%g", p.X, p.Y, p.Z)
}
