// Package geom holds the small amount of 3D geometry shared by the zone table
// and the tracking frame model.
package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point3 is a position in the tracker's frame of reference, in millimetres.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pt is shorthand for constructing a Point3.
func Pt(x, y, z float64) Point3 {
	return Point3{X: x, Y: y, Z: z}
}

// Vec converts the point to a gonum vector.
func (p Point3) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// Distance returns the euclidean distance between p and q.
func (p Point3) Distance(q Point3) float64 {
	return r3.Norm(r3.Sub(p.Vec(), q.Vec()))
}

// IsFinite reports whether every coordinate is a finite number.
func (p Point3) IsFinite() bool {
	for _, c := range [...]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func (p Point3) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", p.X, p.Y, p.Z)
}
