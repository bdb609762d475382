// Package zones maps contact points to the sensory box whose trigger volume
// contains them.
//
// A Table is an ordered list of cubic zones fixed at construction. Lookup
// walks the zones in insertion order and the first zone containing the point
// wins, so overlapping zones are resolved by configuration order.
package zones

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/sensorybox/internal/geom"
)

// IdleCode is the "cold" code commanded when a finger touches no zone.
const IdleCode byte = 'C'

// DefaultHalfWidth is the cube half-width, in millimetres, used when a zone
// does not specify its own.
const DefaultHalfWidth = 50.0

// Box codes for the four elements.
const (
	Fire  byte = 'F'
	Air   byte = 'A'
	Earth byte = 'T'
	Water byte = 'W'
)

var ErrInvalidZone = errors.New("invalid zone")

// Zone is a labelled cube centred on Anchor. A point is inside when it lies
// strictly within HalfWidth of the anchor on every axis.
type Zone struct {
	Code      byte
	Anchor    geom.Point3
	HalfWidth float64
}

// Contains reports whether p lies inside the open cube of the zone.
func (z Zone) Contains(p geom.Point3) bool {
	hw := z.HalfWidth
	return p.X > z.Anchor.X-hw && p.X < z.Anchor.X+hw &&
		p.Y > z.Anchor.Y-hw && p.Y < z.Anchor.Y+hw &&
		p.Z > z.Anchor.Z-hw && p.Z < z.Anchor.Z+hw
}

// Min returns the lower corner of the zone cube.
func (z Zone) Min() geom.Point3 {
	return geom.Pt(z.Anchor.X-z.HalfWidth, z.Anchor.Y-z.HalfWidth, z.Anchor.Z-z.HalfWidth)
}

// Max returns the upper corner of the zone cube.
func (z Zone) Max() geom.Point3 {
	return geom.Pt(z.Anchor.X+z.HalfWidth, z.Anchor.Y+z.HalfWidth, z.Anchor.Z+z.HalfWidth)
}

func (z Zone) String() string {
	return fmt.Sprintf("%c@%s±%g", z.Code, z.Anchor, z.HalfWidth)
}

func (z Zone) validate() error {
	if z.Code == IdleCode {
		return fmt.Errorf("%w: code %q is reserved for idle", ErrInvalidZone, z.Code)
	}
	if z.Code < '!' || z.Code > '~' {
		return fmt.Errorf("%w: code %q is not a printable ASCII character", ErrInvalidZone, z.Code)
	}
	if math.IsNaN(z.HalfWidth) || z.HalfWidth <= 0 {
		return fmt.Errorf("%w: zone %c half-width must be > 0, got %g", ErrInvalidZone, z.Code, z.HalfWidth)
	}
	if math.IsInf(z.HalfWidth, 0) {
		return fmt.Errorf("%w: zone %c half-width must be finite", ErrInvalidZone, z.Code)
	}
	if !z.Anchor.IsFinite() {
		return fmt.Errorf("%w: zone %c anchor %s is not finite", ErrInvalidZone, z.Code, z.Anchor)
	}
	return nil
}

// Table is an immutable, ordered set of zones. It is safe for concurrent use.
type Table struct {
	zones []Zone
}

// NewTable validates and copies zs into a new Table. Zones with a zero
// HalfWidth take DefaultHalfWidth.
func NewTable(zs []Zone) (*Table, error) {
	out := make([]Zone, 0, len(zs))
	for i, z := range zs {
		if z.HalfWidth == 0 {
			z.HalfWidth = DefaultHalfWidth
		}
		if err := z.validate(); err != nil {
			return nil, fmt.Errorf("zone %d: %w", i, err)
		}
		out = append(out, z)
	}
	return &Table{zones: out}, nil
}

// DefaultZones returns the four element boxes at their installation anchors.
func DefaultZones() []Zone {
	return []Zone{
		{Code: Fire, Anchor: geom.Pt(-150, 150, 0), HalfWidth: DefaultHalfWidth},
		{Code: Air, Anchor: geom.Pt(150, 150, 0), HalfWidth: DefaultHalfWidth},
		{Code: Earth, Anchor: geom.Pt(-150, 300, 0), HalfWidth: DefaultHalfWidth},
		{Code: Water, Anchor: geom.Pt(150, 300, 0), HalfWidth: DefaultHalfWidth},
	}
}

// DefaultTable returns a Table built from DefaultZones.
func DefaultTable() *Table {
	t, err := NewTable(DefaultZones())
	if err != nil {
		panic(err)
	}
	return t
}

// Zones returns a copy of the zones in insertion order.
func (t *Table) Zones() []Zone {
	out := make([]Zone, len(t.zones))
	copy(out, t.zones)
	return out
}

// Len returns the number of zones.
func (t *Table) Len() int { return len(t.zones) }

// Lookup returns the first zone, in insertion order, containing p.
func (t *Table) Lookup(p geom.Point3) (Zone, bool) {
	for _, z := range t.zones {
		if z.Contains(p) {
			return z, true
		}
	}
	return Zone{}, false
}

// Resolve returns the code of the zone containing p, or IdleCode.
func (t *Table) Resolve(p geom.Point3) byte {
	if z, ok := t.Lookup(p); ok {
		return z.Code
	}
	return IdleCode
}

// Nearest returns the zone whose anchor is closest to p and the distance to
// that anchor. ok is false for an empty table. Ties keep the earlier zone.
func (t *Table) Nearest(p geom.Point3) (z Zone, dist float64, ok bool) {
	dist = math.Inf(1)
	for _, c := range t.zones {
		if d := p.Distance(c.Anchor); d < dist {
			z, dist, ok = c, d, true
		}
	}
	return z, dist, ok
}
