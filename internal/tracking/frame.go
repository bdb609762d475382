// Package tracking defines the per-tick snapshot delivered by the hand
// tracker: hands, their five fingers, and each finger's bone chain.
package tracking

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/sensorybox/internal/geom"
)

// Side identifies which hand a Hand is.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// ParseSide accepts "left"/"right" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l":
		return Left, nil
	case "right", "r":
		return Right, nil
	}
	return 0, fmt.Errorf("unknown hand side %q: expected left or right", s)
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	v, err := ParseSide(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// FingerSlot is the position of a finger within a hand. It doubles as the
// index into the actuator command buffer.
type FingerSlot int

const (
	Thumb FingerSlot = iota
	Index
	Middle
	Ring
	Pinky
)

// NumFingers is the number of finger slots per hand.
const NumFingers = 5

// Valid reports whether the slot maps to a buffer position.
func (f FingerSlot) Valid() bool { return f >= Thumb && f <= Pinky }

func (f FingerSlot) String() string {
	switch f {
	case Thumb:
		return "thumb"
	case Index:
		return "index"
	case Middle:
		return "middle"
	case Ring:
		return "ring"
	case Pinky:
		return "pinky"
	default:
		return fmt.Sprintf("FingerSlot(%d)", int(f))
	}
}

// BoneType tags a bone's anatomical position within the finger.
type BoneType int

const (
	Metacarpal BoneType = iota
	Proximal
	Intermediate
	Distal
)

func (b BoneType) String() string {
	switch b {
	case Metacarpal:
		return "metacarpal"
	case Proximal:
		return "proximal"
	case Intermediate:
		return "intermediate"
	case Distal:
		return "distal"
	default:
		return fmt.Sprintf("BoneType(%d)", int(b))
	}
}

// Bone is one segment of a finger. PrevJoint is the end nearer the wrist.
type Bone struct {
	Type      BoneType    `json:"type"`
	PrevJoint geom.Point3 `json:"prev_joint"`
	NextJoint geom.Point3 `json:"next_joint"`
}

// Finger holds a finger's bones, ordered proximal to distal.
type Finger struct {
	Slot  FingerSlot `json:"slot"`
	Bones []Bone     `json:"bones"`
}

// Hand is one tracked hand.
type Hand struct {
	ID      int64    `json:"id"`
	Side    Side     `json:"side"`
	Fingers []Finger `json:"fingers"`
}

// Frame is a single tracker tick. It is built by a source, consumed
// synchronously by the processor, and then discarded.
type Frame struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Hands     []Hand    `json:"hands"`
}
