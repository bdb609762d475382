// Package mapper turns tracker frames into actuator commands.
//
// Process is a pure function of the frame: it holds no state between ticks,
// never blocks, and never panics on malformed input. Writing the resulting
// command to the actuators is left to the caller.
package mapper

import (
	"errors"
	"fmt"

	"github.com/banshee-data/sensorybox/internal/tracking"
	"github.com/banshee-data/sensorybox/internal/zones"
)

// CommandLen is the number of actuator positions, one per finger slot.
const CommandLen = tracking.NumFingers

var ErrInvalidCommand = errors.New("invalid command")

// Command is the five-character buffer written to the actuators.
type Command [CommandLen]byte

// IdleCommand commands every actuator cold.
var IdleCommand = Command{zones.IdleCode, zones.IdleCode, zones.IdleCode, zones.IdleCode, zones.IdleCode}

func (c Command) String() string { return string(c[:]) }

// Bytes returns the command as a byte slice ready for the serial port.
func (c Command) Bytes() []byte { return c[:] }

// IsIdle reports whether every position carries the idle code.
func (c Command) IsIdle() bool { return c == IdleCommand }

// ParseCommand parses a five-character command string. Every character must
// be printable ASCII.
func ParseCommand(s string) (Command, error) {
	var c Command
	if len(s) != CommandLen {
		return c, fmt.Errorf("%w: want %d characters, got %d", ErrInvalidCommand, CommandLen, len(s))
	}
	for i := 0; i < CommandLen; i++ {
		if s[i] < '!' || s[i] > '~' {
			return c, fmt.Errorf("%w: character %d (%q) is not printable ASCII", ErrInvalidCommand, i, s[i])
		}
		c[i] = s[i]
	}
	return c, nil
}

// OutcomeKind says what, if anything, a frame asks the actuators to do.
type OutcomeKind int

const (
	// OutcomeNone means nothing is written this tick: the frame has hands,
	// but none on the tracked side.
	OutcomeNone OutcomeKind = iota
	// OutcomeBuffer carries a per-finger command for the tracked hand.
	OutcomeBuffer
	// OutcomeIdle is produced for frames with no hands at all.
	OutcomeIdle
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeBuffer:
		return "buffer"
	case OutcomeIdle:
		return "idle"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of processing one frame.
type Outcome struct {
	Kind    OutcomeKind
	Command Command
	// HandID is the tracked hand that produced a buffer outcome.
	HandID int64
}

// Processor maps frames to outcomes against a fixed zone table.
type Processor struct {
	table   *zones.Table
	tracked tracking.Side
}

// NewProcessor returns a Processor that follows the tracked side's hand.
func NewProcessor(table *zones.Table, tracked tracking.Side) *Processor {
	return &Processor{table: table, tracked: tracked}
}

// TrackedSide returns the hand side the processor follows.
func (p *Processor) TrackedSide() tracking.Side { return p.tracked }

// Table returns the zone table used for resolution.
func (p *Processor) Table() *zones.Table { return p.table }

// Process maps a single frame to an outcome.
//
// Idle is reported only when the frame has no hands at all. A frame holding
// only hands of the other side produces OutcomeNone, so the actuators keep
// their last command until the tracked hand returns or every hand leaves.
func (p *Processor) Process(frame tracking.Frame) Outcome {
	if len(frame.Hands) == 0 {
		return Outcome{Kind: OutcomeIdle, Command: IdleCommand}
	}

	hand, ok := p.trackedHand(frame)
	if !ok {
		return Outcome{Kind: OutcomeNone}
	}
	return Outcome{Kind: OutcomeBuffer, Command: p.ProcessHand(hand), HandID: hand.ID}
}

// ProcessHand builds the command for one hand. Slots without a finger, or
// whose finger has no distal bone, carry the idle code.
func (p *Processor) ProcessHand(hand tracking.Hand) Command {
	cmd := IdleCommand
	for _, f := range hand.Fingers {
		if !f.Slot.Valid() {
			continue
		}
		cmd[f.Slot] = p.resolveFinger(f)
	}
	return cmd
}

func (p *Processor) resolveFinger(f tracking.Finger) byte {
	contact, ok := f.ContactPoint()
	if !ok || !contact.IsFinite() || p.table == nil {
		return zones.IdleCode
	}
	return p.table.Resolve(contact)
}

// trackedHand returns the first hand of the tracked side in the order the
// tracker delivered them.
func (p *Processor) trackedHand(frame tracking.Frame) (tracking.Hand, bool) {
	for _, h := range frame.Hands {
		if h.Side == p.tracked {
			return h, true
		}
	}
	return tracking.Hand{}, false
}
