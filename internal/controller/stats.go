package controller

import (
	"sync"
	"time"

	"github.com/banshee-data/sensorybox/internal/geom"
	"github.com/banshee-data/sensorybox/internal/mapper"
	"github.com/banshee-data/sensorybox/internal/tracking"
)

// Contact is the resolved contact point of one finger of the tracked hand.
type Contact struct {
	Slot  string      `json:"slot"`
	Point geom.Point3 `json:"point"`
	Code  string      `json:"code"`
}

// Snapshot is a point-in-time copy of the controller counters.
type Snapshot struct {
	Frames              int64            `json:"frames"`
	Buffers             int64            `json:"buffers"`
	Idles               int64            `json:"idles"`
	Nones               int64            `json:"nones"`
	Writes              int64            `json:"writes"`
	WriteFailures       int64            `json:"write_failures"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	ZoneHits            map[string]int64 `json:"zone_hits"`
	LastFrameID         int64            `json:"last_frame_id"`
	LastOutcome         string           `json:"last_outcome,omitempty"`
	LastCommand         string           `json:"last_command,omitempty"`
	LastError           string           `json:"last_error,omitempty"`
	LastWriteAt         time.Time        `json:"last_write_at,omitempty"`
	Contacts            []Contact        `json:"contacts"`
}

// stats is guarded by mu; debug handlers read it while the controller writes.
type stats struct {
	mu   sync.Mutex
	snap Snapshot
}

func newStats() *stats {
	return &stats{snap: Snapshot{ZoneHits: make(map[string]int64)}}
}

func (s *stats) recordOutcome(frameID int64, out mapper.Outcome, contacts []Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Frames++
	s.snap.LastFrameID = frameID
	s.snap.LastOutcome = out.Kind.String()
	switch out.Kind {
	case mapper.OutcomeBuffer:
		s.snap.Buffers++
		for _, c := range out.Command {
			if c != mapper.IdleCommand[0] {
				s.snap.ZoneHits[string(c)]++
			}
		}
		s.snap.Contacts = contacts
	case mapper.OutcomeIdle:
		s.snap.Idles++
		s.snap.Contacts = nil
	case mapper.OutcomeNone:
		s.snap.Nones++
	}
}

// recordWrite updates the write counters and returns the number of
// consecutive failures including this write.
func (s *stats) recordWrite(cmd mapper.Command, at time.Time, err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.snap.WriteFailures++
		s.snap.ConsecutiveFailures++
		s.snap.LastError = err.Error()
		return s.snap.ConsecutiveFailures
	}
	s.snap.Writes++
	s.snap.ConsecutiveFailures = 0
	s.snap.LastCommand = cmd.String()
	s.snap.LastWriteAt = at
	return 0
}

func (s *stats) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.snap
	out.ZoneHits = make(map[string]int64, len(s.snap.ZoneHits))
	for k, v := range s.snap.ZoneHits {
		out.ZoneHits[k] = v
	}
	out.Contacts = append([]Contact(nil), s.snap.Contacts...)
	return out
}

// contactsFor lists the contact points of the hand that produced out.
func contactsFor(p *mapper.Processor, frame tracking.Frame, out mapper.Outcome) []Contact {
	if out.Kind != mapper.OutcomeBuffer {
		return nil
	}
	for _, h := range frame.Hands {
		if h.ID != out.HandID || h.Side != p.TrackedSide() {
			continue
		}
		contacts := make([]Contact, 0, len(h.Fingers))
		for _, f := range h.Fingers {
			if !f.Slot.Valid() {
				continue
			}
			pt, ok := f.ContactPoint()
			if !ok || !pt.IsFinite() {
				continue
			}
			contacts = append(contacts, Contact{
				Slot:  f.Slot.String(),
				Point: pt,
				Code:  string(out.Command[f.Slot]),
			})
		}
		return contacts
	}
	return nil
}
