// Package leap reads hand-tracking frames from the tracking service's
// WebSocket JSON feed.
package leap

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/sensorybox/internal/geom"
	"github.com/banshee-data/sensorybox/internal/tracking"
)

var ErrNotFrame = errors.New("message is not a frame")

// message is the union of everything the service sends: the version banner,
// device and service events, and tracking frames.
type message struct {
	ServiceVersion string `json:"serviceVersion,omitempty"`
	Version        int    `json:"version,omitempty"`

	Event *event `json:"event,omitempty"`

	ID         *int64      `json:"id,omitempty"`
	Timestamp  int64       `json:"timestamp,omitempty"` // microseconds, service clock
	Hands      []hand      `json:"hands,omitempty"`
	Pointables []pointable `json:"pointables,omitempty"`
}

type event struct {
	Type  string      `json:"type"`
	State deviceState `json:"state"`
}

type deviceState struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Attached  bool   `json:"attached"`
	Streaming bool   `json:"streaming"`
}

type hand struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type pointable struct {
	ID     int64 `json:"id"`
	HandID int64 `json:"handId"`
	Type   int   `json:"type"`
	Tool   bool  `json:"tool,omitempty"`

	Carp []float64 `json:"carpPosition"`
	MCP  []float64 `json:"mcpPosition"`
	PIP  []float64 `json:"pipPosition"`
	DIP  []float64 `json:"dipPosition"`
	Tip  []float64 `json:"btipPosition"`
}

func (m *message) isFrame() bool { return m.ID != nil && m.Event == nil }

// DecodeFrame parses a single frame message. Non-frame messages return
// ErrNotFrame.
func DecodeFrame(data []byte, received time.Time) (tracking.Frame, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return tracking.Frame{}, fmt.Errorf("decode message: %w", err)
	}
	if !m.isFrame() {
		return tracking.Frame{}, ErrNotFrame
	}
	return m.frame(received), nil
}

// frame converts the wire frame. Hands of an unknown type are dropped, as are
// tools and pointables that belong to no listed hand.
func (m *message) frame(received time.Time) tracking.Frame {
	f := tracking.Frame{ID: *m.ID, Timestamp: received}
	index := make(map[int64]int, len(m.Hands))
	for _, h := range m.Hands {
		side, err := tracking.ParseSide(h.Type)
		if err != nil {
			continue
		}
		index[h.ID] = len(f.Hands)
		f.Hands = append(f.Hands, tracking.Hand{ID: h.ID, Side: side})
	}
	for _, p := range m.Pointables {
		i, ok := index[p.HandID]
		if !ok || p.Tool {
			continue
		}
		f.Hands[i].Fingers = append(f.Hands[i].Fingers, p.finger())
	}
	return f
}

// finger builds the bone chain from the joint positions. A bone is emitted
// only when both of its joints are present, so a pointable missing its dip
// or tip position has no distal bone.
func (p pointable) finger() tracking.Finger {
	joints := [5][]float64{p.Carp, p.MCP, p.PIP, p.DIP, p.Tip}
	types := [4]tracking.BoneType{tracking.Metacarpal, tracking.Proximal, tracking.Intermediate, tracking.Distal}

	f := tracking.Finger{Slot: tracking.FingerSlot(p.Type)}
	for i, bt := range types {
		prev, okPrev := point(joints[i])
		next, okNext := point(joints[i+1])
		if !okPrev || !okNext {
			continue
		}
		f.Bones = append(f.Bones, tracking.Bone{Type: bt, PrevJoint: prev, NextJoint: next})
	}
	return f
}

func point(v []float64) (geom.Point3, bool) {
	if len(v) != 3 {
		return geom.Point3{}, false
	}
	return geom.Pt(v[0], v[1], v[2]), true
}
