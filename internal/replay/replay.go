// Package replay plays recorded frames back from a JSON-lines file so the
// mapper and actuators can be exercised without a tracking device.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/sensorybox/internal/tracking"
)

// maxLineBytes bounds a single recorded frame.
const maxLineBytes = 1 << 20

// Player is a frame source that emits recorded frames on a fixed interval.
type Player struct {
	frames   []tracking.Frame
	interval time.Duration
	loop     bool
	now      func() time.Time
}

// Option configures a Player.
type Option func(*Player)

// WithInterval sets the delay between frames. Zero replays as fast as the
// consumer accepts frames.
func WithInterval(d time.Duration) Option {
	return func(p *Player) { p.interval = d }
}

// WithLoop restarts from the first frame after the last one.
func WithLoop(loop bool) Option {
	return func(p *Player) { p.loop = loop }
}

// Open loads every frame from path.
func Open(path string, opts ...Option) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	frames, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(frames, opts...), nil
}

// New returns a Player over frames.
func New(frames []tracking.Frame, opts ...Option) *Player {
	p := &Player{frames: frames, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse reads one JSON frame per line. Blank lines and lines starting with
// '#' are skipped. Errors carry the 1-based line number.
func Parse(r io.Reader) ([]tracking.Frame, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var frames []tracking.Frame
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		var f tracking.Frame
		if err := json.Unmarshal(text, &f); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		frames = append(frames, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return frames, nil
}

// Len returns the number of recorded frames.
func (p *Player) Len() int { return len(p.frames) }

// Run sends the recorded frames to out. Frames without a timestamp are
// stamped on emission. Run returns nil after the last frame unless looping.
func (p *Player) Run(ctx context.Context, out chan<- tracking.Frame) error {
	if len(p.frames) == 0 {
		return nil
	}

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		for _, f := range p.frames {
			if tick != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-tick:
				}
			}
			if f.Timestamp.IsZero() {
				f.Timestamp = p.now()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- f:
			}
		}
		if !p.loop {
			return nil
		}
	}
}
