// Package controller feeds tracker frames through the mapper and forwards the
// resulting commands to the actuators.
package controller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/sensorybox/internal/mapper"
	"github.com/banshee-data/sensorybox/internal/tracking"
)

// DefaultFailureThreshold is the number of consecutive failed writes after
// which the actuator is reported unhealthy.
const DefaultFailureThreshold = 3

// Source produces frames until ctx is cancelled or the input is exhausted.
// Run must not close out; the caller owns the channel.
type Source interface {
	Run(ctx context.Context, out chan<- tracking.Frame) error
}

// Sender writes a command to the actuators.
type Sender interface {
	Send(ctx context.Context, cmd mapper.Command) error
}

// HealthReporter is told when the actuator link becomes unhealthy or
// recovers.
type HealthReporter interface {
	SetServing(serving bool)
}

// Controller maps frames one at a time on the calling goroutine.
type Controller struct {
	processor *mapper.Processor
	sender    Sender
	logger    *zap.Logger
	health    HealthReporter
	threshold int
	now       func() time.Time

	stats     *stats
	unhealthy bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the error sink and debug logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHealth reports link health to h.
func WithHealth(h HealthReporter) Option {
	return func(c *Controller) { c.health = h }
}

// WithFailureThreshold overrides DefaultFailureThreshold.
func WithFailureThreshold(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// New returns a controller writing p's outcomes to s.
func New(p *mapper.Processor, s Sender, opts ...Option) *Controller {
	c := &Controller{
		processor: p,
		sender:    s,
		logger:    zap.NewNop(),
		threshold: DefaultFailureThreshold,
		now:       time.Now,
		stats:     newStats(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stats returns a copy of the current counters.
func (c *Controller) Stats() Snapshot { return c.stats.snapshot() }

// Handle processes one frame and writes the outcome, if any. A write failure
// is logged and counted; it is also returned so callers can observe it, but
// it never stops the controller.
func (c *Controller) Handle(ctx context.Context, frame tracking.Frame) (mapper.Outcome, error) {
	out := c.processor.Process(frame)
	c.stats.recordOutcome(frame.ID, out, contactsFor(c.processor, frame, out))

	if out.Kind == mapper.OutcomeNone {
		c.logger.Debug("no tracked hand in frame, holding last command",
			zap.Int64("frame", frame.ID),
			zap.Int("hands", len(frame.Hands)),
			zap.Stringer("tracked", c.processor.TrackedSide()))
		return out, nil
	}

	err := c.sender.Send(ctx, out.Command)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Shutting down; the link is not at fault.
		c.logger.Debug("write abandoned on shutdown", zap.Int64("frame", frame.ID))
		return out, err
	}
	failures := c.stats.recordWrite(out.Command, c.now(), err)
	if err != nil {
		c.logger.Warn("actuator write failed",
			zap.Int64("frame", frame.ID),
			zap.String("command", out.Command.String()),
			zap.Int("consecutive_failures", failures),
			zap.Error(err))
	}
	c.updateHealth(failures)
	return out, err
}

func (c *Controller) updateHealth(failures int) {
	switch {
	case failures >= c.threshold && !c.unhealthy:
		c.unhealthy = true
		c.logger.Error("actuator link unhealthy", zap.Int("consecutive_failures", failures))
		if c.health != nil {
			c.health.SetServing(false)
		}
	case failures == 0 && c.unhealthy:
		c.unhealthy = false
		c.logger.Info("actuator link recovered")
		if c.health != nil {
			c.health.SetServing(true)
		}
	}
}

// Run handles frames until the channel is closed or ctx is done. Frames are
// processed strictly in arrival order.
func (c *Controller) Run(ctx context.Context, frames <-chan tracking.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			c.Handle(ctx, frame)
		}
	}
}

// Pipe runs src and the controller together until either stops. The source
// returning on its own (end of a replay) ends the pipe cleanly.
func (c *Controller) Pipe(ctx context.Context, src Source) error {
	frames := make(chan tracking.Frame)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(frames)
		return ignoreDone(src.Run(gctx, frames))
	})
	g.Go(func() error {
		return ignoreDone(c.Run(gctx, frames))
	})

	return g.Wait()
}

func ignoreDone(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
