// Package actuator drives the sensory boxes over the serial link.
package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/sensorybox/internal/mapper"
	"github.com/banshee-data/sensorybox/internal/serialmux"
)

// shutdownIdleTimeout bounds the final cold write made by Close.
const shutdownIdleTimeout = time.Second

// Link writes five-byte commands to the actuator board. It fails closed: a
// write that errors or times out is reported to the caller and never retried.
type Link struct {
	mux    serialmux.SerialMuxInterface
	logger *zap.Logger

	mu   sync.Mutex
	last mapper.Command
	sent bool
}

// NewLink wraps an opened serial mux.
func NewLink(mux serialmux.SerialMuxInterface, logger *zap.Logger) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Link{mux: mux, logger: logger}
}

// Open opens the serial port at path and wraps it in a Link whose writes are
// bounded by writeTimeout.
func Open(path string, opts serialmux.PortOptions, writeTimeout time.Duration, logger *zap.Logger) (*Link, error) {
	mux, err := serialmux.NewRealSerialMux(path, opts)
	if err != nil {
		return nil, err
	}
	mux.SetWriteTimeout(writeTimeout)
	if logger != nil {
		logger.Info("opened actuator port", zap.String("path", path), zap.Stringer("mode", opts))
	}
	return NewLink(mux, logger), nil
}

// Send writes cmd to the actuators.
func (l *Link) Send(ctx context.Context, cmd mapper.Command) error {
	if err := l.mux.SendCommand(ctx, cmd.Bytes()); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	l.mu.Lock()
	l.last, l.sent = cmd, true
	l.mu.Unlock()
	l.logger.Debug("actuator command", zap.String("command", cmd.String()))
	return nil
}

// SendIdle commands every actuator cold.
func (l *Link) SendIdle(ctx context.Context) error {
	return l.Send(ctx, mapper.IdleCommand)
}

// Last returns the last command successfully written.
func (l *Link) Last() (mapper.Command, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.sent
}

// Monitor relays lines written back by the board to subscribers until ctx ends.
func (l *Link) Monitor(ctx context.Context) error {
	return l.mux.Monitor(ctx)
}

// Mux exposes the underlying serial mux for debug routes.
func (l *Link) Mux() serialmux.SerialMuxInterface { return l.mux }

// Close leaves the boxes cold and closes the port. A failed cold write is
// logged; the port is closed regardless.
func (l *Link) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownIdleTimeout)
	defer cancel()
	if err := l.SendIdle(ctx); err != nil {
		l.logger.Warn("failed to leave actuators cold on close", zap.Error(err))
	}
	return l.mux.Close()
}
