package serialmux

import (
	"context"
	"net/http"
	"sync"

	"github.com/banshee-data/sensorybox/internal/monitoring"
)

// DisabledSerialMux is a no-op SerialMux used when the actuator hardware is
// absent (--disable-actuator). Commands are logged and remembered instead of
// written, so the controller and debug routes run without a device.
// Subscribers are tracked so their channels close deterministically on
// Unsubscribe() or Close().
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
	last        []byte
	sent        int
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan string),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledSerialMux) SendCommand(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return ErrClosed
	}
	d.last = append(d.last[:0], payload...)
	d.sent++
	monitoring.Logf("actuator disabled, dropping command %q", payload)
	return nil
}

// LastCommand returns the most recent payload and the number of commands sent.
func (d *DisabledSerialMux) LastCommand() ([]byte, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.last))
	copy(out, d.last)
	return out, d.sent
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d)
}
