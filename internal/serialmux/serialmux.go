// Serialmux provides an abstraction over a serial port that sends fixed-length
// commands to a single device and lets multiple clients subscribe to the
// lines the device writes back.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/sensorybox/internal/monitoring"
)

// DefaultWriteTimeout bounds a single command write.
const DefaultWriteTimeout = 500 * time.Millisecond

// maxAdminCommandLen caps commands accepted from the debug endpoint.
const maxAdminCommandLen = 64

// subscriberBuffer is the number of lines queued per subscriber before lines
// are dropped for that subscriber.
const subscriberBuffer = 16

var (
	ErrWriteFailed  = errors.New("failed to write to serial port")
	ErrWriteTimeout = errors.New("serial write timed out")
	// ErrWriteBusy is returned while an earlier, timed-out write has not yet
	// returned from the port. Bytes from two commands never interleave.
	ErrWriteBusy = errors.New("serial port busy with a previous write")
	ErrClosed    = errors.New("serial mux closed")
)

// SerialMux is a generic serial port multiplexer: commands are written to a
// single port and lines read back are fanned out to subscribers.
type SerialMux[T SerialPorter] struct {
	port         T
	writeTimeout time.Duration
	inflight     atomic.Bool
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving lines read back from the
	// device. The channel ID is used to identify the channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the payload to the serial port as-is. The write is
	// bounded by the mux write timeout and by ctx.
	SendCommand(ctx context.Context, payload []byte) error
	// Monitor reads lines from the serial port and sends them to the
	// subscribers.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:         port,
		writeTimeout: DefaultWriteTimeout,
		subscribers:  make(map[string]chan string),
	}
}

// SetWriteTimeout changes the per-command write bound. Every write is bounded:
// a non-positive value restores DefaultWriteTimeout.
func (s *SerialMux[T]) SetWriteTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultWriteTimeout
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	s.writeTimeout = d
}

// randomID generates a subscriber id.
func randomID() string {
	return uuid.NewString()
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)

	// Close flips closing before it drains subscribers under subscriberMu,
	// so checking under the same lock never strands an open channel.
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

type writeResult struct {
	n   int
	err error
}

// SendCommand writes payload to the serial port without adding a terminator.
//
// The write runs on its own goroutine so a wedged port cannot stall the
// caller past the write timeout. When the timeout fires the write is
// abandoned, not retried; until it returns, further commands fail with
// ErrWriteBusy.
func (s *SerialMux[T]) SendCommand(ctx context.Context, payload []byte) error {
	if s.isClosing() {
		return ErrClosed
	}

	s.commandMu.Lock()
	defer s.commandMu.Unlock()

	if !s.inflight.CompareAndSwap(false, true) {
		return ErrWriteBusy
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	buf := make([]byte, len(payload))
	copy(buf, payload)

	done := make(chan writeResult, 1)
	go func() {
		defer s.inflight.Store(false)
		n, err := s.port.Write(buf)
		done <- writeResult{n: n, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, res.err)
		}
		if res.n != len(buf) {
			return fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteFailed, res.n, len(buf))
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrWriteTimeout, s.writeTimeout)
		}
		return ctx.Err()
	}
}

// Monitor monitors the serial port for lines and sends them to subscribers.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs on its own goroutine so the outer loop can
	// still observe context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// skip slow subscribers rather than block the port
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

// attachAdminRoutes registers the command and tail endpoints for any mux
// implementation, so the disabled mux serves the same debug surface.
func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	// API endpoint to write a raw command to the serial port.
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if len(command) > maxAdminCommandLen {
			http.Error(w, "Command too long", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(r.Context(), []byte(command)); err != nil {
			monitoring.Logf("admin command %q failed: %v", command, err)
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// Server-Sent Events for lines coming back from the device.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload))); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
