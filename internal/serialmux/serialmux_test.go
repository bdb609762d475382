package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localHostRequest creates an httptest request that appears to come from
// localhost. This satisfies tsweb.AllowDebugAccess, which checks for loopback
// IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestNewSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NotNil(t, mux)
	assert.Same(t, port, mux.port)
	assert.NotNil(t, mux.subscribers)
	assert.Equal(t, DefaultWriteTimeout, mux.writeTimeout)
}

func TestSendCommand_WritesPayloadVerbatim(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	ctx := context.Background()

	require.NoError(t, mux.SendCommand(ctx, []byte("FATWC")))
	require.NoError(t, mux.SendCommand(ctx, []byte("CCCCC")))

	// No terminator is appended: the firmware reads fixed five-byte frames.
	assert.Equal(t, "FATWCCCCCC", string(port.GetWrittenData()))
	assert.Equal(t, []string{"FATWC", "CCCCC"}, port.GetWrites())
}

func TestSendCommand_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	port.SetWriteError(errors.New("device unplugged"))
	err := mux.SendCommand(context.Background(), []byte("FATWC"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Contains(t, err.Error(), "device unplugged")

	// The failure is not sticky.
	require.NoError(t, mux.SendCommand(context.Background(), []byte("CCCCC")))
}

func TestSendCommand_ShortWrite(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	port.ShortWrite = true
	err := mux.SendCommand(context.Background(), []byte("FATWC"))
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestSendCommand_TimeoutThenBusyThenRecovers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	mux.SetWriteTimeout(20 * time.Millisecond)

	release := port.HoldWrites()
	defer release()

	start := time.Now()
	err := mux.SendCommand(context.Background(), []byte("FATWC"))
	assert.ErrorIs(t, err, ErrWriteTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// The abandoned write still owns the port.
	err = mux.SendCommand(context.Background(), []byte("CCCCC"))
	assert.ErrorIs(t, err, ErrWriteBusy)

	release()
	require.Eventually(t, func() bool { return !mux.inflight.Load() }, time.Second, 5*time.Millisecond)

	require.NoError(t, mux.SendCommand(context.Background(), []byte("CCCCC")))
	assert.Equal(t, []string{"FATWC", "CCCCC"}, port.GetWrites())
}

func TestSetWriteTimeout_NonPositiveKeepsWritesBounded(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	mux.SetWriteTimeout(0)
	assert.Equal(t, DefaultWriteTimeout, mux.writeTimeout)
	mux.SetWriteTimeout(-time.Second)
	assert.Equal(t, DefaultWriteTimeout, mux.writeTimeout)

	release := port.HoldWrites()
	defer release()

	// No deadline on the caller's context: the mux timeout still applies.
	start := time.Now()
	err := mux.SendCommand(context.Background(), []byte("FATWC"))
	assert.ErrorIs(t, err, ErrWriteTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSendCommand_ContextCancelled(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	mux.SetWriteTimeout(time.Minute)

	release := port.HoldWrites()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := mux.SendCommand(ctx, []byte("FATWC"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendCommand_AfterClose(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	require.NoError(t, mux.Close())
	assert.ErrorIs(t, mux.SendCommand(context.Background(), []byte("CCCCC")), ErrClosed)
	assert.True(t, port.IsClosed())
	// Close is idempotent.
	assert.NoError(t, mux.Close())
}

func TestSubscribe_UniqueIDs(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, ch2 := mux.Subscribe()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
	assert.NotNil(t, ch1)
	assert.NotNil(t, ch2)
	assert.Len(t, mux.subscribers, 2)

	mux.Unsubscribe(id1)
	assert.Len(t, mux.subscribers, 1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel should be closed")

	// Unknown ids are ignored.
	mux.Unsubscribe("does-not-exist")
	assert.Len(t, mux.subscribers, 1)
}

func TestSubscribe_RacingCloseAlwaysClosesChannel(t *testing.T) {
	for i := 0; i < 200; i++ {
		mux := NewSerialMux(NewTestableSerialPort())

		chs := make(chan chan string, 1)
		go func() {
			_, ch := mux.Subscribe()
			chs <- ch
		}()
		require.NoError(t, mux.Close())

		ch := <-chs
		select {
		case _, ok := <-ch:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: subscriber channel left open after Close", i)
		}
	}
}

func TestMonitor_FansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	t.Cleanup(func() { mux.Close() })

	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("ready\nack FATWC\n"))

	for _, ch := range []chan string{ch1, ch2} {
		for _, want := range []string{"ready", "ack FATWC"} {
			select {
			case got := <-ch:
				assert.Equal(t, want, got)
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestMonitor_ReturnsNilAfterClose(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, mux.Close())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after Close")
	}
}

func TestClose_ClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	port.CloseError = errors.New("close failed")
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	err := mux.Close()
	assert.EqualError(t, err, "close failed")
	_, ok := <-ch
	assert.False(t, ok)

	_, late := mux.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after Close returns a closed channel")
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		formData       url.Values
		expectedStatus int
		bodyContains   string
	}{
		{"valid POST with command", http.MethodPost, url.Values{"command": {"FATWC"}}, http.StatusOK, "FATWC"},
		{"POST with empty command", http.MethodPost, url.Values{"command": {""}}, http.StatusBadRequest, "Missing command"},
		{"POST with whitespace-only command", http.MethodPost, url.Values{"command": {"   "}}, http.StatusBadRequest, "Missing command"},
		{"POST with oversized command", http.MethodPost, url.Values{"command": {strings.Repeat("F", 65)}}, http.StatusBadRequest, "too long"},
		{"GET method not allowed", http.MethodGet, nil, http.StatusMethodNotAllowed, "Method not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.formData != nil {
				body = strings.NewReader(tt.formData.Encode())
			}
			req := localHostRequest(tt.method, "/debug/send-command-api", body)
			if tt.formData != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.bodyContains)
		})
	}
	assert.Equal(t, []string{"FATWC"}, port.GetWrites())
}

func TestAttachAdminRoutes_SendCommandAPI_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.SetWriteError(errors.New("boom"))
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command=CCCCC"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAttachAdminRoutes_Tail(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	// Method check.
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodPost, "/debug/tail", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// Streaming ends when the mux closes the subscriber channel.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := localHostRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx)
	rec = httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		httpMux.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mux.subscriberMu.Lock()
		defer mux.subscriberMu.Unlock()
		return len(mux.subscribers) == 1
	}, time.Second, 5*time.Millisecond)
	mux.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tail handler did not return")
	}
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), ": ping")
}
