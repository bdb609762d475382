package leap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/banshee-data/sensorybox/internal/tracking"
)

const (
	DefaultURL = "ws://127.0.0.1:6437/v6.json"

	minBackoff = 250 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Client is a frame source backed by the tracking service WebSocket. It
// reconnects with capped exponential backoff until its context ends.
type Client struct {
	url    string
	origin string
	logger *zap.Logger
	now    func() time.Time

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewClient returns a client for the service at rawURL.
func NewClient(rawURL string, logger *zap.Logger) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse leap url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("leap url %q: scheme must be ws or wss", rawURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	origin := "http://" + u.Host
	if u.Scheme == "wss" {
		origin = "https://" + u.Host
	}
	return &Client{
		url:        rawURL,
		origin:     origin,
		logger:     logger,
		now:        time.Now,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}, nil
}

// Run streams frames into out until ctx is done. Connection failures are
// logged and retried; Run only returns ctx's error.
func (c *Client) Run(ctx context.Context, out chan<- tracking.Frame) error {
	backoff := c.minBackoff
	for {
		connected, err := c.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.minBackoff
		}
		c.logger.Warn("tracking service connection lost, retrying",
			zap.String("url", c.url), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (c *Client) session(ctx context.Context, out chan<- tracking.Frame) (connected bool, err error) {
	cfg, err := websocket.NewConfig(c.url, c.origin)
	if err != nil {
		return false, err
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.logger.Info("tracking service connected", zap.String("url", c.url))
	defer c.logger.Info("tracking service disconnected", zap.String("url", c.url))

	// Frames are only streamed to unfocused clients in background mode.
	if err := websocket.JSON.Send(conn, map[string]bool{"background": true}); err != nil {
		return true, fmt.Errorf("enable background frames: %w", err)
	}

	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			return true, fmt.Errorf("receive: %w", err)
		}
		if err := c.dispatch(ctx, data, out); err != nil {
			return true, err
		}
	}
}

func (c *Client) dispatch(ctx context.Context, data []byte, out chan<- tracking.Frame) error {
	frame, err := DecodeFrame(data, c.now())
	switch {
	case errors.Is(err, ErrNotFrame):
		c.logEvent(data)
		return nil
	case err != nil:
		c.logger.Warn("dropping undecodable message", zap.Error(err))
		return nil
	}
	select {
	case out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) logEvent(data []byte) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	switch {
	case m.ServiceVersion != "":
		c.logger.Info("tracking service version",
			zap.String("service_version", m.ServiceVersion), zap.Int("protocol", m.Version))
	case m.Event != nil && m.Event.Type == "deviceEvent":
		s := m.Event.State
		msg := "tracking device detached"
		if s.Attached {
			msg = "tracking device attached"
		}
		c.logger.Info(msg,
			zap.String("device", s.ID), zap.String("type", s.Type), zap.Bool("streaming", s.Streaming))
	case m.Event != nil:
		c.logger.Debug("tracking service event", zap.String("type", m.Event.Type))
	}
}
