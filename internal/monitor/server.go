// Package monitor serves the debug surface of a running sensorybox: the zone
// layout, live contact points, controller counters and link health.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"tailscale.com/tsweb"

	"github.com/banshee-data/sensorybox/internal/controller"
	"github.com/banshee-data/sensorybox/internal/geom"
	"github.com/banshee-data/sensorybox/internal/mapper"
	"github.com/banshee-data/sensorybox/internal/tracking"
	"github.com/banshee-data/sensorybox/internal/version"
	"github.com/banshee-data/sensorybox/internal/zones"
)

// StatsFunc returns the latest controller counters.
type StatsFunc func() controller.Snapshot

// LastCommandFunc returns the last command the board acknowledged by a
// completed write.
type LastCommandFunc func() (mapper.Command, bool)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLastCommand reports the last written command on /debug/status.
func WithLastCommand(fn LastCommandFunc) ServerOption {
	return func(s *Server) { s.lastCommand = fn }
}

// Server renders debug views of the mapping state.
type Server struct {
	table   *zones.Table
	tracked tracking.Side
	stats   StatsFunc
	health  *Health
	started time.Time
	now     func() time.Time

	lastCommand LastCommandFunc
}

// NewServer returns a debug server for table. stats and health may be nil.
func NewServer(table *zones.Table, tracked tracking.Side, stats StatsFunc, health *Health, opts ...ServerOption) *Server {
	if stats == nil {
		stats = func() controller.Snapshot { return controller.Snapshot{} }
	}
	s := &Server{
		table:   table,
		tracked: tracked,
		stats:   stats,
		health:  health,
		started: time.Now(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type zoneView struct {
	Code      string      `json:"code"`
	Anchor    geom.Point3 `json:"anchor"`
	HalfWidth float64     `json:"half_width"`
	Min       geom.Point3 `json:"min"`
	Max       geom.Point3 `json:"max"`
}

type statusView struct {
	Version     string              `json:"version"`
	GitSHA      string              `json:"git_sha"`
	Uptime      string              `json:"uptime"`
	TrackedHand string              `json:"tracked_hand"`
	Zones       int                 `json:"zones"`
	Actuator    string              `json:"actuator,omitempty"`
	LastWritten string              `json:"last_written,omitempty"`
	Stats       controller.Snapshot `json:"stats"`
}

// AttachRoutes registers the debug pages under /debug/.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("zones", "Zone table (JSON)", s.handleZones)
	debug.HandleFunc("zones.png", "Zone map with last contacts", s.handleZonesPlot)
	debug.HandleFunc("contacts", "Zone hit chart", s.handleContactsChart)
	debug.HandleFunc("status", "Controller status (JSON)", s.handleStatus)
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	zs := s.table.Zones()
	out := make([]zoneView, len(zs))
	for i, z := range zs {
		out[i] = zoneView{
			Code:      string(z.Code),
			Anchor:    z.Anchor,
			HalfWidth: z.HalfWidth,
			Min:       z.Min(),
			Max:       z.Max(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := statusView{
		Version:     version.Version,
		GitSHA:      version.GitSHA,
		Uptime:      s.now().Sub(s.started).Truncate(time.Second).String(),
		TrackedHand: s.tracked.String(),
		Zones:       s.table.Len(),
		Stats:       s.stats(),
	}
	if s.health != nil {
		st.Actuator = s.health.ActuatorStatus()
	}
	if s.lastCommand != nil {
		if cmd, ok := s.lastCommand(); ok {
			st.LastWritten = cmd.String()
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// ServeHTTP serves handler on addr until ctx is cancelled, then shuts down
// with a short grace period.
func ServeHTTP(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("debug http listening", zap.String("addr", addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down debug http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
		if err := server.Close(); err != nil {
			logger.Warn("http server force close error", zap.Error(err))
		}
	}
	<-serveErr
	return nil
}
