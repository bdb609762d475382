package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/sensorybox/internal/actuator"
	"github.com/banshee-data/sensorybox/internal/config"
	"github.com/banshee-data/sensorybox/internal/controller"
	"github.com/banshee-data/sensorybox/internal/leap"
	"github.com/banshee-data/sensorybox/internal/mapper"
	"github.com/banshee-data/sensorybox/internal/monitor"
	"github.com/banshee-data/sensorybox/internal/replay"
	"github.com/banshee-data/sensorybox/internal/serialmux"
	"github.com/banshee-data/sensorybox/internal/version"
)

type runFlags struct {
	serialPort      string
	disableActuator bool
	trackedHand     string
	source          string
	leapURL         string
	replayFile      string
	replayInterval  string
	replayLoop      bool
	listen          string
	grpcListen      string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream frames to the actuators until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}
			logger, err := g.newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, err = runService(ctx, cfg, logger)
			return err
		},
	}
	f.register(cmd)
	return cmd
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.serialPort, "serial-port", config.DefaultSerialPort, "Actuator serial port")
	fl.BoolVar(&f.disableActuator, "disable-actuator", false, "Log commands instead of writing to the serial port")
	fl.StringVar(&f.trackedHand, "tracked-hand", config.DefaultTrackedHand, "Hand that drives the actuators (left or right)")
	fl.StringVar(&f.source, "source", config.DefaultSource, "Frame source (leap or replay)")
	fl.StringVar(&f.leapURL, "leap-url", config.DefaultLeapURL, "Tracking service WebSocket URL")
	fl.StringVar(&f.replayFile, "replay-file", "", "JSON-lines frame recording for --source=replay")
	fl.StringVar(&f.replayInterval, "replay-interval", config.DefaultReplayInterval.String(), "Delay between replayed frames")
	fl.BoolVar(&f.replayLoop, "replay-loop", false, "Restart the recording after the last frame")
	fl.StringVar(&f.listen, "listen", config.DefaultListen, "Debug HTTP listen address (empty disables)")
	fl.StringVar(&f.grpcListen, "grpc-listen", "", "gRPC health listen address (empty disables)")
}

// apply overrides cfg with the flags set on the command line and validates
// the result.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("serial-port") {
		cfg.SerialPort = &f.serialPort
	}
	if fl.Changed("disable-actuator") {
		cfg.DisableActuator = &f.disableActuator
	}
	if fl.Changed("tracked-hand") {
		cfg.TrackedHand = &f.trackedHand
	}
	if fl.Changed("source") {
		cfg.Source = &f.source
	}
	if fl.Changed("leap-url") {
		cfg.LeapURL = &f.leapURL
	}
	if fl.Changed("replay-file") {
		cfg.ReplayFile = &f.replayFile
		if !fl.Changed("source") {
			src := config.SourceReplay
			cfg.Source = &src
		}
	}
	if fl.Changed("replay-interval") {
		cfg.ReplayInterval = &f.replayInterval
	}
	if fl.Changed("replay-loop") {
		cfg.ReplayLoop = &f.replayLoop
	}
	if fl.Changed("listen") {
		cfg.Listen = &f.listen
	}
	if fl.Changed("grpc-listen") {
		cfg.GRPCListen = &f.grpcListen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func openLink(cfg *config.Config, logger *zap.Logger) (*actuator.Link, error) {
	if cfg.GetDisableActuator() {
		logger.Info("actuator disabled, commands will be logged only")
		return actuator.NewLink(serialmux.NewDisabledSerialMux(), logger), nil
	}
	return actuator.Open(cfg.GetSerialPort(), cfg.PortOptions(), cfg.GetWriteTimeout(), logger)
}

func openSource(cfg *config.Config, logger *zap.Logger) (controller.Source, error) {
	switch cfg.GetSource() {
	case config.SourceReplay:
		p, err := replay.Open(cfg.GetReplayFile(),
			replay.WithInterval(cfg.GetReplayInterval()),
			replay.WithLoop(cfg.GetReplayLoop()))
		if err != nil {
			return nil, err
		}
		logger.Info("replaying frames", zap.String("file", cfg.GetReplayFile()), zap.Int("frames", p.Len()))
		return p, nil
	default:
		return leap.NewClient(cfg.GetLeapURL(), logger.Named("leap"))
	}
}

// runService wires the source, controller, actuator link and debug servers
// and blocks until ctx is cancelled or the source is exhausted. The boxes are
// commanded cold on start and again on the way out.
func runService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (controller.Snapshot, error) {
	logger.Info("starting", zap.String("version", version.String()))

	table, err := cfg.Table()
	if err != nil {
		return controller.Snapshot{}, err
	}
	for _, z := range table.Zones() {
		logger.Debug("zone", zap.Stringer("zone", z))
	}

	src, err := openSource(cfg, logger)
	if err != nil {
		return controller.Snapshot{}, fmt.Errorf("open frame source: %w", err)
	}

	link, err := openLink(cfg, logger.Named("actuator"))
	if err != nil {
		return controller.Snapshot{}, fmt.Errorf("open actuator link: %w", err)
	}
	defer func() {
		if err := link.Close(); err != nil {
			logger.Warn("closing actuator link", zap.Error(err))
		}
	}()
	if err := link.SendIdle(ctx); err != nil {
		logger.Warn("initial cold command failed", zap.Error(err))
	}

	health := monitor.NewHealth()
	proc := mapper.NewProcessor(table, cfg.GetTrackedSide())
	ctrl := controller.New(proc, link,
		controller.WithLogger(logger.Named("controller")),
		controller.WithHealth(health))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// A finished replay ends the run.
		defer cancel()
		return ctrl.Pipe(gctx, src)
	})

	g.Go(func() error {
		if err := link.Monitor(gctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("actuator monitor stopped", zap.Error(err))
		}
		return nil
	})

	if addr := cfg.GetListen(); addr != "" {
		mux := http.NewServeMux()
		link.Mux().AttachAdminRoutes(mux)
		monitor.NewServer(table, proc.TrackedSide(), ctrl.Stats, health,
			monitor.WithLastCommand(link.Last)).AttachRoutes(mux)
		g.Go(func() error {
			return monitor.ServeHTTP(gctx, addr, mux, logger.Named("http"))
		})
	}

	if addr := cfg.GetGRPCListen(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			cancel()
			g.Wait()
			return ctrl.Stats(), fmt.Errorf("listen grpc health: %w", err)
		}
		g.Go(func() error {
			return monitor.ServeGRPC(gctx, lis, health, logger.Named("grpc"))
		})
	}

	logger.Info("running",
		zap.String("source", cfg.GetSource()),
		zap.Stringer("tracked_hand", proc.TrackedSide()),
		zap.Int("zones", table.Len()))

	err = g.Wait()
	snap := ctrl.Stats()
	logger.Info("stopped",
		zap.Int64("frames", snap.Frames),
		zap.Int64("writes", snap.Writes),
		zap.Int64("write_failures", snap.WriteFailures))
	return snap, err
}
