// Command sensorybox maps tracked finger positions to the five sensory box
// actuators over a serial link.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/sensorybox/internal/config"
	"github.com/banshee-data/sensorybox/internal/monitoring"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	logFile    string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "sensorybox",
		Short: "Drive the sensory boxes from hand-tracking frames",
		Long: `sensorybox reads hand-tracking frames, resolves each fingertip of the
tracked hand against the configured zones and writes a five-character
command (one code per finger) to the actuator board.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "JSON config file (default: built-in defaults)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "Write rotated JSON logs to this file instead of stderr")

	root.AddCommand(
		newRunCmd(g),
		newZonesCmd(g),
		newResolveCmd(g),
		newSendCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads the config file, if any, and the environment.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger and routes monitoring.Logf through it.
func (g *globalFlags) newLogger() (*zap.Logger, error) {
	logger, err := monitoring.NewLogger(monitoring.LogOptions{Verbose: g.verbose, File: g.logFile})
	if err != nil {
		return nil, err
	}
	monitoring.UseZap(logger)
	return logger, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
