package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/sensorybox/internal/mapper"
)

// newSendCmd writes one command to the board, holds it, then turns the boxes
// cold again. Used to check wiring without a tracker.
func newSendCmd(g *globalFlags) *cobra.Command {
	var hold time.Duration
	cmd := &cobra.Command{
		Use:     "send COMMAND",
		Short:   "Write a five-character command to the actuators",
		Example: "  sensorybox send FATWC --hold 5s",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := mapper.ParseCommand(args[0])
			if err != nil {
				return err
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			logger, err := g.newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			link, err := openLink(cfg, logger.Named("actuator"))
			if err != nil {
				return fmt.Errorf("open actuator link: %w", err)
			}
			defer link.Close()

			ctx := cmd.Context()
			if err := link.Send(ctx, command); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", command)

			select {
			case <-ctx.Done():
			case <-time.After(hold):
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&hold, "hold", 2*time.Second, "How long to hold the command before going cold")
	return cmd
}
