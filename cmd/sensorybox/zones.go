package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/sensorybox/internal/geom"
	"github.com/banshee-data/sensorybox/internal/version"
	"github.com/banshee-data/sensorybox/internal/zones"
)

func newZonesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "zones",
		Short: "Print the configured zone table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			table, err := cfg.Table()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tCODE\tANCHOR\tHALF-WIDTH\tMIN\tMAX")
			for i, z := range table.Zones() {
				fmt.Fprintf(tw, "%d\t%c\t%s\t%g\t%s\t%s\n", i, z.Code, z.Anchor, z.HalfWidth, z.Min(), z.Max())
			}
			return tw.Flush()
		},
	}
}

// newResolveCmd resolves a point without any hardware, for calibrating
// anchor positions.
func newResolveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve X Y Z",
		Short: "Resolve a point (mm) to its zone code",
		Example: `  sensorybox resolve 150 300 0
  sensorybox resolve -- -150 150 0`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var xyz [3]float64
			for i, a := range args {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("coordinate %q: %w", a, err)
				}
				xyz[i] = v
			}
			p := geom.Pt(xyz[0], xyz[1], xyz[2])

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			table, err := cfg.Table()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if z, ok := table.Lookup(p); ok {
				fmt.Fprintf(out, "%c inside %s\n", z.Code, z)
				return nil
			}
			fmt.Fprintf(out, "%c no zone", zones.IdleCode)
			if z, d, ok := table.Nearest(p); ok {
				fmt.Fprintf(out, " (nearest %c, %.1f mm from anchor)", z.Code, d)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
