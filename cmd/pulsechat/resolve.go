package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/HerbHall/pulsechat/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errNoFrontend = errors.New("no frontend build found")

func newResolveCmd(configPath *string) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which frontend build directory the server would serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger := zap.NewNop()
			if verbose {
				if logger, err = config.NewLogger(config.LoggingConfig{Level: "debug", Format: "console"}); err != nil {
					return err
				}
			}

			res := newResolver(cfg, logger).Resolve()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "working dir:    %s\n", res.WorkDir)
			fmt.Fprintf(out, "executable dir: %s\n\n", res.ExeDir)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tEXISTS\tINDEX.HTML\tSELECTED")
			for _, c := range res.Checks {
				selected := ""
				if res.Found && c.Path == res.Root {
					selected = "*"
				}
				fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", c.Path, c.Exists, c.HasShell, selected)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if !res.Found {
				return errNoFrontend
			}
			fmt.Fprintf(out, "\nserving: %s\n", res.Root)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every probe")
	return cmd
}
