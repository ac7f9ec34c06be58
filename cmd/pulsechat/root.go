package main

import (
	"os"

	"github.com/HerbHall/pulsechat/internal/config"
	"github.com/HerbHall/pulsechat/internal/frontend"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "pulsechat",
		Short: "PulseChat backend server",
		Long: "pulsechat serves the chat API, the presence socket and, in production,\n" +
			"the compiled single-page frontend.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newResolveCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// newResolver builds the frontend resolver from configuration. An empty
// candidate list falls back to the built-in search order.
func newResolver(cfg *config.Config, logger *zap.Logger) *frontend.Resolver {
	wd, err := os.Getwd()
	if err != nil {
		logger.Warn("cannot determine working directory", zap.Error(err))
	}
	exeDir := frontend.ExecutableDir()

	candidates := cfg.Frontend.Candidates
	if len(candidates) == 0 {
		candidates = frontend.DefaultCandidates(wd, exeDir)
	}
	return &frontend.Resolver{
		Candidates:   candidates,
		WorkDir:      wd,
		ExeDir:       exeDir,
		RequireShell: cfg.Frontend.RequireShell,
		Logger:       logger,
	}
}
