package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"recommerce/config"
	"recommerce/daemon"
	"recommerce/internal/buildinfo"
	"recommerce/internal/logging"
)

type globalFlags struct {
	configPath string
	listen     string
	debug      bool
}

func main() {
	if err := logging.Configure("info", "text"); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "recommerced",
		Short:         "Experiment container orchestrator",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(ctx, cfg)
			if err != nil {
				return err
			}
			slog.Info("Starting recommerced.", "version", buildinfo.Version, "listen", cfg.Listen)
			return d.Run(ctx)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "recommerce.yaml", "Path to the YAML configuration file")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "Override the HTTP listen address")

	cmd.AddCommand(tokenCmd(&flags))
	cmd.AddCommand(buildImageCmd(&flags))
	return cmd
}

// load reads the configuration, applies flag overrides and installs the
// configured logger.
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}
