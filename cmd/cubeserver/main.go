// cubeserver runs the profile query protocol server: it loads a YAML
// configuration, opens a listener, and serves RPC connections until
// interrupted (spec §2, §4.9, §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scorep-tools/tracecost/internal/config"
	"github.com/scorep-tools/tracecost/internal/serverdriver"
	"github.com/scorep-tools/tracecost/internal/telemetry"
)

var version = "0.1.0"

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "cubeserver",
		Short:         "Serve profile query protocol connections",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to cubeserver.yaml (defaults built in if omitted)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cubeserver:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return fmt.Errorf("default config: %w", err)
	}

	log, err := telemetry.New(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	driver := serverdriver.New(cfg, log)
	log.Info("starting cubeserver", zap.String("listen_addr", cfg.ListenAddr))
	if err := driver.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
