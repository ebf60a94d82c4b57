// Package cli implements the rendersync command-line interface using Cobra.
// Each subcommand is a thin wrapper over one service operation.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rayvision-network/rendersync/internal/domain"
	"github.com/rayvision-network/rendersync/internal/service"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rendersync",
	Short: "rendersync moves render-farm inputs and outputs",
	Long: `rendersync uploads scene files and assets to the render farm, watches
submitted tasks and downloads their outputs through the transmitter.

Configuration is read from $RENDERSYNC_HOME/config.toml (default
~/.rendersync/config.toml).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $RENDERSYNC_HOME/config.toml)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// loadService builds a service from --config or the default config file.
func loadService() (*service.Service, error) {
	if configPath == "" {
		return service.New()
	}
	cfg, err := service.LoadConfigFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return service.NewWithConfig(cfg)
}

// taskIDs converts command arguments to task ids.
func taskIDs(args []string) []domain.TaskID {
	ids := make([]domain.TaskID, len(args))
	for i, a := range args {
		ids[i] = domain.TaskID(a)
	}
	return ids
}

func idStrings(ids []domain.TaskID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
