package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/rayvision-network/rendersync/internal/infra/dbini"
	"github.com/rayvision-network/rendersync/internal/service"
)

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	configInitCmd.Flags().StringVar(&configLegacyIni, "from-ini", "", "Import database settings from a transmitter db_config.ini")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

var (
	configForce     bool
	configLegacyIni string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the rendersync configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(service.Home(), "config.toml")
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := service.DefaultConfig()
	if configLegacyIni != "" {
		legacy, err := dbini.LoadLegacy(configLegacyIni)
		if err != nil {
			return err
		}
		cfg.Database.On = legacy.On
		cfg.Database.Type = legacy.Type
		if legacy.Dir != "" {
			cfg.Database.Path = legacy.Dir
		}
		cfg.SQLite.Temporary = legacy.Temporary
		cfg.Redis = service.RedisConfig(legacy.Redis)
	}

	if err := service.SaveConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	var (
		cfg service.Config
		err error
	)
	if configPath != "" {
		cfg, err = service.LoadConfigFile(configPath)
	} else {
		cfg, err = service.LoadConfig()
	}
	if err != nil {
		return err
	}
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
}
