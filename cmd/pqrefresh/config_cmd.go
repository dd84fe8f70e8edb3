package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/pqrefresh/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage pqrefresh configuration. Subcommands allow viewing and modifying
configuration settings.`,
		Example: `  pqrefresh config show
  pqrefresh config set settings.refresh_timeout_minutes 45`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration in YAML format, after defaults and
repairs of out-of-range values have been applied.`,
		Example: `  pqrefresh config show
  pqrefresh config show --config /etc/pqrefresh/pqrefresh.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Debug("showing configuration", "path", globalCfg.Path())

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Printf("Current Configuration (%s):\n", globalCfg.Path())
	fmt.Println("======================")
	fmt.Println(string(data))

	return nil
}

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long: `Set a configuration value using dot-notation for nested keys.
Changes are written back to the config file.

Keys:
  ` + strings.Join(config.Keys(), "\n  "),
		Example: `  pqrefresh config set settings.auto_save false
  pqrefresh config set backup.retention_days 14`,
		Args: cobra.ExactArgs(2),
		RunE: configSetRun,
	}

	return cmd
}

func configSetRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	key := args[0]
	value := args[1]

	if err := globalCfg.SetValue(key, value); err != nil {
		return err
	}
	if err := globalCfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	log.Info("set configuration", "key", key, "value", value, "path", globalCfg.Path())
	fmt.Printf("%s = %s\n", key, value)

	return nil
}
