package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect mirrorpick configuration. The config file is looked up in
./mirrorpick.yaml, /etc/mirrorpick/mirrorpick.yaml and
~/.config/mirrorpick/mirrorpick.yaml unless --config is given.`,
		Example: `  mirrorpick config show
  mirrorpick config show --config ./mirrorpick.yaml`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format, with defaults
filled in and command-line overrides applied.`,
		Args: cobra.NoArgs,
		RunE: configShowRun,
	})

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	source := cfgPath
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Printf("# source: %s\n", source)
	fmt.Print(string(data))
	return nil
}
