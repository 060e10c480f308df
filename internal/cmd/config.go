package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "View effective configuration",
	Long: `View the configuration tagcheck would run with, after defaults, the
config file, environment variables and flags are applied.

With no arguments, displays all configuration. Passwords are masked.
With one argument, displays the value for the specified key.`,
	Example: `  # Show all config
  tagcheck config

  # Show value for a specific key
  tagcheck config scan.max_checks`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return runShowKey(cmd, args[0])
		}
		return runShowAll(cmd)
	},
}

func runShowAll(cmd *cobra.Command) error {
	cfg := ConfigFromContext(cmd.Context())
	if cfg == nil {
		return errors.New("config not loaded")
	}

	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runShowKey(cmd *cobra.Command, key string) error {
	loader := LoaderFromContext(cmd.Context())
	if loader == nil {
		return errors.New("config not loaded")
	}
	if key == "registries" {
		return errors.New("registries may hold credentials; use 'tagcheck config' to see them masked")
	}

	value, err := loader.Get(key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch v := value.(type) {
	case nil:
		fmt.Fprintln(out, "")
	case string:
		fmt.Fprintln(out, v)
	case map[string]any, []any, []string:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		fmt.Fprint(out, string(data))
	default:
		fmt.Fprintln(out, value)
	}

	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)
}
