package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateFlags struct {
	print bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration file with environment overrides applied and report
every validation error.

Examples:
  # Validate a file
  relayguard validate --config relayguard.yaml

  # Print the effective configuration
  relayguard validate --config relayguard.yaml --print`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.print, "print", false, "print the effective configuration as YAML")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if validateFlags.print {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		return enc.Close()
	}

	source := cfgFile
	if source == "" {
		source = "defaults"
	}
	fmt.Fprintf(out, "✓ Configuration valid (%s)\n", source)
	return nil
}
