package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/margin/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage marginctl configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  marginctl config init -o margin.yaml
  marginctl config validate -f margin.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", defaultConfigFile, "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nSet session.address (or run a signing agent), then try:")
	fmt.Printf("  marginctl -c %s account\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Gateway: %s (%.1f req/s)\n", cfg.Gateway.URL, cfg.Gateway.RateLimit)
	fmt.Printf("  Push:    %s\n", cfg.Push.URL)
	fmt.Printf("  Signer:  %s\n", cfg.Signer.URL)
	for _, m := range cat.Markets() {
		fmt.Printf("  Market:  %s (liquidate rate %s, borrow %t)\n", m.ID, m.LiquidateRate.String(), m.BorrowEnable)
	}
	fmt.Printf("  Journal: %s\n", cfg.Journal.Type)
	return nil
}
