package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/margin/broker/relayer"
	"github.com/rustyeddy/margin/config"
)

const defaultConfigFile = "margin.yaml"

var rootCmd = &cobra.Command{
	Use:   "marginctl",
	Short: "Margin trading client for a relayer venue",
	Long: `marginctl manages margin accounts on a relayer venue.

It can:
  - Show margin accounts, loans, open positions and spendable balances
  - Deposit, withdraw, borrow and repay through an external signing agent
  - Open and close leveraged positions with a risk projection first
  - Watch the push channel for account updates and margin alerts
  - Query the local transaction journal

Run "marginctl demo" to see the whole flow against an in-process venue.`,
	SilenceUsage: true,
}

var (
	configPath  string
	flagAddress string
	flagMarket  string
	flagLevel   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if relayer.IsAuthExpired(err) {
		fmt.Fprintf(os.Stderr, "authentication expired: refresh the token in %s\n", config.TokenEnv)
	}
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file (default ./"+defaultConfigFile+" when present)")
	pf.StringVar(&flagAddress, "address", "", "wallet address (default: session.address, then the signing agent)")
	pf.StringVarP(&flagMarket, "market", "m", "", "market id (default: session.market)")
	pf.StringVar(&flagLevel, "log-level", "", "log level override")
}

// loadConfig reads --config, or ./margin.yaml if it exists, or the
// defaults, then applies the command line overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	var cfg *config.Config
	if path != "" {
		c, err := config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = config.Default()
		cfg.ApplyEnv()
	}

	if flagAddress != "" {
		cfg.Session.Address = flagAddress
	}
	if flagMarket != "" {
		cfg.Session.Market = flagMarket
	}
	if flagLevel != "" {
		cfg.Log.Level = flagLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Session.Market == "" {
		return nil, errors.New("no market: set session.market or pass --market")
	}
	return cfg, nil
}
