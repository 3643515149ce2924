package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/margin/margin"
	"github.com/rustyeddy/margin/market"
)

func assetCommand(kind margin.Kind, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <symbol> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.market()
			if err != nil {
				return err
			}
			asset, err := assetAddress(m, args[0])
			if err != nil {
				return err
			}
			return runWorkflow(cmd, a, margin.Request{
				Kind:         kind,
				MarketID:     m.ID,
				AssetAddress: asset,
				Amount:       args[1],
				Origin:       "cli",
			})
		},
	}
}

var openCmd = &cobra.Command{
	Use:   "open <long|short> <amount>",
	Short: "Open a leveraged position in the session market",
	Long: `Open a leveraged position. The trade is projected against the current
account first and refused if it would leave the account under the
liquidation rate, unless --force is given.

Example:
  marginctl open long 2 --price 2000 --leverage 3 --collateral DAI --collateral-amount 1500`,
	Args: cobra.ExactArgs(2),
	RunE: runOpen,
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the open position in the session market",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return runWorkflow(cmd, a, margin.Request{Kind: margin.ClosePosition, MarketID: a.cfg.Session.Market, Origin: "cli"})
	},
}

var (
	openPrice      string
	openLeverage   string
	openCollSymbol string
	openCollAmount string
	openForce      bool
)

func init() {
	rootCmd.AddCommand(
		assetCommand(margin.Deposit, "deposit", "Deposit collateral into the margin account"),
		assetCommand(margin.Withdraw, "withdraw", "Withdraw collateral from the margin account"),
		assetCommand(margin.Borrow, "borrow", "Borrow an asset against the margin account"),
		assetCommand(margin.Repay, "repay", "Repay a loan"),
		openCmd,
		closeCmd,
	)

	openCmd.Flags().StringVar(&openPrice, "price", "", "limit price in quote units (required)")
	openCmd.Flags().StringVar(&openLeverage, "leverage", "2", "leverage")
	openCmd.Flags().StringVar(&openCollSymbol, "collateral", "", "collateral asset symbol (default: quote)")
	openCmd.Flags().StringVar(&openCollAmount, "collateral-amount", "0", "collateral to add with the order")
	openCmd.Flags().BoolVar(&openForce, "force", false, "send even if the projection refuses the trade")
	openCmd.MarkFlagRequired("price")
}

func runOpen(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.market()
	if err != nil {
		return err
	}
	side, err := market.ParseSide(args[0])
	if err != nil {
		return err
	}
	coll := openCollSymbol
	if coll == "" {
		coll = m.QuoteSymbol
	}

	proj, err := projectTrade(cmd.Context(), a, side, args[1], openPrice, openLeverage, "")
	if err != nil {
		return err
	}
	printProjection(proj)
	if !proj.Allowed && !openForce {
		return fmt.Errorf("trade refused: %s", proj.Reason())
	}

	return runWorkflow(cmd, a, margin.Request{
		Kind:             margin.OpenPosition,
		MarketID:         m.ID,
		Side:             side,
		Amount:           args[1],
		Price:            openPrice,
		Leverage:         openLeverage,
		CollateralSymbol: coll,
		CollateralAmount: openCollAmount,
		Origin:           "cli",
	})
}

// runWorkflow starts req and prints the outcome and any alerts it raised.
func runWorkflow(cmd *cobra.Command, a *app, req margin.Request) error {
	ctx := cmd.Context()
	wf, err := a.engine.Start(ctx, a.session(ctx), req)
	for _, al := range a.alerts.List() {
		fmt.Println(alertLine(al))
	}
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s %s in %s\n", wf.Kind, wf.TxHash, wf.FinishedAt.Sub(wf.StartedAt).Round(time.Millisecond))
	if acct, ok := a.store.Account(req.MarketID); ok {
		fmt.Println()
		printAccount(acct)
	}
	return nil
}

// assetAddress resolves symbol to its address in m. Markets configured
// without addresses take the symbol itself.
func assetAddress(m market.Market, symbol string) (string, error) {
	if symbol != m.BaseSymbol && symbol != m.QuoteSymbol {
		return "", fmt.Errorf("%s is not traded in %s (want %s or %s)", symbol, m.ID, m.BaseSymbol, m.QuoteSymbol)
	}
	if addr, ok := m.SymbolAddress(symbol); ok {
		return addr, nil
	}
	return symbol, nil
}
