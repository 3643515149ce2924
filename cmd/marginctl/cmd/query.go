package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/market"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show the margin account in the session market",
	Args:  cobra.NoArgs,
	RunE:  runAccount,
}

var loansCmd = &cobra.Command{
	Use:   "loans",
	Short: "List loans in the session market, or every market with --all",
	Args:  cobra.NoArgs,
	RunE:  runLoans,
}

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List open margin positions",
	Args:  cobra.NoArgs,
	RunE:  runPositions,
}

var spendableCmd = &cobra.Command{
	Use:   "spendable <symbol>",
	Short: "Show how much of an asset can be withdrawn",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpendable,
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Show the session market's margin parameters",
	Args:  cobra.NoArgs,
	RunE:  runParams,
}

var loansAll bool

func init() {
	rootCmd.AddCommand(accountCmd, loansCmd, positionsCmd, spendableCmd, paramsCmd)
	loansCmd.Flags().BoolVar(&loansAll, "all", false, "list loans across all markets")
}

func runAccount(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	sess := a.session(ctx)
	acct, err := a.store.FetchAccount(ctx, sess, sess.MarketID)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	printAccount(acct)
	return nil
}

func runLoans(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	sess := a.session(ctx)
	id := sess.MarketID
	if loansAll {
		id = ""
	}
	loans, err := a.store.FetchLoans(ctx, sess, id)
	if err != nil {
		return fmt.Errorf("loans: %w", err)
	}
	printLoans(loans)
	return nil
}

func runPositions(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	positions, err := a.store.FetchOpenPositions(ctx, a.session(ctx))
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	printPositions(positions)
	return nil
}

func runSpendable(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	sess := a.session(ctx)
	amt, err := a.store.FetchSpendableBalance(ctx, sess, sess.MarketID, args[0])
	if err != nil {
		return fmt.Errorf("spendable: %w", err)
	}
	fmt.Printf("%s spendable in %s: %s\n", args[0], sess.MarketID, amt.String())
	return nil
}

func runParams(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := fetchParams(cmd.Context(), a)
	if err != nil {
		return err
	}
	fmt.Printf("Margin parameters %s\n", a.cfg.Session.Market)
	fmt.Printf("  Liquidate rate:     %s\n", p.LiquidateRate.String())
	fmt.Printf("  Initial margin:     %s\n", p.InitialMarginFraction.String())
	fmt.Printf("  Maintenance margin: %s\n", p.MaintenanceMarginFraction.String())
	fmt.Printf("  Borrow enabled:     %t (base %t, quote %t)\n", p.BorrowEnable, p.BaseBorrowEnable, p.QuoteBorrowEnable)
	fmt.Printf("  Borrow APY:         base %s, quote %s\n", p.BaseBorrowAPY.String(), p.QuoteBorrowAPY.String())
	return nil
}

// fetchParams asks the venue for the session market's parameters and folds
// them into the app's catalog.
func fetchParams(ctx context.Context, a *app) (market.MarginParameters, error) {
	id := a.cfg.Session.Market
	p, err := a.store.FetchMarginParameters(ctx, id)
	if err != nil {
		return market.MarginParameters{}, fmt.Errorf("margin parameters: %w", err)
	}
	a.catalog = a.catalog.WithMarginParameters(id, p)
	return p, nil
}

func printAccount(acct broker.MarginAccount) {
	fmt.Printf("Margin account %s\n", acct.MarketID)
	fmt.Printf("  Status:       %s (liquidatable: %t)\n", acct.Status, acct.Liquidatable)
	fmt.Printf("  Assets (USD): %s\n", market.FormatAmount(acct.AssetsTotalUSDValue, 2))
	fmt.Printf("  Debts (USD):  %s\n", market.FormatAmount(acct.DebtsTotalUSDValue, 2))
	fmt.Printf("  Ratio:        %s\n", acct.CollateralRatio().Format(4))
	for _, d := range []broker.AssetDetails{acct.BaseAssetDetails, acct.QuoteAssetDetails} {
		fmt.Printf("  %-6s total %s, transferable %s\n", d.Symbol, d.TotalBalance.String(), d.TransferableAmount.String())
	}
}

func printLoans(loans []broker.LoanRecord) {
	if len(loans) == 0 {
		fmt.Println("No loans")
		return
	}
	fmt.Printf("%-10s %-6s %20s %10s %12s\n", "MARKET", "ASSET", "BORROWED", "APY", "INTEREST")
	for _, l := range loans {
		fmt.Printf("%-10s %-6s %20s %10s %12s\n",
			l.MarketID, l.Symbol, l.AmountBorrowed.String(), l.InterestRateAPY.Format(4), l.AccruedInterest.String())
	}
}

func printPositions(positions []broker.OpenPosition) {
	if len(positions) == 0 {
		fmt.Println("No open positions")
		return
	}
	fmt.Printf("%-10s %-6s %14s %12s %12s %10s %12s\n", "MARKET", "SIDE", "SIZE", "ENTRY", "MARK", "RATIO", "LIQ PRICE")
	for _, p := range positions {
		fmt.Printf("%-10s %-6s %14s %12s %12s %10s %12s\n",
			p.MarketID, p.Side.String(), p.Size.String(),
			p.EntryPrice.Format(4), p.MarkPrice.Format(4), p.MarginRatio.Format(4), p.LiquidationPrice.Format(4))
	}
}
