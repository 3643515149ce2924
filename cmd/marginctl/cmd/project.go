package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/margin/market"
	"github.com/rustyeddy/margin/risk"
)

var projectCmd = &cobra.Command{
	Use:   "project <long|short> <amount>",
	Short: "Project the margin ratio and liquidation price of a trade",
	Long: `Estimate borrow, projected margin ratio and liquidation price of a
leveraged trade against the current account, without sending anything.

Example:
  marginctl project long 2 --price 2000 --leverage 3`,
	Args: cobra.ExactArgs(2),
	RunE: runProject,
}

var (
	projectPrice    string
	projectLeverage string
	projectQuoteUSD string
)

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.Flags().StringVar(&projectPrice, "price", "", "price in quote units (required)")
	projectCmd.Flags().StringVar(&projectLeverage, "leverage", "2", "leverage")
	projectCmd.Flags().StringVar(&projectQuoteUSD, "quote-usd", "", "USD price of the quote asset (default 1)")
	projectCmd.MarkFlagRequired("price")
}

func runProject(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	side, err := market.ParseSide(args[0])
	if err != nil {
		return err
	}
	p, err := projectTrade(cmd.Context(), a, side, args[1], projectPrice, projectLeverage, projectQuoteUSD)
	if err != nil {
		return err
	}
	printProjection(p)
	return nil
}

// projectTrade fetches the account and margin parameters and runs the
// projection. Parameters fall back to the configured market when the venue
// does not serve them.
func projectTrade(ctx context.Context, a *app, side market.Side, amount, price, leverage, quoteUSD string) (risk.Projection, error) {
	in := risk.TradeInput{Side: side}
	var err error
	if in.Amount, err = market.ParsePositiveAmount(amount); err != nil {
		return risk.Projection{}, fmt.Errorf("amount: %w", err)
	}
	if in.Price, err = market.ParsePositiveAmount(price); err != nil {
		return risk.Projection{}, fmt.Errorf("price: %w", err)
	}
	if in.Leverage, err = market.ParsePositiveAmount(leverage); err != nil {
		return risk.Projection{}, fmt.Errorf("leverage: %w", err)
	}
	if quoteUSD != "" {
		if in.QuoteUSDPrice, err = market.ParsePositiveAmount(quoteUSD); err != nil {
			return risk.Projection{}, fmt.Errorf("quote-usd: %w", err)
		}
	}

	if _, err := fetchParams(ctx, a); err != nil {
		a.log.WithError(err).Warn("using configured margin parameters")
	}
	m, err := a.market()
	if err != nil {
		return risk.Projection{}, err
	}
	in.LiquidateRate = m.LiquidateRate
	in.BorrowEnable = m.BorrowEnable

	sess := a.session(ctx)
	acct, err := a.store.FetchAccount(ctx, sess, m.ID)
	if err != nil {
		return risk.Projection{}, fmt.Errorf("account: %w", err)
	}
	in.AssetsUSD = acct.AssetsTotalUSDValue
	in.DebtsUSD = acct.DebtsTotalUSDValue
	return risk.ProjectTrade(in), nil
}

func printProjection(p risk.Projection) {
	fmt.Println("Projection:")
	fmt.Printf("  Notional:          %s\n", p.Notional.String())
	fmt.Printf("  Borrow needed:     %s\n", p.BorrowNeeded.Format(4))
	fmt.Printf("  Assets after (USD): %s\n", market.FormatAmount(p.ProjectedAssetsUSD, 2))
	fmt.Printf("  Debts after (USD):  %s\n", market.FormatAmount(p.ProjectedDebtsUSD, 2))
	fmt.Printf("  Margin ratio:      %s\n", p.ProjectedRatio.Format(4))
	fmt.Printf("  Liquidation price: %s\n", p.LiquidationPrice.Format(4))
	if p.Allowed {
		fmt.Println("  Allowed:           yes")
		return
	}
	for _, v := range p.Violations {
		fmt.Printf("  Refused (%s):  %s\n", v.Code, v.Msg)
	}
}
