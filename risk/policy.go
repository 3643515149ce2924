package risk

import "github.com/rustyeddy/margin/market"

// TradeInput is a hypothetical margin trade evaluated against a snapshot of
// the account in the same market.
type TradeInput struct {
	Side     market.Side
	Price    market.Amount // quote per base
	Amount   market.Amount // base units
	Leverage market.Amount

	// Account snapshot for the market.
	AssetsUSD market.Amount
	DebtsUSD  market.Amount

	// Market parameters.
	LiquidateRate market.Amount
	BorrowEnable  bool

	// QuoteUSDPrice converts quote to USD. Zero means 1 (USD-pegged quote).
	QuoteUSDPrice market.Amount
}

func (in TradeInput) quoteToUSD() market.Amount {
	if in.QuoteUSDPrice.IsPositive() {
		return in.QuoteUSDPrice
	}
	return market.MustAmount("1")
}
