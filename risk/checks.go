package risk

import (
	"fmt"

	"github.com/rustyeddy/margin/market"
)

type Violation struct {
	Code string
	Msg  string
}

// Projection is the outcome of ProjectTrade. Every Value may be Undefined;
// callers render those as "N/A".
type Projection struct {
	Allowed    bool
	Violations []Violation

	Notional           market.Amount
	BorrowNeeded       Value // quote units
	ProjectedAssetsUSD market.Amount
	ProjectedDebtsUSD  market.Amount
	ProjectedRatio     Value
	LiquidationPrice   Value
}

func (p *Projection) add(code, msg string) {
	p.Violations = append(p.Violations, Violation{Code: code, Msg: msg})
	p.Allowed = false
}

// Reason returns the first violation message, or "".
func (p Projection) Reason() string {
	if len(p.Violations) == 0 {
		return ""
	}
	return p.Violations[0].Msg
}

// ProjectTrade estimates borrow, projected margin ratio and liquidation price
// for a leveraged trade and decides whether it may be placed.
func ProjectTrade(in TradeInput) Projection {
	p := Projection{
		Allowed:          true,
		BorrowNeeded:     Undefined(),
		ProjectedRatio:   Undefined(),
		LiquidationPrice: Undefined(),
	}

	// Basic sanity
	if !in.BorrowEnable {
		p.add("BORROW_DISABLED", "borrowing is not enabled for this market")
		return p
	}
	if !in.Price.IsPositive() || !in.Amount.IsPositive() {
		p.add("NO_PRICE_OR_AMOUNT", "price and amount must be positive")
		return p
	}
	if !in.LiquidateRate.IsPositive() {
		p.add("NO_LIQUIDATE_RATE", "market liquidate rate not available or invalid")
		return p
	}
	if !in.Leverage.IsPositive() {
		p.add("BAD_LEVERAGE", "leverage must be positive")
		return p
	}

	p.Notional = in.Amount.Mul(in.Price)
	p.BorrowNeeded = EstimatedBorrowNeeded(p.Notional, in.Leverage)
	borrowQuote, _ := p.BorrowNeeded.Decimal()
	borrowUSD := borrowQuote.Mul(in.quoteToUSD())

	p.ProjectedDebtsUSD = in.DebtsUSD.Add(borrowUSD)
	p.ProjectedAssetsUSD = in.AssetsUSD.Add(borrowUSD)
	p.ProjectedRatio = ProjectedMarginRatio(in.AssetsUSD, in.DebtsUSD, p.Notional.Mul(in.quoteToUSD()), borrowUSD)

	if p.ProjectedRatio.LessThan(in.LiquidateRate) {
		p.add("RATIO_BELOW_LIQUIDATION",
			fmt.Sprintf("projected ratio %s below liq. rate %s",
				p.ProjectedRatio.Format(2), in.LiquidateRate.StringFixed(2)))
	}

	if p.Allowed && p.ProjectedDebtsUSD.IsPositive() {
		assetsExcluding := p.ProjectedAssetsUSD.Sub(p.Notional.Mul(in.quoteToUSD()))
		p.LiquidationPrice = EstimatedLiquidationPrice(in.Side, in.LiquidateRate, p.ProjectedDebtsUSD, assetsExcluding, in.Amount)
	}

	return p
}
