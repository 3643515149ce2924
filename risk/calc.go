package risk

import (
	"github.com/rustyeddy/margin/market"
)

// divisionPrecision is the number of fractional digits kept when dividing.
const divisionPrecision = 18

func div(a, b market.Amount) market.Amount {
	return a.DivRound(b, divisionPrecision)
}

// CollateralRatio is assets / debts.
//
//	debts == 0, assets == 0  -> Undefined
//	debts == 0, assets > 0   -> Infinite
//	negative inputs          -> Undefined
func CollateralRatio(assetsUSD, debtsUSD market.Amount) Value {
	if assetsUSD.IsNegative() || debtsUSD.IsNegative() {
		return Undefined()
	}
	if debtsUSD.IsZero() {
		if assetsUSD.IsZero() {
			return Undefined()
		}
		return Infinite()
	}
	return Finite(div(assetsUSD, debtsUSD))
}

// ProjectedMarginRatio returns the assets/debts ratio after a trade that
// borrows borrowNeededUSD. The borrowed funds become part of the position,
// so they are added to both sides.
func ProjectedMarginRatio(assetsUSD, debtsUSD, tradeNotionalUSD, borrowNeededUSD market.Amount) Value {
	if !tradeNotionalUSD.IsPositive() || borrowNeededUSD.IsNegative() {
		return Undefined()
	}
	assets := assetsUSD.Add(borrowNeededUSD)
	debts := debtsUSD.Add(borrowNeededUSD)
	return CollateralRatio(assets, debts)
}

// EstimatedBorrowNeeded is the part of a position not covered by own funds:
// value - value/leverage, floored at zero. Leverage must be positive.
func EstimatedBorrowNeeded(positionValueQuote, leverage market.Amount) Value {
	if !leverage.IsPositive() || positionValueQuote.IsNegative() {
		return Undefined()
	}
	own := div(positionValueQuote, leverage)
	return Finite(market.Max(positionValueQuote.Sub(own), market.Zero))
}

// EstimatedLiquidationPriceForLong is the base price at which a long position
// brings the account to the liquidation rate:
//
//	(liquidateRate*projectedDebts - assetsExcludingPosition) / positionSizeBase
//
// floored at zero.
func EstimatedLiquidationPriceForLong(liquidateRate, projectedDebtsUSD, assetsExcludingPositionUSD, positionSizeBase market.Amount) Value {
	if !positionSizeBase.IsPositive() || !liquidateRate.IsPositive() || !projectedDebtsUSD.IsPositive() {
		return Undefined()
	}
	num := liquidateRate.Mul(projectedDebtsUSD).Sub(assetsExcludingPositionUSD)
	return Finite(market.Max(div(num, positionSizeBase), market.Zero))
}

// EstimatedLiquidationPrice dispatches on side. Short positions have no
// estimate.
func EstimatedLiquidationPrice(side market.Side, liquidateRate, projectedDebtsUSD, assetsExcludingPositionUSD, positionSizeBase market.Amount) Value {
	if side != market.Long {
		return Undefined()
	}
	return EstimatedLiquidationPriceForLong(liquidateRate, projectedDebtsUSD, assetsExcludingPositionUSD, positionSizeBase)
}
