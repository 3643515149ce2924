package sim

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/market"
	"github.com/rustyeddy/margin/risk"
)

// Position is a leveraged position opened through the venue.
type Position struct {
	ID         string
	MarketID   string
	Side       market.Side
	Size       market.Amount // base units
	EntryPrice market.Amount // quote per base
	Borrowed   market.Amount // quote for longs, base for shorts
	OpenTime   time.Time

	ClosePrice market.Amount
	CloseTime  time.Time
	RealizedPL market.Amount // quote units
	Reason     string
	Open       bool
}

// UnrealizedPL is the profit in quote units at mark.
func (p *Position) UnrealizedPL(mark market.Amount) market.Amount {
	pl := mark.Sub(p.EntryPrice).Mul(p.Size)
	if p.Side == market.Short {
		return pl.Neg()
	}
	return pl
}

func (v *Venue) openPositionsLocked(marketID string) []*Position {
	var out []*Position
	for _, p := range v.positions {
		if p.Open && (marketID == "" || p.MarketID == marketID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// positionViewLocked is the listing row for p. The liquidation price is
// only estimated for longs.
func (v *Venue) positionViewLocked(m market.Market, p *Position) broker.OpenPosition {
	a := v.accountLocked(m.ID)
	val := v.valueLocked(m, a)
	mark := v.markLocked(m)

	liq := risk.Undefined()
	if p.Side == market.Long {
		posUSD := p.Size.Mul(v.prices[m.BaseSymbol])
		liq = risk.EstimatedLiquidationPriceForLong(m.LiquidateRate, val.debtsUSD, val.assetsUSD.Sub(posUSD), p.Size)
	}
	return broker.OpenPosition{
		ID:               p.ID,
		MarketID:         p.MarketID,
		Side:             p.Side,
		Size:             p.Size,
		EntryPrice:       risk.Finite(p.EntryPrice),
		MarkPrice:        risk.Finite(mark),
		MarginRatio:      val.ratio,
		LiquidationPrice: liq,
	}
}

// closePositionLocked unwinds p at the current mark and repays what it
// borrowed as far as the proceeds allow.
func (v *Venue) closePositionLocked(m market.Market, a *account, p *Position, reason string) {
	mark := v.markLocked(m)
	base, quote := m.BaseSymbol, m.QuoteSymbol

	switch p.Side {
	case market.Long:
		sell := minAmount(p.Size, a.collateral[base])
		a.collateral[base] = a.collateral[base].Sub(sell)
		a.collateral[quote] = a.collateral[quote].Add(sell.Mul(mark))
		pay := minAmount(minAmount(p.Borrowed, a.loans[quote]), a.collateral[quote])
		a.loans[quote] = a.loans[quote].Sub(pay)
		a.collateral[quote] = a.collateral[quote].Sub(pay)
	case market.Short:
		if !mark.IsPositive() {
			break
		}
		buy := minAmount(p.Size, a.collateral[quote].Div(mark))
		a.collateral[quote] = a.collateral[quote].Sub(buy.Mul(mark))
		pay := minAmount(p.Borrowed, a.loans[base])
		pay = minAmount(pay, buy)
		a.loans[base] = a.loans[base].Sub(pay)
		a.collateral[base] = a.collateral[base].Add(buy.Sub(pay))
	}

	p.ClosePrice = mark
	p.CloseTime = v.now()
	p.RealizedPL = p.UnrealizedPL(mark)
	p.Reason = reason
	p.Open = false
	v.log.WithFields(logrus.Fields{
		"position": p.ID, "market": p.MarketID, "reason": reason, "pl": p.RealizedPL.StringFixed(2),
	}).Info("sim: position closed")
}
