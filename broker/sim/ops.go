package sim

import (
	"github.com/rustyeddy/margin/market"
	"github.com/rustyeddy/margin/pkg/id"
	"github.com/rustyeddy/margin/risk"
)

// checkLocked dry-runs o so a build can be refused before anything is
// signed. The broadcast runs it again against the state at that time.
func (v *Venue) checkLocked(m market.Market, o op) error {
	if o.kind == "close" {
		if len(v.openPositionsLocked(m.ID)) == 0 {
			return fail("no open position in %s", m.ID)
		}
		return nil
	}
	_, _, _, err := v.runLocked(m, o)
	return err
}

// applyLocked commits o.
func (v *Venue) applyLocked(m market.Market, o op) error {
	if o.kind == "close" {
		open := v.openPositionsLocked(m.ID)
		if len(open) == 0 {
			return fail("no open position in %s", m.ID)
		}
		a := v.accountLocked(m.ID)
		for _, p := range open {
			v.closePositionLocked(m, a, p, "CLOSE")
		}
		return nil
	}

	a, wallet, pos, err := v.runLocked(m, o)
	if err != nil {
		return err
	}
	v.accts[m.ID] = a
	v.wallet = wallet
	if pos != nil {
		pos.ID = id.NewAt(v.now())
		pos.OpenTime = v.now()
		v.positions[pos.ID] = pos
	}
	return nil
}

// runLocked applies o to copies of the account and wallet. The copies are
// only returned when the account ends at or above the liquidation rate.
func (v *Venue) runLocked(m market.Market, o op) (*account, map[string]market.Amount, *Position, error) {
	a := newAccount()
	if cur, ok := v.accts[m.ID]; ok {
		for k, x := range cur.collateral {
			a.collateral[k] = x
		}
		for k, x := range cur.loans {
			a.loans[k] = x
		}
		a.liquidated = cur.liquidated
	}
	w := make(map[string]market.Amount, len(v.wallet))
	for k, x := range v.wallet {
		w[k] = x
	}

	var pos *Position
	switch o.kind {
	case "deposit":
		if w[o.symbol].LessThan(o.amount) {
			return nil, nil, nil, fail("insufficient %s balance", o.symbol)
		}
		w[o.symbol] = w[o.symbol].Sub(o.amount)
		a.collateral[o.symbol] = a.collateral[o.symbol].Add(o.amount)
		a.liquidated = false

	case "withdraw":
		if v.transferableLocked(m, a, o.symbol).LessThan(o.amount) {
			return nil, nil, nil, fail("insufficient transferable %s", o.symbol)
		}
		a.collateral[o.symbol] = a.collateral[o.symbol].Sub(o.amount)
		w[o.symbol] = w[o.symbol].Add(o.amount)

	case "borrow":
		if !m.BorrowEnable {
			return nil, nil, nil, fail("borrowing is disabled in %s", m.ID)
		}
		a.loans[o.symbol] = a.loans[o.symbol].Add(o.amount)
		a.collateral[o.symbol] = a.collateral[o.symbol].Add(o.amount)

	case "repay":
		loan := a.loans[o.symbol]
		if !loan.IsPositive() {
			return nil, nil, nil, fail("no %s loan to repay", o.symbol)
		}
		pay := minAmount(o.amount, loan)
		if a.collateral[o.symbol].LessThan(pay) {
			return nil, nil, nil, fail("insufficient %s collateral to repay", o.symbol)
		}
		a.loans[o.symbol] = loan.Sub(pay)
		a.collateral[o.symbol] = a.collateral[o.symbol].Sub(pay)

	case "open":
		p, err := v.openLocked(m, a, w, o)
		if err != nil {
			return nil, nil, nil, err
		}
		pos = p

	default:
		return nil, nil, nil, fail("unsupported operation %s", o.kind)
	}

	val := v.valueLocked(m, a)
	if m.LiquidateRate.IsPositive() && val.ratio.LessThan(m.LiquidateRate) {
		return nil, nil, nil, fail("margin ratio %s would be below liquidation rate %s",
			val.ratio.Format(4), m.LiquidateRate.String())
	}
	return a, w, pos, nil
}

// openLocked fills o at the current mark. The order price is a limit: longs
// need mark <= price, shorts mark >= price.
func (v *Venue) openLocked(m market.Market, a *account, w map[string]market.Amount, o op) (*Position, error) {
	switch {
	case o.side != market.Long && o.side != market.Short:
		return nil, fail("invalid side")
	case !o.amount.IsPositive(), !o.price.IsPositive(), !o.leverage.IsPositive():
		return nil, fail("amount, price and leverage must be positive")
	case m.MaxLeverage.IsPositive() && o.leverage.GreaterThan(m.MaxLeverage):
		return nil, fail("leverage %s exceeds maximum %s", o.leverage.String(), m.MaxLeverage.String())
	case o.collAmount.IsNegative():
		return nil, fail("collateral amount must not be negative")
	}

	mark := v.markLocked(m)
	if !mark.IsPositive() {
		return nil, fail("no price for %s", m.ID)
	}
	if o.side == market.Long && mark.GreaterThan(o.price) {
		return nil, fail("price %s is below market %s", o.price.String(), mark.StringFixed(4))
	}
	if o.side == market.Short && mark.LessThan(o.price) {
		return nil, fail("price %s is above market %s", o.price.String(), mark.StringFixed(4))
	}

	if o.collAmount.IsPositive() {
		if w[o.collSymbol].LessThan(o.collAmount) {
			return nil, fail("insufficient %s balance", o.collSymbol)
		}
		w[o.collSymbol] = w[o.collSymbol].Sub(o.collAmount)
		a.collateral[o.collSymbol] = a.collateral[o.collSymbol].Add(o.collAmount)
	}

	base, quote := m.BaseSymbol, m.QuoteSymbol
	notional := o.amount.Mul(mark)
	p := &Position{MarketID: m.ID, Side: o.side, Size: o.amount, EntryPrice: mark, Open: true}

	switch o.side {
	case market.Long:
		need, _ := risk.EstimatedBorrowNeeded(notional, o.leverage).Decimal()
		own := notional.Sub(need)
		if a.collateral[quote].LessThan(own) {
			return nil, fail("insufficient %s collateral for margin", quote)
		}
		if need.IsPositive() && !m.BorrowEnable {
			return nil, fail("borrowing is disabled in %s", m.ID)
		}
		a.loans[quote] = a.loans[quote].Add(need)
		a.collateral[quote] = a.collateral[quote].Sub(own)
		a.collateral[base] = a.collateral[base].Add(o.amount)
		p.Borrowed = need

	case market.Short:
		margin := notional.Div(o.leverage)
		if a.collateral[quote].LessThan(margin) {
			return nil, fail("insufficient %s collateral for margin", quote)
		}
		if !m.BorrowEnable {
			return nil, fail("borrowing is disabled in %s", m.ID)
		}
		a.loans[base] = a.loans[base].Add(o.amount)
		a.collateral[quote] = a.collateral[quote].Add(notional)
		p.Borrowed = o.amount
	}
	return p, nil
}
