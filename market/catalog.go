// market/catalog.go
package market

import "sort"

// Market is the read-only metadata the core needs about a margin market.
type Market struct {
	ID            string
	BaseSymbol    string
	QuoteSymbol   string
	BaseAddress   string
	QuoteAddress  string
	BaseDecimals  int32
	QuoteDecimals int32

	LiquidateRate Amount
	BorrowEnable  bool
	MaxLeverage   Amount

	BaseBorrowAPY  Amount
	QuoteBorrowAPY Amount
	BaseSupplyAPY  Amount
	QuoteSupplyAPY Amount
}

// SymbolAddress returns the asset address for one of the market's symbols.
func (m Market) SymbolAddress(symbol string) (string, bool) {
	switch symbol {
	case m.BaseSymbol:
		return m.BaseAddress, m.BaseAddress != ""
	case m.QuoteSymbol:
		return m.QuoteAddress, m.QuoteAddress != ""
	}
	return "", false
}

// Symbols returns base then quote.
func (m Market) Symbols() []string {
	return []string{m.BaseSymbol, m.QuoteSymbol}
}

// Catalog provides market metadata. The core only reads from it.
type Catalog interface {
	Market(id string) (Market, bool)
	Markets() []Market
}

// MarginParameters is the per-market risk configuration served by the backend.
type MarginParameters struct {
	InitialMarginFraction     Amount `json:"initialMarginFraction"`
	MaintenanceMarginFraction Amount `json:"maintenanceMarginFraction"`
	LiquidateRate             Amount `json:"liquidateRate"`
	BorrowEnable              bool   `json:"borrowEnable"`
	BaseBorrowEnable          bool   `json:"baseBorrowEnable"`
	QuoteBorrowEnable         bool   `json:"quoteBorrowEnable"`
	BaseBorrowAPY             Amount `json:"baseBorrowAPY"`
	QuoteBorrowAPY            Amount `json:"quoteBorrowAPY"`
}

// StaticCatalog is a Catalog backed by a fixed map, usually built from config.
type StaticCatalog struct {
	markets map[string]Market
}

func NewStaticCatalog(markets ...Market) *StaticCatalog {
	c := &StaticCatalog{markets: make(map[string]Market, len(markets))}
	for _, m := range markets {
		c.markets[m.ID] = m
	}
	return c
}

func (c *StaticCatalog) Market(id string) (Market, bool) {
	m, ok := c.markets[id]
	return m, ok
}

// Markets returns all markets ordered by ID.
func (c *StaticCatalog) Markets() []Market {
	out := make([]Market, 0, len(c.markets))
	for _, m := range c.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithMarginParameters returns a copy of the catalog where market id carries
// the liquidation rate and borrow settings from p. Unknown ids are ignored.
func (c *StaticCatalog) WithMarginParameters(id string, p MarginParameters) *StaticCatalog {
	next := &StaticCatalog{markets: make(map[string]Market, len(c.markets))}
	for k, v := range c.markets {
		next.markets[k] = v
	}
	m, ok := next.markets[id]
	if !ok {
		return next
	}
	m.LiquidateRate = p.LiquidateRate
	m.BorrowEnable = p.BorrowEnable || p.BaseBorrowEnable || p.QuoteBorrowEnable
	if !p.BaseBorrowAPY.IsZero() {
		m.BaseBorrowAPY = p.BaseBorrowAPY
	}
	if !p.QuoteBorrowAPY.IsZero() {
		m.QuoteBorrowAPY = p.QuoteBorrowAPY
	}
	next.markets[id] = m
	return next
}
