package risk

import (
	"testing"

	"github.com/rustyeddy/margin/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInput() TradeInput {
	return TradeInput{
		Side:          market.Long,
		Price:         d("2000"),
		Amount:        d("1"),
		Leverage:      d("3"),
		AssetsUSD:     d("1000"),
		DebtsUSD:      d("0"),
		LiquidateRate: d("1.1"),
		BorrowEnable:  true,
	}
}

func TestProjectTrade_Long(t *testing.T) {
	t.Parallel()

	p := ProjectTrade(baseInput())
	require.True(t, p.Allowed, p.Reason())
	assert.Empty(t, p.Violations)

	assert.Equal(t, "2000", p.Notional.String())
	assert.Equal(t, "1333.33", p.BorrowNeeded.Format(2))
	assert.Equal(t, "1.75", p.ProjectedRatio.Format(2))
	assert.Equal(t, "1133.33", p.LiquidationPrice.Format(2))
}

func TestProjectTrade_ShortHasNoLiquidationPrice(t *testing.T) {
	t.Parallel()

	in := baseInput()
	in.Side = market.Short

	p := ProjectTrade(in)
	require.True(t, p.Allowed)
	assert.True(t, p.ProjectedRatio.IsFinite())
	assert.True(t, p.LiquidationPrice.IsUndefined())
}

func TestProjectTrade_BelowLiquidationRate(t *testing.T) {
	t.Parallel()

	in := baseInput()
	in.AssetsUSD = d("0")
	in.DebtsUSD = d("1000")
	in.Price = d("100")
	in.Amount = d("10")
	in.Leverage = d("10")

	p := ProjectTrade(in)
	assert.False(t, p.Allowed)
	require.Len(t, p.Violations, 1)
	assert.Equal(t, "RATIO_BELOW_LIQUIDATION", p.Violations[0].Code)
	assert.Contains(t, p.Reason(), "below liq. rate 1.10")
	assert.True(t, p.LiquidationPrice.IsUndefined())
}

func TestProjectTrade_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*TradeInput)
		code   string
	}{
		{"borrow disabled", func(in *TradeInput) { in.BorrowEnable = false }, "BORROW_DISABLED"},
		{"zero price", func(in *TradeInput) { in.Price = d("0") }, "NO_PRICE_OR_AMOUNT"},
		{"negative amount", func(in *TradeInput) { in.Amount = d("-1") }, "NO_PRICE_OR_AMOUNT"},
		{"no liquidate rate", func(in *TradeInput) { in.LiquidateRate = d("0") }, "NO_LIQUIDATE_RATE"},
		{"zero leverage", func(in *TradeInput) { in.Leverage = d("0") }, "BAD_LEVERAGE"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := baseInput()
			tt.mutate(&in)
			p := ProjectTrade(in)
			assert.False(t, p.Allowed)
			require.NotEmpty(t, p.Violations)
			assert.Equal(t, tt.code, p.Violations[0].Code)
			assert.True(t, p.ProjectedRatio.IsUndefined())
		})
	}
}

func TestProjectTrade_QuoteConversion(t *testing.T) {
	t.Parallel()

	in := baseInput()
	in.QuoteUSDPrice = d("2")

	p := ProjectTrade(in)
	require.True(t, p.Allowed)
	// borrow 1333.33 quote -> 2666.67 USD on both sides
	assert.Equal(t, "2666.67", p.ProjectedDebtsUSD.StringFixed(2))
	assert.Equal(t, "3666.67", p.ProjectedAssetsUSD.StringFixed(2))
}
