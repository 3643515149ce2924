package journal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/margin/market"
)

func TestFormatTxOrg(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := FormatTxOrg(TxRecord{
		ID:         "01HZX0000000000000ABCDEFGH",
		Kind:       "deposit",
		MarketID:   "ETH-DAI",
		Amount:     market.MustAmount("10.5"),
		Status:     "completed",
		TxHash:     "0xhash1",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	})

	assert.True(t, strings.HasPrefix(out, "** COMPLETED deposit ETH-DAI (ABCDEFGH)\n"))
	assert.Contains(t, out, ":AMOUNT: 10.5\n")
	assert.Contains(t, out, ":TX_HASH: 0xhash1\n")
	assert.NotContains(t, out, ":ERROR:")
	assert.Contains(t, out, ":STARTED: 2026-01-02T03:04:05Z\n")
	assert.Contains(t, out, ":DURATION: 1.5s\n")
}

func TestFormatTxsOrgSeparates(t *testing.T) {
	out := FormatTxsOrg([]TxRecord{
		{ID: "a", Kind: "borrow", Status: "failed", Error: "rejected"},
		{ID: "b", Kind: "repay", Status: "completed"},
	})
	assert.Equal(t, 2, strings.Count(out, "*** Notes"), out)
	assert.Contains(t, out, ":ERROR: rejected\n")
	assert.Empty(t, FormatTxsOrg(nil))
}

func TestFormatAccountsOrg(t *testing.T) {
	out := FormatAccountsOrg([]AccountSnapshot{{
		Time:      time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		MarketID:  "ETH-DAI",
		Source:    "push",
		AssetsUSD: market.MustAmount("1000"),
		DebtsUSD:  market.MustAmount("500"),
		Ratio:     "2",
		Status:    "Healthy",
	}})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "| 2026-01-02T00:00:00Z | ETH-DAI | push | 1000.00 | 500.00 | 2 | Healthy | false |", lines[2])
}
