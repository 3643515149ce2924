package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatTxOrg renders a TxRecord as an Org-mode block. Facts go in a
// PROPERTIES drawer so they stay searchable; Notes is left for the user.
func FormatTxOrg(t TxRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** %s %s %s (%s)\n", strings.ToUpper(t.Status), t.Kind, t.MarketID, shortID(t.ID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", t.ID)
	fmt.Fprintf(&b, ":KIND: %s\n", t.Kind)
	fmt.Fprintf(&b, ":MARKET: %s\n", t.MarketID)
	fmt.Fprintf(&b, ":AMOUNT: %s\n", t.Amount.String())
	fmt.Fprintf(&b, ":STATUS: %s\n", t.Status)
	if t.TxHash != "" {
		fmt.Fprintf(&b, ":TX_HASH: %s\n", t.TxHash)
	}
	if t.Error != "" {
		fmt.Fprintf(&b, ":ERROR: %s\n", t.Error)
	}
	fmt.Fprintf(&b, ":STARTED: %s\n", t.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":FINISHED: %s\n", t.FinishedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":DURATION: %s\n", t.FinishedAt.Sub(t.StartedAt).Round(time.Millisecond))
	b.WriteString(":END:\n\n")
	b.WriteString("*** Notes\n- \n")
	return b.String()
}

// FormatTxsOrg renders records separated by blank lines.
func FormatTxsOrg(txs []TxRecord) string {
	var b strings.Builder
	for i, t := range txs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTxOrg(t))
	}
	return b.String()
}

// FormatAccountsOrg renders snapshots as an Org table.
func FormatAccountsOrg(snaps []AccountSnapshot) string {
	var b strings.Builder
	b.WriteString("| time | market | source | assets USD | debts USD | ratio | status | liquidatable |\n")
	b.WriteString("|------+--------+--------+------------+-----------+-------+--------+--------------|\n")
	for _, s := range snaps {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %t |\n",
			s.Time.UTC().Format(time.RFC3339), s.MarketID, s.Source,
			s.AssetsUSD.StringFixed(2), s.DebtsUSD.StringFixed(2),
			s.Ratio, s.Status, s.Liquidatable)
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
