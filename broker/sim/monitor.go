package sim

import (
	"sync"

	"github.com/rustyeddy/margin/market"
	"github.com/rustyeddy/margin/risk"
)

// AlertPayload is the MARGIN_ALERT payload the monitor raises.
type AlertPayload struct {
	Level             string `json:"level"`
	Title             string `json:"title,omitempty"`
	Message           string `json:"message"`
	MarketID          string `json:"marketID"`
	UserAddress       string `json:"userAddress,omitempty"`
	CurrentRatio      string `json:"currentRatio,omitempty"`
	LiquidateRate     string `json:"liquidateRate,omitempty"`
	WarningThreshold  string `json:"warningThreshold,omitempty"`
	CriticalThreshold string `json:"criticalThreshold,omitempty"`
	AutoDismiss       uint32 `json:"autoDismiss,omitempty"`
}

// AuctionPayload is the AUCTION_UPDATE payload Liquidate pushes.
type AuctionPayload struct {
	MarketID           string `json:"marketID"`
	AuctionID          string `json:"auctionID"`
	UserAddress        string `json:"userAddress"`
	DebtUSDValue       string `json:"debtUSDValue"`
	CollateralUSDValue string `json:"collateralUSDValue"`
	IsFinished         bool   `json:"IsFinished"`
}

// Monitor raises an alert when an account's ratio drops below
// WarningFactor or CriticalFactor times the market's liquidation rate, and
// a HEALTHY alert once a previously alerted account recovers. It only
// raises again when the level changes.
type Monitor struct {
	WarningFactor  market.Amount
	CriticalFactor market.Amount
	// HealthyDismiss auto-dismisses HEALTHY alerts, in milliseconds.
	HealthyDismiss uint32

	mu   sync.Mutex
	last map[string]string
}

func NewMonitor() *Monitor {
	return &Monitor{
		WarningFactor:  market.MustAmount("1.2"),
		CriticalFactor: market.MustAmount("1.05"),
		HealthyDismiss: 5000,
		last:           make(map[string]string),
	}
}

// Check evaluates ratio for market m. ok is false when nothing changed.
func (mon *Monitor) Check(m market.Market, ratio risk.Value) (AlertPayload, bool) {
	lr := m.LiquidateRate
	if !lr.IsPositive() || ratio.IsUndefined() {
		return AlertPayload{}, false
	}
	warn := lr.Mul(mon.WarningFactor)
	crit := lr.Mul(mon.CriticalFactor)

	p := AlertPayload{
		MarketID:          m.ID,
		CurrentRatio:      ratio.Format(4),
		LiquidateRate:     lr.String(),
		WarningThreshold:  warn.StringFixed(4),
		CriticalThreshold: crit.StringFixed(4),
	}
	switch {
	case ratio.LessThan(crit):
		p.Level = "CRITICAL"
		p.Message = "CRITICAL: Margin ratio " + ratio.Format(2) + " is below critical threshold " + crit.StringFixed(2) + "!"
	case ratio.LessThan(warn):
		p.Level = "WARNING"
		p.Message = "WARNING: Margin ratio " + ratio.Format(2) + " is below warning threshold " + warn.StringFixed(2) + "."
	default:
		p.Level = "HEALTHY"
		p.Message = "Margin ratio " + ratio.Format(2) + " is now healthy."
		p.AutoDismiss = mon.HealthyDismiss
	}

	mon.mu.Lock()
	defer mon.mu.Unlock()
	prev, alerted := mon.last[m.ID]
	if p.Level == "HEALTHY" {
		if !alerted {
			return AlertPayload{}, false
		}
		delete(mon.last, m.ID)
		return p, true
	}
	if prev == p.Level {
		return AlertPayload{}, false
	}
	mon.last[m.ID] = p.Level
	return p, true
}
