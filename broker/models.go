package broker

import (
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/margin/market"
	"github.com/rustyeddy/margin/risk"
)

type AssetDetails struct {
	AssetAddress       string        `json:"assetAddress,omitempty"`
	Symbol             string        `json:"symbol"`
	TotalBalance       market.Amount `json:"totalBalance"`
	TransferableAmount market.Amount `json:"transferableAmount"`
}

// Validate checks transferableAmount <= totalBalance.
func (a AssetDetails) Validate() error {
	if a.TransferableAmount.GreaterThan(a.TotalBalance) {
		return fmt.Errorf("%s: transferable %s exceeds total %s",
			a.Symbol, a.TransferableAmount, a.TotalBalance)
	}
	return nil
}

// MarginAccount is a user's collateral and debt in one market.
type MarginAccount struct {
	MarketID            string        `json:"marketID"`
	UserAddress         string        `json:"userAddress,omitempty"`
	AssetsTotalUSDValue market.Amount `json:"assetsTotalUSDValue"`
	DebtsTotalUSDValue  market.Amount `json:"debtsTotalUSDValue"`
	Status              string        `json:"status"`
	Liquidatable        bool          `json:"liquidatable"`
	BaseAssetDetails    AssetDetails  `json:"baseAssetDetails"`
	QuoteAssetDetails   AssetDetails  `json:"quoteAssetDetails"`
}

func (m MarginAccount) Validate() error {
	if err := m.BaseAssetDetails.Validate(); err != nil {
		return err
	}
	return m.QuoteAssetDetails.Validate()
}

// Asset returns the details for symbol, if it is the base or quote asset.
func (m MarginAccount) Asset(symbol string) (AssetDetails, bool) {
	switch symbol {
	case "":
		return AssetDetails{}, false
	case m.BaseAssetDetails.Symbol:
		return m.BaseAssetDetails, true
	case m.QuoteAssetDetails.Symbol:
		return m.QuoteAssetDetails, true
	}
	return AssetDetails{}, false
}

func (m MarginAccount) CollateralRatio() risk.Value {
	return risk.CollateralRatio(m.AssetsTotalUSDValue, m.DebtsTotalUSDValue)
}

type LoanRecord struct {
	MarketID        string        `json:"marketID"`
	AssetAddress    string        `json:"assetAddress"`
	Symbol          string        `json:"symbol"`
	AmountBorrowed  market.Amount `json:"amountBorrowed"`
	InterestRateAPY risk.Value    `json:"interestRateAPY"`
	AccruedInterest risk.Value    `json:"accruedInterest"`
}

// OpenPosition is one row of the open positions listing. Prices the
// backend cannot compute come back as "N/A" and decode as Undefined.
type OpenPosition struct {
	ID               string        `json:"id"`
	MarketID         string        `json:"marketID"`
	Side             market.Side   `json:"side"`
	Size             market.Amount `json:"size"`
	EntryPrice       risk.Value    `json:"entryPrice"`
	MarkPrice        risk.Value    `json:"markPrice"`
	MarginRatio      risk.Value    `json:"marginRatio"`
	LiquidationPrice risk.Value    `json:"liquidationPrice"`
}

// UnsignedTx is the descriptor a build call returns. Quantities stay
// strings; the client passes them through to the signer untouched.
type UnsignedTx struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Nonce    string `json:"nonce,omitempty"`
	GasLimit string `json:"gasLimit"`
	GasPrice string `json:"gasPrice"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	ChainID  string `json:"chainId,omitempty"`
}

// BuildResult is either an unsigned descriptor to sign, or the hash of a
// transaction the venue already submitted.
type BuildResult struct {
	Unsigned *UnsignedTx
	TxHash   string
}

func (r BuildResult) NeedsSignature() bool { return r.Unsigned != nil }

func (r OpenPositionRequest) MarshalJSON() ([]byte, error) {
	if r.Side != market.Long && r.Side != market.Short {
		return nil, fmt.Errorf("open position: invalid side %d", int(r.Side))
	}
	type plain OpenPositionRequest
	return json.Marshal(struct {
		plain
		Side string `json:"side"`
	}{plain(r), r.Side.OrderSide()})
}

// UnmarshalJSON also accepts the loan listing's field names
// (assetSymbol, borrowedAmount) and numeric market ids.
func (l *LoanRecord) UnmarshalJSON(b []byte) error {
	type plain LoanRecord
	var w struct {
		plain
		MarketID       flexID         `json:"marketID"`
		AssetSymbol    string         `json:"assetSymbol"`
		BorrowedAmount *market.Amount `json:"borrowedAmount"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("loan record: %w", err)
	}
	*l = LoanRecord(w.plain)
	l.MarketID = string(w.MarketID)
	if l.Symbol == "" {
		l.Symbol = w.AssetSymbol
	}
	if w.BorrowedAmount != nil && l.AmountBorrowed.IsZero() {
		l.AmountBorrowed = *w.BorrowedAmount
	}
	return nil
}
