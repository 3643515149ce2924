package broker

import (
	"context"

	"github.com/rustyeddy/margin/market"
)

// Gateway is the margin venue's REST surface. Build calls (deposit,
// withdraw, borrow, repay, open, close) return a BuildResult that usually
// needs signing before BroadcastTransaction.
type Gateway interface {
	GetAccountDetails(ctx context.Context, marketID, userAddress string) (MarginAccount, error)

	DepositCollateral(ctx context.Context, req AssetRequest) (BuildResult, error)
	WithdrawCollateral(ctx context.Context, req AssetRequest) (BuildResult, error)
	BorrowLoan(ctx context.Context, req AssetRequest) (BuildResult, error)
	RepayLoan(ctx context.Context, req AssetRequest) (BuildResult, error)

	// GetLoans lists loans for marketID, or for every market of the
	// authenticated identity when marketID is empty.
	GetLoans(ctx context.Context, marketID string) ([]LoanRecord, error)

	OpenMarginPosition(ctx context.Context, req OpenPositionRequest) (BuildResult, error)
	CloseMarginPosition(ctx context.Context, marketID string) (BuildResult, error)

	// BroadcastTransaction submits a signed raw transaction and returns its hash.
	BroadcastTransaction(ctx context.Context, signedRawTx string) (string, error)

	GetOpenPositions(ctx context.Context) ([]OpenPosition, error)
	GetSpendableBalance(ctx context.Context, marketID, assetSymbol, userAddress string) (market.Amount, error)
	GetMarketMarginParameters(ctx context.Context, marketID string) (market.MarginParameters, error)
}

// Signer is the external signing agent.
type Signer interface {
	// Address is the agent's active identity.
	Address(ctx context.Context) (string, error)
	// SignTransaction returns the signed raw transaction as hex.
	SignTransaction(ctx context.Context, tx UnsignedTx) (string, error)
}

// AssetRequest is the body of the collateral and loan build calls.
type AssetRequest struct {
	MarketID     string        `json:"marketID"`
	AssetAddress string        `json:"assetAddress"`
	Amount       market.Amount `json:"amount"`
}

type OpenPositionRequest struct {
	MarketID              string        `json:"marketID"`
	Side                  market.Side   `json:"-"`
	Amount                market.Amount `json:"amount"`
	Price                 market.Amount `json:"price"`
	Leverage              market.Amount `json:"leverage"`
	CollateralAssetSymbol string        `json:"collateralAssetSymbol"`
	CollateralAmount      market.Amount `json:"collateralAmount"`
}

type ClosePositionRequest struct {
	MarketID string `json:"marketID"`
}

type BroadcastRequest struct {
	SignedRawTx string `json:"signedRawTx"`
}

type BroadcastResult struct {
	TransactionHash string `json:"transactionHash"`
}

type SpendableBalance struct {
	Amount market.Amount `json:"amount"`
}
