package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/market"
)

func (c *Client) GetAccountDetails(ctx context.Context, marketID, userAddress string) (broker.MarginAccount, error) {
	var acct broker.MarginAccount
	if userAddress == "" {
		return acct, fmt.Errorf("account details: %w", broker.ErrMissingIdentity)
	}
	path := "/margin/accounts/" + url.PathEscape(marketID)
	err := c.get(ctx, path, url.Values{"user": {userAddress}}, &acct)
	if err != nil {
		return broker.MarginAccount{}, fmt.Errorf("account details %s: %w", marketID, err)
	}
	return acct, nil
}

func (c *Client) DepositCollateral(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return c.build(ctx, "/margin/collateral/deposit", req)
}

func (c *Client) WithdrawCollateral(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return c.build(ctx, "/margin/collateral/withdraw", req)
}

func (c *Client) BorrowLoan(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return c.build(ctx, "/margin/loans/borrow", req)
}

func (c *Client) RepayLoan(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return c.build(ctx, "/v1/margin/loans/repay-action", req)
}

func (c *Client) OpenMarginPosition(ctx context.Context, req broker.OpenPositionRequest) (broker.BuildResult, error) {
	return c.build(ctx, "/v1/margin/positions/open", req)
}

func (c *Client) CloseMarginPosition(ctx context.Context, marketID string) (broker.BuildResult, error) {
	return c.build(ctx, "/v1/margin/positions/close", broker.ClosePositionRequest{MarketID: marketID})
}

// GetLoans without a market lists loans across all markets for the
// token's identity, so it needs a token.
func (c *Client) GetLoans(ctx context.Context, marketID string) ([]broker.LoanRecord, error) {
	q := url.Values{"includeInterestRates": {"true"}}
	if marketID != "" {
		q.Set("marketID", marketID)
	} else if c.Token == "" {
		return nil, fmt.Errorf("loans: %w", broker.ErrMissingIdentity)
	}

	var raw json.RawMessage
	if err := c.get(ctx, "/v1/margin/loans", q, &raw); err != nil {
		return nil, fmt.Errorf("loans: %w", err)
	}
	loans, err := decodeLoans(raw)
	if err != nil {
		return nil, fmt.Errorf("loans: %w", err)
	}
	return loans, nil
}

// decodeLoans accepts a bare list or the {"loans": [...]} form.
func decodeLoans(raw json.RawMessage) ([]broker.LoanRecord, error) {
	var list []broker.LoanRecord
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, broker.NewDomainError(0, "Invalid response structure: "+err.Error())
		}
		return list, nil
	}
	var wrapped struct {
		MarketID string              `json:"marketID"`
		Loans    []broker.LoanRecord `json:"loans"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, broker.NewDomainError(0, "Invalid response structure: "+err.Error())
	}
	for i := range wrapped.Loans {
		if wrapped.Loans[i].MarketID == "" {
			wrapped.Loans[i].MarketID = wrapped.MarketID
		}
	}
	return wrapped.Loans, nil
}

func (c *Client) BroadcastTransaction(ctx context.Context, signedRawTx string) (string, error) {
	var res broker.BroadcastResult
	err := c.post(ctx, "/v1/transactions/broadcast", broker.BroadcastRequest{SignedRawTx: signedRawTx}, &res)
	if err != nil {
		return "", &broker.BroadcastError{Reason: broker.Reason(err), Err: err}
	}
	if res.TransactionHash == "" {
		return "", &broker.BroadcastError{Reason: "response has no transaction hash"}
	}
	return res.TransactionHash, nil
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]broker.OpenPosition, error) {
	if c.Token == "" {
		return nil, fmt.Errorf("open positions: %w", broker.ErrMissingIdentity)
	}
	var out []broker.OpenPosition
	if err := c.get(ctx, "/v1/margin/positions", nil, &out); err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	return out, nil
}

func (c *Client) GetSpendableBalance(ctx context.Context, marketID, assetSymbol, userAddress string) (market.Amount, error) {
	path := "/v1/margin/accounts/" + url.PathEscape(marketID) + "/transferable-balance"
	q := url.Values{"assetSymbol": {assetSymbol}, "userAddress": {userAddress}}

	var res broker.SpendableBalance
	if err := c.get(ctx, path, q, &res); err != nil {
		return market.Zero, fmt.Errorf("spendable %s/%s: %w", marketID, assetSymbol, err)
	}
	return res.Amount, nil
}

func (c *Client) GetMarketMarginParameters(ctx context.Context, marketID string) (market.MarginParameters, error) {
	var p market.MarginParameters
	path := "/v1/markets/" + url.PathEscape(marketID) + "/margin-parameters"
	if err := c.get(ctx, path, nil, &p); err != nil {
		return market.MarginParameters{}, fmt.Errorf("margin parameters %s: %w", marketID, err)
	}
	return p, nil
}

// build posts a build request. The data is either an unsigned descriptor
// (flat, or under "unsignedTx") or {"transactionHash"} when the venue
// needed no signature.
func (c *Client) build(ctx context.Context, path string, body any) (broker.BuildResult, error) {
	var raw json.RawMessage
	if err := c.post(ctx, path, body, &raw); err != nil {
		return broker.BuildResult{}, err
	}

	var w struct {
		UnsignedTx      *broker.UnsignedTx `json:"unsignedTx"`
		TransactionHash string             `json:"transactionHash"`
		To              string             `json:"to"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return broker.BuildResult{}, broker.NewDomainError(0, "Invalid response structure: "+err.Error())
	}

	switch {
	case w.UnsignedTx != nil:
		return broker.BuildResult{Unsigned: w.UnsignedTx}, nil
	case w.To != "":
		var tx broker.UnsignedTx
		if err := json.Unmarshal(raw, &tx); err != nil {
			return broker.BuildResult{}, broker.NewDomainError(0, "Invalid response structure: "+err.Error())
		}
		return broker.BuildResult{Unsigned: &tx}, nil
	case w.TransactionHash != "":
		return broker.BuildResult{TxHash: w.TransactionHash}, nil
	}
	return broker.BuildResult{}, broker.NewDomainError(0, "")
}

// IsAuthExpired reports whether err means the token must be refreshed.
func IsAuthExpired(err error) bool {
	return errors.Is(err, broker.ErrAuthExpired)
}
