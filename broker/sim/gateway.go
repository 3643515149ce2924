package sim

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/market"
	"github.com/rustyeddy/margin/pkg/id"
	"github.com/rustyeddy/margin/risk"
)

var _ broker.Gateway = (*Venue)(nil)

// op is a built, not yet broadcast, transaction.
type op struct {
	id       string
	kind     string
	marketID string
	symbol   string
	amount   market.Amount

	side       market.Side
	price      market.Amount
	leverage   market.Amount
	collSymbol string
	collAmount market.Amount
}

func fail(format string, args ...any) error {
	return broker.NewDomainError(1, fmt.Sprintf(format, args...))
}

func (v *Venue) GetAccountDetails(ctx context.Context, marketID, userAddress string) (broker.MarginAccount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked("account"); err != nil {
		return broker.MarginAccount{}, err
	}
	m, ok := v.catalog.Market(marketID)
	if !ok {
		return broker.MarginAccount{}, unknownMarket(marketID)
	}
	if !broker.SameAddress(userAddress, v.user) {
		// Unknown users have empty accounts.
		return broker.MarginAccount{MarketID: marketID, UserAddress: userAddress, Status: "Normal"}, nil
	}
	return v.accountViewLocked(m, v.accountLocked(marketID)), nil
}

func (v *Venue) DepositCollateral(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return v.buildAsset("deposit", req)
}

func (v *Venue) WithdrawCollateral(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return v.buildAsset("withdraw", req)
}

func (v *Venue) BorrowLoan(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return v.buildAsset("borrow", req)
}

func (v *Venue) RepayLoan(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return v.buildAsset("repay", req)
}

func (v *Venue) buildAsset(kind string, req broker.AssetRequest) (broker.BuildResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked(kind); err != nil {
		return broker.BuildResult{}, err
	}
	m, ok := v.catalog.Market(req.MarketID)
	if !ok {
		return broker.BuildResult{}, unknownMarket(req.MarketID)
	}
	sym, ok := symbolFor(m, req.AssetAddress)
	if !ok {
		return broker.BuildResult{}, fail("asset %s is not traded in %s", req.AssetAddress, m.ID)
	}
	if !req.Amount.IsPositive() {
		return broker.BuildResult{}, fail("amount must be positive")
	}
	o := op{kind: kind, marketID: m.ID, symbol: sym, amount: req.Amount}
	if err := v.checkLocked(m, o); err != nil {
		return broker.BuildResult{}, err
	}
	return v.stageLocked(o), nil
}

func (v *Venue) OpenMarginPosition(ctx context.Context, req broker.OpenPositionRequest) (broker.BuildResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked("open"); err != nil {
		return broker.BuildResult{}, err
	}
	m, ok := v.catalog.Market(req.MarketID)
	if !ok {
		return broker.BuildResult{}, unknownMarket(req.MarketID)
	}
	if req.CollateralAssetSymbol != m.BaseSymbol && req.CollateralAssetSymbol != m.QuoteSymbol {
		return broker.BuildResult{}, fail("collateral %s is not traded in %s", req.CollateralAssetSymbol, m.ID)
	}
	o := op{
		kind: "open", marketID: m.ID, amount: req.Amount,
		side: req.Side, price: req.Price, leverage: req.Leverage,
		collSymbol: req.CollateralAssetSymbol, collAmount: req.CollateralAmount,
	}
	if err := v.checkLocked(m, o); err != nil {
		return broker.BuildResult{}, err
	}
	return v.stageLocked(o), nil
}

func (v *Venue) CloseMarginPosition(ctx context.Context, marketID string) (broker.BuildResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked("close"); err != nil {
		return broker.BuildResult{}, err
	}
	m, ok := v.catalog.Market(marketID)
	if !ok {
		return broker.BuildResult{}, unknownMarket(marketID)
	}
	o := op{kind: "close", marketID: m.ID}
	if err := v.checkLocked(m, o); err != nil {
		return broker.BuildResult{}, err
	}
	return v.stageLocked(o), nil
}

// stageLocked parks o and returns its unsigned descriptor. The data field
// carries the op id so a broadcast can find it again.
func (v *Venue) stageLocked(o op) broker.BuildResult {
	o.id = id.NewAt(v.now())
	v.pending[o.id] = o
	v.nonce++
	return broker.BuildResult{Unsigned: &broker.UnsignedTx{
		From:     v.user,
		To:       v.address,
		Nonce:    strconv.FormatUint(v.nonce, 10),
		GasLimit: "250000",
		GasPrice: "1000000000",
		Data:     "0x" + hex.EncodeToString([]byte(o.id)),
		Value:    "0",
		ChainID:  v.chainID,
	}}
}

func (v *Venue) BroadcastTransaction(ctx context.Context, signedRawTx string) (string, error) {
	v.mu.Lock()
	if err := v.faultLocked("broadcast"); err != nil {
		v.mu.Unlock()
		return "", err
	}
	if _, dup := v.sent[signedRawTx]; dup {
		v.mu.Unlock()
		return "", fail("nonce too low")
	}
	from, opID, err := decodeSigned(signedRawTx)
	if err != nil {
		v.mu.Unlock()
		return "", err
	}
	if !broker.SameAddress(from, v.user) {
		v.mu.Unlock()
		return "", fail("sender %s is not the account owner", from)
	}
	o, ok := v.pending[opID]
	if !ok {
		v.mu.Unlock()
		return "", fail("unknown transaction")
	}
	delete(v.pending, opID)

	m, _ := v.catalog.Market(o.marketID)
	if err := v.applyLocked(m, o); err != nil {
		v.mu.Unlock()
		return "", err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signedRawTx))
	hash := "0x" + hex.EncodeToString(h.Sum(nil))
	v.sent[signedRawTx] = hash
	v.publishLocked(m)
	v.mu.Unlock()

	v.log.WithField("tx", hash).WithField("op", o.kind).Info("sim: transaction mined")
	v.flush()
	return hash, nil
}

// GetLoans lists the user's loans with the market's borrow APY.
func (v *Venue) GetLoans(ctx context.Context, marketID string) ([]broker.LoanRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked("loans"); err != nil {
		return nil, err
	}
	out := []broker.LoanRecord{}
	for _, m := range v.catalog.Markets() {
		if marketID != "" && m.ID != marketID {
			continue
		}
		a, ok := v.accts[m.ID]
		if !ok {
			continue
		}
		for _, sym := range m.Symbols() {
			amt := a.loans[sym]
			if !amt.IsPositive() {
				continue
			}
			addr, _ := m.SymbolAddress(sym)
			apy := m.BaseBorrowAPY
			if sym == m.QuoteSymbol {
				apy = m.QuoteBorrowAPY
			}
			out = append(out, broker.LoanRecord{
				MarketID:        m.ID,
				AssetAddress:    addr,
				Symbol:          sym,
				AmountBorrowed:  amt,
				InterestRateAPY: risk.Finite(apy),
				AccruedInterest: risk.Undefined(),
			})
		}
	}
	if marketID != "" {
		if _, ok := v.catalog.Market(marketID); !ok {
			return nil, unknownMarket(marketID)
		}
	}
	return out, nil
}

func (v *Venue) GetOpenPositions(ctx context.Context) ([]broker.OpenPosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked("positions"); err != nil {
		return nil, err
	}
	out := []broker.OpenPosition{}
	for _, p := range v.openPositionsLocked("") {
		m, _ := v.catalog.Market(p.MarketID)
		out = append(out, v.positionViewLocked(m, p))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

// GetSpendableBalance is the transferable collateral of assetSymbol.
func (v *Venue) GetSpendableBalance(ctx context.Context, marketID, assetSymbol, userAddress string) (market.Amount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked("spendable"); err != nil {
		return market.Zero, err
	}
	m, ok := v.catalog.Market(marketID)
	if !ok {
		return market.Zero, unknownMarket(marketID)
	}
	if assetSymbol != m.BaseSymbol && assetSymbol != m.QuoteSymbol {
		return market.Zero, fail("asset %s is not traded in %s", assetSymbol, marketID)
	}
	if !broker.SameAddress(userAddress, v.user) {
		return market.Zero, nil
	}
	return v.transferableLocked(m, v.accountLocked(marketID), assetSymbol), nil
}

func (v *Venue) GetMarketMarginParameters(ctx context.Context, marketID string) (market.MarginParameters, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked("params"); err != nil {
		return market.MarginParameters{}, err
	}
	m, ok := v.catalog.Market(marketID)
	if !ok {
		return market.MarginParameters{}, unknownMarket(marketID)
	}
	lev := m.MaxLeverage
	imf := market.Zero
	if lev.IsPositive() {
		imf = market.MustAmount("1").Div(lev)
	}
	return market.MarginParameters{
		InitialMarginFraction:     imf,
		MaintenanceMarginFraction: m.LiquidateRate.Sub(market.MustAmount("1")),
		LiquidateRate:             m.LiquidateRate,
		BorrowEnable:              m.BorrowEnable,
		BaseBorrowEnable:          m.BorrowEnable,
		QuoteBorrowEnable:         m.BorrowEnable,
		BaseBorrowAPY:             m.BaseBorrowAPY,
		QuoteBorrowAPY:            m.QuoteBorrowAPY,
	}, nil
}

// symbolFor resolves an asset address, or a bare symbol, to m's symbol.
func symbolFor(m market.Market, asset string) (string, bool) {
	for _, sym := range m.Symbols() {
		addr, _ := m.SymbolAddress(sym)
		if asset == sym || (addr != "" && broker.SameAddress(addr, asset)) {
			return sym, true
		}
	}
	return "", false
}

// decodeSigned unpacks a raw transaction produced by Wallet.
func decodeSigned(raw string) (from, opID string, err error) {
	b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return "", "", fail("invalid signed transaction")
	}
	from, data, ok := strings.Cut(string(b), "|")
	if !ok {
		return "", "", fail("invalid signed transaction")
	}
	idBytes, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return "", "", fail("invalid transaction data")
	}
	return from, string(idBytes), nil
}
