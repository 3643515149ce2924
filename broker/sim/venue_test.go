package sim

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/market"
)

const (
	user   = "0xUser"
	ethDai = "ETH-DAI"
)

var d = market.MustAmount

func quiet() *logrus.Logger {
	l, _ := test.NewNullLogger()
	return l
}

func testCatalog() *market.StaticCatalog {
	return market.NewStaticCatalog(
		market.Market{
			ID: ethDai, BaseSymbol: "ETH", QuoteSymbol: "DAI",
			BaseAddress: "0xeth", QuoteAddress: "0xdai",
			LiquidateRate: d("1.1"), BorrowEnable: true, MaxLeverage: d("3"),
			BaseBorrowAPY: d("0.02"), QuoteBorrowAPY: d("0.05"),
		},
		market.Market{
			ID: "BTC-DAI", BaseSymbol: "BTC", QuoteSymbol: "DAI",
			BaseAddress: "0xbtc", QuoteAddress: "0xdai",
			LiquidateRate: d("1.2"),
		},
	)
}

func newTestVenue(t *testing.T) (*Venue, *Wallet) {
	t.Helper()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewVenue(user, testCatalog(),
		WithLogger(quiet()),
		WithClock(func() time.Time { return clock }),
		WithPrices(map[string]market.Amount{"ETH": d("100"), "DAI": d("1"), "BTC": d("20000")}),
	)
	v.Fund("DAI", d("1000"))
	return v, NewWallet(user)
}

// execute signs and broadcasts a build result.
func execute(t *testing.T, v *Venue, w *Wallet, res broker.BuildResult, err error) string {
	t.Helper()
	require.NoError(t, err)
	require.True(t, res.NeedsSignature())
	raw, err := w.SignTransaction(context.Background(), *res.Unsigned)
	require.NoError(t, err)
	hash, err := v.BroadcastTransaction(context.Background(), raw)
	require.NoError(t, err)
	return hash
}

func deposit(t *testing.T, v *Venue, w *Wallet, symbolAddr, amount string) {
	t.Helper()
	res, err := v.DepositCollateral(context.Background(), broker.AssetRequest{MarketID: ethDai, AssetAddress: symbolAddr, Amount: d(amount)})
	execute(t, v, w, res, err)
}

func requireDesc(t *testing.T, err error, desc string) {
	t.Helper()
	var de *broker.DomainError
	require.True(t, errors.As(err, &de), "want DomainError, got %v", err)
	assert.Contains(t, de.Desc, desc)
}

type frameLog struct {
	mu     sync.Mutex
	frames []broker.Envelope
}

func (f *frameLog) add(b []byte) {
	var env broker.Envelope
	_ = json.Unmarshal(b, &env)
	f.mu.Lock()
	f.frames = append(f.frames, env)
	f.mu.Unlock()
}

func (f *frameLog) alerts() []AlertPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AlertPayload
	for _, env := range f.frames {
		if env.Type != broker.TypeAlert {
			continue
		}
		var p AlertPayload
		_ = json.Unmarshal(env.Payload, &p)
		out = append(out, p)
	}
	return out
}

func (f *frameLog) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, env := range f.frames {
		out = append(out, env.Type)
	}
	return out
}

func (f *frameLog) auctions() []AuctionPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AuctionPayload
	for _, env := range f.frames {
		if env.Type != broker.TypeAuctionUpdate {
			continue
		}
		var p AuctionPayload
		_ = json.Unmarshal(env.Payload, &p)
		out = append(out, p)
	}
	return out
}

func TestDepositAndWithdraw(t *testing.T) {
	v, w := newTestVenue(t)
	ctx := context.Background()

	res, err := v.DepositCollateral(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xDAI", Amount: d("500")})
	require.NoError(t, err)
	require.NotNil(t, res.Unsigned)
	assert.Equal(t, user, res.Unsigned.From)
	assert.Equal(t, "1337", res.Unsigned.ChainID)
	assert.Equal(t, "1", res.Unsigned.Nonce)

	hash := execute(t, v, w, res, nil)
	assert.Len(t, hash, 66)
	assert.Equal(t, "500", v.WalletBalance("DAI").String())

	acct, err := v.GetAccountDetails(ctx, ethDai, "0xuser")
	require.NoError(t, err)
	assert.Equal(t, "500", acct.QuoteAssetDetails.TotalBalance.String())
	assert.Equal(t, "500", acct.QuoteAssetDetails.TransferableAmount.String())
	assert.Equal(t, "500", acct.AssetsTotalUSDValue.String())
	assert.Equal(t, "Normal", acct.Status)
	assert.True(t, acct.CollateralRatio().IsInfinite())

	res, err = v.WithdrawCollateral(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "DAI", Amount: d("200")})
	execute(t, v, w, res, err)
	assert.Equal(t, "700", v.WalletBalance("DAI").String())

	_, err = v.WithdrawCollateral(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "DAI", Amount: d("301")})
	requireDesc(t, err, "insufficient transferable DAI")
}

func TestBuildRejections(t *testing.T) {
	v, _ := newTestVenue(t)
	ctx := context.Background()

	_, err := v.DepositCollateral(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("1001")})
	requireDesc(t, err, "insufficient DAI balance")

	_, err = v.DepositCollateral(ctx, broker.AssetRequest{MarketID: "XYZ", AssetAddress: "0xdai", Amount: d("1")})
	requireDesc(t, err, "unknown market XYZ")

	_, err = v.DepositCollateral(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xbtc", Amount: d("1")})
	requireDesc(t, err, "not traded")

	_, err = v.RepayLoan(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("1")})
	requireDesc(t, err, "no DAI loan")

	_, err = v.BorrowLoan(ctx, broker.AssetRequest{MarketID: "BTC-DAI", AssetAddress: "0xdai", Amount: d("1")})
	requireDesc(t, err, "borrowing is disabled")

	_, err = v.CloseMarginPosition(ctx, ethDai)
	requireDesc(t, err, "no open position in ETH-DAI")
}

func TestBroadcastRejections(t *testing.T) {
	v, w := newTestVenue(t)
	ctx := context.Background()

	res, err := v.DepositCollateral(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("10")})
	require.NoError(t, err)
	raw, err := w.SignTransaction(ctx, *res.Unsigned)
	require.NoError(t, err)

	_, err = v.BroadcastTransaction(ctx, raw)
	require.NoError(t, err)
	_, err = v.BroadcastTransaction(ctx, raw)
	requireDesc(t, err, "nonce too low")

	res, err = v.DepositCollateral(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("10")})
	require.NoError(t, err)
	other := NewWallet("0xOther")
	tx := *res.Unsigned
	tx.From = ""
	raw, err = other.SignTransaction(ctx, tx)
	require.NoError(t, err)
	_, err = v.BroadcastTransaction(ctx, raw)
	requireDesc(t, err, "not the account owner")

	_, err = v.BroadcastTransaction(ctx, "0xzz")
	requireDesc(t, err, "invalid signed transaction")

	forged, err := w.SignTransaction(ctx, broker.UnsignedTx{From: user, Data: "0x6e6f6e65"})
	require.NoError(t, err)
	_, err = v.BroadcastTransaction(ctx, forged)
	requireDesc(t, err, "unknown transaction")
}

func TestBroadcastRechecksState(t *testing.T) {
	v, w := newTestVenue(t)
	ctx := context.Background()

	first, err := v.DepositCollateral(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("800")})
	require.NoError(t, err)
	second, err := v.DepositCollateral(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("800")})
	require.NoError(t, err)

	execute(t, v, w, first, nil)
	raw, err := w.SignTransaction(ctx, *second.Unsigned)
	require.NoError(t, err)
	_, err = v.BroadcastTransaction(ctx, raw)
	requireDesc(t, err, "insufficient DAI balance")
}

func TestBorrowRepayAndLoans(t *testing.T) {
	v, w := newTestVenue(t)
	ctx := context.Background()
	deposit(t, v, w, "0xdai", "1000")

	res, err := v.BorrowLoan(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("5000")})
	execute(t, v, w, res, err)

	acct, err := v.GetAccountDetails(ctx, ethDai, user)
	require.NoError(t, err)
	assert.Equal(t, "1.2", acct.CollateralRatio().String())

	spendable, err := v.GetSpendableBalance(ctx, ethDai, "DAI", user)
	require.NoError(t, err)
	assert.Equal(t, "500", spendable.String())

	_, err = v.BorrowLoan(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("10000")})
	requireDesc(t, err, "below liquidation rate 1.1")

	loans, err := v.GetLoans(ctx, "")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "DAI", loans[0].Symbol)
	assert.Equal(t, "0xdai", loans[0].AssetAddress)
	assert.Equal(t, "5000", loans[0].AmountBorrowed.String())
	assert.Equal(t, "0.05", loans[0].InterestRateAPY.String())

	res, err = v.RepayLoan(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("9999")})
	execute(t, v, w, res, err)

	loans, err = v.GetLoans(ctx, ethDai)
	require.NoError(t, err)
	assert.Empty(t, loans)
	assert.NotNil(t, loans)

	_, err = v.GetLoans(ctx, "XYZ")
	requireDesc(t, err, "unknown market")
}

func TestLongLifecycle(t *testing.T) {
	v, w := newTestVenue(t)
	ctx := context.Background()
	deposit(t, v, w, "0xdai", "1000")

	var frames frameLog
	unsubscribe := v.Subscribe(frames.add)
	defer unsubscribe()

	res, err := v.OpenMarginPosition(ctx, broker.OpenPositionRequest{
		MarketID: ethDai, Side: market.Long, Amount: d("20"), Price: d("100"), Leverage: d("2"),
		CollateralAssetSymbol: "DAI", CollateralAmount: d("0"),
	})
	execute(t, v, w, res, err)

	positions, err := v.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, market.Long, p.Side)
	assert.Equal(t, "20", p.Size.String())
	assert.Equal(t, "100", p.EntryPrice.String())
	assert.Equal(t, "2", p.MarginRatio.String())
	assert.Equal(t, "55", p.LiquidationPrice.String())

	loans, err := v.GetLoans(ctx, ethDai)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "1000", loans[0].AmountBorrowed.String())

	assert.ErrorIs(t, v.Liquidate(ethDai), ErrNotLiquidatable)

	require.NoError(t, v.SetPrice("ETH", d("60")))
	require.NoError(t, v.SetPrice("ETH", d("59")))
	require.NoError(t, v.SetPrice("ETH", d("57")))
	got := frames.alerts()
	require.Len(t, got, 2)
	assert.Equal(t, "WARNING", got[0].Level)
	assert.Equal(t, user, got[0].UserAddress)
	assert.Equal(t, "CRITICAL", got[1].Level)
	assert.Equal(t, "CRITICAL: Margin ratio 1.14 is below critical threshold 1.16!", got[1].Message)

	require.NoError(t, v.SetPrice("ETH", d("50")))
	before := len(frames.types())
	require.NoError(t, v.Liquidate(ethDai))

	assert.Equal(t, []string{
		broker.TypeAuctionUpdate, broker.TypeAccountUpdate, broker.TypeAlert, broker.TypeAuctionUpdate,
	}, frames.types()[before:])
	auctions := frames.auctions()
	require.Len(t, auctions, 2)
	assert.Equal(t, "1", auctions[0].AuctionID)
	assert.Equal(t, user, auctions[0].UserAddress)
	assert.False(t, auctions[0].IsFinished)
	assert.Equal(t, "1000", auctions[0].DebtUSDValue)
	assert.Equal(t, auctions[0].AuctionID, auctions[1].AuctionID)
	assert.True(t, auctions[1].IsFinished)
	assert.Equal(t, "0", auctions[1].DebtUSDValue)

	got = frames.alerts()
	last := got[len(got)-1]
	assert.Equal(t, "liquidation_event", last.Level)
	assert.Equal(t, "Liquidation", last.Title)
	assert.Equal(t, "Position in ETH-DAI liquidated", last.Message)

	acct, err := v.GetAccountDetails(ctx, ethDai, user)
	require.NoError(t, err)
	assert.Equal(t, "Liquidated", acct.Status)
	assert.True(t, acct.DebtsTotalUSDValue.IsZero())

	positions, err = v.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestShortOpenAndClose(t *testing.T) {
	v, w := newTestVenue(t)
	ctx := context.Background()
	deposit(t, v, w, "0xdai", "1000")

	open := broker.OpenPositionRequest{
		MarketID: ethDai, Side: market.Short, Amount: d("10"), Price: d("100"), Leverage: d("2"),
		CollateralAssetSymbol: "DAI",
	}
	res, err := v.OpenMarginPosition(ctx, open)
	execute(t, v, w, res, err)

	acct, err := v.GetAccountDetails(ctx, ethDai, user)
	require.NoError(t, err)
	assert.Equal(t, "2000", acct.QuoteAssetDetails.TotalBalance.String())
	assert.Equal(t, "2", acct.CollateralRatio().String())

	positions, err := v.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].LiquidationPrice.IsUndefined())

	require.NoError(t, v.SetPrice("ETH", d("80")))
	res, err = v.CloseMarginPosition(ctx, ethDai)
	execute(t, v, w, res, err)

	acct, err = v.GetAccountDetails(ctx, ethDai, user)
	require.NoError(t, err)
	assert.Equal(t, "1200", acct.QuoteAssetDetails.TotalBalance.String())
	assert.True(t, acct.DebtsTotalUSDValue.IsZero())

	v.mu.Lock()
	var closed *Position
	for _, p := range v.positions {
		closed = p
	}
	v.mu.Unlock()
	require.NotNil(t, closed)
	assert.False(t, closed.Open)
	assert.Equal(t, "CLOSE", closed.Reason)
	assert.Equal(t, "200", closed.RealizedPL.String())
}

func TestOpenRejections(t *testing.T) {
	v, _ := newTestVenue(t)
	ctx := context.Background()
	base := broker.OpenPositionRequest{
		MarketID: ethDai, Side: market.Long, Amount: d("1"), Price: d("100"), Leverage: d("2"),
		CollateralAssetSymbol: "DAI", CollateralAmount: d("100"),
	}

	tests := []struct {
		name   string
		mutate func(*broker.OpenPositionRequest)
		desc   string
	}{
		{"leverage", func(r *broker.OpenPositionRequest) { r.Leverage = d("5") }, "exceeds maximum 3"},
		{"limit long", func(r *broker.OpenPositionRequest) { r.Price = d("90") }, "below market"},
		{"limit short", func(r *broker.OpenPositionRequest) { r.Side = market.Short; r.Price = d("110") }, "above market"},
		{"collateral symbol", func(r *broker.OpenPositionRequest) { r.CollateralAssetSymbol = "BTC" }, "not traded"},
		{"wallet", func(r *broker.OpenPositionRequest) { r.CollateralAmount = d("5000") }, "insufficient DAI balance"},
		{"margin", func(r *broker.OpenPositionRequest) { r.Amount = d("50") }, "insufficient DAI collateral"},
		{"amount", func(r *broker.OpenPositionRequest) { r.Amount = d("0") }, "must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := v.OpenMarginPosition(ctx, req)
			requireDesc(t, err, tt.desc)
		})
	}
}

func TestMarginParameters(t *testing.T) {
	v, _ := newTestVenue(t)
	p, err := v.GetMarketMarginParameters(context.Background(), ethDai)
	require.NoError(t, err)
	assert.Equal(t, "1.1", p.LiquidateRate.String())
	assert.Equal(t, "0.1", p.MaintenanceMarginFraction.String())
	assert.True(t, p.BorrowEnable)
	assert.Equal(t, "0.05", p.QuoteBorrowAPY.String())
}

func TestFailNext(t *testing.T) {
	v, _ := newTestVenue(t)
	ctx := context.Background()
	boom := errors.New("boom")

	v.FailNext("account", boom)
	_, err := v.GetAccountDetails(ctx, ethDai, user)
	assert.ErrorIs(t, err, boom)
	_, err = v.GetAccountDetails(ctx, ethDai, user)
	assert.NoError(t, err)
}

func TestForeignUser(t *testing.T) {
	v, w := newTestVenue(t)
	ctx := context.Background()
	deposit(t, v, w, "0xdai", "100")

	acct, err := v.GetAccountDetails(ctx, ethDai, "0xsomeoneelse")
	require.NoError(t, err)
	assert.True(t, acct.AssetsTotalUSDValue.IsZero())

	amt, err := v.GetSpendableBalance(ctx, ethDai, "DAI", "0xsomeoneelse")
	require.NoError(t, err)
	assert.True(t, amt.IsZero())
}

func TestSetPriceRejectsNonPositive(t *testing.T) {
	v, _ := newTestVenue(t)
	assert.ErrorIs(t, v.SetPrice("ETH", d("0")), market.ErrNonPositiveAmount)
	assert.Equal(t, "100", v.Price("ETH").String())
}

func TestBroadcastHashIsKeccak(t *testing.T) {
	v, w := newTestVenue(t)
	res, err := v.DepositCollateral(context.Background(), broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("1")})
	require.NoError(t, err)
	raw, err := w.SignTransaction(context.Background(), *res.Unsigned)
	require.NoError(t, err)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(raw))
	want := "0x" + hex.EncodeToString(h.Sum(nil))

	hash, err := v.BroadcastTransaction(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, want, hash)
}

func TestFramesFollowStateOrder(t *testing.T) {
	v, w := newTestVenue(t)
	ctx := context.Background()
	deposit(t, v, w, "0xdai", "1000")
	res, err := v.OpenMarginPosition(ctx, broker.OpenPositionRequest{
		MarketID: ethDai, Side: market.Long, Amount: d("5"), Price: d("100"), Leverage: d("2"),
		CollateralAssetSymbol: "DAI", CollateralAmount: d("0"),
	})
	execute(t, v, w, res, err)

	var mu sync.Mutex
	var last broker.MarginAccount
	var seen int
	defer v.Subscribe(func(b []byte) {
		var env struct {
			Type    string               `json:"type"`
			Payload broker.MarginAccount `json:"payload"`
		}
		if json.Unmarshal(b, &env) != nil || env.Type != broker.TypeAccountUpdate {
			return
		}
		mu.Lock()
		last = env.Payload
		seen++
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, v.SetPrice("ETH", d(strconv.Itoa(100+i))))
		}(i)
	}
	wg.Wait()

	want, err := v.GetAccountDetails(ctx, ethDai, user)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, seen)
	assert.Equal(t, want.AssetsTotalUSDValue.String(), last.AssetsTotalUSDValue.String())
	assert.Equal(t, seen, v.Published(), "no margin alerts at these prices")
}
