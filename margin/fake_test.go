package margin

import (
	"context"
	"sync"

	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/market"
)

const (
	userAddr = "0xUser"
	ethDai   = "ETH-DAI"
)

var d = market.MustAmount

func testSession() Session { return Session{Address: userAddr, MarketID: ethDai} }

// fakeGateway records every call and answers from its fields.
type fakeGateway struct {
	mu    sync.Mutex
	calls map[string][]string

	accounts    map[string][]broker.MarginAccount // served in order, last one repeats
	accountErr  error
	accountGate chan struct{} // when set, each account call waits for one receive

	loans    map[string][]broker.LoanRecord // "" is the all-markets answer
	loansErr error

	positions    []broker.OpenPosition
	positionsErr error

	spendable    map[string]market.Amount // by symbol
	spendableErr error

	params    market.MarginParameters
	paramsErr error

	build      broker.BuildResult
	buildErr   error
	buildGate  chan struct{} // when set, build calls block until it closes
	lastAsset  broker.AssetRequest
	lastOpen   broker.OpenPositionRequest
	broadcast  string
	castErr    error
	lastSigned string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		calls:     make(map[string][]string),
		accounts:  make(map[string][]broker.MarginAccount),
		loans:     make(map[string][]broker.LoanRecord),
		spendable: make(map[string]market.Amount),
		build: broker.BuildResult{Unsigned: &broker.UnsignedTx{
			From: userAddr, To: "0xvenue", GasLimit: "200000", GasPrice: "1", Data: "0x01", Value: "0",
		}},
		broadcast: "0xhash1",
	}
}

func (f *fakeGateway) record(op, arg string) {
	f.mu.Lock()
	f.calls[op] = append(f.calls[op], arg)
	f.mu.Unlock()
}

func (f *fakeGateway) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[op])
}

func (f *fakeGateway) args(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[op]...)
}

func (f *fakeGateway) GetAccountDetails(ctx context.Context, marketID, userAddress string) (broker.MarginAccount, error) {
	f.record("account", marketID)
	f.mu.Lock()
	gate := f.accountGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return broker.MarginAccount{}, f.accountErr
	}
	q := f.accounts[marketID]
	if len(q) == 0 {
		return broker.MarginAccount{MarketID: marketID, UserAddress: userAddress}, nil
	}
	a := q[0]
	if len(q) > 1 {
		f.accounts[marketID] = q[1:]
	}
	return a, nil
}

func (f *fakeGateway) buildCall(op string, arg string) (broker.BuildResult, error) {
	f.record(op, arg)
	f.mu.Lock()
	gate := f.buildGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.build
	if res.Unsigned != nil {
		tx := *res.Unsigned
		res.Unsigned = &tx
	}
	return res, f.buildErr
}

func (f *fakeGateway) asset(op string, req broker.AssetRequest) (broker.BuildResult, error) {
	f.mu.Lock()
	f.lastAsset = req
	f.mu.Unlock()
	return f.buildCall(op, req.MarketID)
}

func (f *fakeGateway) DepositCollateral(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return f.asset("deposit", req)
}

func (f *fakeGateway) WithdrawCollateral(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return f.asset("withdraw", req)
}

func (f *fakeGateway) BorrowLoan(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return f.asset("borrow", req)
}

func (f *fakeGateway) RepayLoan(ctx context.Context, req broker.AssetRequest) (broker.BuildResult, error) {
	return f.asset("repay", req)
}

func (f *fakeGateway) GetLoans(ctx context.Context, marketID string) ([]broker.LoanRecord, error) {
	f.record("loans", marketID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loansErr != nil {
		return nil, f.loansErr
	}
	return append([]broker.LoanRecord(nil), f.loans[marketID]...), nil
}

func (f *fakeGateway) OpenMarginPosition(ctx context.Context, req broker.OpenPositionRequest) (broker.BuildResult, error) {
	f.mu.Lock()
	f.lastOpen = req
	f.mu.Unlock()
	return f.buildCall("open", req.MarketID)
}

func (f *fakeGateway) CloseMarginPosition(ctx context.Context, marketID string) (broker.BuildResult, error) {
	return f.buildCall("close", marketID)
}

func (f *fakeGateway) BroadcastTransaction(ctx context.Context, signedRawTx string) (string, error) {
	f.record("broadcast", signedRawTx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSigned = signedRawTx
	return f.broadcast, f.castErr
}

func (f *fakeGateway) GetOpenPositions(ctx context.Context) ([]broker.OpenPosition, error) {
	f.record("positions", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broker.OpenPosition(nil), f.positions...), f.positionsErr
}

func (f *fakeGateway) GetSpendableBalance(ctx context.Context, marketID, assetSymbol, userAddress string) (market.Amount, error) {
	f.record("spendable", marketID+"/"+assetSymbol)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spendableErr != nil {
		return market.Zero, f.spendableErr
	}
	return f.spendable[assetSymbol], nil
}

func (f *fakeGateway) GetMarketMarginParameters(ctx context.Context, marketID string) (market.MarginParameters, error) {
	f.record("params", marketID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params, f.paramsErr
}

type fakeSigner struct {
	mu    sync.Mutex
	raw   string
	err   error
	calls int
	seen  broker.UnsignedTx
}

func (s *fakeSigner) Address(ctx context.Context) (string, error) { return userAddr, nil }

func (s *fakeSigner) SignTransaction(ctx context.Context, tx broker.UnsignedTx) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.seen = tx
	if s.err != nil {
		return "", s.err
	}
	return s.raw, nil
}

type formLog struct {
	mu      sync.Mutex
	cleared []string
}

func (f *formLog) ClearForm(origin string) {
	f.mu.Lock()
	f.cleared = append(f.cleared, origin)
	f.mu.Unlock()
}

func ethDaiCatalog() *market.StaticCatalog {
	return market.NewStaticCatalog(market.Market{
		ID: ethDai, BaseSymbol: "ETH", QuoteSymbol: "DAI",
		BaseAddress: "0xeth", QuoteAddress: "0xabc",
		LiquidateRate: d("1.1"), BorrowEnable: true,
	})
}
