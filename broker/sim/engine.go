// Package sim is an in-memory margin venue for one user. It implements
// broker.Gateway, serves the same REST and push API as the real venue
// (see Server) and ships a Wallet that stands in for the signing agent.
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/market"
	"github.com/rustyeddy/margin/risk"
)

var ErrNotLiquidatable = errors.New("account is not liquidatable")

// Venue holds every account, loan and position of its user.
type Venue struct {
	mu sync.Mutex

	user    string
	address string // venue contract, the "to" of every descriptor
	chainID string
	catalog market.Catalog

	prices    map[string]market.Amount // USD per unit, by symbol
	wallet    map[string]market.Amount // user's funds outside the venue
	accts     map[string]*account
	positions map[string]*Position
	pending   map[string]op
	sent      map[string]string // signed raw tx -> hash
	nonce     uint64
	faults    map[string]error

	subs      map[int]func([]byte)
	nextSub   int
	published int
	monitor   *Monitor
	auctionID int

	// outbox holds frames in the order their changes were made. sendMu
	// lets one goroutine at a time drain it.
	outbox [][]byte
	sendMu sync.Mutex

	log *logrus.Logger
	now func() time.Time
}

type account struct {
	collateral map[string]market.Amount
	loans      map[string]market.Amount
	liquidated bool
}

func newAccount() *account {
	return &account{
		collateral: make(map[string]market.Amount),
		loans:      make(map[string]market.Amount),
	}
}

type Option func(*Venue)

func WithLogger(l *logrus.Logger) Option    { return func(v *Venue) { v.log = l } }
func WithClock(now func() time.Time) Option { return func(v *Venue) { v.now = now } }
func WithChainID(id string) Option          { return func(v *Venue) { v.chainID = id } }
func WithMonitor(m *Monitor) Option         { return func(v *Venue) { v.monitor = m } }
func WithVenueAddress(addr string) Option   { return func(v *Venue) { v.address = addr } }
func WithPrices(p map[string]market.Amount) Option {
	return func(v *Venue) {
		for k, a := range p {
			v.prices[k] = a
		}
	}
}

// NewVenue returns a venue for user trading the markets in cat. Every
// symbol starts with a USD price of 1.
func NewVenue(user string, cat market.Catalog, opts ...Option) *Venue {
	v := &Venue{
		user:      user,
		address:   "0x00000000000000000000000000000000000a11ce",
		chainID:   "1337",
		catalog:   cat,
		prices:    make(map[string]market.Amount),
		wallet:    make(map[string]market.Amount),
		accts:     make(map[string]*account),
		positions: make(map[string]*Position),
		pending:   make(map[string]op),
		sent:      make(map[string]string),
		faults:    make(map[string]error),
		subs:      make(map[int]func([]byte)),
		monitor:   NewMonitor(),
		log:       logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, m := range cat.Markets() {
		for _, s := range m.Symbols() {
			v.prices[s] = market.MustAmount("1")
		}
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// User is the venue's only identity.
func (v *Venue) User() string { return v.user }

// Fund credits the user's wallet.
func (v *Venue) Fund(symbol string, amt market.Amount) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallet[symbol] = v.wallet[symbol].Add(amt)
}

func (v *Venue) WalletBalance(symbol string) market.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wallet[symbol]
}

// FailNext makes the next call of op ("account", "deposit", "loans",
// "broadcast", ...) return err.
func (v *Venue) FailNext(op string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults[op] = err
}

func (v *Venue) faultLocked(op string) error {
	err, ok := v.faults[op]
	if !ok {
		return nil
	}
	delete(v.faults, op)
	return err
}

// Subscribe registers fn for push frames. Frames reach every subscriber in
// the order the venue changed, one frame at a time, before the call that
// caused them returns. The returned func unsubscribes.
func (v *Venue) Subscribe(fn func(frame []byte)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := v.nextSub
	v.nextSub++
	v.subs[n] = fn
	return func() {
		v.mu.Lock()
		delete(v.subs, n)
		v.mu.Unlock()
	}
}

// Subscribers is the number of live push subscriptions.
func (v *Venue) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// Published counts frames handed to subscribers so far.
func (v *Venue) Published() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.published
}

// SetPrice moves symbol's USD price, revalues every account holding it and
// pushes updates and margin alerts.
func (v *Venue) SetPrice(symbol string, usd market.Amount) error {
	if !usd.IsPositive() {
		return fmt.Errorf("set price %s: %w", symbol, market.ErrNonPositiveAmount)
	}
	v.mu.Lock()
	v.prices[symbol] = usd
	for _, m := range v.catalog.Markets() {
		if m.BaseSymbol != symbol && m.QuoteSymbol != symbol {
			continue
		}
		if _, ok := v.accts[m.ID]; !ok {
			continue
		}
		v.publishLocked(m)
	}
	v.mu.Unlock()

	v.flush()
	return nil
}

func (v *Venue) Price(symbol string) market.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.prices[symbol]
}

// Liquidate force-closes every position in marketID and settles loans from
// collateral, if the account is below the liquidation rate. It pushes the
// liquidation auction as it opens and as it finishes, and a
// liquidation_event alert.
func (v *Venue) Liquidate(marketID string) error {
	v.mu.Lock()
	m, ok := v.catalog.Market(marketID)
	if !ok {
		v.mu.Unlock()
		return unknownMarket(marketID)
	}
	a, ok := v.accts[marketID]
	if !ok || !v.valueLocked(m, a).liquidatable {
		v.mu.Unlock()
		return fmt.Errorf("liquidate %s: %w", marketID, ErrNotLiquidatable)
	}

	v.auctionID++
	auction := AuctionPayload{
		MarketID:    marketID,
		AuctionID:   strconv.Itoa(v.auctionID),
		UserAddress: v.user,
	}
	val := v.valueLocked(m, a)
	auction.DebtUSDValue, auction.CollateralUSDValue = val.debtsUSD.String(), val.assetsUSD.String()
	v.enqueueLocked(v.frame(broker.TypeAuctionUpdate, auction))

	for _, p := range v.openPositionsLocked(marketID) {
		v.closePositionLocked(m, a, p, "LIQUIDATION")
	}
	for _, sym := range m.Symbols() {
		pay := minAmount(a.loans[sym], a.collateral[sym])
		a.loans[sym] = a.loans[sym].Sub(pay)
		a.collateral[sym] = a.collateral[sym].Sub(pay)
	}
	a.liquidated = true
	v.log.WithFields(logrus.Fields{"market": marketID, "auction": auction.AuctionID}).Warn("sim: account liquidated")
	v.publishLocked(m)

	val = v.valueLocked(m, a)
	auction.DebtUSDValue, auction.CollateralUSDValue = val.debtsUSD.String(), val.assetsUSD.String()
	auction.IsFinished = true
	v.enqueueLocked(v.frame(broker.TypeAlert, AlertPayload{
		Level:       "liquidation_event",
		Title:       "Liquidation",
		Message:     "Position in " + marketID + " liquidated",
		MarketID:    marketID,
		UserAddress: v.user,
	}))
	v.enqueueLocked(v.frame(broker.TypeAuctionUpdate, auction))
	v.mu.Unlock()

	v.flush()
	return nil
}

type valuation struct {
	assetsUSD    market.Amount
	debtsUSD     market.Amount
	ratio        risk.Value
	liquidatable bool
	status       string
}

// valueLocked prices collateral and loans at the current USD prices.
func (v *Venue) valueLocked(m market.Market, a *account) valuation {
	var val valuation
	for _, sym := range m.Symbols() {
		px := v.prices[sym]
		val.assetsUSD = val.assetsUSD.Add(a.collateral[sym].Mul(px))
		val.debtsUSD = val.debtsUSD.Add(a.loans[sym].Mul(px))
	}
	val.ratio = risk.CollateralRatio(val.assetsUSD, val.debtsUSD)
	val.liquidatable = m.LiquidateRate.IsPositive() && val.ratio.LessThan(m.LiquidateRate)

	switch {
	case a.liquidated && val.debtsUSD.IsZero():
		val.status = "Liquidated"
	case val.liquidatable:
		val.status = "MarginCall"
	default:
		val.status = "Normal"
	}
	return val
}

// transferableLocked is how much of sym can leave the account while it
// stays at or above the liquidation rate.
func (v *Venue) transferableLocked(m market.Market, a *account, sym string) market.Amount {
	bal := a.collateral[sym]
	val := v.valueLocked(m, a)
	if val.debtsUSD.IsZero() {
		return bal
	}
	px := v.prices[sym]
	if !px.IsPositive() {
		return market.Zero
	}
	freeUSD := val.assetsUSD.Sub(m.LiquidateRate.Mul(val.debtsUSD))
	if !freeUSD.IsPositive() {
		return market.Zero
	}
	return minAmount(bal, freeUSD.Div(px))
}

func (v *Venue) accountViewLocked(m market.Market, a *account) broker.MarginAccount {
	val := v.valueLocked(m, a)
	detail := func(sym, addr string) broker.AssetDetails {
		return broker.AssetDetails{
			AssetAddress:       addr,
			Symbol:             sym,
			TotalBalance:       a.collateral[sym],
			TransferableAmount: v.transferableLocked(m, a, sym),
		}
	}
	return broker.MarginAccount{
		MarketID:            m.ID,
		UserAddress:         v.user,
		AssetsTotalUSDValue: val.assetsUSD,
		DebtsTotalUSDValue:  val.debtsUSD,
		Status:              val.status,
		Liquidatable:        val.liquidatable,
		BaseAssetDetails:    detail(m.BaseSymbol, m.BaseAddress),
		QuoteAssetDetails:   detail(m.QuoteSymbol, m.QuoteAddress),
	}
}

func (v *Venue) accountLocked(marketID string) *account {
	a, ok := v.accts[marketID]
	if !ok {
		a = newAccount()
		v.accts[marketID] = a
	}
	return a
}

// markLocked is the base price in quote units.
func (v *Venue) markLocked(m market.Market) market.Amount {
	q := v.prices[m.QuoteSymbol]
	if !q.IsPositive() {
		return market.Zero
	}
	return v.prices[m.BaseSymbol].Div(q)
}

// publishLocked queues the account update frame for m and any margin
// alert the monitor raises.
func (v *Venue) publishLocked(m market.Market) {
	a := v.accountLocked(m.ID)
	view := v.accountViewLocked(m, a)

	v.enqueueLocked(v.frame(broker.TypeAccountUpdate, view))
	if ev, ok := v.monitor.Check(m, view.CollateralRatio()); ok {
		ev.UserAddress = v.user
		v.enqueueLocked(v.frame(broker.TypeAlert, ev))
	}
}

func (v *Venue) enqueueLocked(frame []byte) {
	if frame != nil {
		v.outbox = append(v.outbox, frame)
	}
}

func (v *Venue) frame(typ string, payload any) []byte {
	b, err := json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{typ, payload})
	if err != nil {
		v.log.WithError(err).Error("sim: encode push frame")
		return nil
	}
	return b
}

// flush hands queued frames to the subscribers. Whoever holds sendMu
// delivers every frame queued so far, so frames leave in queue order and
// a caller's own frames are out by the time flush returns.
func (v *Venue) flush() {
	v.sendMu.Lock()
	defer v.sendMu.Unlock()
	for {
		v.mu.Lock()
		frames := v.outbox
		v.outbox = nil
		ids := make([]int, 0, len(v.subs))
		for k := range v.subs {
			ids = append(ids, k)
		}
		sort.Ints(ids)
		subs := make([]func([]byte), 0, len(ids))
		for _, k := range ids {
			subs = append(subs, v.subs[k])
		}
		v.published += len(frames) * len(subs)
		v.mu.Unlock()

		if len(frames) == 0 {
			return
		}
		for _, f := range frames {
			for _, fn := range subs {
				fn(f)
			}
		}
	}
}

func minAmount(a, b market.Amount) market.Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func unknownMarket(id string) error {
	return broker.NewDomainError(404, fmt.Sprintf("unknown market %s", id))
}
