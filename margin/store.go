package margin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/journal"
	"github.com/rustyeddy/margin/market"
	"github.com/rustyeddy/margin/risk"
)

type ScopeKind int

const (
	ScopeAccount ScopeKind = iota + 1
	ScopeLoans
	ScopeSpendable
	ScopePositions
	ScopeParams
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeAccount:
		return "account"
	case ScopeLoans:
		return "loans"
	case ScopeSpendable:
		return "spendable"
	case ScopePositions:
		return "positions"
	case ScopeParams:
		return "params"
	default:
		return "unknown"
	}
}

// Scope names one piece of fetched state. Loans with an empty MarketID is
// the all-markets listing.
type Scope struct {
	Kind     ScopeKind
	MarketID string
	Symbol   string
}

func AccountScope(marketID string) Scope   { return Scope{Kind: ScopeAccount, MarketID: marketID} }
func LoansScope(marketID string) Scope     { return Scope{Kind: ScopeLoans, MarketID: marketID} }
func PositionsScope() Scope                { return Scope{Kind: ScopePositions} }
func ParamsScope(marketID string) Scope    { return Scope{Kind: ScopeParams, MarketID: marketID} }
func SpendableScope(marketID, symbol string) Scope {
	return Scope{Kind: ScopeSpendable, MarketID: marketID, Symbol: symbol}
}

func (s Scope) String() string {
	switch {
	case s.Symbol != "":
		return fmt.Sprintf("%s/%s/%s", s.Kind, s.MarketID, s.Symbol)
	case s.MarketID != "":
		return fmt.Sprintf("%s/%s", s.Kind, s.MarketID)
	default:
		return s.Kind.String()
	}
}

type balanceKey struct{ marketID, symbol string }

// Store is the authoritative client-side copy of a user's margin state.
// A failed fetch records an error for its scope and keeps the previous
// data. Reads return copies.
type Store struct {
	mu sync.Mutex

	gw      broker.Gateway
	catalog market.Catalog
	log     *logrus.Logger
	journal journal.Journal
	metrics *Metrics
	now     func() time.Time

	accounts  map[string]broker.MarginAccount
	loans     map[string][]broker.LoanRecord
	positions []broker.OpenPosition
	spendable map[balanceKey]market.Amount
	params    map[string]market.MarginParameters
	auctions  map[string]map[string]broker.AuctionUpdate

	// loading counts fetches in flight per scope.
	loading map[Scope]int
	errs    map[Scope]error
}

type StoreOption func(*Store)

func WithCatalog(c market.Catalog) StoreOption    { return func(s *Store) { s.catalog = c } }
func WithStoreLogger(l *logrus.Logger) StoreOption { return func(s *Store) { s.log = l } }
func WithJournal(j journal.Journal) StoreOption    { return func(s *Store) { s.journal = j } }
func WithStoreMetrics(m *Metrics) StoreOption      { return func(s *Store) { s.metrics = m } }
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(gw broker.Gateway, opts ...StoreOption) *Store {
	s := &Store{
		gw:        gw,
		log:       logrus.StandardLogger(),
		now:       time.Now,
		accounts:  make(map[string]broker.MarginAccount),
		loans:     make(map[string][]broker.LoanRecord),
		spendable: make(map[balanceKey]market.Amount),
		params:    make(map[string]market.MarginParameters),
		auctions:  make(map[string]map[string]broker.AuctionUpdate),
		loading:   make(map[Scope]int),
		errs:      make(map[Scope]error),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) begin(sc Scope) {
	s.mu.Lock()
	s.loading[sc]++
	s.mu.Unlock()
}

// finishLocked ends one fetch of the scope and records err for it. The
// scope stays loading while another fetch of it is in flight. Callers
// hold s.mu.
func (s *Store) finishLocked(sc Scope, err error) {
	if s.loading[sc] <= 1 {
		delete(s.loading, sc)
	} else {
		s.loading[sc]--
	}
	if err == nil {
		delete(s.errs, sc)
		return
	}
	s.errs[sc] = err
	s.metrics.fetchFailed(sc.Kind)
	s.log.WithFields(logrus.Fields{"scope": sc.String()}).WithError(err).Warn("fetch failed")
}

// FetchAccount replaces the stored account for marketID with the venue's
// copy. On failure the previous account stays.
func (s *Store) FetchAccount(ctx context.Context, sess Session, marketID string) (broker.MarginAccount, error) {
	sc := AccountScope(marketID)
	s.begin(sc)

	var acct broker.MarginAccount
	var err error
	if !sess.HasIdentity() {
		err = fmt.Errorf("account %s: %w", marketID, broker.ErrMissingIdentity)
	} else {
		acct, err = s.gw.GetAccountDetails(ctx, marketID, sess.Address)
	}

	s.mu.Lock()
	s.finishLocked(sc, err)
	if err == nil {
		s.accounts[marketID] = acct
	}
	s.mu.Unlock()

	if err != nil {
		return broker.MarginAccount{}, err
	}
	if verr := acct.Validate(); verr != nil {
		s.log.WithField("market", marketID).WithError(verr).Warn("account details break transferable <= total")
	}
	s.snapshot(acct, marketID, "fetch")
	return acct, nil
}

// FetchLoans loads loans for marketID. An empty marketID loads every
// market's loans and replaces the whole collection; that needs a session
// identity and fails with ErrMissingIdentity without a request otherwise.
func (s *Store) FetchLoans(ctx context.Context, sess Session, marketID string) ([]broker.LoanRecord, error) {
	sc := LoansScope(marketID)
	s.begin(sc)

	var list []broker.LoanRecord
	var err error
	if marketID == "" && !sess.HasIdentity() {
		err = fmt.Errorf("loans: %w", broker.ErrMissingIdentity)
	} else {
		list, err = s.gw.GetLoans(ctx, marketID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(sc, err)
	if err != nil {
		return nil, err
	}

	if marketID == "" {
		s.loans = groupLoans(list)
	} else {
		for i := range list {
			if list[i].MarketID == "" {
				list[i].MarketID = marketID
			}
		}
		grouped := groupLoans(list)
		s.loans[marketID] = grouped[marketID]
	}
	return copyLoans(list), nil
}

// groupLoans keys loans by market, one record per (market, symbol); the
// later record wins.
func groupLoans(list []broker.LoanRecord) map[string][]broker.LoanRecord {
	out := make(map[string][]broker.LoanRecord)
	pos := make(map[balanceKey]int)
	for _, l := range list {
		k := balanceKey{l.MarketID, l.Symbol}
		if i, ok := pos[k]; ok {
			out[l.MarketID][i] = l
			continue
		}
		pos[k] = len(out[l.MarketID])
		out[l.MarketID] = append(out[l.MarketID], l)
	}
	return out
}

func (s *Store) FetchOpenPositions(ctx context.Context, sess Session) ([]broker.OpenPosition, error) {
	sc := PositionsScope()
	s.begin(sc)

	var list []broker.OpenPosition
	var err error
	if !sess.HasIdentity() {
		err = fmt.Errorf("positions: %w", broker.ErrMissingIdentity)
	} else {
		list, err = s.gw.GetOpenPositions(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(sc, err)
	if err != nil {
		return nil, err
	}
	s.positions = append([]broker.OpenPosition(nil), list...)
	return append([]broker.OpenPosition(nil), list...), nil
}

func (s *Store) FetchSpendableBalance(ctx context.Context, sess Session, marketID, symbol string) (market.Amount, error) {
	sc := SpendableScope(marketID, symbol)
	s.begin(sc)

	var amt market.Amount
	var err error
	if !sess.HasIdentity() {
		err = fmt.Errorf("spendable %s/%s: %w", marketID, symbol, broker.ErrMissingIdentity)
	} else {
		amt, err = s.gw.GetSpendableBalance(ctx, marketID, symbol, sess.Address)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(sc, err)
	if err != nil {
		return market.Zero, err
	}
	s.spendable[balanceKey{marketID, symbol}] = amt
	return amt, nil
}

func (s *Store) FetchMarginParameters(ctx context.Context, marketID string) (market.MarginParameters, error) {
	sc := ParamsScope(marketID)
	s.begin(sc)

	p, err := s.gw.GetMarketMarginParameters(ctx, marketID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(sc, err)
	if err != nil {
		return market.MarginParameters{}, err
	}
	s.params[marketID] = p
	return p, nil
}

// ApplyPushUpdate merges u into the account for u.MarketID. Updates
// addressed to another user are ignored. It reports whether the update
// was applied.
func (s *Store) ApplyPushUpdate(sess Session, u *broker.AccountUpdate) bool {
	if u == nil || u.MarketID == "" {
		return false
	}
	if u.UserAddress != "" && !broker.SameAddress(u.UserAddress, sess.Address) {
		return false
	}

	s.mu.Lock()
	merged := u.Apply(s.accounts[u.MarketID])
	s.accounts[u.MarketID] = merged
	s.mu.Unlock()

	s.snapshot(merged, u.MarketID, "push")
	return true
}

func (s *Store) snapshot(acct broker.MarginAccount, marketID, source string) {
	if s.journal == nil {
		return
	}
	err := s.journal.RecordAccount(journal.AccountSnapshot{
		Time:         s.now(),
		MarketID:     marketID,
		Source:       source,
		AssetsUSD:    acct.AssetsTotalUSDValue,
		DebtsUSD:     acct.DebtsTotalUSDValue,
		Ratio:        acct.CollateralRatio().String(),
		Status:       acct.Status,
		Liquidatable: acct.Liquidatable,
	})
	if err != nil {
		s.log.WithError(err).WithField("market", marketID).Warn("journal account snapshot")
	}
}

func (s *Store) Account(marketID string) (broker.MarginAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[marketID]
	return a, ok
}

// CollateralRatio is assets/debts of the stored account; Undefined when
// there is no account.
func (s *Store) CollateralRatio(marketID string) risk.Value {
	a, ok := s.Account(marketID)
	if !ok {
		return risk.Undefined()
	}
	return a.CollateralRatio()
}

// CollateralBalance is the deposited total of symbol in marketID.
func (s *Store) CollateralBalance(marketID, symbol string) market.Amount {
	a, ok := s.Account(marketID)
	if !ok {
		return market.Zero
	}
	d, ok := a.Asset(symbol)
	if !ok {
		return market.Zero
	}
	return d.TotalBalance
}

func (s *Store) Loans(marketID string) []broker.LoanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyLoans(s.loans[marketID])
}

// AllLoans returns every market's loans ordered by market then symbol.
func (s *Store) AllLoans() []broker.LoanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []broker.LoanRecord
	for _, l := range s.loans {
		out = append(out, l...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// BorrowedAmount is the outstanding loan of symbol in marketID.
func (s *Store) BorrowedAmount(marketID, symbol string) market.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := market.Zero
	for _, l := range s.loans[marketID] {
		if l.Symbol == symbol {
			total = total.Add(l.AmountBorrowed)
		}
	}
	return total
}

func (s *Store) Positions() []broker.OpenPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]broker.OpenPosition(nil), s.positions...)
}

func (s *Store) SpendableBalance(marketID, symbol string) (market.Amount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.spendable[balanceKey{marketID, symbol}]
	return a, ok
}

func (s *Store) MarginParameters(marketID string) (market.MarginParameters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.params[marketID]
	return p, ok
}

func (s *Store) Loading(sc Scope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[sc] > 0
}

// Err is the error of the last fetch for sc, nil after a success.
func (s *Store) Err(sc Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[sc]
}

func (s *Store) AnyLoansLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sc, n := range s.loading {
		if n > 0 && sc.Kind == ScopeLoans {
			return true
		}
	}
	return false
}

func copyLoans(l []broker.LoanRecord) []broker.LoanRecord {
	if l == nil {
		return nil
	}
	return append([]broker.LoanRecord(nil), l...)
}
