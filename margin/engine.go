package margin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/margin/alerts"
	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/journal"
	"github.com/rustyeddy/margin/market"
	"github.com/rustyeddy/margin/pkg/id"
)

var (
	// ErrWorkflowBusy is returned by Start and Reset while another workflow
	// is in flight. The running workflow is not touched.
	ErrWorkflowBusy   = errors.New("another transaction is in progress")
	ErrInvalidRequest = errors.New("invalid request")
)

// Request is a user intent. Amounts are decimal strings as typed by the
// user; they are parsed and checked before anything is sent.
type Request struct {
	Kind         Kind
	MarketID     string
	AssetAddress string
	Amount       string

	// OpenPosition only.
	Side             market.Side
	Price            string
	Leverage         string
	CollateralSymbol string
	CollateralAmount string

	// Origin names the form that started the workflow; it is cleared on
	// success.
	Origin string
}

// Workflow is a snapshot of the engine's single workflow slot.
type Workflow struct {
	ID       string
	Kind     Kind
	MarketID string
	Amount   market.Amount
	Status   Status

	Unsigned *broker.UnsignedTx
	TxHash   string
	Err      error

	Signing      bool
	Broadcasting bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// FormResetter clears UI input tied to an origin after a successful
// workflow.
type FormResetter interface {
	ClearForm(origin string)
}

type EngineConfig struct {
	Gateway broker.Gateway
	Signer  broker.Signer
	Store   *Store
	Alerts  *alerts.Queue
	Forms   FormResetter
	Journal journal.Journal
	Metrics *Metrics
	Log     *logrus.Logger
	Now     func() time.Time
}

// Engine runs one build, sign, broadcast workflow at a time.
type Engine struct {
	mu sync.Mutex
	wf Workflow

	gw      broker.Gateway
	signer  broker.Signer
	store   *Store
	alerts  *alerts.Queue
	forms   FormResetter
	journal journal.Journal
	metrics *Metrics
	log     *logrus.Logger
	now     func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		gw:      cfg.Gateway,
		signer:  cfg.Signer,
		store:   cfg.Store,
		alerts:  cfg.Alerts,
		forms:   cfg.Forms,
		journal: cfg.Journal,
		metrics: cfg.Metrics,
		log:     cfg.Log,
		now:     cfg.Now,
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Snapshot returns a copy of the current workflow.
func (e *Engine) Snapshot() Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Workflow {
	w := e.wf
	if w.Unsigned != nil {
		tx := *w.Unsigned
		w.Unsigned = &tx
	}
	return w
}

// Reset drops a finished workflow and returns the engine to Idle.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wf.Status.Active() {
		return ErrWorkflowBusy
	}
	e.wf = Workflow{Status: Idle}
	return nil
}

// built is a validated request ready for the gateway.
type built struct {
	amount market.Amount
	call   func(ctx context.Context) (broker.BuildResult, error)
}

func (e *Engine) prepare(req Request) (built, error) {
	bad := func(format string, args ...any) (built, error) {
		return built{}, fmt.Errorf("%w: %s: %s", ErrInvalidRequest, req.Kind, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(req.MarketID) == "" {
		return bad("market is required")
	}

	switch req.Kind {
	case Deposit, Withdraw, Borrow, Repay:
		if strings.TrimSpace(req.AssetAddress) == "" {
			return bad("asset address is required")
		}
		amt, err := market.ParsePositiveAmount(req.Amount)
		if err != nil {
			return built{}, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, req.Kind, err)
		}
		ar := broker.AssetRequest{MarketID: req.MarketID, AssetAddress: req.AssetAddress, Amount: amt}
		call := map[Kind]func(context.Context, broker.AssetRequest) (broker.BuildResult, error){
			Deposit:  e.gw.DepositCollateral,
			Withdraw: e.gw.WithdrawCollateral,
			Borrow:   e.gw.BorrowLoan,
			Repay:    e.gw.RepayLoan,
		}[req.Kind]
		return built{amount: amt, call: func(ctx context.Context) (broker.BuildResult, error) {
			return call(ctx, ar)
		}}, nil

	case OpenPosition:
		if req.Side != market.Long && req.Side != market.Short {
			return bad("side must be long or short")
		}
		amt, err := market.ParsePositiveAmount(req.Amount)
		if err != nil {
			return built{}, fmt.Errorf("%w: amount: %w", ErrInvalidRequest, err)
		}
		price, err := market.ParsePositiveAmount(req.Price)
		if err != nil {
			return built{}, fmt.Errorf("%w: price: %w", ErrInvalidRequest, err)
		}
		lev, err := market.ParsePositiveAmount(req.Leverage)
		if err != nil {
			return built{}, fmt.Errorf("%w: leverage: %w", ErrInvalidRequest, err)
		}
		if strings.TrimSpace(req.CollateralSymbol) == "" {
			return bad("collateral asset is required")
		}
		coll := market.Zero
		if strings.TrimSpace(req.CollateralAmount) != "" {
			if coll, err = market.ParseAmount(req.CollateralAmount); err != nil {
				return built{}, fmt.Errorf("%w: collateral: %w", ErrInvalidRequest, err)
			}
			if coll.IsNegative() {
				return bad("collateral amount is negative")
			}
		}
		or := broker.OpenPositionRequest{
			MarketID: req.MarketID, Side: req.Side,
			Amount: amt, Price: price, Leverage: lev,
			CollateralAssetSymbol: req.CollateralSymbol, CollateralAmount: coll,
		}
		return built{amount: amt, call: func(ctx context.Context) (broker.BuildResult, error) {
			return e.gw.OpenMarginPosition(ctx, or)
		}}, nil

	case ClosePosition:
		return built{call: func(ctx context.Context) (broker.BuildResult, error) {
			return e.gw.CloseMarginPosition(ctx, req.MarketID)
		}}, nil
	}
	return bad("unknown kind")
}

// Start runs a workflow to a terminal state and returns its final
// snapshot. The error is the workflow's failure, ErrWorkflowBusy, or a
// validation error; the last two leave the engine untouched.
//
// The engine lock is not held across gateway or signer calls, so push
// updates and Snapshot keep working while the user signs.
func (e *Engine) Start(ctx context.Context, sess Session, req Request) (Workflow, error) {
	b, err := e.prepare(req)
	if err != nil {
		return e.Snapshot(), err
	}
	if !sess.HasIdentity() {
		return e.Snapshot(), fmt.Errorf("%s: %w", req.Kind, broker.ErrMissingIdentity)
	}

	runID, err := e.claim(req, b.amount)
	if err != nil {
		return e.Snapshot(), err
	}
	log := e.log.WithFields(logrus.Fields{"workflow": runID, "kind": req.Kind, "market": req.MarketID})
	log.Info("workflow started")

	e.move(runID, AwaitingUnsignedTx, nil)
	res, err := b.call(ctx)
	if err != nil {
		return e.fail(runID, &broker.BuildError{Kind: req.Kind.String(), Err: err}, log)
	}
	if !res.NeedsSignature() {
		if res.TxHash == "" {
			return e.fail(runID, &broker.BuildError{Kind: req.Kind.String(), Err: broker.NewDomainError(0, "")}, log)
		}
		return e.complete(ctx, sess, req, runID, res.TxHash, log)
	}

	tx := *res.Unsigned
	e.move(runID, AwaitingSignature, func(w *Workflow) {
		w.Unsigned = &tx
		w.Signing = true
	})

	if tx.From != "" && !broker.SameAddress(tx.From, sess.Address) {
		return e.fail(runID, &broker.AddressMismatchError{Expected: sess.Address, Actual: tx.From}, log)
	}
	if e.signer == nil {
		return e.fail(runID, fmt.Errorf("sign: %w", broker.ErrSigningUnavailable), log)
	}
	signed, err := e.signer.SignTransaction(ctx, tx)
	if err != nil {
		return e.fail(runID, err, log)
	}

	e.move(runID, Broadcasting, func(w *Workflow) {
		w.Signing = false
		w.Broadcasting = true
	})
	hash, err := e.gw.BroadcastTransaction(ctx, signed)
	if err != nil {
		var be *broker.BroadcastError
		if !errors.As(err, &be) {
			err = &broker.BroadcastError{Reason: broker.Reason(err), Err: err}
		}
		return e.fail(runID, err, log)
	}
	if hash == "" {
		return e.fail(runID, &broker.BroadcastError{Reason: "response has no transaction hash"}, log)
	}
	return e.complete(ctx, sess, req, runID, hash, log)
}

// claim takes the workflow slot for a new run.
func (e *Engine) claim(req Request, amount market.Amount) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wf.Status.Active() {
		return "", ErrWorkflowBusy
	}
	now := e.now()
	e.wf = Workflow{
		ID:        id.NewAt(now),
		Kind:      req.Kind,
		MarketID:  req.MarketID,
		Amount:    amount,
		Status:    Requesting,
		StartedAt: now,
	}
	return e.wf.ID, nil
}

// move transitions run runID to next and applies edit under the lock.
// It panics on a transition missing from ValidTransitions; the engine
// drives every move itself so that is a programming error.
func (e *Engine) move(runID string, next Status, edit func(*Workflow)) Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wf.ID != runID {
		panic(fmt.Sprintf("workflow %s moved while %s holds the engine", runID, e.wf.ID))
	}
	if !CanTransition(e.wf.Status, next) {
		panic(fmt.Sprintf("workflow %s: invalid transition %s -> %s", runID, e.wf.Status, next))
	}
	e.wf.Status = next
	if edit != nil {
		edit(&e.wf)
	}
	if next.Terminal() {
		e.wf.Unsigned = nil
		e.wf.Signing = false
		e.wf.Broadcasting = false
		e.wf.FinishedAt = e.now()
	}
	return e.snapshotLocked()
}

func (e *Engine) fail(runID string, err error, log *logrus.Entry) (Workflow, error) {
	w := e.move(runID, Failed, func(w *Workflow) { w.Err = err })
	log.WithError(err).Warn("workflow failed")

	if e.alerts != nil {
		e.alerts.Push(alerts.Alert{
			Level:   alerts.Critical,
			Message: fmt.Sprintf("%s failed: %s", w.Kind, broker.Reason(err)),
		})
	}
	e.finish(w, log)
	return w, err
}

func (e *Engine) complete(ctx context.Context, sess Session, req Request, runID, hash string, log *logrus.Entry) (Workflow, error) {
	w := e.move(runID, Completed, func(w *Workflow) { w.TxHash = hash })
	log.WithField("tx", hash).Info("workflow completed")

	if e.alerts != nil {
		e.alerts.Push(alerts.Alert{
			Level:   alerts.Success,
			Message: fmt.Sprintf("%s submitted", w.Kind),
			TxHash:  hash,
		})
	}
	if e.forms != nil && req.Origin != "" {
		e.forms.ClearForm(req.Origin)
	}
	e.finish(w, log)

	if e.store != nil {
		// best effort; failures are on the store's scopes
		_ = e.store.RefreshAll(ctx, sess, req.MarketID)
	}
	return w, nil
}

func (e *Engine) finish(w Workflow, log *logrus.Entry) {
	e.metrics.workflowDone(w.Kind, w.Status, w.FinishedAt.Sub(w.StartedAt))
	if e.journal == nil {
		return
	}
	rec := journal.TxRecord{
		ID:         w.ID,
		Kind:       w.Kind.String(),
		MarketID:   w.MarketID,
		Amount:     w.Amount,
		Status:     w.Status.String(),
		TxHash:     w.TxHash,
		StartedAt:  w.StartedAt,
		FinishedAt: w.FinishedAt,
	}
	if w.Err != nil {
		rec.Error = w.Err.Error()
	}
	if err := e.journal.RecordTx(rec); err != nil {
		log.WithError(err).Warn("journal workflow")
	}
}
