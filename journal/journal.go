package journal

import (
	"errors"
	"time"

	"github.com/rustyeddy/margin/market"
)

// TxRecord is one finished transaction workflow.
type TxRecord struct {
	ID         string
	Kind       string
	MarketID   string
	Amount     market.Amount
	Status     string // completed | failed
	TxHash     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// AccountSnapshot is a margin account's valuation at a point in time.
type AccountSnapshot struct {
	Time         time.Time
	MarketID     string
	Source       string // fetch | push
	AssetsUSD    market.Amount
	DebtsUSD     market.Amount
	Ratio        string // decimal, "Infinity" or "N/A"
	Status       string
	Liquidatable bool
}

type Journal interface {
	RecordTx(TxRecord) error
	RecordAccount(AccountSnapshot) error
	Close() error
}

type multi []Journal

// Multi writes every record to each journal and joins their errors.
func Multi(js ...Journal) Journal {
	return multi(js)
}

func (m multi) RecordTx(r TxRecord) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordTx(r))
	}
	return errors.Join(errs...)
}

func (m multi) RecordAccount(s AccountSnapshot) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordAccount(s))
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}
