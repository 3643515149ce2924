package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"
)

type CSVJournal struct {
	mu       sync.Mutex
	txs      *csv.Writer
	accounts *csv.Writer
	tf, af   *os.File
}

var (
	txHeader      = []string{"id", "kind", "market_id", "amount", "status", "tx_hash", "error", "started_at", "finished_at"}
	accountHeader = []string{"time", "market_id", "source", "assets_usd", "debts_usd", "ratio", "status", "liquidatable"}
)

func NewCSV(txPath, accountPath string) (*CSVJournal, error) {
	tf, err := os.Create(txPath)
	if err != nil {
		return nil, err
	}
	af, err := os.Create(accountPath)
	if err != nil {
		tf.Close()
		return nil, err
	}

	tw := csv.NewWriter(tf)
	aw := csv.NewWriter(af)

	if err := tw.Write(txHeader); err != nil {
		return nil, err
	}
	if err := aw.Write(accountHeader); err != nil {
		return nil, err
	}

	tw.Flush()
	if err := tw.Error(); err != nil {
		return nil, err
	}
	aw.Flush()
	if err := aw.Error(); err != nil {
		return nil, err
	}

	return &CSVJournal{txs: tw, accounts: aw, tf: tf, af: af}, nil
}

func (j *CSVJournal) RecordTx(t TxRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.txs.Write([]string{
		t.ID,
		t.Kind,
		t.MarketID,
		t.Amount.String(),
		t.Status,
		t.TxHash,
		t.Error,
		t.StartedAt.UTC().Format(time.RFC3339Nano),
		t.FinishedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	j.txs.Flush()
	return j.txs.Error()
}

func (j *CSVJournal) RecordAccount(s AccountSnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.accounts.Write([]string{
		s.Time.UTC().Format(time.RFC3339Nano),
		s.MarketID,
		s.Source,
		s.AssetsUSD.String(),
		s.DebtsUSD.String(),
		s.Ratio,
		s.Status,
		strconv.FormatBool(s.Liquidatable),
	})
	if err != nil {
		return err
	}
	j.accounts.Flush()
	return j.accounts.Error()
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.txs.Flush()
	if err := j.txs.Error(); err != nil {
		return err
	}
	j.accounts.Flush()
	if err := j.accounts.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.af.Close()
}
