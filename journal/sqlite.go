package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTx(t TxRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO txs
		(id, kind, market_id, amount, status, tx_hash, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Kind, t.MarketID, t.Amount.String(), t.Status,
		t.TxHash, t.Error, t.StartedAt.UTC(), t.FinishedAt.UTC(),
	)
	return err
}

func (j *SQLite) RecordAccount(s AccountSnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO accounts
		(time, market_id, source, assets_usd, debts_usd, ratio, status, liquidatable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Time.UTC(), s.MarketID, s.Source, s.AssetsUSD.String(), s.DebtsUSD.String(),
		s.Ratio, s.Status, s.Liquidatable,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
