package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSchema mirrors Schema for a shared Postgres journal.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS txs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	market_id TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	status TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	error TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_txs_finished ON txs(finished_at);

CREATE TABLE IF NOT EXISTS accounts (
	seq BIGSERIAL PRIMARY KEY,
	time TIMESTAMPTZ NOT NULL,
	market_id TEXT NOT NULL,
	source TEXT NOT NULL,
	assets_usd NUMERIC NOT NULL,
	debts_usd NUMERIC NOT NULL,
	ratio TEXT NOT NULL,
	status TEXT NOT NULL,
	liquidatable BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_market_time ON accounts(market_id, time);
`

// Postgres journals to a Postgres database, for several clients sharing
// one history.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	j, err := NewPostgresDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewPostgresDB uses an open handle and makes sure the schema exists.
func NewPostgresDB(db *sql.DB) (*Postgres, error) {
	if _, err := db.Exec(PostgresSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (j *Postgres) RecordTx(t TxRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO txs
		(id, kind, market_id, amount, status, tx_hash, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			tx_hash = EXCLUDED.tx_hash,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`,
		t.ID, t.Kind, t.MarketID, t.Amount.String(), t.Status,
		t.TxHash, t.Error, t.StartedAt.UTC(), t.FinishedAt.UTC(),
	)
	return err
}

func (j *Postgres) RecordAccount(s AccountSnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO accounts
		(time, market_id, source, assets_usd, debts_usd, ratio, status, liquidatable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.Time.UTC(), s.MarketID, s.Source, s.AssetsUSD.String(), s.DebtsUSD.String(),
		s.Ratio, s.Status, s.Liquidatable,
	)
	return err
}

func (j *Postgres) GetTx(id string) (TxRecord, error) {
	row := j.db.QueryRow(`SELECT `+txColumns+` FROM txs WHERE id = $1`, id)
	rec, err := scanTx(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TxRecord{}, fmt.Errorf("tx %q: %w", id, ErrNotFound)
		}
		return TxRecord{}, err
	}
	return rec, nil
}

func (j *Postgres) ListTxBetween(start, end time.Time) ([]TxRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+txColumns+`
		FROM txs
		WHERE finished_at >= $1 AND finished_at < $2
		ORDER BY finished_at ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return collectTxs(rows)
}

func (j *Postgres) ListAccountsBetween(marketID string, start, end time.Time) ([]AccountSnapshot, error) {
	rows, err := j.db.Query(`
		SELECT `+accountColumns+`
		FROM accounts
		WHERE ($1 = '' OR market_id = $1) AND time >= $2 AND time < $3
		ORDER BY time ASC, seq ASC`, marketID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (j *Postgres) Close() error {
	return j.db.Close()
}
