package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

const (
	txColumns      = `id, kind, market_id, amount, status, tx_hash, error, started_at, finished_at`
	accountColumns = `time, market_id, source, assets_usd, debts_usd, ratio, status, liquidatable`
)

// Reader is the query side shared by the SQL journals.
type Reader interface {
	GetTx(id string) (TxRecord, error)
	ListTxBetween(start, end time.Time) ([]TxRecord, error)
	ListAccountsBetween(marketID string, start, end time.Time) ([]AccountSnapshot, error)
	Close() error
}

var (
	_ Reader = (*SQLite)(nil)
	_ Reader = (*Postgres)(nil)
)

type scanner interface {
	Scan(dest ...any) error
}

func scanTx(s scanner) (TxRecord, error) {
	var rec TxRecord
	err := s.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.MarketID,
		&rec.Amount,
		&rec.Status,
		&rec.TxHash,
		&rec.Error,
		&rec.StartedAt,
		&rec.FinishedAt,
	)
	return rec, err
}

// GetTx returns one workflow record by id.
func (j *SQLite) GetTx(id string) (TxRecord, error) {
	row := j.db.QueryRow(`SELECT `+txColumns+` FROM txs WHERE id = ?`, id)
	rec, err := scanTx(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TxRecord{}, fmt.Errorf("tx %q: %w", id, ErrNotFound)
		}
		return TxRecord{}, err
	}
	return rec, nil
}

// ListTxBetween returns records finished within [start, end).
func (j *SQLite) ListTxBetween(start, end time.Time) ([]TxRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+txColumns+`
		FROM txs
		WHERE finished_at >= ? AND finished_at < ?
		ORDER BY finished_at ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return collectTxs(rows)
}

// ListAccountsBetween returns snapshots for marketID within [start, end).
// An empty marketID matches every market.
func (j *SQLite) ListAccountsBetween(marketID string, start, end time.Time) ([]AccountSnapshot, error) {
	rows, err := j.db.Query(`
		SELECT `+accountColumns+`
		FROM accounts
		WHERE (? = '' OR market_id = ?) AND time >= ? AND time < ?
		ORDER BY time ASC, rowid ASC`, marketID, marketID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func collectTxs(rows *sql.Rows) ([]TxRecord, error) {
	defer rows.Close()

	var out []TxRecord
	for rows.Next() {
		rec, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func collectAccounts(rows *sql.Rows) ([]AccountSnapshot, error) {
	defer rows.Close()

	var out []AccountSnapshot
	for rows.Next() {
		var s AccountSnapshot
		if err := rows.Scan(
			&s.Time,
			&s.MarketID,
			&s.Source,
			&s.AssetsUSD,
			&s.DebtsUSD,
			&s.Ratio,
			&s.Status,
			&s.Liquidatable,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
