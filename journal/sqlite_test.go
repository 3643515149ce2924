package journal

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/margin/market"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('txs','accounts')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["txs"])
	assert.True(t, found["accounts"])
}

func TestSQLiteTxRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := TxRecord{
		ID:         "01HZZZ",
		Kind:       "deposit",
		MarketID:   "ETH-DAI",
		Amount:     market.MustAmount("10.000000000000000001"),
		Status:     "completed",
		TxHash:     "0xhash1",
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
	}
	require.NoError(t, j.RecordTx(rec))

	got, err := j.GetTx("01HZZZ")
	require.NoError(t, err)
	assert.Equal(t, "deposit", got.Kind)
	assert.True(t, rec.Amount.Equal(got.Amount), "amount %s", got.Amount)
	assert.Equal(t, "0xhash1", got.TxHash)
	assert.True(t, rec.FinishedAt.Equal(got.FinishedAt))

	_, err = j.GetTx("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteListTxBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, h := range []int{1, 5, 30} {
		require.NoError(t, j.RecordTx(TxRecord{
			ID:         string(rune('a' + i)),
			Kind:       "borrow",
			MarketID:   "ETH-DAI",
			Amount:     market.MustAmount("1"),
			Status:     "failed",
			Error:      "signing rejected by user",
			StartedAt:  day.Add(time.Duration(h) * time.Hour),
			FinishedAt: day.Add(time.Duration(h) * time.Hour),
		}))
	}

	got, err := j.ListTxBetween(day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "signing rejected by user", got[1].Error)
}

func TestSQLiteAccounts(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	snaps := []AccountSnapshot{
		{Time: at, MarketID: "ETH-DAI", Source: "fetch", AssetsUSD: market.MustAmount("150"), DebtsUSD: market.MustAmount("100"), Ratio: "1.5", Status: "Normal"},
		{Time: at.Add(time.Minute), MarketID: "ETH-DAI", Source: "push", AssetsUSD: market.MustAmount("90"), DebtsUSD: market.MustAmount("100"), Ratio: "0.9", Status: "MarginCall", Liquidatable: true},
		{Time: at.Add(time.Minute), MarketID: "BTC-DAI", Source: "fetch", Ratio: "N/A"},
	}
	for _, s := range snaps {
		require.NoError(t, j.RecordAccount(s))
	}

	eth, err := j.ListAccountsBetween("ETH-DAI", at, at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, eth, 2)
	assert.Equal(t, "push", eth[1].Source)
	assert.True(t, eth[1].Liquidatable)
	assert.Equal(t, "90", eth[1].AssetsUSD.String())

	all, err := j.ListAccountsBetween("", at, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
