package journal

// Amounts are stored as TEXT so decimals round-trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS txs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	market_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	status TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	error TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_txs_finished ON txs(finished_at);

CREATE TABLE IF NOT EXISTS accounts (
	time DATETIME NOT NULL,
	market_id TEXT NOT NULL,
	source TEXT NOT NULL,
	assets_usd TEXT NOT NULL,
	debts_usd TEXT NOT NULL,
	ratio TEXT NOT NULL,
	status TEXT NOT NULL,
	liquidatable INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_market_time ON accounts(market_id, time);
`
