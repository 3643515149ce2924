package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/margin/journal"
	"github.com/rustyeddy/margin/market"
)

// TokenEnv overrides gateway.token when set.
const TokenEnv = "MARGIN_AUTH_TOKEN"

// Config is the complete marginctl configuration.
type Config struct {
	Gateway GatewayConfig  `json:"gateway" yaml:"gateway"`
	Push    PushConfig     `json:"push" yaml:"push"`
	Signer  SignerConfig   `json:"signer" yaml:"signer"`
	Session SessionConfig  `json:"session" yaml:"session"`
	Markets []MarketConfig `json:"markets" yaml:"markets"`
	Journal JournalConfig  `json:"journal" yaml:"journal"`
	Log     LogConfig      `json:"log" yaml:"log"`
	Metrics MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// GatewayConfig is the venue's REST API.
type GatewayConfig struct {
	URL       string  `json:"url" yaml:"url"`
	Token     string  `json:"token,omitempty" yaml:"token,omitempty"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"` // requests per second, 0 = unlimited
}

// PushConfig is the websocket push channel.
type PushConfig struct {
	URL string `json:"url" yaml:"url"`
}

// SignerConfig points at the signing agent's JSON-RPC endpoint.
type SignerConfig struct {
	URL string `json:"url" yaml:"url"`
}

type SessionConfig struct {
	Address string `json:"address" yaml:"address"`
	Market  string `json:"market" yaml:"market"`
}

// MarketConfig seeds the market catalog. Rates are decimal strings.
type MarketConfig struct {
	ID            string `json:"id" yaml:"id"`
	Base          string `json:"base" yaml:"base"`
	Quote         string `json:"quote" yaml:"quote"`
	BaseAddress   string `json:"base_address" yaml:"base_address"`
	QuoteAddress  string `json:"quote_address" yaml:"quote_address"`
	BaseDecimals  int32  `json:"base_decimals" yaml:"base_decimals"`
	QuoteDecimals int32  `json:"quote_decimals" yaml:"quote_decimals"`
	LiquidateRate string `json:"liquidate_rate" yaml:"liquidate_rate"`
	MaxLeverage   string `json:"max_leverage,omitempty" yaml:"max_leverage,omitempty"`
	BorrowEnable  bool   `json:"borrow_enable" yaml:"borrow_enable"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type        string `json:"type" yaml:"type"` // "csv", "sqlite", "postgres" or "none"
	TxFile      string `json:"tx_file,omitempty" yaml:"tx_file,omitempty"`
	AccountFile string `json:"account_file,omitempty" yaml:"account_file,omitempty"`
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DSN         string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
// and applies the environment token override.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv copies MARGIN_AUTH_TOKEN into the gateway token.
func (c *Config) ApplyEnv() {
	if tok := strings.TrimSpace(os.Getenv(TokenEnv)); tok != "" {
		c.Gateway.Token = tok
	}
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := checkURL("gateway.url", c.Gateway.URL, "http", "https"); err != nil {
		return err
	}
	if c.Push.URL != "" {
		if err := checkURL("push.url", c.Push.URL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Signer.URL != "" {
		if err := checkURL("signer.url", c.Signer.URL, "http", "https"); err != nil {
			return err
		}
	}
	if c.Gateway.RateLimit < 0 {
		return fmt.Errorf("gateway.rate_limit must not be negative")
	}

	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.ID == "" || m.Base == "" || m.Quote == "" {
			return fmt.Errorf("markets[%d]: id, base and quote are required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("markets[%d]: duplicate market %s", i, m.ID)
		}
		seen[m.ID] = true
		if _, err := m.Market(); err != nil {
			return fmt.Errorf("markets[%d]: %w", i, err)
		}
	}
	if c.Session.Market != "" && len(c.Markets) > 0 && !seen[c.Session.Market] {
		return fmt.Errorf("session.market %s is not in markets", c.Session.Market)
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.TxFile == "" || c.Journal.AccountFile == "" {
			return fmt.Errorf("journal tx_file and account_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal dsn required for Postgres type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite', 'postgres' or 'none'")
	}

	if _, err := logrus.ParseLevel(c.logLevel()); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL, got %q", field, strings.Join(schemes, "/"), raw)
}

// Market converts the entry to catalog metadata.
func (m MarketConfig) Market() (market.Market, error) {
	out := market.Market{
		ID:            m.ID,
		BaseSymbol:    m.Base,
		QuoteSymbol:   m.Quote,
		BaseAddress:   m.BaseAddress,
		QuoteAddress:  m.QuoteAddress,
		BaseDecimals:  m.BaseDecimals,
		QuoteDecimals: m.QuoteDecimals,
		BorrowEnable:  m.BorrowEnable,
	}
	if m.LiquidateRate != "" {
		r, err := market.ParsePositiveAmount(m.LiquidateRate)
		if err != nil {
			return market.Market{}, fmt.Errorf("liquidate_rate: %w", err)
		}
		out.LiquidateRate = r
	}
	if m.MaxLeverage != "" {
		l, err := market.ParsePositiveAmount(m.MaxLeverage)
		if err != nil {
			return market.Market{}, fmt.Errorf("max_leverage: %w", err)
		}
		out.MaxLeverage = l
	}
	return out, nil
}

// Catalog builds the static market catalog.
func (c *Config) Catalog() (*market.StaticCatalog, error) {
	ms := make([]market.Market, 0, len(c.Markets))
	for _, mc := range c.Markets {
		m, err := mc.Market()
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", mc.ID, err)
		}
		ms = append(ms, m)
	}
	return market.NewStaticCatalog(ms...), nil
}

func (c *Config) logLevel() string {
	if c.Log.Level == "" {
		return "info"
	}
	return c.Log.Level
}

// Logger returns a logrus logger set up from the log section.
func (c *Config) Logger() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(c.logLevel())
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetLevel(lvl)
	l.SetOutput(os.Stderr)
	if c.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}

// OpenJournal opens the configured journal. It returns nil for "none".
// A SQL journal with both CSV paths set also mirrors to CSV.
func (c *Config) OpenJournal() (journal.Journal, error) {
	jc := c.Journal
	var primary journal.Journal
	switch jc.Type {
	case "csv":
		j, err := journal.NewCSV(jc.TxFile, jc.AccountFile)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "sqlite":
		j, err := journal.NewSQLite(jc.DBPath)
		if err != nil {
			return nil, err
		}
		primary = j
	case "postgres":
		j, err := journal.NewPostgres(jc.DSN)
		if err != nil {
			return nil, err
		}
		primary = j
	default:
		return nil, nil
	}

	if jc.TxFile == "" || jc.AccountFile == "" {
		return primary, nil
	}
	mirror, err := journal.NewCSV(jc.TxFile, jc.AccountFile)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("csv mirror: %w", err)
	}
	return journal.Multi(primary, mirror), nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:       "http://localhost:3001/api",
			RateLimit: 5,
		},
		Push: PushConfig{
			URL: "ws://localhost:3002/ws",
		},
		Signer: SignerConfig{
			URL: "http://localhost:8545",
		},
		Session: SessionConfig{
			Market: "ETH-DAI",
		},
		Markets: []MarketConfig{{
			ID:            "ETH-DAI",
			Base:          "ETH",
			Quote:         "DAI",
			BaseAddress:   "0x000000000000000000000000000000000000000e",
			QuoteAddress:  "0x000000000000000000000000000000000000000d",
			BaseDecimals:  18,
			QuoteDecimals: 18,
			LiquidateRate: "1.1",
			MaxLeverage:   "3",
			BorrowEnable:  true,
		}},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./margin.sqlite",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
