package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/margin/alerts"
	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/broker/relayer"
	"github.com/rustyeddy/margin/config"
	"github.com/rustyeddy/margin/journal"
	"github.com/rustyeddy/margin/margin"
	"github.com/rustyeddy/margin/market"
	"github.com/rustyeddy/margin/wallet"
)

// app is everything a command needs, wired from one config.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	catalog *market.StaticCatalog
	gw      broker.Gateway
	signer  broker.Signer
	journal journal.Journal
	reg     *prometheus.Registry
	metrics *margin.Metrics
	store   *margin.Store
	alerts  *alerts.Queue
	engine  *margin.Engine
}

type appDeps struct {
	gw     broker.Gateway
	signer broker.Signer
	log    *logrus.Logger
	alerts []alerts.Option
}

func newApp(cfg *config.Config, deps appDeps) (*app, error) {
	log := deps.log
	if log == nil {
		l, err := cfg.Logger()
		if err != nil {
			return nil, err
		}
		log = l
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	j, err := cfg.OpenJournal()
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		catalog: cat,
		gw:      deps.gw,
		signer:  deps.signer,
		journal: j,
		reg:     prometheus.NewRegistry(),
	}
	if a.gw == nil {
		a.gw = relayer.New(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.RateLimit, log)
	}
	if a.signer == nil && cfg.Signer.URL != "" {
		a.signer = wallet.New(cfg.Signer.URL, log)
	}
	a.metrics = margin.NewMetrics(a.reg)

	opts := []margin.StoreOption{
		margin.WithCatalog(cat),
		margin.WithStoreLogger(log),
		margin.WithStoreMetrics(a.metrics),
	}
	if j != nil {
		opts = append(opts, margin.WithJournal(j))
	}
	a.store = margin.NewStore(a.gw, opts...)
	a.alerts = alerts.New(deps.alerts...)

	ecfg := margin.EngineConfig{
		Gateway: a.gw,
		Signer:  a.signer,
		Store:   a.store,
		Alerts:  a.alerts,
		Metrics: a.metrics,
		Log:     log,
	}
	if j != nil {
		ecfg.Journal = j
	}
	a.engine = margin.NewEngine(ecfg)
	return a, nil
}

func loadApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, appDeps{})
}

func (a *app) Close() {
	a.alerts.Close()
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.WithError(err).Warn("close journal")
		}
	}
}

// session resolves the wallet address from config, then the signing agent.
// Without either the session has no identity; account scoped calls will
// report that.
func (a *app) session(ctx context.Context) margin.Session {
	sess := margin.Session{Address: a.cfg.Session.Address, MarketID: a.cfg.Session.Market}
	if sess.HasIdentity() || a.signer == nil {
		return sess
	}
	addr, err := a.signer.Address(ctx)
	if err != nil {
		a.log.WithError(err).Warn("signing agent has no address")
		return sess
	}
	sess.Address = addr
	return sess
}

func (a *app) market() (market.Market, error) {
	m, ok := a.catalog.Market(a.cfg.Session.Market)
	if !ok {
		return market.Market{}, fmt.Errorf("unknown market %s", a.cfg.Session.Market)
	}
	return m, nil
}
