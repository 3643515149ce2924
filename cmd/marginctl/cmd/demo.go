package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/margin/alerts"
	"github.com/rustyeddy/margin/broker/sim"
	"github.com/rustyeddy/margin/config"
	"github.com/rustyeddy/margin/margin"
	"github.com/rustyeddy/margin/market"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through a leveraged trade against an in-process venue",
	Long: `Start a simulated relayer venue on a local port and drive it with the
same client stack the other commands use.

The demo:
  1. Deposits DAI collateral
  2. Opens a 2x long on ETH-DAI
  3. Moves the ETH price down through the warning and critical
     thresholds and back up, printing the margin alerts the venue pushes
  4. Closes the position

With --prices the price moves come from a CSV script instead (see
"time,symbol,price[,event,arg1,arg2]" rows; events FUND, LIQUIDATE and
FAIL). The position is opened before the script starts.

With --db the workflows and account snapshots are journaled to SQLite and
can be read back with "marginctl journal".`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

var (
	demoDBPath string
	demoPrices string
	demoPause  time.Duration
)

// demoScript walks ETH through the warning and critical thresholds of a
// 2x long opened at 2000 and back.
const demoScript = `time,symbol,price
2026-01-05T14:00:00Z,ETH,1400
2026-01-05T14:05:00Z,ETH,1050
2026-01-05T14:10:00Z,ETH,900
2026-01-05T14:15:00Z,ETH,1500
`

const demoUser = "0x00000000000000000000000000000000000de111"

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().StringVar(&demoDBPath, "db", "", "journal to this SQLite file")
	demoCmd.Flags().StringVar(&demoPrices, "prices", "", "CSV price script to replay after opening (.csv or .csv.xz)")
	demoCmd.Flags().DurationVar(&demoPause, "pause", 0, "pause between steps")
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg := config.Default()
	cfg.Session.Address = demoUser
	cfg.Signer.URL = ""
	cfg.Journal = config.JournalConfig{Type: "none"}
	if demoDBPath != "" {
		cfg.Journal = config.JournalConfig{Type: "sqlite", DBPath: demoDBPath}
	}
	cfg.Log.Level = "warn"
	if flagLevel != "" {
		cfg.Log.Level = flagLevel
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	m, ok := cat.Market(cfg.Session.Market)
	if !ok {
		return fmt.Errorf("unknown market %s", cfg.Session.Market)
	}

	venue := sim.NewVenue(demoUser, cat,
		sim.WithLogger(log),
		sim.WithPrices(map[string]market.Amount{
			m.BaseSymbol:  market.MustAmount("2000"),
			m.QuoteSymbol: market.MustAmount("1"),
		}),
	)
	venue.Fund(m.QuoteSymbol, market.MustAmount("10000"))

	const token = "demo"
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{Handler: sim.NewServer(venue, token, log).Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("demo venue")
		}
	}()
	defer srv.Close()

	base := "http://" + ln.Addr().String()
	cfg.Gateway = config.GatewayConfig{URL: base, Token: token}
	cfg.Push = config.PushConfig{URL: "ws://" + ln.Addr().String() + "/ws"}
	fmt.Printf("Venue listening on %s\n\n", base)

	var printer alertPrinter
	a, err := newApp(cfg, appDeps{
		signer: sim.NewWallet(demoUser),
		log:    log,
		alerts: []alerts.Option{alerts.WithOnChange(printer.onChange)},
	})
	if err != nil {
		return err
	}
	defer a.Close()
	sess := a.session(ctx)

	var handled atomic.Int64
	d := margin.NewDispatcher(sess, a.store, a.alerts, log, a.metrics)
	handle := frameHandler(d)
	go follow(ctx, log, streamFor(cfg, sess.Address, log), func(frame []byte) error {
		defer handled.Add(1)
		return handle(frame)
	}, time.Second)
	if !waitUntil(ctx, 2*time.Second, func() bool { return venue.Subscribers() > 0 }) {
		return errors.New("push channel did not connect")
	}

	step := func(title string) {
		if demoPause > 0 {
			time.Sleep(demoPause)
		}
		fmt.Printf("\n== %s\n", title)
	}
	start := func(req margin.Request) error {
		req.MarketID = m.ID
		req.Origin = "demo"
		wf, err := a.engine.Start(ctx, sess, req)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s %s\n", wf.Kind, wf.TxHash)
		return nil
	}
	showRatio := func() {
		if acct, ok := a.store.Account(m.ID); ok {
			fmt.Printf("  ratio %s, assets $%s, debts $%s\n",
				acct.CollateralRatio().Format(4),
				market.FormatAmount(acct.AssetsTotalUSDValue, 2),
				market.FormatAmount(acct.DebtsTotalUSDValue, 2))
		}
		for _, au := range a.store.AllActiveAuctions() {
			fmt.Printf("  auction %s open in %s\n", au.AuctionID, au.MarketID)
		}
	}

	step("Deposit 5000 " + m.QuoteSymbol)
	if err := start(margin.Request{Kind: margin.Deposit, AssetAddress: m.QuoteAddress, Amount: "5000"}); err != nil {
		return err
	}
	showRatio()

	step("Open long 4 " + m.BaseSymbol + " @ 2000, 2x")
	if _, err := fetchParams(ctx, a); err != nil {
		return err
	}
	proj, err := projectTrade(ctx, a, market.Long, "4", "2000", "2", "")
	if err != nil {
		return err
	}
	printProjection(proj)
	if err := start(margin.Request{
		Kind: margin.OpenPosition, Side: market.Long,
		Amount: "4", Price: "2000", Leverage: "2",
		CollateralSymbol: m.QuoteSymbol, CollateralAmount: "0",
	}); err != nil {
		return err
	}
	showRatio()

	var script io.Reader = strings.NewReader(demoScript)
	if demoPrices != "" {
		f, err := sim.OpenScript(demoPrices)
		if err != nil {
			return fmt.Errorf("prices: %w", err)
		}
		defer f.Close()
		script = f
	}
	_, err = sim.Replay(ctx, script, venue, sim.ReplayOptions{
		After: func(row sim.ReplayRow) error {
			if row.Symbol != "" {
				step(fmt.Sprintf("%s moves to %s", row.Symbol, row.Price.String()))
			}
			if row.Event != "" {
				step(strings.TrimSpace(row.Event + " " + strings.Join(row.Args, " ")))
			}
			// Let the push channel catch up before printing.
			waitUntil(ctx, time.Second, func() bool { return int(handled.Load()) >= venue.Published() })
			showRatio()
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	step("Close")
	if err := start(margin.Request{Kind: margin.ClosePosition}); err != nil {
		return err
	}
	showRatio()
	fmt.Printf("  wallet %s %s\n", venue.WalletBalance(m.QuoteSymbol).String(), m.QuoteSymbol)
	if demoDBPath != "" {
		fmt.Printf("\nJournal written to %s\n", demoDBPath)
	}
	return nil
}

func waitUntil(ctx context.Context, limit time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
	return cond()
}
