package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/margin/alerts"
	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/broker/relayer"
	"github.com/rustyeddy/margin/config"
	"github.com/rustyeddy/margin/margin"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow account updates and margin alerts on the push channel",
	Long: `Subscribe to the push channel for the session address, merge account
updates into the local view and print margin alerts as they arrive.
The connection is re-established until interrupted.

With --metrics-addr the workflow, push and fetch counters are served
at /metrics.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchMetricsAddr string
	watchRedial      time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default: metrics.addr)")
	watchCmd.Flags().DurationVar(&watchRedial, "redial", 5*time.Second, "minimum time between reconnects")
}

// alertPrinter prints every alert once, as the queue changes.
type alertPrinter struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (p *alertPrinter) onChange(list []alerts.Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = make(map[string]bool)
	}
	for _, a := range list {
		if p.seen[a.ID] {
			continue
		}
		p.seen[a.ID] = true
		fmt.Println(a.CreatedAt.Format("15:04:05") + " " + alertLine(a))
	}
}

// alertLine renders "[level] title: message tx hash".
func alertLine(a alerts.Alert) string {
	line := fmt.Sprintf("[%s] ", a.Level)
	if a.Title != "" {
		line += a.Title + ": "
	}
	line += a.Message
	if a.TxHash != "" {
		line += " tx " + a.TxHash
	}
	return line
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Push.URL == "" {
		return errors.New("push.url is not configured")
	}
	var printer alertPrinter
	a, err := newApp(cfg, appDeps{alerts: []alerts.Option{alerts.WithOnChange(printer.onChange)}})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	sess := a.session(ctx)
	if !sess.HasIdentity() {
		return fmt.Errorf("watch: %w", broker.ErrMissingIdentity)
	}

	addr := watchMetricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		stop := serveMetrics(a, addr)
		defer stop()
	}

	if err := a.store.RefreshAll(ctx, sess, sess.MarketID); err != nil {
		a.log.WithError(err).Warn("initial refresh incomplete")
	}
	if acct, ok := a.store.Account(sess.MarketID); ok {
		printAccount(acct)
	}

	d := margin.NewDispatcher(sess, a.store, a.alerts, a.log, a.metrics)
	return follow(ctx, a.log, streamFor(cfg, sess.Address, a.log), frameHandler(d), watchRedial)
}

func streamFor(cfg *config.Config, address string, log *logrus.Logger) *relayer.Stream {
	return &relayer.Stream{
		URL:     cfg.Push.URL,
		Address: address,
		Token:   cfg.Gateway.Token,
		Log:     log,
	}
}

// follow runs s until ctx is done, redialing at most once per redial.
func follow(ctx context.Context, log *logrus.Logger, s *relayer.Stream, handle func([]byte) error, redial time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(redial), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		err := s.Run(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warn("push channel lost, reconnecting")
	}
}

// frameHandler feeds frames to d. Events for other addresses are skipped
// quietly.
func frameHandler(d *margin.Dispatcher) func([]byte) error {
	return func(frame []byte) error {
		err := d.HandleFrame(frame)
		if errors.Is(err, margin.ErrForeignEvent) {
			return nil
		}
		return err
	}
}

func serveMetrics(a *app, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("metrics server")
		}
	}()
	a.log.WithField("addr", addr).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
