package margin

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// RefreshAll re-fetches everything shown for marketID: the account, the
// spendable balance of the base and quote assets, open positions and the
// market's loans. Fetches run concurrently and a failure never stops the
// others. The joined error is returned for logging only; each failure is
// already recorded on its scope.
func (s *Store) RefreshAll(ctx context.Context, sess Session, marketID string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(name string, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(); err != nil {
				s.log.WithFields(logrus.Fields{"market": marketID, "fetch": name}).
					WithError(err).Warn("refresh: fetch failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}

	run("account", func() error {
		_, err := s.FetchAccount(ctx, sess, marketID)
		return err
	})
	for _, sym := range s.symbols(marketID) {
		sym := sym
		run("spendable "+sym, func() error {
			_, err := s.FetchSpendableBalance(ctx, sess, marketID, sym)
			return err
		})
	}
	run("positions", func() error {
		_, err := s.FetchOpenPositions(ctx, sess)
		return err
	})
	run("loans", func() error {
		_, err := s.FetchLoans(ctx, sess, marketID)
		return err
	})

	wg.Wait()
	return errors.Join(errs...)
}

// symbols are the base and quote of marketID, from the catalog or, failing
// that, the stored account.
func (s *Store) symbols(marketID string) []string {
	if s.catalog != nil {
		if m, ok := s.catalog.Market(marketID); ok {
			return m.Symbols()
		}
	}
	a, ok := s.Account(marketID)
	if !ok {
		return nil
	}
	var out []string
	for _, sym := range []string{a.BaseAssetDetails.Symbol, a.QuoteAssetDetails.Symbol} {
		if sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
