package sim

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/rustyeddy/margin/market"
)

// ReplayRow is one applied line of a price script.
type ReplayRow struct {
	Time   time.Time
	Symbol string
	Price  market.Amount
	Event  string
	Args   []string
}

// ReplayOptions controls Replay.
type ReplayOptions struct {
	// EventFirst applies the row's event before its price.
	EventFirst bool
	// After runs once each row is applied. An error stops the replay.
	After func(ReplayRow) error
}

// Replay moves venue prices from a CSV script and applies scripted events.
//
// Rows are
//
//	time,symbol,price[,event,arg1,arg2]
//
// where time is RFC 3339 and an optional header starts with "time". The
// price columns may be empty on event-only rows.
//
// Events (case-insensitive):
//
//	FUND:      arg1=symbol arg2=amount
//	LIQUIDATE: arg1=market
//	FAIL:      arg1=operation arg2=message   (fails the next call of it)
//
// Replay returns the number of rows applied.
func Replay(ctx context.Context, r io.Reader, v *Venue, opts ReplayOptions) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	n := 0
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}

		row, err := parseReplayRow(rec)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if err := v.applyReplayRow(row, opts.EventFirst); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
		if opts.After != nil {
			if err := opts.After(row); err != nil {
				return n, err
			}
		}
	}
}

// OpenScript opens a price script for Replay. Files ending in .xz are
// decompressed.
func OpenScript(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".xz") {
		return f, nil
	}
	zr, err := xz.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{zr, f}, nil
}

func parseReplayRow(rec []string) (ReplayRow, error) {
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	if len(rec) < 3 {
		return ReplayRow{}, fmt.Errorf("need at least time,symbol,price: %v", rec)
	}

	var row ReplayRow
	t, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return row, fmt.Errorf("bad time %q: %w", rec[0], err)
	}
	row.Time = t
	row.Symbol = rec[1]
	if rec[2] != "" {
		px, err := market.ParsePositiveAmount(rec[2])
		if err != nil {
			return row, fmt.Errorf("bad price %q: %w", rec[2], err)
		}
		row.Price = px
	}
	if len(rec) > 3 {
		row.Event = strings.ToUpper(rec[3])
		row.Args = rec[4:]
	}
	if row.Symbol == "" && row.Event == "" {
		return row, errors.New("row has neither a price nor an event")
	}
	if row.Symbol != "" && row.Price.IsZero() {
		return row, fmt.Errorf("%s has no price", row.Symbol)
	}
	return row, nil
}

func (v *Venue) applyReplayRow(row ReplayRow, eventFirst bool) error {
	price := func() error {
		if row.Symbol == "" {
			return nil
		}
		return v.SetPrice(row.Symbol, row.Price)
	}
	event := func() error {
		if row.Event == "" {
			return nil
		}
		return v.replayEvent(row.Event, row.Args)
	}
	if eventFirst {
		if err := event(); err != nil {
			return err
		}
		return price()
	}
	if err := price(); err != nil {
		return err
	}
	return event()
}

func (v *Venue) replayEvent(event string, args []string) error {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch event {
	case "FUND":
		// FUND,DAI,1000
		if arg(0) == "" {
			return errors.New("FUND: missing symbol")
		}
		amt, err := market.ParsePositiveAmount(arg(1))
		if err != nil {
			return fmt.Errorf("FUND: %w", err)
		}
		v.Fund(arg(0), amt)
		return nil

	case "LIQUIDATE":
		// LIQUIDATE,ETH-DAI
		if arg(0) == "" {
			return errors.New("LIQUIDATE: missing market")
		}
		return v.Liquidate(arg(0))

	case "FAIL":
		// FAIL,broadcast,replacement underpriced
		if arg(0) == "" {
			return errors.New("FAIL: missing operation")
		}
		msg := arg(1)
		if msg == "" {
			msg = "scripted failure"
		}
		v.FailNext(arg(0), fail("%s", msg))
		return nil

	default:
		return fmt.Errorf("unknown event %q", event)
	}
}
