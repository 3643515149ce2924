package sim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/market"
)

func TestReplayDrivesMonitor(t *testing.T) {
	v, w := newTestVenue(t)
	ctx := context.Background()
	deposit(t, v, w, "0xdai", "1000")
	res, err := v.OpenMarginPosition(ctx, broker.OpenPositionRequest{
		MarketID: ethDai, Side: market.Long, Amount: d("20"), Price: d("100"), Leverage: d("2"),
		CollateralAssetSymbol: "DAI", CollateralAmount: d("0"),
	})
	execute(t, v, w, res, err)

	var frames frameLog
	defer v.Subscribe(frames.add)()

	script := `time,symbol,price,event,arg1,arg2
# long 20 ETH on 1000 borrowed DAI
2026-03-01T12:00:00Z,ETH,80
2026-03-01T12:00:05Z,ETH,60
2026-03-01T12:00:10Z,ETH,57
2026-03-01T12:00:15Z,ETH,50,LIQUIDATE,ETH-DAI
`
	var seen []string
	n, err := Replay(ctx, strings.NewReader(script), v, ReplayOptions{
		After: func(r ReplayRow) error {
			seen = append(seen, r.Price.String())
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"80", "60", "57", "50"}, seen)

	got := frames.alerts()
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, "WARNING", got[0].Level)
	assert.Equal(t, "CRITICAL", got[1].Level)

	acct, err := v.GetAccountDetails(ctx, ethDai, user)
	require.NoError(t, err)
	assert.Equal(t, "Liquidated", acct.Status)
	assert.Equal(t, "50", v.Price("ETH").String())
}

func TestReplayEvents(t *testing.T) {
	v, w := newTestVenue(t)
	ctx := context.Background()

	script := "2026-03-01T12:00:00Z,,,fund,DAI,250\n" +
		"2026-03-01T12:00:01Z,,,FAIL,broadcast,replacement underpriced\n"
	n, err := Replay(ctx, strings.NewReader(script), v, ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "1250", v.WalletBalance("DAI").String())

	res, err := v.DepositCollateral(ctx, broker.AssetRequest{MarketID: ethDai, AssetAddress: "0xdai", Amount: d("10")})
	require.NoError(t, err)
	raw, err := w.SignTransaction(ctx, *res.Unsigned)
	require.NoError(t, err)
	_, err = v.BroadcastTransaction(ctx, raw)
	requireDesc(t, err, "replacement underpriced")
}

func TestReplayErrors(t *testing.T) {
	cases := map[string]string{
		"short row":     "2026-03-01T12:00:00Z,ETH\n",
		"bad time":      "yesterday,ETH,100\n",
		"bad price":     "2026-03-01T12:00:00Z,ETH,-5\n",
		"missing price": "2026-03-01T12:00:00Z,ETH,\n",
		"empty row":     "2026-03-01T12:00:00Z,,\n",
		"unknown event": "2026-03-01T12:00:00Z,ETH,100,SPLIT\n",
		"not liquid":    "2026-03-01T12:00:00Z,,,LIQUIDATE,ETH-DAI\n",
	}
	for name, script := range cases {
		t.Run(name, func(t *testing.T) {
			v, _ := newTestVenue(t)
			n, err := Replay(context.Background(), strings.NewReader(script), v, ReplayOptions{})
			assert.Error(t, err)
			assert.Zero(t, n)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestReplayStopsOnCallbackError(t *testing.T) {
	v, _ := newTestVenue(t)
	stop := errors.New("stop")
	script := "2026-03-01T12:00:00Z,ETH,90\n2026-03-01T12:00:01Z,ETH,80\n"
	n, err := Replay(context.Background(), strings.NewReader(script), v, ReplayOptions{
		After: func(ReplayRow) error { return stop },
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
	assert.Equal(t, "90", v.Price("ETH").String())
}

func TestReplayEventFirst(t *testing.T) {
	v, _ := newTestVenue(t)
	// a bad event stops the row before its price only with EventFirst
	script := "2026-03-01T12:00:00Z,ETH,90,BOGUS\n"
	_, err := Replay(context.Background(), strings.NewReader(script), v, ReplayOptions{EventFirst: true})
	require.Error(t, err)
	assert.Equal(t, "100", v.Price("ETH").String())

	_, err = Replay(context.Background(), strings.NewReader(script), v, ReplayOptions{})
	require.Error(t, err)
	assert.Equal(t, "90", v.Price("ETH").String())
}

func TestOpenScriptXZ(t *testing.T) {
	dir := t.TempDir()
	script := "time,symbol,price\n2026-03-01T12:00:00Z,ETH,95\n"

	plain := filepath.Join(dir, "prices.csv")
	require.NoError(t, os.WriteFile(plain, []byte(script), 0o644))

	packed := filepath.Join(dir, "prices.csv.xz")
	f, err := os.Create(packed)
	require.NoError(t, err)
	zw, err := xz.NewWriter(f)
	require.NoError(t, err)
	_, err = zw.Write([]byte(script))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	for _, path := range []string{plain, packed} {
		v, _ := newTestVenue(t)
		r, err := OpenScript(path)
		require.NoError(t, err)
		n, err := Replay(context.Background(), r, v, ReplayOptions{})
		require.NoError(t, r.Close())
		require.NoError(t, err, path)
		assert.Equal(t, 1, n)
		assert.Equal(t, "95", v.Price("ETH").String())
	}

	_, err = OpenScript(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.xz"), []byte("not xz"), 0o644))
	_, err = OpenScript(filepath.Join(dir, "junk.xz"))
	assert.Error(t, err)
}
