package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiver/internal/bus"
	"quiver/internal/event"
	"quiver/internal/market"
)

func replayCandles(start int64, closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := start + int64(i)*1000
		out[i] = market.Candle{OpenTime: open, CloseTime: open + 999, Open: c - 0.5, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

func TestReplay_PublishesInTimeThenSymbolOrder(t *testing.T) {
	eb := bus.New()
	var seen []string
	eb.Subscribe("probe", func(_ context.Context, ev event.Event) {
		seen = append(seen, ev.Market.Symbol)
	}, event.KindMarket)

	data := map[string][]market.Candle{
		"ZZZ": replayCandles(1000, 10, 11),
		"AAA": replayCandles(1000, 20, 21),
	}
	f, err := NewReplay(eb, data)
	require.NoError(t, err)
	require.NoError(t, f.Run(context.Background()))

	// 同一时间戳内 symbol 升序，跨时间戳严格递增。
	assert.Equal(t, []string{"AAA", "ZZZ", "AAA", "ZZZ"}, seen)
}

func TestReplay_EmitsStartAndEndMarkers(t *testing.T) {
	eb := bus.New()
	var kinds []event.Kind
	eb.Subscribe("probe", func(_ context.Context, ev event.Event) {
		kinds = append(kinds, ev.Kind)
	}, event.KindBacktestStart, event.KindBacktestEnd, event.KindMarket)

	f, err := NewReplay(eb, map[string][]market.Candle{"AAA": replayCandles(1000, 10)})
	require.NoError(t, err)
	require.NoError(t, f.Run(context.Background()))

	require.Len(t, kinds, 3)
	assert.Equal(t, event.KindBacktestStart, kinds[0])
	assert.Equal(t, event.KindMarket, kinds[1])
	assert.Equal(t, event.KindBacktestEnd, kinds[2])
}

func TestReplay_HistoryWindowCompleteAtFirstEventOfTick(t *testing.T) {
	eb := bus.New()
	f, err := NewReplay(eb, map[string][]market.Candle{
		"AAA": replayCandles(1000, 10, 11, 12),
		"BBB": replayCandles(1000, 20, 21, 22),
	})
	require.NoError(t, err)

	var histLens []int
	eb.Subscribe("probe", func(_ context.Context, ev event.Event) {
		if ev.Market.Symbol != "AAA" {
			return
		}
		// 同 tick 内任何订阅者看到的历史窗口都已包含本根 K 线。
		histLens = append(histLens, len(f.History("AAA", 10)))
	}, event.KindMarket)

	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, []int{1, 2, 3}, histLens)
}

func TestReplay_EmptyDataRejected(t *testing.T) {
	_, err := NewReplay(bus.New(), map[string][]market.Candle{})
	assert.Error(t, err)
}

func TestReplay_SpanCoversAllBars(t *testing.T) {
	f, err := NewReplay(bus.New(), map[string][]market.Candle{"AAA": replayCandles(5000, 1, 2, 3)})
	require.NoError(t, err)
	start, end := f.Span()
	assert.Equal(t, time.UnixMilli(5000).UTC(), start.UTC())
	assert.Equal(t, time.UnixMilli(7000).UTC(), end.UTC())
}

func TestBinanceSource_FetchParsesKlineRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			[1000, "100.0", "105.0", "99.0", "104.0", "12.5", 1999],
			[2000, "104.0", "110.0", "103.0", "108.0", "8.0", 2999]
		]`))
	}))
	defer srv.Close()

	src := NewBinanceSource(srv.URL, 600)
	got, err := src.Fetch(context.Background(), FetchRequest{Symbol: "BTCUSDT", Interval: "1d", Start: 1000, End: 3000})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].OpenTime)
	assert.Equal(t, 104.0, got[0].Close)
	assert.Equal(t, 12.5, got[0].Volume)
	assert.Equal(t, int64(2999), got[1].CloseTime)
}

func TestBinanceSource_FetchRejectsNonArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	src := NewBinanceSource(srv.URL, 600)
	_, err := src.Fetch(context.Background(), FetchRequest{Symbol: "NOPE", Interval: "1d"})
	assert.Error(t, err)
}
