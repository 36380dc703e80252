package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiver/internal/event"
	"quiver/internal/market"
)

type fakeHistory struct {
	closes map[string][]float64
}

func (f *fakeHistory) History(symbol string, periods int) []market.Candle {
	series := f.closes[symbol]
	if len(series) > periods {
		series = series[len(series)-periods:]
	}
	out := make([]market.Candle, len(series))
	for i, c := range series {
		out[i] = market.Candle{OpenTime: int64(i), Close: c}
	}
	return out
}

type fakePositions struct {
	qty map[string]int64
}

func (f *fakePositions) PositionQuantity(symbol string) int64 { return f.qty[symbol] }

func TestMomentum_PicksTopKAndFlattensRest(t *testing.T) {
	history := &fakeHistory{closes: map[string][]float64{
		"AAA": {100, 100, 100, 110}, // 动量 +10
		"BBB": {100, 100, 100, 105}, // 动量 +5
		"CCC": {100, 100, 100, 95},  // 动量 -5
	}}
	positions := &fakePositions{qty: map[string]int64{"CCC": 200}}

	strat, err := NewMomentum(MomentumConfig{
		Universe: []string{"AAA", "BBB", "CCC"},
		Lookback: 3,
		TopK:     2,
		Weight:   0.5,
	}, history, positions)
	require.NoError(t, err)

	signals := strat.OnMarket(market.Bar{Symbol: "AAA", Candle: market.Candle{OpenTime: 1000}})
	require.Len(t, signals, 3)

	bySymbol := map[string]event.Signal{}
	for _, s := range signals {
		bySymbol[s.Symbol] = s
	}
	assert.Equal(t, event.DirectionLong, bySymbol["AAA"].Direction)
	assert.Equal(t, 0.5, bySymbol["AAA"].Weight)
	assert.True(t, bySymbol["AAA"].HasWeight)
	assert.Equal(t, event.DirectionLong, bySymbol["BBB"].Direction)
	assert.Equal(t, event.DirectionFlat, bySymbol["CCC"].Direction)
}

func TestMomentum_SkipsSymbolsWithShortHistory(t *testing.T) {
	history := &fakeHistory{closes: map[string][]float64{
		"AAA": {100, 110},           // 不足 lookback+1
		"BBB": {100, 100, 100, 101}, // 动量 +1
	}}
	positions := &fakePositions{qty: map[string]int64{}}

	strat, err := NewMomentum(MomentumConfig{
		Universe: []string{"AAA", "BBB"},
		Lookback: 3,
		TopK:     1,
		Weight:   1,
	}, history, positions)
	require.NoError(t, err)

	signals := strat.OnMarket(market.Bar{Candle: market.Candle{OpenTime: 1}})
	require.Len(t, signals, 1)
	assert.Equal(t, "BBB", signals[0].Symbol)
	assert.Equal(t, event.DirectionLong, signals[0].Direction)
}

func TestMomentum_NoDuplicateSignalWhenAlreadyHeld(t *testing.T) {
	history := &fakeHistory{closes: map[string][]float64{
		"AAA": {100, 100, 100, 120},
	}}
	positions := &fakePositions{qty: map[string]int64{"AAA": 100}}

	strat, err := NewMomentum(MomentumConfig{
		Universe: []string{"AAA"},
		Lookback: 3,
		TopK:     1,
		Weight:   0.5,
	}, history, positions)
	require.NoError(t, err)

	signals := strat.OnMarket(market.Bar{Candle: market.Candle{OpenTime: 5}})
	assert.Empty(t, signals)
}

func TestMomentum_RebalancesOncePerTimestamp(t *testing.T) {
	history := &fakeHistory{closes: map[string][]float64{
		"AAA": {100, 100, 100, 110},
	}}
	positions := &fakePositions{qty: map[string]int64{}}

	strat, err := NewMomentum(MomentumConfig{
		Universe: []string{"AAA"},
		Lookback: 3,
		TopK:     1,
		Weight:   0.5,
	}, history, positions)
	require.NoError(t, err)

	first := strat.OnMarket(market.Bar{Symbol: "AAA", Candle: market.Candle{OpenTime: 1000}})
	require.Len(t, first, 1)
	again := strat.OnMarket(market.Bar{Symbol: "AAA", Candle: market.Candle{OpenTime: 1000}})
	assert.Empty(t, again)
}

func TestMomentumConfig_Validate(t *testing.T) {
	_, err := NewMomentum(MomentumConfig{}, &fakeHistory{}, &fakePositions{})
	assert.Error(t, err)

	_, err = NewMomentum(MomentumConfig{
		Universe: []string{"AAA"},
		Lookback: 3,
		TopK:     1,
		Weight:   1.5,
	}, &fakeHistory{}, &fakePositions{})
	assert.Error(t, err)
}
