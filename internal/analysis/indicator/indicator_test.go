package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parliament/internal/market"
)

// risingCandles 生成一段单边上行的合成 K 线。
func risingCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)*0.5
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      price - 0.2,
			High:      price + 0.3,
			Low:       price - 0.4,
			Close:     price,
			Volume:    1000,
		}
	}
	return out
}

func TestComputeRequiresEnoughCandles(t *testing.T) {
	_, err := Compute(risingCandles(10), "BTCUSDT", "1h")
	assert.Error(t, err)
}

func TestComputeOnRisingSeries(t *testing.T) {
	snap, err := Compute(risingCandles(250), "BTCUSDT", "1h")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, "1h", snap.Interval)
	assert.InDelta(t, 224.5, snap.Price, 1e-9)

	// 单边上行：RSI 打满、均线多头排列、量能持平
	assert.InDelta(t, 100, snap.RSI, 1e-6)
	require.NotNil(t, snap.MACD)
	require.NotNil(t, snap.Bollinger)
	assert.Len(t, snap.EMA, 4)
	assert.Greater(t, snap.EMA[9], snap.EMA[21])
	assert.Greater(t, snap.EMA[50], snap.EMA[200])
	assert.InDelta(t, 1.0, snap.VolumeRatio, 1e-6)
	assert.Greater(t, snap.ATR, 0.0)

	assert.Contains(t, snap.Signals, "短期 EMA > 中期 EMA（上升趋势）")
	assert.Contains(t, snap.Signals, "EMA50 > EMA200（长期多头）")
	assert.Contains(t, snap.Signals, "价格位于 EMA200 上方（偏强）")
	assert.Greater(t, snap.Score, 0.0)
	assert.LessOrEqual(t, snap.Score, 100.0)
}

func TestComputeMultiSkipsShortIntervals(t *testing.T) {
	mtf, err := ComputeMulti(map[string][]market.Candle{
		"15m": risingCandles(250),
		"1h":  risingCandles(5),
	}, "ETHUSDT")
	require.NoError(t, err)

	assert.Len(t, mtf.Snapshots, 1)
	assert.Contains(t, mtf.Snapshots, "15m")
	assert.NotEmpty(t, mtf.Recommendation)
}

func TestComputeMultiAllIntervalsEmpty(t *testing.T) {
	_, err := ComputeMulti(map[string][]market.Candle{
		"1h": risingCandles(3),
	}, "ETHUSDT")
	assert.Error(t, err)
}

func TestDetectSignalsMACDCross(t *testing.T) {
	base := &Snapshot{
		RSI:  50,
		MACD: &MACDValue{Histogram: 0.5, PrevHistogram: -0.2},
	}
	assert.Contains(t, detectSignals(base), "MACD 金叉")

	base.MACD = &MACDValue{Histogram: -0.5, PrevHistogram: 0.2}
	signals := detectSignals(base)
	assert.Contains(t, signals, "MACD 死叉")
	assert.Contains(t, signals, "MACD 空头动能增强")
}

func TestDetectSignalsBollingerSqueeze(t *testing.T) {
	snap := &Snapshot{
		RSI:       50,
		Price:     100,
		Bollinger: &BollingerValue{Upper: 101, Middle: 100, Lower: 99, Width: 0.02},
	}
	assert.Contains(t, detectSignals(snap), "布林带收口（临近突破）")
}

func TestCalcScoreRange(t *testing.T) {
	// 各分项全拿满：RSI 超卖 25 + MACD 金叉 25 + 均线多头 20 + 放量 15 + 收口 15
	full := &Snapshot{
		RSI:         25,
		MACD:        &MACDValue{Histogram: 0.5, PrevHistogram: -0.2},
		EMA:         map[int]float64{9: 103, 21: 102, 50: 101, 200: 100},
		Bollinger:   &BollingerValue{Width: 0.02},
		VolumeRatio: 2.5,
	}
	assert.InDelta(t, 100, calcScore(full), 1e-9)

	weak := &Snapshot{
		RSI:         65,
		MACD:        &MACDValue{Histogram: 0.1, PrevHistogram: 0.2},
		EMA:         map[int]float64{9: 100, 21: 101, 50: 100.5, 200: 100},
		Bollinger:   &BollingerValue{Width: 0.08},
		VolumeRatio: 0.4,
	}
	assert.Less(t, calcScore(weak), 40.0)
}

func TestOverallScoreWeighting(t *testing.T) {
	snaps := map[string]*Snapshot{
		"15m": {Score: 100},
		"1h":  {Score: 50},
		"4h":  {Score: 50},
	}
	// (100*0.2 + 50*0.4 + 50*0.4) / 1.0 = 60
	assert.InDelta(t, 60, overallScore(snaps), 1e-9)
}

func TestRecommendationBands(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{85, "strong_buy"},
		{80, "strong_buy"},
		{65, "buy"},
		{45, "neutral"},
		{25, "sell"},
		{10, "strong_sell"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, recommendation(tc.score), "score=%v", tc.score)
	}
}

func TestSummaryIncludesSignals(t *testing.T) {
	snap, err := Compute(risingCandles(250), "BTCUSDT", "4h")
	require.NoError(t, err)

	text := snap.Summary()
	assert.Contains(t, text, "BTCUSDT (4h)")
	assert.Contains(t, text, "RSI(14)")
	assert.Contains(t, text, "检测到的信号")
}
