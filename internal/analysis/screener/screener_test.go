package screener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parliament/internal/market"
)

// fakeSource 用基础价与斜率生成确定性的合成行情。
type fakeSource struct {
	overview    []market.PairOverview
	overviewErr error
	// symbol -> 每根 K 线的价格增量，正值表示上行
	slopes  map[string]float64
	broken  map[string]bool
	fetched []string
}

func (f *fakeSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if f.broken[symbol] {
		return nil, errors.New("行情接口超时")
	}
	slope := f.slopes[symbol]
	out := make([]market.Candle, limit)
	for i := 0; i < limit; i++ {
		price := 100 + float64(i)*slope
		out[i] = market.Candle{
			OpenTime: int64(i) * 60_000,
			Open:     price,
			High:     price + 0.3,
			Low:      price - 0.3,
			Close:    price,
			Volume:   1000,
		}
	}
	return out, nil
}

func (f *fakeSource) FetchMultiHistory(ctx context.Context, symbol string, intervals []string, limit int) (map[string][]market.Candle, error) {
	f.fetched = append(f.fetched, symbol)
	if f.broken[symbol] {
		return nil, errors.New("行情接口超时")
	}
	out := make(map[string][]market.Candle, len(intervals))
	for _, interval := range intervals {
		candles, err := f.FetchHistory(ctx, symbol, interval, limit)
		if err != nil {
			continue
		}
		out[interval] = candles
	}
	return out, nil
}

func (f *fakeSource) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}

func (f *fakeSource) MarketOverview(ctx context.Context, quoteAsset string, limit int) ([]market.PairOverview, error) {
	if f.overviewErr != nil {
		return nil, f.overviewErr
	}
	return f.overview, nil
}

func newFakeSource(symbols ...string) *fakeSource {
	f := &fakeSource{
		slopes: make(map[string]float64),
		broken: make(map[string]bool),
	}
	for i, sym := range symbols {
		f.overview = append(f.overview, market.PairOverview{
			Symbol:      sym,
			Price:       100,
			QuoteVolume: 5_000_000,
		})
		f.slopes[sym] = 0.1 * float64(i+1)
	}
	return f
}

func TestScreenFiltersLowVolumePairs(t *testing.T) {
	src := newFakeSource("BTCUSDT", "ETHUSDT")
	src.overview = append(src.overview, market.PairOverview{Symbol: "DUSTUSDT", QuoteVolume: 50})

	s := New(src, Options{MinVolume: 100000})
	results, err := s.Screen(context.Background())
	require.NoError(t, err)

	assert.Len(t, results, 2)
	assert.NotContains(t, src.fetched, "DUSTUSDT")
}

func TestScreenSkipsBrokenSymbols(t *testing.T) {
	src := newFakeSource("BTCUSDT", "ETHUSDT", "SOLUSDT")
	src.broken["ETHUSDT"] = true

	s := New(src, Options{})
	results, err := s.Screen(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "ETHUSDT", r.Symbol)
	}
}

func TestScreenOrdersByScoreAndCapsTopN(t *testing.T) {
	symbols := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		symbols = append(symbols, fmt.Sprintf("SYM%dUSDT", i))
	}
	src := newFakeSource(symbols...)

	s := New(src, Options{TopN: 3})
	results, err := s.Screen(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].OverallScore, results[i].OverallScore)
	}
}

func TestScreenOverviewFailure(t *testing.T) {
	src := newFakeSource("BTCUSDT")
	src.overviewErr = errors.New("网络不可用")

	s := New(src, Options{})
	_, err := s.Screen(context.Background())
	assert.Error(t, err)
}

func TestScreenHonorsContextCancel(t *testing.T) {
	src := newFakeSource("BTCUSDT", "ETHUSDT")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(src, Options{})
	_, err := s.Screen(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatResults(t *testing.T) {
	src := newFakeSource("BTCUSDT")
	s := New(src, Options{})
	results, err := s.Screen(context.Background())
	require.NoError(t, err)

	text := FormatResults(results)
	assert.Contains(t, text, "【市场筛选结果】")
	assert.Contains(t, text, "BTCUSDT")
	assert.Contains(t, text, "评分")

	assert.True(t, strings.Contains(FormatResults(nil), "未找到满足条件"))
}

func TestFormatDetailed(t *testing.T) {
	src := newFakeSource("BTCUSDT")
	s := New(src, Options{})
	analysis, err := s.AnalyzeSymbol(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	text := FormatDetailed(analysis)
	assert.Contains(t, text, "BTCUSDT 详细技术分析")
	assert.Contains(t, text, "综合评分")

	assert.Equal(t, "暂无分析数据。", FormatDetailed(nil))
}
