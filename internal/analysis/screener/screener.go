package screener

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"parliament/internal/analysis/indicator"
	"parliament/internal/logger"
	"parliament/internal/market"
)

const (
	defaultTopN        = 10
	defaultMinVolume   = 100000
	defaultCandleLimit = 200
	overviewLimit      = 50
)

var defaultIntervals = []string{"15m", "1h", "4h"}

// Options 控制筛选范围。零值字段取默认。
type Options struct {
	TopN        int
	MinVolume   float64
	Intervals   []string
	CandleLimit int
	Quote       string
}

func (o Options) normalized() Options {
	if o.TopN <= 0 {
		o.TopN = defaultTopN
	}
	if o.MinVolume <= 0 {
		o.MinVolume = defaultMinVolume
	}
	if len(o.Intervals) == 0 {
		o.Intervals = defaultIntervals
	}
	if o.CandleLimit <= 0 {
		o.CandleLimit = defaultCandleLimit
	}
	if o.Quote == "" {
		o.Quote = "USDT"
	}
	return o
}

// Screener 从全市场按多周期技术评分挑选议题候选。
type Screener struct {
	source market.Source
	opts   Options
}

func New(source market.Source, opts Options) *Screener {
	return &Screener{source: source, opts: opts.normalized()}
}

// Screen 执行一次全市场筛选，按统合评分降序返回前 N 个候选。
// 单个交易对的行情或指标失败只跳过该对，不中断整轮筛选。
func (s *Screener) Screen(ctx context.Context) ([]*indicator.MultiTimeframe, error) {
	overview, err := s.source.MarketOverview(ctx, s.opts.Quote, overviewLimit)
	if err != nil {
		return nil, fmt.Errorf("获取市场概览失败: %w", err)
	}
	candidates := make([]market.PairOverview, 0, len(overview))
	for _, p := range overview {
		if p.QuoteVolume >= s.opts.MinVolume {
			candidates = append(candidates, p)
		}
	}
	logger.Infof("筛选范围: %d/%d 个交易对（最低成交额 %.0f %s）",
		len(candidates), len(overview), s.opts.MinVolume, s.opts.Quote)

	results := make([]*indicator.MultiTimeframe, 0, len(candidates))
	for _, pair := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		analysis, err := s.AnalyzeSymbol(ctx, pair.Symbol)
		if err != nil {
			logger.Warnf("分析 %s 失败: %v", pair.Symbol, err)
			continue
		}
		results = append(results, analysis)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].OverallScore > results[j].OverallScore
	})
	if len(results) > s.opts.TopN {
		results = results[:s.opts.TopN]
	}
	logger.Infof("筛选完成: 分析 %d 个交易对，选出前 %d 名", len(candidates), len(results))
	for rank, r := range results {
		logger.Infof("Top %d: %s（评分 %.1f，建议 %s）", rank+1, r.Symbol, r.OverallScore, r.Recommendation)
	}
	return results, nil
}

// AnalyzeSymbol 对单个交易对做多周期分析。
func (s *Screener) AnalyzeSymbol(ctx context.Context, symbol string) (*indicator.MultiTimeframe, error) {
	klines, err := s.source.FetchMultiHistory(ctx, symbol, s.opts.Intervals, s.opts.CandleLimit)
	if err != nil {
		return nil, fmt.Errorf("拉取 %s K 线失败: %w", symbol, err)
	}
	return indicator.ComputeMulti(klines, symbol)
}

// FormatResults 把筛选结果整理成议事材料文本。
func FormatResults(results []*indicator.MultiTimeframe) string {
	if len(results) == 0 {
		return "市场筛选结果：未找到满足条件的交易对。"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "【市场筛选结果】\n已选出前 %d 个交易对。\n\n", len(results))
	for rank, r := range results {
		fmt.Fprintf(&b, "━━━ #%d %s（评分 %.1f/100）━━━\n", rank+1, r.Symbol, r.OverallScore)
		fmt.Fprintf(&b, "建议: %s\n", r.Recommendation)
		for _, interval := range defaultIntervals {
			snap, ok := r.Snapshots[interval]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "\n[%s]\n", interval)
			fmt.Fprintf(&b, "  指标: RSI=%.2f", snap.RSI)
			if snap.MACD != nil {
				fmt.Fprintf(&b, " | MACD hist=%.6f", snap.MACD.Histogram)
			}
			fmt.Fprintf(&b, " | 成交量=%.2fx\n", snap.VolumeRatio)
			fmt.Fprintf(&b, "  当前价格: %v\n", snap.Price)
			for i, sig := range snap.Signals {
				if i >= 3 {
					break
				}
				b.WriteString("  ● " + sig + "\n")
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatDetailed 生成单个交易对的详细分析文本。
func FormatDetailed(analysis *indicator.MultiTimeframe) string {
	if analysis == nil {
		return "暂无分析数据。"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "【%s 详细技术分析】\n\n", analysis.Symbol)
	for _, interval := range defaultIntervals {
		if snap, ok := analysis.Snapshots[interval]; ok {
			b.WriteString(snap.Summary() + "\n\n")
		}
	}
	fmt.Fprintf(&b, "综合评分: %.1f/100\n", analysis.OverallScore)
	fmt.Fprintf(&b, "建议: %s", analysis.Recommendation)
	return b.String()
}
