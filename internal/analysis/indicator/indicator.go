package indicator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/markcheno/go-talib"

	"parliament/internal/market"
)

// 指标参数，与议事材料中呈现给参与者的口径保持一致。
const (
	rsiPeriod     = 14
	macdFast      = 12
	macdSlow      = 26
	macdSignal    = 9
	bbPeriod      = 20
	bbStdDev      = 2.0
	atrPeriod     = 14
	volumeAvgLen  = 20
	rsiOversold   = 30.0
	rsiOverbought = 70.0
	volumeSpike   = 2.0
)

var emaPeriods = []int{9, 21, 50, 200}

// MACDValue 保存 MACD 最新值及上一根柱值，用于判断方向转换。
type MACDValue struct {
	MACD          float64 `json:"macd"`
	Signal        float64 `json:"signal"`
	Histogram     float64 `json:"histogram"`
	PrevHistogram float64 `json:"prev_histogram"`
}

// BollingerValue 保存布林带三轨与带宽。
type BollingerValue struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	Width  float64 `json:"width"`
}

// Snapshot 是单个 symbol+interval 的指标快照。
type Snapshot struct {
	Symbol      string          `json:"symbol"`
	Interval    string          `json:"interval"`
	Price       float64         `json:"price"`
	RSI         float64         `json:"rsi"`
	MACD        *MACDValue      `json:"macd,omitempty"`
	EMA         map[int]float64 `json:"ema,omitempty"`
	Bollinger   *BollingerValue `json:"bollinger,omitempty"`
	VolumeRatio float64         `json:"volume_ratio"`
	ATR         float64         `json:"atr"`
	Signals     []string        `json:"signals,omitempty"`
	Score       float64         `json:"score"`
	Timestamp   time.Time       `json:"timestamp"`
}

// MultiTimeframe 汇总多个时间周期的快照与统合评分。
type MultiTimeframe struct {
	Symbol         string               `json:"symbol"`
	Snapshots      map[string]*Snapshot `json:"snapshots"`
	OverallScore   float64              `json:"overall_score"`
	Recommendation string               `json:"recommendation"`
	Timestamp      time.Time            `json:"timestamp"`
}

// Compute 对单个周期的 K 线做全量指标计算。
// 数据少于布林带窗口时返回错误，调用方按周期缺失处理。
func Compute(candles []market.Candle, symbol, interval string) (*Snapshot, error) {
	if len(candles) < bbPeriod {
		return nil, fmt.Errorf("%s (%s)：K 线不足 %d 根，无法计算指标", symbol, interval, bbPeriod)
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}
	snap := &Snapshot{
		Symbol:    symbol,
		Interval:  interval,
		Price:     closes[len(closes)-1],
		Timestamp: time.Now(),
	}

	snap.RSI = round2(lastValid(talib.Rsi(closes, rsiPeriod)))

	macd, signal, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	histSeries := sanitizeSeries(hist)
	prevHist := 0.0
	if len(histSeries) >= 2 {
		prevHist = histSeries[len(histSeries)-2]
	}
	snap.MACD = &MACDValue{
		MACD:          round6(lastValid(macd)),
		Signal:        round6(lastValid(signal)),
		Histogram:     round6(lastValid(hist)),
		PrevHistogram: round6(prevHist),
	}

	snap.EMA = make(map[int]float64, len(emaPeriods))
	for _, p := range emaPeriods {
		if len(closes) < p {
			continue
		}
		snap.EMA[p] = round6(lastValid(talib.Ema(closes, p)))
	}

	upper, middle, lower := talib.BBands(closes, bbPeriod, bbStdDev, bbStdDev, talib.SMA)
	u, m, l := lastValid(upper), lastValid(middle), lastValid(lower)
	width := 0.0
	if m > 0 {
		width = (u - l) / m
	}
	snap.Bollinger = &BollingerValue{
		Upper:  round6(u),
		Middle: round6(m),
		Lower:  round6(l),
		Width:  round6(width),
	}

	avgLen := volumeAvgLen
	if avgLen > len(volumes) {
		avgLen = len(volumes)
	}
	avgVol := 0.0
	for _, v := range volumes[len(volumes)-avgLen:] {
		avgVol += v
	}
	avgVol /= float64(avgLen)
	if avgVol > 0 {
		snap.VolumeRatio = round2(volumes[len(volumes)-1] / avgVol)
	}

	snap.ATR = round6(lastValid(talib.Atr(highs, lows, closes, atrPeriod)))

	snap.Signals = detectSignals(snap)
	snap.Score = calcScore(snap)
	return snap, nil
}

// ComputeMulti 对多个周期的 K 线分别计算指标并统合评分。
func ComputeMulti(candlesByInterval map[string][]market.Candle, symbol string) (*MultiTimeframe, error) {
	out := &MultiTimeframe{
		Symbol:    symbol,
		Snapshots: make(map[string]*Snapshot, len(candlesByInterval)),
		Timestamp: time.Now(),
	}
	for interval, candles := range candlesByInterval {
		snap, err := Compute(candles, symbol, interval)
		if err != nil {
			continue
		}
		out.Snapshots[interval] = snap
	}
	if len(out.Snapshots) == 0 {
		return nil, fmt.Errorf("%s：所有时间周期均无有效数据", symbol)
	}
	out.OverallScore = overallScore(out.Snapshots)
	out.Recommendation = recommendation(out.OverallScore)
	return out, nil
}

// detectSignals 从指标快照中提取文字化的交易信号。
func detectSignals(s *Snapshot) []string {
	var signals []string

	switch {
	case s.RSI <= rsiOversold:
		signals = append(signals, fmt.Sprintf("RSI 超卖 (%.2f)", s.RSI))
	case s.RSI >= rsiOverbought:
		signals = append(signals, fmt.Sprintf("RSI 超买 (%.2f)", s.RSI))
	case s.RSI <= 40:
		signals = append(signals, fmt.Sprintf("RSI 偏弱 (%.2f)", s.RSI))
	case s.RSI >= 60:
		signals = append(signals, fmt.Sprintf("RSI 偏强 (%.2f)", s.RSI))
	}

	if m := s.MACD; m != nil {
		if m.PrevHistogram < 0 && m.Histogram > 0 {
			signals = append(signals, "MACD 金叉")
		} else if m.PrevHistogram > 0 && m.Histogram < 0 {
			signals = append(signals, "MACD 死叉")
		}
		if m.Histogram > 0 && m.Histogram > m.PrevHistogram {
			signals = append(signals, "MACD 多头动能增强")
		} else if m.Histogram < 0 && m.Histogram < m.PrevHistogram {
			signals = append(signals, "MACD 空头动能增强")
		}
	}

	ema9, ema21 := s.EMA[9], s.EMA[21]
	ema50, ema200 := s.EMA[50], s.EMA[200]
	if ema9 > 0 && ema21 > 0 {
		if ema9 > ema21 {
			signals = append(signals, "短期 EMA > 中期 EMA（上升趋势）")
		} else {
			signals = append(signals, "短期 EMA < 中期 EMA（下降趋势）")
		}
	}
	if ema50 > 0 && ema200 > 0 {
		if ema50 > ema200 {
			signals = append(signals, "EMA50 > EMA200（长期多头）")
		} else {
			signals = append(signals, "EMA50 < EMA200（长期空头）")
		}
	}
	if ema200 > 0 {
		if s.Price > ema200 {
			signals = append(signals, "价格位于 EMA200 上方（偏强）")
		} else {
			signals = append(signals, "价格位于 EMA200 下方（偏弱）")
		}
	}

	if bb := s.Bollinger; bb != nil {
		if s.Price >= bb.Upper {
			signals = append(signals, "触及布林上轨（过热）")
		} else if s.Price <= bb.Lower {
			signals = append(signals, "触及布林下轨（超卖）")
		}
		if bb.Width > 0 && bb.Width < 0.03 {
			signals = append(signals, "布林带收口（临近突破）")
		}
	}

	if s.VolumeRatio >= volumeSpike {
		signals = append(signals, fmt.Sprintf("成交量放大（均量的 %.2f 倍）", s.VolumeRatio))
	} else if s.VolumeRatio > 0 && s.VolumeRatio <= 0.5 {
		signals = append(signals, fmt.Sprintf("成交量萎缩（均量的 %.2f 倍）", s.VolumeRatio))
	}

	return signals
}

// calcScore 按固定权重计算 0-100 的筛选得分：
// RSI 25 / MACD 25 / EMA 趋势 20 / 成交量 15 / 布林带 15。
func calcScore(s *Snapshot) float64 {
	score := 0.0

	switch {
	case s.RSI <= rsiOversold:
		score += 25
	case s.RSI <= 40:
		score += 20
	case s.RSI < 60:
		score += 10
	case s.RSI >= rsiOverbought:
		score += 20
	default:
		score += 5
	}

	if m := s.MACD; m != nil {
		hist, prev := m.Histogram, m.PrevHistogram
		switch {
		case (prev < 0 && hist > 0) || (prev > 0 && hist < 0):
			score += 25
		case (hist > 0 && hist > prev) || (hist < 0 && hist < prev):
			score += 18
		case (hist > 0 && hist <= prev) || (hist < 0 && hist >= prev):
			score += 10
		default:
			score += 5
		}
	}

	ema9, ema21, ema50 := s.EMA[9], s.EMA[21], s.EMA[50]
	if ema9 > 0 && ema21 > 0 && ema50 > 0 {
		switch {
		case ema9 > ema21 && ema21 > ema50:
			score += 20
		case ema9 < ema21 && ema21 < ema50:
			score += 18
		default:
			score += 8
		}
	}

	switch {
	case s.VolumeRatio >= volumeSpike:
		score += 15
	case s.VolumeRatio >= 1.5:
		score += 12
	case s.VolumeRatio >= 1.0:
		score += 8
	default:
		score += 3
	}

	if bb := s.Bollinger; bb != nil && bb.Width > 0 {
		switch {
		case bb.Width < 0.03:
			score += 15
		case bb.Width < 0.05:
			score += 10
		default:
			score += 5
		}
	}

	return round1(score)
}

// overallScore 按时间周期加权平均（15m:0.2 / 1h:0.4 / 4h:0.4，未知周期按 0.3）。
func overallScore(snaps map[string]*Snapshot) float64 {
	weights := map[string]float64{"15m": 0.2, "1h": 0.4, "4h": 0.4}
	totalWeight, weightedSum := 0.0, 0.0
	for interval, snap := range snaps {
		w, ok := weights[interval]
		if !ok {
			w = 0.3
		}
		weightedSum += snap.Score * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return round1(weightedSum / totalWeight)
}

func recommendation(score float64) string {
	switch {
	case score >= 80:
		return "strong_buy"
	case score >= 60:
		return "buy"
	case score >= 40:
		return "neutral"
	case score >= 20:
		return "sell"
	default:
		return "strong_sell"
	}
}

// Summary 生成面向参与者的单周期文字摘要。
func (s *Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "【%s (%s) 技术分析】\n", s.Symbol, s.Interval)
	fmt.Fprintf(&b, "当前价格: %v\n", s.Price)
	fmt.Fprintf(&b, "RSI(14): %.2f\n", s.RSI)
	if m := s.MACD; m != nil {
		fmt.Fprintf(&b, "MACD: %.6f / Signal: %.6f / Histogram: %.6f\n", m.MACD, m.Signal, m.Histogram)
	}
	if len(s.EMA) > 0 {
		parts := make([]string, 0, len(emaPeriods))
		for _, p := range emaPeriods {
			if v, ok := s.EMA[p]; ok {
				parts = append(parts, fmt.Sprintf("EMA%d: %v", p, v))
			}
		}
		b.WriteString("EMA: " + strings.Join(parts, " | ") + "\n")
	}
	if bb := s.Bollinger; bb != nil {
		fmt.Fprintf(&b, "BB: Upper=%v | Middle=%v | Lower=%v | Width=%v\n", bb.Upper, bb.Middle, bb.Lower, bb.Width)
	}
	fmt.Fprintf(&b, "成交量比率: 均量的 %.2f 倍\n", s.VolumeRatio)
	fmt.Fprintf(&b, "ATR(14): %v\n", s.ATR)
	if len(s.Signals) > 0 {
		b.WriteString("检测到的信号:\n")
		for _, sig := range s.Signals {
			b.WriteString("  ● " + sig + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round6(v float64) float64 { return math.Round(v*1000000) / 1000000 }
