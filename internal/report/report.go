package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"parliament/internal/analysis/indicator"
	"parliament/internal/gateway/provider"
	"parliament/internal/logger"
	"parliament/internal/market"
	"parliament/internal/position"
	"parliament/internal/session"
)

// maxHistoryPoints 报告内价格轨迹的采样上限。
const maxHistoryPoints = 20

// Report 一笔已平仓交易的复盘报告。
type Report struct {
	ID           string    `json:"id"`
	PositionID   string    `json:"position_id"`
	ProposalID   string    `json:"proposal_id"`
	Symbol       string    `json:"symbol"`
	Strategy     string    `json:"strategy"`
	CloseReason  string    `json:"close_reason"`
	EntryPrice   string    `json:"entry_price"`
	ClosePrice   string    `json:"close_price"`
	PnL          string    `json:"pnl"`
	PnLPercent   string    `json:"pnl_percent"`
	Duration     string    `json:"duration"`
	EntryState   string    `json:"entry_state"`
	ExitState    string    `json:"exit_state"`
	Analysis     string    `json:"analysis"`
	Improvements string    `json:"improvements"`
	PriceHistory []float64 `json:"price_history"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Reporter 在仓位关闭后生成复盘报告。
// 叙事部分由议长模型撰写，模型不可用时退化为模板文本。
type Reporter struct {
	source   market.Source
	narrator provider.ModelProvider
	bus      session.Emitter

	nowFn func() time.Time
}

func NewReporter(source market.Source, narrator provider.ModelProvider, bus session.Emitter) *Reporter {
	return &Reporter{source: source, narrator: narrator, bus: bus, nowFn: time.Now}
}

// Generate 生成并广播一份复盘报告。报告生成失败不影响交易主流程，
// 调用方只需记日志。
func (r *Reporter) Generate(ctx context.Context, pos position.Position) (*Report, error) {
	if pos.Status != position.StatusClosed {
		return nil, fmt.Errorf("仓位 %s 尚未关闭，无法复盘", pos.ID)
	}

	rpt := &Report{
		ID:           newReportID(),
		PositionID:   pos.ID,
		ProposalID:   pos.ProposalID,
		Symbol:       pos.Symbol,
		Strategy:     string(pos.Strategy),
		CloseReason:  string(pos.CloseReason),
		EntryPrice:   pos.EntryPrice.String(),
		ClosePrice:   pos.ClosePrice.String(),
		PnL:          pos.PnL.String(),
		PnLPercent:   pos.PnLPercent.String(),
		Duration:     formatDuration(pos.ClosedAt.Sub(pos.OpenedAt)),
		EntryState:   describeSnapshot(pos.EntrySnapshot),
		ExitState:    r.exitState(ctx, pos.Symbol),
		PriceHistory: sampleHistory(pos.History, maxHistoryPoints),
		GeneratedAt:  r.nowFn(),
	}

	analysis, improvements := r.narrate(ctx, pos, rpt)
	rpt.Analysis = analysis
	rpt.Improvements = improvements

	r.bus.Publish(session.EventReportGenerated, *rpt)
	logger.Infof("复盘报告已生成 [%s]: %s %s pnl=%s", rpt.ID, rpt.Symbol, rpt.CloseReason, rpt.PnL)
	return rpt, nil
}

func newReportID() string {
	id := uuid.New()
	return fmt.Sprintf("RPT-%X", id[:4])
}

// formatDuration 输出 "Xh Ym" 形式的持仓时长。
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", h, m)
}

// describeSnapshot 把一个指标快照写成一行文字。
func describeSnapshot(s *position.Snapshot) string {
	if s == nil {
		return "（无快照数据）"
	}
	return fmt.Sprintf("价格 %.4f，RSI %.1f，MACD 柱 %.4f，量比 %.2f",
		s.Price, s.RSI, s.MACDHistogram, s.VolumeRatio)
}

// exitState 用平仓时点的 1 小时线重算一次指标，作为离场环境描述。
func (r *Reporter) exitState(ctx context.Context, symbol string) string {
	candles, err := r.source.FetchHistory(ctx, symbol, "1h", 100)
	if err != nil {
		logger.Debugf("复盘取 K 线失败（%s）: %v", symbol, err)
		return "（离场时点盘面数据不可用）"
	}
	snap, err := indicator.Compute(candles, symbol, "1h")
	if err != nil {
		return "（离场时点指标计算失败）"
	}
	return snap.Summary()
}

// sampleHistory 均匀抽样价格轨迹，最多保留 limit 个点，首尾必留。
func sampleHistory(history []position.Snapshot, limit int) []float64 {
	if len(history) == 0 {
		return nil
	}
	if len(history) <= limit {
		out := make([]float64, len(history))
		for i, s := range history {
			out[i] = s.Price
		}
		return out
	}
	out := make([]float64, 0, limit)
	step := float64(len(history)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		idx := int(float64(i) * step)
		out = append(out, history[idx].Price)
	}
	out[limit-1] = history[len(history)-1].Price
	return out
}

// narrate 请议长模型撰写复盘叙事；失败时退化为模板文本。
func (r *Reporter) narrate(ctx context.Context, pos position.Position, rpt *Report) (string, string) {
	if r.narrator == nil {
		return fallbackNarrative(pos, rpt)
	}
	prompt := fmt.Sprintf(`请为以下已平仓交易撰写复盘，输出两个段落，
分别以【分析】和【改善点】开头：

交易对: %s
方向: %s
离场原因: %s
入场价: %s
平仓价: %s
盈亏: %s USD（%s%%）
持仓时长: %s
入场时盘面: %s
离场时盘面: %s`,
		rpt.Symbol, rpt.Strategy, rpt.CloseReason,
		rpt.EntryPrice, rpt.ClosePrice, rpt.PnL, rpt.PnLPercent,
		rpt.Duration, rpt.EntryState, rpt.ExitState)

	text, err := r.narrator.Call(ctx, provider.ChatPayload{
		System: "你是交易委员会的议长，负责对每笔已了结的交易做客观复盘。语气中立，结论具体。",
		User:   prompt,
	})
	if err != nil {
		logger.Warnf("复盘叙事生成失败，使用模板: %v", err)
		return fallbackNarrative(pos, rpt)
	}
	return splitNarrative(text, pos, rpt)
}

// splitNarrative 按【分析】/【改善点】切开模型输出。切不开时整段归入分析。
func splitNarrative(text string, pos position.Position, rpt *Report) (string, string) {
	const marker = "【改善点】"
	analysis := strings.TrimSpace(text)
	improvements := ""
	if idx := strings.Index(text, marker); idx >= 0 {
		analysis = strings.TrimSpace(text[:idx])
		improvements = strings.TrimSpace(strings.TrimPrefix(text[idx:], marker))
	}
	analysis = strings.TrimSpace(strings.TrimPrefix(analysis, "【分析】"))
	if analysis == "" {
		analysis, improvements = fallbackNarrative(pos, rpt)
	}
	return analysis, improvements
}

// fallbackNarrative 模型不可用时的确定性复盘文本。
func fallbackNarrative(pos position.Position, rpt *Report) (string, string) {
	profitable := !pos.PnL.IsNegative()
	var analysis string
	switch pos.CloseReason {
	case position.CloseTPHit:
		analysis = fmt.Sprintf("%s %s 按计划触达止盈离场，盈亏 %s USD（%s%%），持仓 %s。入场判断与价格路径一致。",
			rpt.Symbol, rpt.Strategy, rpt.PnL, rpt.PnLPercent, rpt.Duration)
	case position.CloseSLHit:
		analysis = fmt.Sprintf("%s %s 触发止损离场，亏损 %s USD（%s%%）。止损纪律得到执行，未出现扩大亏损。",
			rpt.Symbol, rpt.Strategy, rpt.PnL, rpt.PnLPercent)
	case position.CloseTrailingStop:
		analysis = fmt.Sprintf("%s %s 由移动止损锁定利润离场，盈亏 %s USD（%s%%）。价格冲高后回撤，离场点接近高水位。",
			rpt.Symbol, rpt.Strategy, rpt.PnL, rpt.PnLPercent)
	case position.CloseTimeout:
		analysis = fmt.Sprintf("%s %s 持仓达到时限后离场，盈亏 %s USD（%s%%）。价格在持仓期间未触达任一既定价位。",
			rpt.Symbol, rpt.Strategy, rpt.PnL, rpt.PnLPercent)
	default:
		analysis = fmt.Sprintf("%s %s 以 %s 方式离场，盈亏 %s USD（%s%%），持仓 %s。",
			rpt.Symbol, rpt.Strategy, rpt.CloseReason, rpt.PnL, rpt.PnLPercent, rpt.Duration)
	}

	var improvements string
	if profitable {
		improvements = "本次执行与计划一致。可复查止盈位设置是否偏保守，以及部分止盈的触发比例是否合适。"
	} else {
		improvements = "复查入场时的反向信号是否被低估；评估止损距离与仓位规模的匹配度，避免单笔亏损占比过高。"
	}
	return analysis, improvements
}
