package notifier

import (
	"fmt"
	"time"

	"parliament/internal/consensus"
	"parliament/internal/logger"
	"parliament/internal/position"
	"parliament/internal/report"
	"parliament/internal/session"
)

// 本文件把议事与仓位事件翻译成推送消息。
// 只订阅对运营者有行动意义的事件，逐轮发言、逐次轮询不打扰。

// ProposalFinalizedMessage 稟议单定稿通知。
func ProposalFinalizedMessage(p consensus.Proposal) StructuredMessage {
	return StructuredMessage{
		Icon:  "📜",
		Title: fmt.Sprintf("稟议单已定稿：%s %s", p.Pair, p.Strategy),
		Sections: []MessageSection{
			{
				Title: "交易参数",
				Lines: []string{
					"入场价: " + p.EntryPrice.String(),
					"止盈价: " + p.TakeProfit.String(),
					"止损价: " + p.StopLoss.String(),
				},
			},
			{
				Title: "提案依据",
				Lines: []string{truncateLine(p.Reasoning, 300)},
			},
		},
		Footer:    fmt.Sprintf("提案人 %s · 重提 %d 次", p.SubmittedBy, p.Resubmissions),
		Timestamp: time.Now(),
	}
}

// VoteRejectedMessage 稟议单被否决、退回讨论的通知。
func VoteRejectedMessage(p consensus.Proposal, summary consensus.VotingSummary) StructuredMessage {
	lines := make([]string, 0, len(summary.Votes))
	for voter, v := range summary.Votes {
		if v != nil && v.Decision == consensus.DecisionOppose {
			lines = append(lines, fmt.Sprintf("%s: %s", voter, truncateLine(v.Reason, 120)))
		}
	}
	return StructuredMessage{
		Icon:  "🗳️",
		Title: fmt.Sprintf("稟议单被否决：%s（第 %d 次）", p.Pair, p.Resubmissions),
		Sections: []MessageSection{
			{Title: "反对意见", Lines: lines},
		},
		Timestamp: time.Now(),
	}
}

// PositionOpenedMessage 开仓通知。
func PositionOpenedMessage(v position.View) StructuredMessage {
	return StructuredMessage{
		Icon:  "🚀",
		Title: fmt.Sprintf("已开仓：%s %s", v.Symbol, v.Strategy),
		Sections: []MessageSection{
			{
				Title: "仓位",
				Lines: []string{
					"入场价: " + v.EntryPrice,
					"数量: " + v.RemainingQty,
					"止盈: " + v.TakeProfit,
					"止损: " + v.StopLoss,
				},
			},
		},
		Footer:    "仓位编号 " + v.ID,
		Timestamp: v.OpenedAt,
	}
}

// PositionClosedMessage 平仓通知。
func PositionClosedMessage(v position.View) StructuredMessage {
	icon := "✅"
	if len(v.PnL) > 0 && v.PnL[0] == '-' {
		icon = "🔻"
	}
	msg := StructuredMessage{
		Icon:  icon,
		Title: fmt.Sprintf("已平仓：%s（%s）", v.Symbol, closeReasonLabel(v.CloseReason)),
		Sections: []MessageSection{
			{
				Title: "结果",
				Lines: []string{
					"平仓价: " + v.ClosePrice,
					"盈亏: " + v.PnL + " USD (" + v.PnLPercent + "%)",
				},
			},
		},
		Footer:    "仓位编号 " + v.ID,
		Timestamp: time.Now(),
	}
	return msg
}

// ReportGeneratedMessage 复盘报告通知。
func ReportGeneratedMessage(rpt report.Report) StructuredMessage {
	return StructuredMessage{
		Icon:  "📊",
		Title: fmt.Sprintf("复盘报告：%s（%s）", rpt.Symbol, rpt.PnLPercent+"%"),
		Sections: []MessageSection{
			{
				Title: "交易回顾",
				Lines: []string{
					"方向: " + rpt.Strategy,
					"入场价: " + rpt.EntryPrice + " → 平仓价: " + rpt.ClosePrice,
					"盈亏: " + rpt.PnL + " USD",
					"持仓时长: " + rpt.Duration,
				},
			},
			{
				Title: "复盘分析",
				Lines: []string{truncateLine(rpt.Analysis, 400)},
			},
			{
				Title: "改进建议",
				Lines: []string{truncateLine(rpt.Improvements, 300)},
			},
		},
		Footer:    "报告编号 " + rpt.ID,
		Timestamp: rpt.GeneratedAt,
	}
}

// ErrorMessage 运行异常通知。
func ErrorMessage(scope, detail string) StructuredMessage {
	return StructuredMessage{
		Icon:      "⚠️",
		Title:     "运行异常：" + scope,
		Sections:  []MessageSection{{Title: "详情", Lines: []string{truncateLine(detail, 300)}}},
		Timestamp: time.Now(),
	}
}

func closeReasonLabel(reason position.CloseReason) string {
	switch reason {
	case position.CloseTPHit:
		return "止盈"
	case position.CloseSLHit:
		return "止损"
	case position.CloseTrailingStop:
		return "移动止损"
	case position.CloseTimeout:
		return "超时"
	case position.CloseManual:
		return "手动"
	default:
		return string(reason)
	}
}

func truncateLine(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

// Dispatcher 订阅会话事件总线并把关键事件转成推送。
type Dispatcher struct {
	notifier TextNotifier
}

func NewDispatcher(n TextNotifier) *Dispatcher {
	if n == nil {
		n = Noop{}
	}
	return &Dispatcher{notifier: n}
}

// Attach 注册到事件总线。推送失败只记日志，不影响主流程。
func (d *Dispatcher) Attach(bus *session.Bus) {
	bus.Subscribe(func(evt session.Event) {
		msg, ok := d.translate(evt)
		if !ok {
			return
		}
		if err := d.notifier.SendText(msg.RenderMarkdown()); err != nil {
			logger.Warnf("推送通知失败: %v", err)
		}
	})
}

func (d *Dispatcher) translate(evt session.Event) (StructuredMessage, bool) {
	switch evt.Type {
	case session.EventProposalFinalized:
		if p, ok := evt.Payload.(consensus.Proposal); ok {
			return ProposalFinalizedMessage(p), true
		}
	case session.EventVotingUpdated:
		// 逐票进度不推送，只有裁决为否决时通知一次
		if rej, ok := evt.Payload.(consensus.Rejection); ok {
			return VoteRejectedMessage(rej.Proposal, rej.Summary), true
		}
	case session.EventReportGenerated:
		if rpt, ok := evt.Payload.(report.Report); ok {
			return ReportGeneratedMessage(rpt), true
		}
	case session.EventPositionOpened:
		if v, ok := evt.Payload.(position.View); ok {
			return PositionOpenedMessage(v), true
		}
	case session.EventPositionClosed:
		if v, ok := evt.Payload.(position.View); ok {
			return PositionClosedMessage(v), true
		}
	case session.EventErrorOccurred:
		if m, ok := evt.Payload.(map[string]any); ok {
			scope, _ := m["scope"].(string)
			detail, _ := m["error"].(string)
			return ErrorMessage(scope, detail), true
		}
	}
	return StructuredMessage{}, false
}
