package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"parliament/internal/analysis/indicator"
	"parliament/internal/analysis/screener"
	"parliament/internal/consensus"
	"parliament/internal/logger"
	"parliament/internal/position"
	"parliament/internal/session"
	storemodel "parliament/internal/store/model"
	councilhttp "parliament/internal/transport/http/council"
	"parliament/internal/types"
)

// ErrDeliberationRunning 已有一场议事在进行。
var ErrDeliberationRunning = errors.New("议事正在进行中")

var _ councilhttp.Service = (*App)(nil)

// Activate 探活全部参与者的模型通道。
func (a *App) Activate(ctx context.Context) map[string]types.ParticipantStatus {
	return a.council.Activate(ctx)
}

// StartDiscussion 发起一场议事。命令立即返回，议事在后台推进，
// 过程与结果通过事件总线对外广播。
func (a *App) StartDiscussion(ctx context.Context, symbol string) error {
	if a.sess.Phase() != session.PhaseIdle {
		return &session.ErrPhaseConflict{From: a.sess.Phase(), To: session.PhaseDiscussion}
	}
	if !a.deliberating.CompareAndSwap(false, true) {
		return ErrDeliberationRunning
	}

	materials, err := a.prepareMaterials(ctx, symbol)
	if err != nil {
		a.deliberating.Store(false)
		return err
	}

	go func() {
		defer a.deliberating.Store(false)
		runCtx := context.Background()
		outcome, err := a.council.RunSession(runCtx, materials)
		if err != nil {
			logger.Errorf("议事运行失败: %v", err)
			a.bus.Publish(session.EventErrorOccurred, map[string]any{"scope": "deliberation", "error": err.Error()})
			return
		}
		logger.Infof("议事结束: %s（%d 轮）%s", outcome.Kind, outcome.Rounds, outcome.Reason)
		a.persistTranscript(runCtx)
	}()
	return nil
}

// prepareMaterials 组装议事的开场盘面材料。
// 指定了标的就做深度分析，否则先跑市场初筛。
func (a *App) prepareMaterials(ctx context.Context, symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol != "" {
		analysis, err := a.screener.AnalyzeSymbol(ctx, symbol)
		if err != nil {
			return "", fmt.Errorf("标的 %s 分析失败: %w", symbol, err)
		}
		return screener.FormatDetailed(analysis), nil
	}
	results, err := a.screener.Screen(ctx)
	if err != nil {
		return "", fmt.Errorf("市场初筛失败: %w", err)
	}
	return screener.FormatResults(results), nil
}

// persistTranscript 议事收尾后把全部讨论记录落库。
func (a *App) persistTranscript(ctx context.Context) {
	for _, msg := range a.sess.Recent(0) {
		if err := a.store.SaveMessage(ctx, a.sess.ID, msg); err != nil {
			logger.Warnf("讨论记录落库失败: %v", err)
			return
		}
	}
}

// StopDiscussion 请求停止当前议事，在下一个轮次边界生效。
func (a *App) StopDiscussion() error {
	if !a.deliberating.Load() {
		return errors.New("当前没有进行中的议事")
	}
	a.sess.RequestStop()
	return nil
}

// SubmitProposal 人工提交稟议单（绕过模型起草）。
func (a *App) SubmitProposal(ctx context.Context, req councilhttp.ManualProposalRequest) (*consensus.Proposal, error) {
	draft, err := draftFromRequest(req)
	if err != nil {
		return nil, err
	}
	p, err := a.engine.Submit(draft, a.roster.Snapshot().Ordered)
	if err != nil {
		return nil, err
	}
	if err := a.sess.TransitionTo(session.PhaseVoting); err != nil {
		return nil, err
	}
	a.bus.Publish(session.EventProposalSubmitted, *p)
	return p, nil
}

func draftFromRequest(req councilhttp.ManualProposalRequest) (consensus.Draft, error) {
	entry, err := decimal.NewFromString(req.EntryPrice)
	if err != nil {
		return consensus.Draft{}, fmt.Errorf("入场价不合法: %w", err)
	}
	tp, err := parseOptionalDecimal(req.TakeProfit)
	if err != nil {
		return consensus.Draft{}, fmt.Errorf("止盈价不合法: %w", err)
	}
	sl, err := parseOptionalDecimal(req.StopLoss)
	if err != nil {
		return consensus.Draft{}, fmt.Errorf("止损价不合法: %w", err)
	}
	return consensus.Draft{
		SubmittedBy: req.SubmittedBy,
		Strategy:    consensus.Strategy(strings.ToLower(req.Strategy)),
		Pair:        req.Pair,
		EntryPrice:  entry,
		TakeProfit:  tp,
		StopLoss:    sl,
		Reasoning:   req.Reasoning,
	}, nil
}

func parseOptionalDecimal(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// CastVote 人工记一票。记完最后一票即自动结算。
func (a *App) CastVote(ctx context.Context, req councilhttp.VoteRequest) (consensus.TallyResult, error) {
	decision := consensus.Decision(strings.ToLower(req.Decision))
	result, err := a.engine.CastVote(req.VoterID, decision, req.Reason)
	if err != nil {
		return result, err
	}
	a.bus.Publish(session.EventVotingUpdated, a.engine.Current().Summary())

	switch result {
	case consensus.TallyApproved:
		if terr := a.sess.TransitionTo(session.PhaseReviewing); terr != nil {
			return result, terr
		}
	case consensus.TallyRejected:
		if rej := a.engine.LastRejection(); rej != nil {
			a.bus.Publish(session.EventVotingUpdated, *rej)
		}
		// 否决后按重提余量决定退回讨论还是终止
		if cerr := a.engine.CanResubmit(); cerr != nil {
			a.bus.Publish(session.EventErrorOccurred, map[string]any{"scope": "consensus", "error": cerr.Error()})
			if terr := a.sess.TransitionTo(session.PhaseIdle); terr != nil {
				logger.Warnf("会话归位失败: %v", terr)
			}
		} else if terr := a.sess.TransitionTo(session.PhaseDiscussion); terr != nil {
			logger.Warnf("退回讨论失败: %v", terr)
		}
	}
	return result, nil
}

// FinalizeProposal 复核通过，应用调整并定稿。
func (a *App) FinalizeProposal(ctx context.Context, req councilhttp.FinalizeRequest) (*consensus.Proposal, error) {
	edits, err := editsFromRequest(req)
	if err != nil {
		return nil, err
	}
	p, err := a.engine.Finalize(edits)
	if err != nil {
		return nil, err
	}
	a.bus.Publish(session.EventProposalFinalized, *p)
	return p, nil
}

func editsFromRequest(req councilhttp.FinalizeRequest) (consensus.Edits, error) {
	var edits consensus.Edits
	for _, f := range []struct {
		raw  *string
		dst  **decimal.Decimal
		name string
	}{
		{req.EntryPrice, &edits.EntryPrice, "入场价"},
		{req.TakeProfit, &edits.TakeProfit, "止盈价"},
		{req.StopLoss, &edits.StopLoss, "止损价"},
	} {
		if f.raw == nil {
			continue
		}
		d, err := decimal.NewFromString(*f.raw)
		if err != nil {
			return consensus.Edits{}, fmt.Errorf("%s不合法: %w", f.name, err)
		}
		*f.dst = &d
	}
	edits.Reasoning = req.Reasoning
	return edits, nil
}

// ExecuteTrade 执行定稿稟议单。开仓失败时会话停留在复核阶段，可重试。
func (a *App) ExecuteTrade(ctx context.Context, amountUSD float64) (position.View, error) {
	p := a.engine.Current()
	if p == nil || p.Status != consensus.StatusFinalized {
		return position.View{}, fmt.Errorf("%w: 没有定稿的稟议单", consensus.ErrInvalidTransition)
	}
	view, err := a.monitor.Open(ctx, p, decimal.NewFromFloat(amountUSD))
	if err != nil {
		return position.View{}, err
	}
	if err := a.sess.TransitionTo(session.PhaseExecuting); err != nil {
		logger.Warnf("进入执行阶段失败: %v", err)
	} else if err := a.sess.TransitionTo(session.PhaseMonitoring); err != nil {
		logger.Warnf("进入监控阶段失败: %v", err)
	}
	return view, nil
}

// ManualClose 人工平仓当前仓位。
func (a *App) ManualClose(ctx context.Context) error {
	return a.monitor.ManualClose(ctx)
}

// ResetSession 会话复位。有活跃仓位时拒绝。
func (a *App) ResetSession() error {
	if v := a.monitor.Current(); v != nil && v.Status != string(position.StatusClosed) {
		return fmt.Errorf("%w: %s", position.ErrPositionActive, v.ID)
	}
	if a.deliberating.Load() {
		return ErrDeliberationRunning
	}
	a.engine.Reset()
	a.sess.Reset()
	return nil
}

// SessionInfo 当前会话状态。
func (a *App) SessionInfo() councilhttp.SessionInfo {
	return councilhttp.SessionInfo{
		ID:           a.sess.ID,
		Phase:        string(a.sess.Phase()),
		Round:        a.sess.Round(),
		Participants: a.council.Statuses(),
	}
}

// CurrentProposal 当前稟议单（可能为 nil）。
func (a *App) CurrentProposal() *consensus.Proposal {
	return a.engine.Current()
}

// CurrentPosition 当前仓位视图（可能为 nil）。
func (a *App) CurrentPosition() *position.View {
	return a.monitor.Current()
}

// Screening 按配置跑一次市场初筛。
func (a *App) Screening(ctx context.Context) ([]*indicator.MultiTimeframe, error) {
	return a.screener.Screen(ctx)
}

// RecentMessages 最近的讨论消息，优先取内存中的活跃会话。
func (a *App) RecentMessages(ctx context.Context, limit int) ([]types.Message, error) {
	if msgs := a.sess.Recent(limit); len(msgs) > 0 {
		return msgs, nil
	}
	return a.store.RecentMessages(ctx, "", limit)
}

// RecentEvents 最近的事件流水。
func (a *App) RecentEvents(ctx context.Context, limit int) ([]storemodel.EventLogModel, error) {
	return a.store.ListEvents(ctx, limit)
}

// PositionHistory 历史仓位（含已平仓），新仓在前。
func (a *App) PositionHistory(ctx context.Context, limit int) ([]storemodel.PositionModel, error) {
	return a.store.ListPositions(ctx, limit)
}

// ListReports 历史复盘报告。
func (a *App) ListReports(ctx context.Context, limit int) ([]storemodel.ReportModel, error) {
	return a.store.ListReports(ctx, limit)
}

// GetReport 按编号取复盘报告。
func (a *App) GetReport(ctx context.Context, id string) (*storemodel.ReportModel, error) {
	return a.store.GetReport(ctx, id)
}
