package council

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"parliament/internal/config"
	"parliament/internal/config/loader"
	"parliament/internal/consensus"
	"parliament/internal/gateway/provider"
	"parliament/internal/logger"
	"parliament/internal/session"
	"parliament/internal/types"
)

// ChairDecision 议长每轮的收束判断。
type ChairDecision string

const (
	DecisionPropose  ChairDecision = "PROPOSE"
	DecisionContinue ChairDecision = "CONTINUE"
	DecisionAbort    ChairDecision = "ABORT"
)

var chairDecisionRe = regexp.MustCompile(`(?i)\[DECISION:\s*(PROPOSE|CONTINUE|ABORT)\]`)

// parseChairDecision 提取议长标记，缺失或认不出时按 CONTINUE 处理。
func parseChairDecision(text string) ChairDecision {
	m := chairDecisionRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return DecisionContinue
	}
	return ChairDecision(strings.ToUpper(m[1]))
}

// OutcomeKind 一次议事的最终去向。
type OutcomeKind string

const (
	OutcomeProposal    OutcomeKind = "proposal_submitted"
	OutcomeAborted     OutcomeKind = "aborted"
	OutcomeStopped     OutcomeKind = "stopped"
	OutcomeNoConsensus OutcomeKind = "no_consensus"
)

// Outcome 议事结果。Proposal 仅在 OutcomeProposal 时非空。
type Outcome struct {
	Kind     OutcomeKind         `json:"kind"`
	Rounds   int                 `json:"rounds"`
	Reason   string              `json:"reason,omitempty"`
	Proposal *consensus.Proposal `json:"proposal,omitempty"`
}

// RosterSource 提供当前参与者名册。由热加载器实现。
type RosterSource interface {
	Snapshot() loader.RosterSnapshot
}

// Council 议事编排器：按固定发言顺序推动多轮讨论，
// 由议长收束，必要时起草稟议单并组织表决。
type Council struct {
	cfg       config.CouncilConfig
	providers map[string]provider.ModelProvider
	roster    RosterSource
	sess      *session.Session
	engine    *consensus.Engine

	mu       sync.Mutex
	statuses map[string]types.ParticipantStatus
}

func New(cfg config.CouncilConfig, providers map[string]provider.ModelProvider, roster RosterSource, sess *session.Session, engine *consensus.Engine) *Council {
	return &Council{
		cfg:       cfg,
		providers: providers,
		roster:    roster,
		sess:      sess,
		engine:    engine,
		statuses:  make(map[string]types.ParticipantStatus),
	}
}

// Activate 并发探活所有参与者的模型通道，更新连接状态。
// 个别失败不阻断整体，失败者标记为 error 状态。
func (c *Council) Activate(ctx context.Context) map[string]types.ParticipantStatus {
	snap := c.roster.Snapshot()
	var g errgroup.Group
	for _, p := range snap.Ordered {
		p := p
		g.Go(func() error {
			c.setStatus(p, types.StatusConnecting)
			prov, ok := c.providers[p.ProviderID]
			if !ok || !prov.Enabled() {
				c.setStatus(p, types.StatusError)
				logger.Warnf("参与者 %s 没有可用的模型通道（%s）", p.ID, p.ProviderID)
				return nil
			}
			if err := prov.Probe(ctx); err != nil {
				c.setStatus(p, types.StatusError)
				logger.Warnf("参与者 %s 探活失败: %v", p.ID, err)
				return nil
			}
			c.setStatus(p, types.StatusOnline)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	out := make(map[string]types.ParticipantStatus, len(c.statuses))
	for k, v := range c.statuses {
		out[k] = v
	}
	c.mu.Unlock()
	return out
}

func (c *Council) setStatus(p types.Participant, st types.ParticipantStatus) {
	c.mu.Lock()
	prev := c.statuses[p.ID]
	c.statuses[p.ID] = st
	c.mu.Unlock()
	if prev != st {
		c.sess.Bus().Publish(session.EventParticipantStatusChanged, map[string]any{
			"participant_id": p.ID,
			"status":         string(st),
		})
	}
}

// Statuses 返回各参与者的连接状态快照。
func (c *Council) Statuses() map[string]types.ParticipantStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]types.ParticipantStatus, len(c.statuses))
	for k, v := range c.statuses {
		out[k] = v
	}
	return out
}

// RunDiscussion 推动一次完整讨论直至议长收束。
// 发言顺序固定：分析员 → 批判者与提案人 → 主管 → 议长。
// 同一梯队内并发发言，单个参与者超时或报错只记为弃权。
func (c *Council) RunDiscussion(ctx context.Context, materials string) (Outcome, error) {
	if c.sess.Phase() != session.PhaseDiscussion {
		if err := c.sess.TransitionTo(session.PhaseDiscussion); err != nil {
			return Outcome{}, err
		}
	}
	snap := c.roster.Snapshot()
	chair, ok := snap.Chair()
	if !ok {
		return Outcome{}, errors.New("名册中缺少议长")
	}

	if strings.TrimSpace(materials) != "" {
		c.sess.Append(types.Message{
			ID:        uuid.NewString(),
			Kind:      types.KindSystem,
			Round:     c.sess.Round(),
			Phase:     string(session.PhaseDiscussion),
			Content:   "本次议事的盘面材料：\n" + materials,
			Timestamp: time.Now(),
		})
	}

	for i := 0; i < c.cfg.MaxRounds; i++ {
		if c.sess.StopRequested() {
			c.sess.ClearStop()
			return Outcome{Kind: OutcomeStopped, Rounds: c.sess.Round(), Reason: "收到停止指令"}, nil
		}
		round := c.sess.BeginRound()
		logger.Infof("===== 议事第 %d 轮 =====", round)

		for _, stage := range speakingStages(snap) {
			c.runStage(ctx, stage, round)
		}

		chairText, err := c.speak(ctx, chair, round, chairDecisionInstruction)
		if err != nil {
			logger.Warnf("议长发言失败，按继续讨论处理: %v", err)
			continue
		}
		switch parseChairDecision(chairText) {
		case DecisionAbort:
			return Outcome{Kind: OutcomeAborted, Rounds: round, Reason: "议长判定终止"}, nil
		case DecisionPropose:
			p, err := c.draftProposal(ctx, snap)
			if err != nil {
				logger.Warnf("稟议单起草失败，退回讨论: %v", err)
				continue
			}
			return Outcome{Kind: OutcomeProposal, Rounds: round, Proposal: p}, nil
		default:
			// CONTINUE：进入下一轮
		}
	}
	return Outcome{Kind: OutcomeNoConsensus, Rounds: c.sess.Round(), Reason: "达到最大轮次仍未收束"}, nil
}

// speakingStages 把发言顺序切成可并发的梯队。议长单独压轴，不在此列。
func speakingStages(snap loader.RosterSnapshot) [][]types.Participant {
	var workers, mid, leaders []types.Participant
	for _, p := range snap.Ordered {
		switch p.Role {
		case types.RoleWorker:
			workers = append(workers, p)
		case types.RoleCritic, types.RoleProposer:
			mid = append(mid, p)
		case types.RoleLeader:
			leaders = append(leaders, p)
		}
	}
	stages := make([][]types.Participant, 0, 3)
	for _, st := range [][]types.Participant{workers, mid, leaders} {
		if len(st) > 0 {
			stages = append(stages, st)
		}
	}
	return stages
}

// runStage 并发执行一个梯队的发言。全员失败也不终止本轮。
func (c *Council) runStage(ctx context.Context, stage []types.Participant, round int) {
	var g errgroup.Group
	for _, p := range stage {
		p := p
		g.Go(func() error {
			if _, err := c.speak(ctx, p, round, ""); err != nil {
				logger.Warnf("参与者 %s 本轮弃权: %v", p.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// speak 执行一个发言回合：组 prompt、限时调模型、落消息、广播事件。
// 失败时落一条 skipped 消息，轮次照常推进。
func (c *Council) speak(ctx context.Context, p types.Participant, round int, extra string) (string, error) {
	prov, ok := c.providers[p.ProviderID]
	if !ok {
		err := fmt.Errorf("参与者 %s 缺少模型通道 %s", p.ID, p.ProviderID)
		c.recordTurn(p, round, "", true)
		return "", err
	}

	header := fmt.Sprintf("现在是第 %d 轮讨论，轮到你（%s / %s）发言。", round, p.Name, p.Role)
	user := renderTranscript(header, c.sess.Recent(c.cfg.ContextMessages)) + extra

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.TurnTimeout())
	defer cancel()
	text, err := prov.Call(callCtx, provider.ChatPayload{System: rolePrompt(p), User: user})
	if err != nil {
		c.recordTurn(p, round, "", true)
		return "", err
	}
	c.recordTurn(p, round, text, false)
	return text, nil
}

func (c *Council) recordTurn(p types.Participant, round int, content string, skipped bool) {
	c.sess.Append(types.Message{
		ID:            uuid.NewString(),
		Kind:          types.KindParticipant,
		ParticipantID: p.ID,
		Round:         round,
		Phase:         string(c.sess.Phase()),
		Content:       content,
		Skipped:       skipped,
		Timestamp:     time.Now(),
	})
	c.sess.Bus().Publish(session.EventTurnCompleted, map[string]any{
		"participant_id": p.ID,
		"round":          round,
		"skipped":        skipped,
	})
}

// draftProposal 由提案人（无提案人时由议长）把讨论收敛成稟议单并提交。
func (c *Council) draftProposal(ctx context.Context, snap loader.RosterSnapshot) (*consensus.Proposal, error) {
	drafter, ok := pickDrafter(snap)
	if !ok {
		return nil, errors.New("名册中没有具备提案权的参与者")
	}

	header := "讨论已经收束，请起草正式稟议单。"
	user := renderTranscript(header, c.sess.Recent(c.cfg.ContextMessages+5)) + proposalInstruction

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.TurnTimeout())
	defer cancel()
	text, err := c.providerFor(drafter).Call(callCtx, provider.ChatPayload{System: rolePrompt(drafter), User: user})
	if err != nil {
		return nil, fmt.Errorf("提案人调用失败: %w", err)
	}

	draft, err := consensus.ParseProposalText(drafter.ID, text)
	if err != nil {
		return nil, fmt.Errorf("稟议单解析失败: %w", err)
	}
	p, err := c.engine.Submit(draft, snap.Ordered)
	if err != nil {
		return nil, err
	}

	c.sess.Append(types.Message{
		ID:            uuid.NewString(),
		Kind:          types.KindProposal,
		ParticipantID: drafter.ID,
		Round:         c.sess.Round(),
		Phase:         string(c.sess.Phase()),
		Content:       text,
		Timestamp:     time.Now(),
	})
	if err := c.sess.TransitionTo(session.PhaseVoting); err != nil {
		return nil, err
	}
	c.sess.Bus().Publish(session.EventProposalSubmitted, *p)
	logger.Infof("稟议单已提交 [%s]: %s %s entry=%s", p.ID, p.Pair, p.Strategy, p.EntryPrice)
	return p, nil
}

// pickDrafter 优先选 proposer 角色，退而求其次任何有提案权者，最后议长。
func pickDrafter(snap loader.RosterSnapshot) (types.Participant, bool) {
	var fallback *types.Participant
	for _, p := range snap.Ordered {
		if p.Role == types.RoleProposer && p.HasProposalRight {
			return p, true
		}
		if p.HasProposalRight && fallback == nil {
			fallback = &p
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return snap.Chair()
}

// nilProvider 兜底：providerFor 只在 drafter 已知存在通道时调用，
// 但名册热加载可能在中途换人，这里保持防御。
func (c *Council) providerFor(p types.Participant) provider.ModelProvider {
	if prov, ok := c.providers[p.ProviderID]; ok {
		return prov
	}
	return failingProvider{id: p.ProviderID}
}

type failingProvider struct{ id string }

func (f failingProvider) ID() string                                            { return f.id }
func (f failingProvider) Enabled() bool                                         { return false }
func (f failingProvider) Probe(context.Context) error                           { return fmt.Errorf("模型通道 %s 未配置", f.id) }
func (f failingProvider) Call(context.Context, provider.ChatPayload) (string, error) {
	return "", fmt.Errorf("模型通道 %s 未配置", f.id)
}

// RunVote 组织对当前稟议单的表决。每位有效投票人限时出具一票；
// 出不了合规选票的，其票保持未投，留给运营者经命令接口补投。
// 结算只在全部选票到齐时发生，所以本方法可能以 pending 返回。
func (c *Council) RunVote(ctx context.Context, p *consensus.Proposal) (consensus.TallyResult, error) {
	if c.sess.Phase() != session.PhaseVoting {
		return consensus.TallyPending, fmt.Errorf("当前阶段 %s 不允许表决", c.sess.Phase())
	}
	snap := c.roster.Snapshot()

	var voters []types.Participant
	for _, v := range snap.Voters() {
		if v.Eligible(p.SubmittedBy) {
			voters = append(voters, v)
		}
	}

	var g errgroup.Group
	for _, v := range voters {
		v := v
		g.Go(func() error {
			decision, reason, err := c.collectBallot(ctx, v, p)
			if err != nil {
				logger.Warnf("投票人 %s 未能出具有效选票: %v", v.ID, err)
				c.sess.Bus().Publish(session.EventErrorOccurred, map[string]any{
					"scope":          "ballot",
					"participant_id": v.ID,
					"error":          err.Error(),
				})
				return nil
			}
			result, err := c.engine.CastVote(v.ID, decision, reason)
			if err != nil {
				logger.Warnf("记票失败（%s）: %v", v.ID, err)
				return nil
			}
			c.sess.Append(types.Message{
				ID:            uuid.NewString(),
				Kind:          types.KindVote,
				ParticipantID: v.ID,
				Round:         c.sess.Round(),
				Phase:         string(session.PhaseVoting),
				Content:       fmt.Sprintf("%s：%s", decision, reason),
				Timestamp:     time.Now(),
			})
			c.sess.Bus().Publish(session.EventVotingUpdated, c.engine.Current().Summary())
			if result != consensus.TallyPending {
				logger.Infof("表决完成: %s", result)
			}
			return nil
		})
	}
	_ = g.Wait()

	current := c.engine.Current()
	switch current.Status {
	case consensus.StatusReviewing:
		if err := c.sess.TransitionTo(session.PhaseReviewing); err != nil {
			return consensus.TallyApproved, err
		}
		return consensus.TallyApproved, nil
	case consensus.StatusRejected:
		if rej := c.engine.LastRejection(); rej != nil {
			c.sess.Bus().Publish(session.EventVotingUpdated, *rej)
		}
		return consensus.TallyRejected, nil
	default:
		summary := current.Summary()
		logger.Infof("表决未齐（%d/%d），等待命令接口补投", summary.Voted, summary.TotalVoters)
		return consensus.TallyPending, nil
	}
}

// collectBallot 向单个投票人征集一票。
func (c *Council) collectBallot(ctx context.Context, v types.Participant, p *consensus.Proposal) (consensus.Decision, string, error) {
	prov, ok := c.providers[v.ProviderID]
	if !ok {
		return "", "", fmt.Errorf("缺少模型通道 %s", v.ProviderID)
	}

	summary := fmt.Sprintf("稟议单内容：\n方向: %s\n交易对: %s\n入场价: %s\n止盈: %s\n止损: %s\n依据: %s",
		p.Strategy, p.Pair, p.EntryPrice, p.TakeProfit, p.StopLoss, p.Reasoning)
	user := renderTranscript(summary, c.sess.Recent(c.cfg.ContextMessages)) + ballotInstruction

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.VoteTimeout())
	defer cancel()
	raw, err := prov.Call(callCtx, provider.ChatPayload{System: rolePrompt(v), User: user})
	if err != nil {
		return "", "", err
	}
	decision, reason, err := consensus.ParseBallot(raw)
	if err != nil {
		return "", "", fmt.Errorf("选票格式不合规: %w", err)
	}
	return decision, reason, nil
}

// RunSession 完整议事闭环：讨论 → 表决，被否决则带着反对意见重新讨论，
// 直至定稿就绪（reviewing）、议长终止或触达重提上限。
func (c *Council) RunSession(ctx context.Context, materials string) (Outcome, error) {
	for {
		outcome, err := c.RunDiscussion(ctx, materials)
		if err != nil {
			return Outcome{}, err
		}
		if outcome.Kind != OutcomeProposal {
			if err := c.sess.TransitionTo(session.PhaseIdle); err != nil {
				logger.Warnf("回退空闲阶段失败: %v", err)
			}
			return outcome, nil
		}

		if c.cfg.ManualVote {
			// 人工表决模式：停在表决阶段，逐票走命令接口
			logger.Infof("人工表决模式，等待命令接口收票")
			return outcome, nil
		}

		result, err := c.RunVote(ctx, outcome.Proposal)
		if err != nil {
			return outcome, err
		}
		if result == consensus.TallyApproved {
			return outcome, nil
		}
		if result == consensus.TallyPending {
			// 有选票缺席：会话停在表决阶段，等运营者补投
			return outcome, nil
		}

		// 被否决：检查重提余量，带着反对意见退回讨论
		if err := c.engine.CanResubmit(); err != nil {
			c.sess.Bus().Publish(session.EventErrorOccurred, map[string]any{
				"scope": "consensus",
				"error": err.Error(),
			})
			if terr := c.sess.TransitionTo(session.PhaseIdle); terr != nil {
				logger.Warnf("回退空闲阶段失败: %v", terr)
			}
			return Outcome{Kind: OutcomeAborted, Rounds: outcome.Rounds, Reason: err.Error()}, nil
		}
		if err := c.sess.TransitionTo(session.PhaseDiscussion); err != nil {
			return outcome, err
		}
		materials = rejectionBrief(c.engine.Current())
		logger.Infof("稟议单被否决，进入第 %d 次重提", c.engine.Current().Resubmissions)
	}
}

// rejectionBrief 把被否决稟议单的要点整理成下一轮讨论的开场材料。
func rejectionBrief(p *consensus.Proposal) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("上一份稟议单（%s %s，入场 %s）未获全票通过，已被退回。\n请针对反对意见重新讨论，修正方案或论证后再行提案。",
		p.Pair, p.Strategy, p.EntryPrice)
}
