package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"parliament/internal/logger"
	"parliament/internal/types"
)

var (
	// ErrVoterNotEligible 投票人不在本次表决的名单中（含提交者本人）。
	ErrVoterNotEligible = errors.New("无投票资格")
	// ErrAlreadyVoted 同一投票人在同一次表决中重复投票。
	ErrAlreadyVoted = errors.New("已投过票")
	// ErrInvalidTransition 非法的状态迁移请求，不产生任何状态变更。
	ErrInvalidTransition = errors.New("非法的状态迁移")
	// ErrConsensusDeadlock 重提次数耗尽，整个共识周期终止。
	ErrConsensusDeadlock = errors.New("共识僵局：重提次数已耗尽")
	// ErrInvalidDecision 投票立场只能是 support 或 oppose。
	ErrInvalidDecision = errors.New("无效的投票立场")
)

// TallyResult 一次投票落账后的表决结果。
type TallyResult string

const (
	TallyPending  TallyResult = "pending"
	TallyApproved TallyResult = "approved"
	TallyRejected TallyResult = "rejected"
)

// Rejection 一次否决裁决的留档。清票前拍快照，否则反对理由随票一起丢。
type Rejection struct {
	Proposal Proposal      `json:"proposal"`
	Summary  VotingSummary `json:"summary"`
}

// Engine 持有当前会话中唯一的活跃稟议单并裁决其状态机。
// 全部写入都经过内部互斥锁，外部命令可并发调用。
type Engine struct {
	mu               sync.Mutex
	proposal         *Proposal
	lastRejection    *Rejection
	maxResubmissions int
}

func NewEngine(maxResubmissions int) *Engine {
	if maxResubmissions < 0 {
		maxResubmissions = 0
	}
	return &Engine{maxResubmissions: maxResubmissions}
}

// Current 返回当前稟议单的深拷贝（可能为 nil）。
// 表决期间引擎仍在写投票表，内部指针不外借。
func (e *Engine) Current() *Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proposal.clone()
}

// LastRejection 返回最近一次否决的留档（可能为 nil）。
func (e *Engine) LastRejection() *Rejection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRejection
}

// Submit 提交一份草案并进入表决。
// votes 名单 = 全体有投票权的参与者 \ {提交者}；任意时刻至多一份非终态稟议单。
func (e *Engine) Submit(draft Draft, voters []types.Participant) (*Proposal, error) {
	if draft.Strategy != StrategyLong && draft.Strategy != StrategyShort {
		return nil, fmt.Errorf("%w: strategy=%q", ErrInvalidTransition, draft.Strategy)
	}
	if draft.Pair == "" || !draft.EntryPrice.IsPositive() {
		return nil, fmt.Errorf("%w: 稟议单缺少交易对或入场价", ErrInvalidTransition)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proposal != nil && !e.proposal.Status.Terminal() {
		return nil, fmt.Errorf("%w: 已存在活跃稟议单 %s（%s）", ErrInvalidTransition, e.proposal.ID, e.proposal.Status)
	}

	p := newProposal(draft)
	resubmissions := 0
	if e.proposal != nil && e.proposal.Status == StatusRejected {
		// 被否决后的重提延续计数
		resubmissions = e.proposal.Resubmissions
	}
	p.Resubmissions = resubmissions

	for _, v := range voters {
		if !v.Eligible(draft.SubmittedBy) {
			continue
		}
		p.Votes[v.ID] = nil
	}
	// draft 到 voting 在提交命令内一次完成，外部观察不到中间态
	p.Status = StatusVoting
	p.UpdatedAt = time.Now()
	e.proposal = p
	logger.Infof("稟议单已提交: %s %s %s，投票人 %d 位", p.ID, p.Pair, p.Strategy, len(p.Votes))
	return p.clone(), nil
}

// CastVote 落账一票。全部票到齐后统一裁决：
// 全员 support → reviewing；存在 oppose → rejected 并清空全部票、递增重提计数。
func (e *Engine) CastVote(voterID string, decision Decision, reason string) (TallyResult, error) {
	if decision != DecisionSupport && decision != DecisionOppose {
		return TallyPending, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.proposal
	if p == nil || p.Status != StatusVoting {
		return TallyPending, fmt.Errorf("%w: 当前没有处于表决中的稟议单", ErrInvalidTransition)
	}
	existing, eligible := p.Votes[voterID]
	if !eligible {
		return TallyPending, fmt.Errorf("%w: %s", ErrVoterNotEligible, voterID)
	}
	if existing != nil {
		return TallyPending, fmt.Errorf("%w: %s", ErrAlreadyVoted, voterID)
	}

	p.Votes[voterID] = &Vote{Voter: voterID, Decision: decision, Reason: reason, Timestamp: time.Now()}
	p.UpdatedAt = time.Now()
	logger.Infof("收到投票: %s -> %s", voterID, decision)

	// 票未到齐不裁决
	for _, v := range p.Votes {
		if v == nil {
			return TallyPending, nil
		}
	}
	for _, v := range p.Votes {
		if v.Decision == DecisionOppose {
			p.Status = StatusRejected
			p.Resubmissions++
			snapshot := p.clone()
			e.lastRejection = &Rejection{Proposal: *snapshot, Summary: snapshot.Summary()}
			for voter := range p.Votes {
				p.Votes[voter] = nil
			}
			logger.Infof("稟议单被否决: %s（第 %d 次），清空全部投票", p.ID, p.Resubmissions)
			return TallyRejected, nil
		}
	}
	p.Status = StatusReviewing
	logger.Infof("稟议单全票通过，进入复核: %s", p.ID)
	return TallyApproved, nil
}

// Finalize 复核定稿。允许复核人调整价格与理由，不触发重新表决。
func (e *Engine) Finalize(edits Edits) (*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.proposal
	if p == nil || p.Status != StatusReviewing {
		return nil, fmt.Errorf("%w: 只有复核中的稟议单可以定稿", ErrInvalidTransition)
	}
	if edits.EntryPrice != nil {
		p.EntryPrice = *edits.EntryPrice
	}
	if edits.TakeProfit != nil {
		p.TakeProfit = *edits.TakeProfit
	}
	if edits.StopLoss != nil {
		p.StopLoss = *edits.StopLoss
	}
	if edits.Reasoning != nil {
		p.Reasoning = *edits.Reasoning
	}
	p.Status = StatusFinalized
	p.UpdatedAt = time.Now()
	logger.Infof("稟议单已定稿: %s %s entry=%s tp=%s sl=%s",
		p.ID, p.Pair, p.EntryPrice, p.TakeProfit, p.StopLoss)
	return p.clone(), nil
}

// CanResubmit 判断被否决后能否再走一轮讨论重提。
// 超出上限返回 ErrConsensusDeadlock，由编排层把会话退回空闲。
func (e *Engine) CanResubmit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.proposal
	if p == nil || p.Status != StatusRejected {
		return fmt.Errorf("%w: 当前稟议单未被否决", ErrInvalidTransition)
	}
	if p.Resubmissions > e.maxResubmissions {
		return ErrConsensusDeadlock
	}
	return nil
}

// Reset 丢弃当前稟议单（会话复位时调用）。
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proposal = nil
	e.lastRejection = nil
}
