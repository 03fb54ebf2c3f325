package consensus

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status 稟议单状态机的各个状态。draft 只存在于提交命令内部，
// 落到引擎时已是 voting。
type Status string

const (
	StatusDraft     Status = "draft"
	StatusVoting    Status = "voting"
	StatusReviewing Status = "reviewing"
	StatusFinalized Status = "finalized"
	StatusRejected  Status = "rejected"
)

// Terminal 报告状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusRejected
}

// Strategy 交易方向。
type Strategy string

const (
	StrategyLong  Strategy = "long"
	StrategyShort Strategy = "short"
)

// Decision 投票立场。
type Decision string

const (
	DecisionSupport Decision = "support"
	DecisionOppose  Decision = "oppose"
)

// Vote 一票。每位投票人在一次表决中至多写入一次。
type Vote struct {
	Voter     string    `json:"voter"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Draft 是提交稟议单所需的全部字段。
type Draft struct {
	SubmittedBy string
	Strategy    Strategy
	Pair        string
	EntryPrice  decimal.Decimal
	TakeProfit  decimal.Decimal
	StopLoss    decimal.Decimal
	Reasoning   string
}

// Proposal 稟议单。全生命周期只由共识引擎写入；
// 进入 finalized 或 rejected 后不再变更。
type Proposal struct {
	ID          string           `json:"id"`
	SubmittedBy string           `json:"submitted_by"`
	Strategy    Strategy         `json:"strategy"`
	Pair        string           `json:"pair"`
	EntryPrice  decimal.Decimal  `json:"entry_price"`
	TakeProfit  decimal.Decimal  `json:"take_profit"`
	StopLoss    decimal.Decimal  `json:"stop_loss"`
	Reasoning   string           `json:"reasoning"`
	Votes       map[string]*Vote `json:"votes"`
	Status      Status           `json:"status"`
	// 被否决后重走讨论的次数
	Resubmissions int       `json:"resubmissions"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newProposal(draft Draft) *Proposal {
	now := time.Now()
	return &Proposal{
		ID:          uuid.NewString(),
		SubmittedBy: draft.SubmittedBy,
		Strategy:    draft.Strategy,
		Pair:        draft.Pair,
		EntryPrice:  draft.EntryPrice,
		TakeProfit:  draft.TakeProfit,
		StopLoss:    draft.StopLoss,
		Reasoning:   draft.Reasoning,
		Votes:       make(map[string]*Vote),
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// clone 深拷贝。引擎对外只交出副本，调用方拿到的投票表
// 与引擎内部仍在写入的那张互不干扰。
func (p *Proposal) clone() *Proposal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Votes = make(map[string]*Vote, len(p.Votes))
	for voter, v := range p.Votes {
		if v == nil {
			cp.Votes[voter] = nil
			continue
		}
		vote := *v
		cp.Votes[voter] = &vote
	}
	return &cp
}

// VotingSummary 表决进度摘要，供事件与查询接口使用。
type VotingSummary struct {
	TotalVoters int              `json:"total_voters"`
	Voted       int              `json:"voted"`
	Support     int              `json:"support"`
	Oppose      int              `json:"oppose"`
	Pending     int              `json:"pending"`
	Votes       map[string]*Vote `json:"votes"`
}

// Summary 汇总当前表决进度。
func (p *Proposal) Summary() VotingSummary {
	s := VotingSummary{
		TotalVoters: len(p.Votes),
		Votes:       make(map[string]*Vote, len(p.Votes)),
	}
	for voter, v := range p.Votes {
		s.Votes[voter] = v
		if v == nil {
			s.Pending++
			continue
		}
		s.Voted++
		if v.Decision == DecisionSupport {
			s.Support++
		} else {
			s.Oppose++
		}
	}
	return s
}

// Edits 复核阶段允许调整的字段。nil 字段保持不变。
type Edits struct {
	EntryPrice *decimal.Decimal
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
	Reasoning  *string
}
