package position

import (
	"time"

	"github.com/shopspring/decimal"

	"parliament/internal/consensus"
)

// Status 仓位状态机：open -> [trailing] -> [partially_closed] -> closed。
// 入场单在 Open 内同步完成，开仓中的中间态对外不可见。
type Status string

const (
	StatusOpen            Status = "open"
	StatusTrailing        Status = "trailing"
	StatusPartiallyClosed Status = "partially_closed"
	StatusClosed          Status = "closed"
)

// CloseReason 仅在 status=closed 时非空。
type CloseReason string

const (
	CloseTPHit        CloseReason = "tp_hit"
	CloseSLHit        CloseReason = "sl_hit"
	CloseTrailingStop CloseReason = "trailing_stop"
	CloseTimeout      CloseReason = "timeout"
	CloseManual       CloseReason = "manual"
)

// Snapshot 一次轮询采到的价格与指标切片。
type Snapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	Price         float64   `json:"price"`
	RSI           float64   `json:"rsi,omitempty"`
	MACDHistogram float64   `json:"macd_histogram,omitempty"`
	VolumeRatio   float64   `json:"volume_ratio,omitempty"`
}

// 价格历史上限，超出后丢弃最早的点
const maxHistory = 480

// Position 已定稿稟议单的执行实体。一个会话同时至多一个非终态仓位。
type Position struct {
	ID         string              `json:"id"`
	ProposalID string              `json:"proposal_id"`
	Symbol     string              `json:"symbol"`
	Strategy   consensus.Strategy  `json:"strategy"`
	EntryPrice decimal.Decimal     `json:"entry_price"`
	TakeProfit decimal.Decimal     `json:"take_profit"`
	StopLoss   decimal.Decimal     `json:"stop_loss"`
	AmountUSD  decimal.Decimal     `json:"amount_usd"`
	Quantity   decimal.Decimal     `json:"quantity"`
	// RemainingQty 单调不增
	RemainingQty decimal.Decimal `json:"remaining_qty"`

	Status        Status          `json:"status"`
	TrailingArmed bool            `json:"trailing_armed"`
	HighWater     decimal.Decimal `json:"trailing_high_water"`

	PartialDone  bool            `json:"partial_done"`
	PartialPrice decimal.Decimal `json:"partial_price"`
	PartialQty   decimal.Decimal `json:"partial_qty"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`

	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at,omitzero"`
	ClosePrice  decimal.Decimal `json:"close_price"`
	CloseReason CloseReason     `json:"close_reason,omitempty"`
	PnL         decimal.Decimal `json:"pnl"`
	PnLPercent  decimal.Decimal `json:"pnl_percent"`

	EntrySnapshot *Snapshot  `json:"entry_snapshot,omitempty"`
	History       []Snapshot `json:"history,omitempty"`
}

// appendSnapshot 追加一条历史并裁剪到上限。
func (p *Position) appendSnapshot(s Snapshot) {
	p.History = append(p.History, s)
	if len(p.History) > maxHistory {
		p.History = p.History[len(p.History)-maxHistory:]
	}
}

// signedPnL 按方向计算 (price - entry) * qty，short 取反。
func (p *Position) signedPnL(price, qty decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Strategy == consensus.StrategyShort {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}

// unrealizedPnL 剩余仓位按当前价的浮动盈亏。
func (p *Position) unrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.signedPnL(price, p.RemainingQty)
}

// profitRatio 相对入场价的有利变动比例（short 方向取反后为正表示盈利）。
func (p *Position) profitRatio(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	diff := price.Sub(p.EntryPrice)
	if p.Strategy == consensus.StrategyShort {
		diff = diff.Neg()
	}
	return diff.Div(p.EntryPrice)
}

// View 是对外暴露的只读快照（事件 payload 与查询接口共用）。
type View struct {
	ID            string      `json:"id"`
	ProposalID    string      `json:"proposal_id"`
	Symbol        string      `json:"symbol"`
	Strategy      string      `json:"strategy"`
	Status        string      `json:"status"`
	EntryPrice    string      `json:"entry_price"`
	TakeProfit    string      `json:"take_profit"`
	StopLoss      string      `json:"stop_loss"`
	RemainingQty  string      `json:"remaining_qty"`
	TrailingArmed bool        `json:"trailing_armed"`
	HighWater     string      `json:"trailing_high_water,omitempty"`
	PartialDone   bool        `json:"partial_done"`
	OpenedAt      time.Time   `json:"opened_at"`
	ClosedAt      *time.Time  `json:"closed_at,omitempty"`
	ClosePrice    string      `json:"close_price,omitempty"`
	CloseReason   CloseReason `json:"close_reason,omitempty"`
	PnL           string      `json:"pnl,omitempty"`
	PnLPercent    string      `json:"pnl_percent,omitempty"`
}

func (p *Position) view() View {
	v := View{
		ID:            p.ID,
		ProposalID:    p.ProposalID,
		Symbol:        p.Symbol,
		Strategy:      string(p.Strategy),
		Status:        string(p.Status),
		EntryPrice:    p.EntryPrice.String(),
		TakeProfit:    p.TakeProfit.String(),
		StopLoss:      p.StopLoss.String(),
		RemainingQty:  p.RemainingQty.String(),
		TrailingArmed: p.TrailingArmed,
		PartialDone:   p.PartialDone,
		OpenedAt:      p.OpenedAt,
	}
	if p.TrailingArmed {
		v.HighWater = p.HighWater.String()
	}
	if p.Status == StatusClosed {
		closedAt := p.ClosedAt
		v.ClosedAt = &closedAt
		v.ClosePrice = p.ClosePrice.String()
		v.CloseReason = p.CloseReason
		v.PnL = p.PnL.String()
		v.PnLPercent = p.PnLPercent.String()
	}
	return v
}
