package model

import (
	"gorm.io/datatypes"
)

// MessageModel 讨论消息的落库形态。
type MessageModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	MessageID     string `gorm:"column:message_id;uniqueIndex"`
	SessionID     string `gorm:"column:session_id;index"`
	Kind          string `gorm:"column:kind"`
	ParticipantID string `gorm:"column:participant_id"`
	Round         int    `gorm:"column:round"`
	Phase         string `gorm:"column:phase"`
	Content       string `gorm:"column:content;type:TEXT"`
	Skipped       bool   `gorm:"column:skipped"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (MessageModel) TableName() string { return "messages" }

// ProposalModel 稟议单。价格字段以十进制字符串存储，避免精度损失。
type ProposalModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	ProposalID    string         `gorm:"column:proposal_id;uniqueIndex"`
	SubmittedBy   string         `gorm:"column:submitted_by"`
	Strategy      string         `gorm:"column:strategy"`
	Pair          string         `gorm:"column:pair;index"`
	EntryPrice    string         `gorm:"column:entry_price"`
	TakeProfit    string         `gorm:"column:take_profit"`
	StopLoss      string         `gorm:"column:stop_loss"`
	Reasoning     string         `gorm:"column:reasoning;type:TEXT"`
	VotesJSON     datatypes.JSON `gorm:"column:votes_json;type:TEXT"`
	Status        string         `gorm:"column:status;index"`
	Resubmissions int            `gorm:"column:resubmissions"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (ProposalModel) TableName() string { return "proposals" }

// PositionModel 仓位及其价格轨迹。
type PositionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	PositionID    string         `gorm:"column:position_id;uniqueIndex"`
	ProposalID    string         `gorm:"column:proposal_id;index"`
	Symbol        string         `gorm:"column:symbol;index"`
	Strategy      string         `gorm:"column:strategy"`
	Status        string         `gorm:"column:status;index"`
	EntryPrice    string         `gorm:"column:entry_price"`
	TakeProfit    string         `gorm:"column:take_profit"`
	StopLoss      string         `gorm:"column:stop_loss"`
	AmountUSD     string         `gorm:"column:amount_usd"`
	Quantity      string         `gorm:"column:quantity"`
	RemainingQty  string         `gorm:"column:remaining_qty"`
	ClosePrice    string         `gorm:"column:close_price"`
	CloseReason   string         `gorm:"column:close_reason"`
	PnL           string         `gorm:"column:pnl"`
	PnLPercent    string         `gorm:"column:pnl_percent"`
	HistoryJSON   datatypes.JSON `gorm:"column:history_json;type:TEXT"`
	OpenedAtUnix  int64          `gorm:"column:opened_at"`
	ClosedAtUnix  *int64         `gorm:"column:closed_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

// ReportModel 复盘报告。
type ReportModel struct {
	ID               int64          `gorm:"column:id;primaryKey"`
	ReportID         string         `gorm:"column:report_id;uniqueIndex"`
	PositionID       string         `gorm:"column:position_id;index"`
	ProposalID       string         `gorm:"column:proposal_id"`
	Symbol           string         `gorm:"column:symbol"`
	Strategy         string         `gorm:"column:strategy"`
	CloseReason      string         `gorm:"column:close_reason"`
	PnL              string         `gorm:"column:pnl"`
	PnLPercent       string         `gorm:"column:pnl_percent"`
	Duration         string         `gorm:"column:duration"`
	Analysis         string         `gorm:"column:analysis;type:TEXT"`
	Improvements     string         `gorm:"column:improvements;type:TEXT"`
	EntryState       string         `gorm:"column:entry_state;type:TEXT"`
	ExitState        string         `gorm:"column:exit_state;type:TEXT"`
	PriceHistoryJSON datatypes.JSON `gorm:"column:price_history_json;type:TEXT"`
	GeneratedAtUnix  int64          `gorm:"column:generated_at"`
}

func (ReportModel) TableName() string { return "reports" }

// EventLogModel 事件流水，仅追加。
type EventLogModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Type          string         `gorm:"column:type;index"`
	PayloadJSON   datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (EventLogModel) TableName() string { return "event_logs" }
