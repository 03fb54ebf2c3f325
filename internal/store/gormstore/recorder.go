package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"parliament/internal/consensus"
	"parliament/internal/logger"
	"parliament/internal/position"
	"parliament/internal/report"
	"parliament/internal/session"
	storemodel "parliament/internal/store/model"
)

// persistTimeout 落库动作的单次时限。事件回调在总线的独立 goroutine 里执行，
// 不能无限期占用数据库连接。
const persistTimeout = 5 * time.Second

// Attach 把存储挂到事件总线上：全量事件进流水表，
// 携带实体的事件顺带落对应业务表。落库失败只记日志。
func (s *Store) Attach(bus *session.Bus) {
	bus.Subscribe(func(evt session.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := s.AppendEvent(ctx, string(evt.Type), evt.Payload, evt.Timestamp); err != nil {
			logger.Warnf("事件流水落库失败（%s）: %v", evt.Type, err)
		}

		var err error
		switch payload := evt.Payload.(type) {
		case consensus.Proposal:
			err = s.UpsertProposal(ctx, payload)
		case consensus.Rejection:
			err = s.UpsertProposal(ctx, payload.Proposal)
		case position.View:
			err = s.upsertPositionView(ctx, payload)
		case report.Report:
			err = s.SaveReport(ctx, payload)
		}
		if err != nil {
			logger.Warnf("实体落库失败（%s）: %v", evt.Type, err)
		}
	})
}

// upsertPositionView 用事件里的只读视图更新仓位表。
// 视图不携带价格轨迹，history_json 留给完整落库路径补齐。
func (s *Store) upsertPositionView(ctx context.Context, v position.View) error {
	m := storemodel.PositionModel{
		PositionID:    v.ID,
		ProposalID:    v.ProposalID,
		Symbol:        v.Symbol,
		Strategy:      v.Strategy,
		Status:        v.Status,
		EntryPrice:    v.EntryPrice,
		TakeProfit:    v.TakeProfit,
		StopLoss:      v.StopLoss,
		RemainingQty:  v.RemainingQty,
		ClosePrice:    v.ClosePrice,
		CloseReason:   string(v.CloseReason),
		PnL:           v.PnL,
		PnLPercent:    v.PnLPercent,
		OpenedAtUnix:  v.OpenedAt.Unix(),
		UpdatedAtUnix: time.Now().Unix(),
	}
	if v.ClosedAt != nil {
		closedAt := v.ClosedAt.Unix()
		m.ClosedAtUnix = &closedAt
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "position_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "remaining_qty", "close_price", "close_reason",
				"pnl", "pnl_percent", "closed_at", "updated_at",
			}),
		}).
		Create(&m).Error
}
