package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"parliament/internal/consensus"
	"parliament/internal/position"
	"parliament/internal/report"
	storemodel "parliament/internal/store/model"
	"parliament/internal/types"
)

// Store 基于 Gorm + SQLite 持久化议事消息、稟议单、仓位与复盘报告。
type Store struct {
	db *gorm.DB
}

// New 打开（必要时创建）数据库并完成建表。
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// 走 modernc 纯 Go 驱动，_pragma 参数才会生效，部署也不依赖 cgo
	dialector := &sqlite.Dialector{DriverName: "sqlite", DSN: dsn}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&storemodel.MessageModel{},
		&storemodel.ProposalModel{},
		&storemodel.PositionModel{},
		&storemodel.ReportModel{},
		&storemodel.EventLogModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：给并发的 HTTP 查询留一点余量，同时压低锁竞争
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---------------------------- 消息 ----------------------------

func (s *Store) SaveMessage(ctx context.Context, sessionID string, msg types.Message) error {
	if s == nil || s.db == nil {
		return nil
	}
	m := storemodel.MessageModel{
		MessageID:     msg.ID,
		SessionID:     sessionID,
		Kind:          string(msg.Kind),
		ParticipantID: msg.ParticipantID,
		Round:         msg.Round,
		Phase:         msg.Phase,
		Content:       msg.Content,
		Skipped:       msg.Skipped,
		CreatedAtUnix: msg.Timestamp.Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(&m).Error
}

func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []storemodel.MessageModel
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		out = append(out, types.Message{
			ID:            r.MessageID,
			Kind:          types.MessageKind(r.Kind),
			ParticipantID: r.ParticipantID,
			Round:         r.Round,
			Phase:         r.Phase,
			Content:       r.Content,
			Skipped:       r.Skipped,
			Timestamp:     time.Unix(r.CreatedAtUnix, 0),
		})
	}
	return out, nil
}

// ---------------------------- 稟议单 ----------------------------

func (s *Store) UpsertProposal(ctx context.Context, p consensus.Proposal) error {
	if s == nil || s.db == nil {
		return nil
	}
	votes, err := json.Marshal(p.Votes)
	if err != nil {
		return fmt.Errorf("稟议单票箱序列化失败: %w", err)
	}
	m := storemodel.ProposalModel{
		ProposalID:    p.ID,
		SubmittedBy:   p.SubmittedBy,
		Strategy:      string(p.Strategy),
		Pair:          p.Pair,
		EntryPrice:    p.EntryPrice.String(),
		TakeProfit:    p.TakeProfit.String(),
		StopLoss:      p.StopLoss.String(),
		Reasoning:     p.Reasoning,
		VotesJSON:     datatypes.JSON(votes),
		Status:        string(p.Status),
		Resubmissions: p.Resubmissions,
		CreatedAtUnix: p.CreatedAt.Unix(),
		UpdatedAtUnix: p.UpdatedAt.Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "proposal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"entry_price", "take_profit", "stop_loss", "reasoning",
				"votes_json", "status", "resubmissions", "updated_at",
			}),
		}).
		Create(&m).Error
}

func (s *Store) GetProposal(ctx context.Context, proposalID string) (*storemodel.ProposalModel, error) {
	var m storemodel.ProposalModel
	err := s.db.WithContext(ctx).Where("proposal_id = ?", proposalID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListProposals(ctx context.Context, limit int) ([]storemodel.ProposalModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []storemodel.ProposalModel
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ---------------------------- 仓位 ----------------------------

func (s *Store) UpsertPosition(ctx context.Context, pos position.Position) error {
	if s == nil || s.db == nil {
		return nil
	}
	history, err := json.Marshal(pos.History)
	if err != nil {
		return fmt.Errorf("仓位轨迹序列化失败: %w", err)
	}
	m := storemodel.PositionModel{
		PositionID:    pos.ID,
		ProposalID:    pos.ProposalID,
		Symbol:        pos.Symbol,
		Strategy:      string(pos.Strategy),
		Status:        string(pos.Status),
		EntryPrice:    pos.EntryPrice.String(),
		TakeProfit:    pos.TakeProfit.String(),
		StopLoss:      pos.StopLoss.String(),
		AmountUSD:     pos.AmountUSD.String(),
		Quantity:      pos.Quantity.String(),
		RemainingQty:  pos.RemainingQty.String(),
		HistoryJSON:   datatypes.JSON(history),
		OpenedAtUnix:  pos.OpenedAt.Unix(),
		UpdatedAtUnix: time.Now().Unix(),
	}
	if pos.Status == position.StatusClosed {
		closedAt := pos.ClosedAt.Unix()
		m.ClosedAtUnix = &closedAt
		m.ClosePrice = pos.ClosePrice.String()
		m.CloseReason = string(pos.CloseReason)
		m.PnL = pos.PnL.String()
		m.PnLPercent = pos.PnLPercent.String()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "position_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "remaining_qty", "close_price", "close_reason",
				"pnl", "pnl_percent", "history_json", "closed_at", "updated_at",
			}),
		}).
		Create(&m).Error
}

func (s *Store) ListPositions(ctx context.Context, limit int) ([]storemodel.PositionModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []storemodel.PositionModel
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ---------------------------- 报告 ----------------------------

func (s *Store) SaveReport(ctx context.Context, r report.Report) error {
	if s == nil || s.db == nil {
		return nil
	}
	prices, err := json.Marshal(r.PriceHistory)
	if err != nil {
		return fmt.Errorf("报告价格轨迹序列化失败: %w", err)
	}
	m := storemodel.ReportModel{
		ReportID:         r.ID,
		PositionID:       r.PositionID,
		ProposalID:       r.ProposalID,
		Symbol:           r.Symbol,
		Strategy:         r.Strategy,
		CloseReason:      r.CloseReason,
		PnL:              r.PnL,
		PnLPercent:       r.PnLPercent,
		Duration:         r.Duration,
		Analysis:         r.Analysis,
		Improvements:     r.Improvements,
		EntryState:       r.EntryState,
		ExitState:        r.ExitState,
		PriceHistoryJSON: datatypes.JSON(prices),
		GeneratedAtUnix:  r.GeneratedAt.Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "report_id"}}, DoNothing: true}).
		Create(&m).Error
}

func (s *Store) GetReport(ctx context.Context, reportID string) (*storemodel.ReportModel, error) {
	var m storemodel.ReportModel
	err := s.db.WithContext(ctx).Where("report_id = ?", reportID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListReports(ctx context.Context, limit int) ([]storemodel.ReportModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []storemodel.ReportModel
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ---------------------------- 事件流水 ----------------------------

func (s *Store) AppendEvent(ctx context.Context, eventType string, payload any, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(fmt.Sprintf("%q", fmt.Sprint(payload)))
	}
	m := storemodel.EventLogModel{
		Type:          eventType,
		PayloadJSON:   datatypes.JSON(raw),
		CreatedAtUnix: at.Unix(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]storemodel.EventLogModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []storemodel.EventLogModel
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
