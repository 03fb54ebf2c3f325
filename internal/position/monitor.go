package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"parliament/internal/analysis/indicator"
	"parliament/internal/config"
	"parliament/internal/consensus"
	"parliament/internal/gateway/venue"
	"parliament/internal/logger"
	"parliament/internal/session"
)

var (
	// ErrPositionActive 已有非终态仓位时拒绝再开仓。
	ErrPositionActive = errors.New("已存在活跃仓位")
	// ErrNoPosition 当前没有仓位可操作。
	ErrNoPosition = errors.New("当前没有仓位")
	// ErrAmountInvalid 交易金额不合法或超出上限。
	ErrAmountInvalid = errors.New("交易金额不合法")
)

// tickAction 一次轮询裁决出的动作。每个 tick 至多一个动作胜出。
type tickAction int

const (
	actionNone tickAction = iota
	actionClose
	actionPartial
)

// Monitor 仓位生命周期的监护者：开仓、周期轮询、按固定优先级裁决退出。
// 裁决顺序固定为 止损 > 止盈 > 移动止损 > 部分止盈 > 超时。
type Monitor struct {
	venue venue.Venue
	bus   session.Emitter
	cfg   config.MonitorConfig
	limit config.TradingConfig

	nowFn      func() time.Time
	snapshotFn func(ctx context.Context, symbol string, price float64) Snapshot

	mu           sync.Mutex
	// partialIdle 在部分止盈订单在途时挂起平仓路径，市价单之间不重叠
	partialIdle  *sync.Cond
	pos          *Position
	cancel       context.CancelFunc
	closing      bool
	partialBusy  bool
	pollFailures int

	onClosed func(Position)
}

func NewMonitor(v venue.Venue, bus session.Emitter, cfg config.MonitorConfig, limit config.TradingConfig) *Monitor {
	m := &Monitor{
		venue: v,
		bus:   bus,
		cfg:   cfg,
		limit: limit,
		nowFn: time.Now,
	}
	m.partialIdle = sync.NewCond(&m.mu)
	m.snapshotFn = m.defaultSnapshot
	return m
}

// SetOnClosed 注册仓位关闭后的回调（报表生成）。回调收到的是副本。
func (m *Monitor) SetOnClosed(fn func(Position)) {
	m.mu.Lock()
	m.onClosed = fn
	m.mu.Unlock()
}

// Current 返回当前仓位的只读视图；无仓位时返回 nil。
func (m *Monitor) Current() *View {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return nil
	}
	v := m.pos.view()
	return &v
}

// Open 按定稿稟议单开仓：下入场单、建立仓位、启动监护循环。
// 下单失败不创建仓位，错误直接上抛，不重试。
func (m *Monitor) Open(ctx context.Context, p *consensus.Proposal, amountUSD decimal.Decimal) (View, error) {
	if p == nil || p.Status != consensus.StatusFinalized {
		return View{}, fmt.Errorf("只有定稿稟议单可以执行")
	}
	if !amountUSD.IsPositive() {
		return View{}, fmt.Errorf("%w: %s", ErrAmountInvalid, amountUSD)
	}
	maxAmount := decimal.NewFromFloat(m.limit.MaxTradeAmountUSD)
	if maxAmount.IsPositive() && amountUSD.GreaterThan(maxAmount) {
		return View{}, fmt.Errorf("%w: %s 超出上限 %s", ErrAmountInvalid, amountUSD, maxAmount)
	}

	m.mu.Lock()
	if m.pos != nil && m.pos.Status != StatusClosed {
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w: %s", ErrPositionActive, m.pos.ID)
	}
	m.mu.Unlock()

	qty := amountUSD.Div(p.EntryPrice).Round(8)
	side := venue.SideBuy
	if p.Strategy == consensus.StrategyShort {
		side = venue.SideSell
	}
	logger.Infof("执行开仓: %s %s qty=%s entry=%s tp=%s sl=%s",
		side, p.Pair, qty, p.EntryPrice, p.TakeProfit, p.StopLoss)
	if _, err := m.venue.PlaceMarketOrder(ctx, venue.OrderRequest{
		Symbol:   p.Pair,
		Side:     side,
		Quantity: qty.String(),
	}); err != nil {
		return View{}, fmt.Errorf("开仓下单失败: %w", err)
	}

	entryPrice, _ := p.EntryPrice.Float64()
	entrySnap := m.snapshotFn(ctx, p.Pair, entryPrice)

	now := m.nowFn()
	pos := &Position{
		ID:            uuid.NewString()[:8],
		ProposalID:    p.ID,
		Symbol:        p.Pair,
		Strategy:      p.Strategy,
		EntryPrice:    p.EntryPrice,
		TakeProfit:    p.TakeProfit,
		StopLoss:      p.StopLoss,
		AmountUSD:     amountUSD,
		Quantity:      qty,
		RemainingQty:  qty,
		Status:        StatusOpen,
		OpenedAt:      now,
		EntrySnapshot: &entrySnap,
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.pos = pos
	m.cancel = cancel
	m.closing = false
	m.partialBusy = false
	m.pollFailures = 0
	view := pos.view()
	m.mu.Unlock()

	go m.run(loopCtx)
	m.bus.Publish(session.EventPositionOpened, view)
	logger.Infof("仓位已建立 [%s]: %s %s", pos.ID, pos.Symbol, pos.Strategy)
	return view, nil
}

// run 监护循环。只在 tick 边界触达共享状态，取消时不会留下写到一半的仓位。
func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick 执行一次轮询：取价、采快照、原子裁决、执行至多一个动作。
func (m *Monitor) tick(ctx context.Context) {
	m.mu.Lock()
	if m.pos == nil || m.pos.Status == StatusClosed {
		m.mu.Unlock()
		return
	}
	symbol := m.pos.Symbol
	m.mu.Unlock()

	price, err := m.venue.GetPrice(ctx, symbol)
	if err != nil {
		m.recordPollFailure(err)
		return
	}
	m.mu.Lock()
	m.pollFailures = 0
	m.mu.Unlock()

	snap := m.snapshotFn(ctx, symbol, price)

	action, reason := m.evaluate(price, snap)
	switch action {
	case actionClose:
		if err := m.closePosition(ctx, reason, price); err != nil {
			logger.Errorf("平仓失败 [%s]: %v", symbol, err)
			m.bus.Publish(session.EventErrorOccurred, map[string]any{"scope": "close_position", "error": err.Error()})
		}
	case actionPartial:
		if err := m.partialClose(ctx, price); err != nil {
			logger.Errorf("部分止盈失败 [%s]: %v", symbol, err)
			m.bus.Publish(session.EventErrorOccurred, map[string]any{"scope": "partial_close", "error": err.Error()})
		}
	}
}

// evaluate 在锁内做纯状态裁决：追加快照、维护移动止损锚点，
// 并按固定优先级选出本 tick 的唯一动作。不做任何 I/O。
func (m *Monitor) evaluate(price float64, snap Snapshot) (tickAction, CloseReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.pos
	if pos == nil || pos.Status == StatusClosed || m.closing {
		return actionNone, ""
	}

	pos.appendSnapshot(snap)
	priceD := decFromFloat(price)
	pnl := pos.unrealizedPnL(priceD)
	m.publishUpdate(pos, price, pnl, snap)

	// 1. 止损
	if breached(pos.Strategy, priceD, pos.StopLoss, false) {
		return actionClose, CloseSLHit
	}
	// 2. 止盈
	if breached(pos.Strategy, priceD, pos.TakeProfit, true) {
		return actionClose, CloseTPHit
	}
	// 3. 移动止损
	ratio := pos.profitRatio(priceD)
	trigger := decimal.NewFromFloat(m.cfg.TrailingTriggerPct)
	if ratio.GreaterThanOrEqual(trigger) && !pos.TrailingArmed {
		pos.TrailingArmed = true
		pos.HighWater = priceD
		if pos.Status == StatusOpen {
			pos.Status = StatusTrailing
		}
		logger.Infof("移动止损已激活 [%s]: price=%s 盈利 %s%%",
			pos.ID, priceD, ratio.Mul(decimal.NewFromInt(100)).Round(2))
	} else if pos.TrailingArmed {
		if favorable(pos.Strategy, priceD, pos.HighWater) {
			pos.HighWater = priceD
		}
		if retraced(pos.Strategy, priceD, pos.HighWater, m.cfg.TrailingDistancePct) {
			return actionClose, CloseTrailingStop
		}
	}
	// 4. 部分止盈（至多一次）
	if !pos.PartialDone && !m.partialBusy && m.partialTriggered(pos, priceD) {
		return actionPartial, ""
	}
	// 5. 超时
	if m.nowFn().Sub(pos.OpenedAt) >= m.cfg.MaxHolding() {
		return actionClose, CloseTimeout
	}
	return actionNone, ""
}

// partialTriggered 判断价格是否已覆盖入场价到止盈价距离的配置比例。
func (m *Monitor) partialTriggered(pos *Position, price decimal.Decimal) bool {
	var tpDistance, covered decimal.Decimal
	if pos.Strategy == consensus.StrategyShort {
		tpDistance = pos.EntryPrice.Sub(pos.TakeProfit)
		covered = pos.EntryPrice.Sub(price)
	} else {
		tpDistance = pos.TakeProfit.Sub(pos.EntryPrice)
		covered = price.Sub(pos.EntryPrice)
	}
	if !tpDistance.IsPositive() || !covered.IsPositive() {
		return false
	}
	trigger := decimal.NewFromFloat(m.cfg.PartialTPTriggerPct)
	return covered.Div(tpDistance).GreaterThanOrEqual(trigger)
}

// partialClose 市价平掉配置比例的剩余仓位。只会成功一次。
func (m *Monitor) partialClose(ctx context.Context, price float64) error {
	m.mu.Lock()
	pos := m.pos
	if pos == nil || pos.Status == StatusClosed || m.closing || pos.PartialDone || m.partialBusy {
		m.mu.Unlock()
		return nil
	}
	m.partialBusy = true
	closeQty := pos.RemainingQty.Mul(decimal.NewFromFloat(m.cfg.PartialTPRatio)).Round(8)
	symbol := pos.Symbol
	side := closeSide(pos.Strategy)
	m.mu.Unlock()

	logger.Infof("部分止盈 [%s]: 平掉 %s（%.0f%%）", pos.ID, closeQty, m.cfg.PartialTPRatio*100)
	if _, err := m.venue.PlaceMarketOrder(ctx, venue.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Quantity: closeQty.String(),
	}); err != nil {
		m.mu.Lock()
		m.partialBusy = false
		m.partialIdle.Broadcast()
		m.mu.Unlock()
		return err
	}

	priceD := decFromFloat(price)
	m.mu.Lock()
	if pos.Status == StatusClosed || m.closing {
		// 下单期间仓位已进入关闭流程，结果弃置不落账
		m.partialBusy = false
		m.partialIdle.Broadcast()
		m.mu.Unlock()
		logger.Warnf("部分止盈结果弃置 [%s]: 仓位已在关闭流程中", pos.ID)
		return nil
	}
	pos.PartialDone = true
	pos.PartialPrice = priceD
	pos.PartialQty = closeQty
	pos.RealizedPnL = pos.RealizedPnL.Add(pos.signedPnL(priceD, closeQty))
	pos.RemainingQty = pos.RemainingQty.Sub(closeQty)
	pos.Status = StatusPartiallyClosed
	m.partialBusy = false
	m.partialIdle.Broadcast()
	remaining := pos.RemainingQty
	m.mu.Unlock()

	m.bus.Publish(session.EventPartialCloseOccurred, map[string]any{
		"position_id":   pos.ID,
		"close_qty":     closeQty.String(),
		"close_price":   priceD.String(),
		"remaining_qty": remaining.String(),
	})
	logger.Infof("部分止盈完成 [%s]: 平掉 %s @ %s，剩余 %s", pos.ID, closeQty, priceD, remaining)
	return nil
}

// closePosition 幂等平仓：已关闭时为 no-op；否则市价平掉全部剩余仓位。
// 只产生一次 closed 迁移和一次 position_closed 事件。
func (m *Monitor) closePosition(ctx context.Context, reason CloseReason, price float64) error {
	m.mu.Lock()
	// 部分止盈订单在途时挂起，等它落账（或失败）后再取剩余数量，
	// 否则会在未扣减的仓位上重复下全量平仓单
	for m.partialBusy {
		m.partialIdle.Wait()
	}
	pos := m.pos
	if pos == nil {
		m.mu.Unlock()
		return ErrNoPosition
	}
	if pos.Status == StatusClosed || m.closing {
		m.mu.Unlock()
		return nil
	}
	m.closing = true
	qty := pos.RemainingQty
	symbol := pos.Symbol
	side := closeSide(pos.Strategy)
	m.mu.Unlock()

	logger.Infof("执行平仓 [%s]: %s %s qty=%s reason=%s", pos.ID, side, symbol, qty, reason)
	if qty.IsPositive() {
		if _, err := m.venue.PlaceMarketOrder(ctx, venue.OrderRequest{
			Symbol:   symbol,
			Side:     side,
			Quantity: qty.String(),
		}); err != nil {
			// 资金相关调用不静默重试，失败直接上抛，仓位保持原状
			m.mu.Lock()
			m.closing = false
			m.mu.Unlock()
			return err
		}
	}

	priceD := decFromFloat(price)
	m.mu.Lock()
	pos.Status = StatusClosed
	pos.ClosedAt = m.nowFn()
	pos.ClosePrice = priceD
	pos.CloseReason = reason
	pos.PnL = pos.signedPnL(priceD, qty).Add(pos.RealizedPnL).Round(8)
	if pos.AmountUSD.IsPositive() {
		pos.PnLPercent = pos.PnL.Div(pos.AmountUSD).Mul(decimal.NewFromInt(100)).Round(2)
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	closed := *pos
	onClosed := m.onClosed
	view := pos.view()
	m.mu.Unlock()

	logger.Infof("仓位已关闭 [%s]: reason=%s close=%s pnl=%s (%s%%)",
		pos.ID, reason, priceD, closed.PnL, closed.PnLPercent)
	m.bus.Publish(session.EventPositionClosed, view)
	if onClosed != nil {
		go onClosed(closed)
	}
	return nil
}

// ManualClose 外部命令平仓。复用幂等的 closePosition(manual) 路径。
func (m *Monitor) ManualClose(ctx context.Context) error {
	m.mu.Lock()
	pos := m.pos
	if pos == nil {
		m.mu.Unlock()
		return ErrNoPosition
	}
	if pos.Status == StatusClosed {
		m.mu.Unlock()
		return fmt.Errorf("仓位 %s 已关闭", pos.ID)
	}
	symbol := pos.Symbol
	m.mu.Unlock()

	price, err := m.venue.GetPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("获取现价失败: %w", err)
	}
	return m.closePosition(ctx, CloseManual, price)
}

// Stop 会话复位时停止监护循环。不平仓。
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()
}

func (m *Monitor) recordPollFailure(err error) {
	m.mu.Lock()
	m.pollFailures++
	failures := m.pollFailures
	warnAt := m.cfg.PollFailureWarn
	m.mu.Unlock()
	logger.Warnf("轮询取价失败（连续 %d 次）: %v", failures, err)
	if warnAt > 0 && failures == warnAt {
		m.bus.Publish(session.EventErrorOccurred, map[string]any{
			"scope":    "monitor_poll",
			"failures": failures,
			"error":    err.Error(),
		})
	}
}

func (m *Monitor) publishUpdate(pos *Position, price float64, pnl decimal.Decimal, snap Snapshot) {
	payload := map[string]any{
		"position_id":    pos.ID,
		"symbol":         pos.Symbol,
		"status":         string(pos.Status),
		"current_price":  price,
		"unrealized_pnl": pnl.Round(4).String(),
		"trailing_armed": pos.TrailingArmed,
		"partial_done":   pos.PartialDone,
		"rsi":            snap.RSI,
		"volume_ratio":   snap.VolumeRatio,
	}
	m.bus.Publish(session.EventPositionUpdated, payload)
}

// defaultSnapshot 用最近的 15 分钟 K 线计算轻量指标快照，失败时退化为纯价格。
func (m *Monitor) defaultSnapshot(ctx context.Context, symbol string, price float64) Snapshot {
	snap := Snapshot{Timestamp: m.nowFn(), Price: price}
	candles, err := m.venue.FetchHistory(ctx, symbol, m.cfg.SnapshotInterval, m.cfg.SnapshotCandles)
	if err != nil {
		logger.Debugf("快照取 K 线失败（%s）: %v", symbol, err)
		return snap
	}
	ind, err := indicator.Compute(candles, symbol, m.cfg.SnapshotInterval)
	if err != nil {
		return snap
	}
	snap.RSI = ind.RSI
	if ind.MACD != nil {
		snap.MACDHistogram = ind.MACD.Histogram
	}
	snap.VolumeRatio = ind.VolumeRatio
	return snap
}
