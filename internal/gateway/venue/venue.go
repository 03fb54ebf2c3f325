// Package venue 定义交易所适配层的统一抽象。
// 议事与仓位监控只依赖这里的接口，不感知具体交易所 SDK。
package venue

import (
	"context"
	"errors"
	"fmt"

	"parliament/internal/market"
)

// ErrUnavailable 表示交易所暂时不可用（网络、限频或服务端错误）。
// 监控轮询遇到该错误时按失败计数处理，不改变仓位状态。
var ErrUnavailable = errors.New("交易所暂时不可用")

// Error 包装一次交易所调用失败，保留操作名与交易对。
type Error struct {
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("venue %s %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("venue %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// OrderSide 市价单方向。
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderRequest 描述一笔市价单。Quantity 为基础币数量的字符串表示，
// 由调用方用 decimal 计算后格式化，避免浮点精度问题。
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Quantity string
}

// OrderResult 是下单成功后的回执。
type OrderResult struct {
	OrderID     int64
	Symbol      string
	ExecutedQty string
	AvgPrice    string
}

// Venue 是交易所的完整能力：行情 + 下单。
type Venue interface {
	market.Source

	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
