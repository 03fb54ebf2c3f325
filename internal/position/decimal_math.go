package position

import (
	"github.com/shopspring/decimal"

	"parliament/internal/consensus"
	"parliament/internal/gateway/venue"
)

// 价位比较统一走 decimal，避免 float 直接比较在边界价位上抖动。

func decFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// closeSide 平仓方向：多头卖出，空头买回。
func closeSide(strategy consensus.Strategy) venue.OrderSide {
	if strategy == consensus.StrategyShort {
		return venue.SideBuy
	}
	return venue.SideSell
}

// breached 判断价格是否触达目标价位。
// takeProfit=true 时目标在盈利方向，否则在亏损方向。
func breached(strategy consensus.Strategy, price, target decimal.Decimal, takeProfit bool) bool {
	if !target.IsPositive() {
		return false
	}
	above := price.GreaterThanOrEqual(target)
	if strategy == consensus.StrategyShort {
		// 空头：止盈在下方，止损在上方
		if takeProfit {
			return !price.GreaterThan(target)
		}
		return above
	}
	if takeProfit {
		return above
	}
	return !price.GreaterThan(target)
}

// favorable 判断价格是否比当前锚点更有利（多头更高、空头更低）。
func favorable(strategy consensus.Strategy, price, anchor decimal.Decimal) bool {
	if strategy == consensus.StrategyShort {
		return price.LessThan(anchor)
	}
	return price.GreaterThan(anchor)
}

// retraced 判断价格是否从高水位回撤超过给定比例。
// 多头在 anchor*(1-pct) 之下触发，空头在 anchor*(1+pct) 之上触发。
func retraced(strategy consensus.Strategy, price, anchor decimal.Decimal, pct float64) bool {
	if pct <= 0 || !anchor.IsPositive() {
		return false
	}
	distance := decimal.NewFromFloat(pct)
	if strategy == consensus.StrategyShort {
		line := anchor.Mul(decimal.NewFromInt(1).Add(distance))
		return price.GreaterThanOrEqual(line)
	}
	line := anchor.Mul(decimal.NewFromInt(1).Sub(distance))
	return price.LessThanOrEqual(line)
}
