package market

import "context"

// Source 抽象行情来源：K 线历史、实时价格与市场概览。
// 具体实现见 gateway/venue 下的币安适配层。
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// FetchMultiHistory 一次拉取多个时间周期的 K 线，返回 interval -> candles。
	// 单个周期失败不终止整体，缺失的周期不出现在结果中。
	FetchMultiHistory(ctx context.Context, symbol string, intervals []string, limit int) (map[string][]Candle, error)

	GetPrice(ctx context.Context, symbol string) (float64, error)

	// MarketOverview 返回指定计价币种下按成交额排序的交易对概览。
	MarketOverview(ctx context.Context, quoteAsset string, limit int) ([]PairOverview, error)
}
