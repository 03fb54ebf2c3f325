package venue

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/sync/errgroup"

	"parliament/internal/config"
	"parliament/internal/market"
)

const maxHistoryLimit = 1000

// BinanceVenue 基于 go-binance 现货 SDK 实现 Venue。
type BinanceVenue struct {
	client *binance.Client
	quote  string
}

func NewBinance(cfg config.VenueConfig) *BinanceVenue {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: cfg.Timeout()}
	return &BinanceVenue{client: client, quote: "USDT"}
}

func (v *BinanceVenue) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &Error{Op: "klines", Err: fmt.Errorf("symbol 不能为空")}
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, &Error{Op: "klines", Symbol: symbol, Err: fmt.Errorf("interval 不能为空")}
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	kls, err := v.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, &Error{Op: "klines", Symbol: symbol, Err: wrapUnavailable(err)}
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

func (v *BinanceVenue) FetchMultiHistory(ctx context.Context, symbol string, intervals []string, limit int) (map[string][]market.Candle, error) {
	out := make(map[string][]market.Candle, len(intervals))
	g, gctx := errgroup.WithContext(ctx)
	results := make([][]market.Candle, len(intervals))
	for i, interval := range intervals {
		i, interval := i, interval
		g.Go(func() error {
			candles, err := v.FetchHistory(gctx, symbol, interval, limit)
			if err != nil {
				// 单周期失败不终止整体
				return nil
			}
			results[i] = candles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, interval := range intervals {
		if len(results[i]) > 0 {
			out[interval] = results[i]
		}
	}
	if len(out) == 0 {
		return nil, &Error{Op: "multi_klines", Symbol: symbol, Err: fmt.Errorf("所有时间周期拉取均失败")}
	}
	return out, nil
}

func (v *BinanceVenue) GetPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	prices, err := v.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, &Error{Op: "price", Symbol: symbol, Err: wrapUnavailable(err)}
	}
	for _, p := range prices {
		if p != nil && p.Symbol == symbol {
			val := parseFloat(p.Price)
			if val <= 0 {
				return 0, &Error{Op: "price", Symbol: symbol, Err: fmt.Errorf("无效的价格响应 %q", p.Price)}
			}
			return val, nil
		}
	}
	return 0, &Error{Op: "price", Symbol: symbol, Err: fmt.Errorf("未找到交易对")}
}

func (v *BinanceVenue) MarketOverview(ctx context.Context, quoteAsset string, limit int) ([]market.PairOverview, error) {
	if quoteAsset == "" {
		quoteAsset = v.quote
	}
	quoteAsset = strings.ToUpper(quoteAsset)
	stats, err := v.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, &Error{Op: "overview", Err: wrapUnavailable(err)}
	}
	out := make([]market.PairOverview, 0, limit)
	for _, st := range stats {
		if st == nil || !strings.HasSuffix(st.Symbol, quoteAsset) {
			continue
		}
		out = append(out, market.PairOverview{
			Symbol:        st.Symbol,
			Price:         parseFloat(st.LastPrice),
			ChangePercent: parseFloat(st.PriceChangePercent),
			QuoteVolume:   parseFloat(st.QuoteVolume),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuoteVolume > out[j].QuoteVolume })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *BinanceVenue) PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" || req.Quantity == "" {
		return OrderResult{}, &Error{Op: "order", Symbol: symbol, Err: fmt.Errorf("symbol 与 quantity 均不能为空")}
	}
	side := binance.SideTypeBuy
	if req.Side == SideSell {
		side = binance.SideTypeSell
	}
	resp, err := v.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(req.Quantity).
		Do(ctx)
	if err != nil {
		return OrderResult{}, &Error{Op: "order", Symbol: symbol, Err: wrapUnavailable(err)}
	}
	result := OrderResult{
		OrderID:     resp.OrderID,
		Symbol:      resp.Symbol,
		ExecutedQty: resp.ExecutedQuantity,
	}
	// 市价单可能拆成多笔成交，均价按数量加权
	var qtySum, costSum float64
	for _, fill := range resp.Fills {
		if fill == nil {
			continue
		}
		qty := parseFloat(fill.Quantity)
		qtySum += qty
		costSum += qty * parseFloat(fill.Price)
	}
	if qtySum > 0 {
		result.AvgPrice = strconv.FormatFloat(costSum/qtySum, 'f', -1, 64)
	}
	return result, nil
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
