package consensus

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// 主席定稿稟议单的固定文本格式：
//
//	---PROPOSAL---
//	STRATEGY: long | short
//	PAIR: BTCUSDT
//	ENTRY_PRICE: 数值
//	TAKE_PROFIT: 数值
//	STOP_LOSS: 数值
//	REASONING: ...
//	---END---
var (
	proposalBlockRe = regexp.MustCompile(`(?s)---PROPOSAL---(.*?)---END---`)
	strategyRe      = regexp.MustCompile(`(?i)STRATEGY:\s*(long|short)`)
	pairRe          = regexp.MustCompile(`(?i)PAIR:\s*([A-Z0-9/]+)`)
	entryRe         = regexp.MustCompile(`ENTRY_PRICE:\s*([\d.]+)`)
	tpRe            = regexp.MustCompile(`TAKE_PROFIT:\s*([\d.]+)`)
	slRe            = regexp.MustCompile(`STOP_LOSS:\s*([\d.]+)`)
	reasoningRe     = regexp.MustCompile(`(?s)REASONING:\s*(.+?)(?:\n---|$)`)
)

// ParseProposalText 从模型回复中提取稟议单草案。
// 优先匹配 ---PROPOSAL--- 文本块；失败后尝试把回复当 JSON 解析，
// 容忍模型偶尔直接输出 JSON 对象的情况。
func ParseProposalText(submittedBy, text string) (Draft, error) {
	if draft, err := parseMarkerBlock(submittedBy, text); err == nil {
		return draft, nil
	}
	if draft, err := parseJSONBlock(submittedBy, text); err == nil {
		return draft, nil
	}
	return Draft{}, fmt.Errorf("无法从回复中解析稟议单")
}

func parseMarkerBlock(submittedBy, text string) (Draft, error) {
	m := proposalBlockRe.FindStringSubmatch(text)
	if m == nil {
		return Draft{}, fmt.Errorf("缺少 ---PROPOSAL--- 标记")
	}
	section := m[1]

	strategy := strategyRe.FindStringSubmatch(section)
	pair := pairRe.FindStringSubmatch(section)
	entry := entryRe.FindStringSubmatch(section)
	tp := tpRe.FindStringSubmatch(section)
	sl := slRe.FindStringSubmatch(section)
	reasoning := reasoningRe.FindStringSubmatch(section)
	if strategy == nil || pair == nil || entry == nil || tp == nil || sl == nil || reasoning == nil {
		return Draft{}, fmt.Errorf("稟议单字段不完整")
	}

	entryPrice, err := decimal.NewFromString(strings.TrimRight(entry[1], "."))
	if err != nil {
		return Draft{}, fmt.Errorf("入场价无效: %w", err)
	}
	takeProfit, err := decimal.NewFromString(strings.TrimRight(tp[1], "."))
	if err != nil {
		return Draft{}, fmt.Errorf("止盈价无效: %w", err)
	}
	stopLoss, err := decimal.NewFromString(strings.TrimRight(sl[1], "."))
	if err != nil {
		return Draft{}, fmt.Errorf("止损价无效: %w", err)
	}

	return Draft{
		SubmittedBy: submittedBy,
		Strategy:    Strategy(strings.ToLower(strategy[1])),
		Pair:        normalizePair(pair[1]),
		EntryPrice:  entryPrice,
		TakeProfit:  takeProfit,
		StopLoss:    stopLoss,
		Reasoning:   strings.TrimSpace(reasoning[1]),
	}, nil
}

func parseJSONBlock(submittedBy, text string) (Draft, error) {
	raw := extractJSONObject(text)
	if raw == "" || !gjson.Valid(raw) {
		return Draft{}, fmt.Errorf("回复不含有效 JSON")
	}
	parsed := gjson.Parse(raw)
	strategy := strings.ToLower(strings.TrimSpace(parsed.Get("strategy").String()))
	pair := strings.TrimSpace(parsed.Get("pair").String())
	if strategy == "" || pair == "" {
		return Draft{}, fmt.Errorf("JSON 稟议单缺少 strategy/pair")
	}
	entry := parsed.Get("entry_price").Float()
	tp := parsed.Get("take_profit").Float()
	sl := parsed.Get("stop_loss").Float()
	if entry <= 0 || tp <= 0 || sl <= 0 {
		return Draft{}, fmt.Errorf("JSON 稟议单价格字段无效")
	}
	return Draft{
		SubmittedBy: submittedBy,
		Strategy:    Strategy(strategy),
		Pair:        normalizePair(pair),
		EntryPrice:  decimal.NewFromFloat(entry),
		TakeProfit:  decimal.NewFromFloat(tp),
		StopLoss:    decimal.NewFromFloat(sl),
		Reasoning:   strings.TrimSpace(parsed.Get("reasoning").String()),
	}, nil
}

// extractJSONObject 截取回复中首个大括号配对的片段，剥掉代码围栏等噪音。
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// normalizePair 统一去掉斜杠写法（BTC/USDT -> BTCUSDT），与交易所口径一致。
func normalizePair(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pair), "/", ""))
}
