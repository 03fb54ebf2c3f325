package consensus

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProposalMarkerBlock(t *testing.T) {
	text := `经过三轮讨论，我决定定稿如下：

---PROPOSAL---
STRATEGY: Long
PAIR: BTC/USDT
ENTRY_PRICE: 65000.5
TAKE_PROFIT: 68000.
STOP_LOSS: 63500
REASONING: 4h 级别突破颈线，回踩企稳，量能配合。
---END---

以上请各位表决。`

	draft, err := ParseProposalText("chair-1", text)
	require.NoError(t, err)

	assert.Equal(t, "chair-1", draft.SubmittedBy)
	assert.Equal(t, StrategyLong, draft.Strategy)
	assert.Equal(t, "BTCUSDT", draft.Pair)
	assert.True(t, draft.EntryPrice.Equal(decimal.RequireFromString("65000.5")))
	assert.True(t, draft.TakeProfit.Equal(decimal.RequireFromString("68000")))
	assert.True(t, draft.StopLoss.Equal(decimal.RequireFromString("63500")))
	assert.Contains(t, draft.Reasoning, "突破颈线")
}

func TestParseProposalJSONFallback(t *testing.T) {
	text := "好的，以下是稟议单：\n```json\n" +
		`{"strategy":"SHORT","pair":"ethusdt","entry_price":3200,"take_profit":3000,"stop_loss":3300,"reasoning":"高位背离"}` +
		"\n```"

	draft, err := ParseProposalText("proposer-1", text)
	require.NoError(t, err)

	assert.Equal(t, StrategyShort, draft.Strategy)
	assert.Equal(t, "ETHUSDT", draft.Pair)
	assert.True(t, draft.EntryPrice.Equal(decimal.NewFromInt(3200)))
	assert.Equal(t, "高位背离", draft.Reasoning)
}

func TestParseProposalFailures(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"无任何结构", "我还需要更多数据才能下结论。"},
		{"标记块字段缺失", "---PROPOSAL---\nSTRATEGY: long\nPAIR: BTCUSDT\n---END---"},
		{"JSON 价格非法", `{"strategy":"long","pair":"BTCUSDT","entry_price":0,"take_profit":1,"stop_loss":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseProposalText("chair-1", tc.text)
			assert.Error(t, err)
		})
	}
}

func TestParseBallot(t *testing.T) {
	decision, reason, err := ParseBallot("我的结论如下：\n```json\n{\"decision\": \"support\", \"reason\": \"风报比合理\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, DecisionSupport, decision)
	assert.Equal(t, "风报比合理", reason)

	decision, reason, err = ParseBallot(`{"decision":"oppose","reason":"止损过宽"}`)
	require.NoError(t, err)
	assert.Equal(t, DecisionOppose, decision)
	assert.Equal(t, "止损过宽", reason)
}

func TestParseBallotRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"非 JSON", "我投支持票"},
		{"立场越界", `{"decision":"abstain","reason":"再看看"}`},
		{"缺少理由", `{"decision":"support"}`},
		{"理由为空", `{"decision":"support","reason":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseBallot(tc.raw)
			assert.Error(t, err)
		})
	}
}
