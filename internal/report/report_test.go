package report

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parliament/internal/consensus"
	"parliament/internal/gateway/provider"
	"parliament/internal/market"
	"parliament/internal/position"
	"parliament/internal/session"
)

type nilSource struct{}

func (nilSource) FetchHistory(context.Context, string, string, int) ([]market.Candle, error) {
	return nil, errors.New("不可用")
}

func (nilSource) FetchMultiHistory(context.Context, string, []string, int) (map[string][]market.Candle, error) {
	return nil, errors.New("不可用")
}

func (nilSource) GetPrice(context.Context, string) (float64, error) { return 0, errors.New("不可用") }

func (nilSource) MarketOverview(context.Context, string, int) ([]market.PairOverview, error) {
	return nil, errors.New("不可用")
}

type fixedNarrator struct {
	text string
	err  error
}

func (f fixedNarrator) ID() string                  { return "narrator" }
func (f fixedNarrator) Enabled() bool               { return true }
func (f fixedNarrator) Probe(context.Context) error { return nil }
func (f fixedNarrator) Call(context.Context, provider.ChatPayload) (string, error) {
	return f.text, f.err
}

type dropEmitter struct{}

func (dropEmitter) Publish(session.EventType, any) {}

func closedPosition() position.Position {
	opened := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return position.Position{
		ID:          "abcd1234",
		ProposalID:  "prop-1",
		Symbol:      "BTCUSDT",
		Strategy:    consensus.StrategyLong,
		EntryPrice:  decimal.NewFromInt(100),
		TakeProfit:  decimal.NewFromInt(110),
		StopLoss:    decimal.NewFromInt(95),
		AmountUSD:   decimal.NewFromInt(1000),
		Status:      position.StatusClosed,
		OpenedAt:    opened,
		ClosedAt:    opened.Add(2*time.Hour + 35*time.Minute),
		ClosePrice:  decimal.NewFromInt(110),
		CloseReason: position.CloseTPHit,
		PnL:         decimal.NewFromInt(100),
		PnLPercent:  decimal.NewFromInt(10),
	}
}

func TestGenerateReportBasics(t *testing.T) {
	r := NewReporter(nilSource{}, fixedNarrator{text: "【分析】计划执行到位。\n【改善点】可上调止盈。"}, dropEmitter{})
	rpt, err := r.Generate(context.Background(), closedPosition())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^RPT-[0-9A-F]{8}$`), rpt.ID)
	assert.Equal(t, "2h 35m", rpt.Duration)
	assert.Equal(t, "计划执行到位。", rpt.Analysis)
	assert.Equal(t, "可上调止盈。", rpt.Improvements)
	assert.Equal(t, "tp_hit", rpt.CloseReason)
}

func TestGenerateRejectsOpenPosition(t *testing.T) {
	r := NewReporter(nilSource{}, nil, dropEmitter{})
	pos := closedPosition()
	pos.Status = position.StatusOpen
	_, err := r.Generate(context.Background(), pos)
	assert.Error(t, err)
}

func TestNarratorFailureFallsBack(t *testing.T) {
	r := NewReporter(nilSource{}, fixedNarrator{err: errors.New("接口超时")}, dropEmitter{})
	rpt, err := r.Generate(context.Background(), closedPosition())
	require.NoError(t, err)
	assert.NotEmpty(t, rpt.Analysis)
	assert.NotEmpty(t, rpt.Improvements)
	assert.Contains(t, rpt.Analysis, "止盈")
}

func TestNilNarratorUsesFallback(t *testing.T) {
	r := NewReporter(nilSource{}, nil, dropEmitter{})
	pos := closedPosition()
	pos.CloseReason = position.CloseSLHit
	pos.PnL = decimal.NewFromInt(-50)
	pos.PnLPercent = decimal.NewFromInt(-5)
	rpt, err := r.Generate(context.Background(), pos)
	require.NoError(t, err)
	assert.Contains(t, rpt.Analysis, "止损")
	assert.Contains(t, rpt.Improvements, "止损")
}

func TestSampleHistoryCapsPoints(t *testing.T) {
	history := make([]position.Snapshot, 100)
	for i := range history {
		history[i] = position.Snapshot{Price: float64(i)}
	}
	out := sampleHistory(history, maxHistoryPoints)
	require.Len(t, out, maxHistoryPoints)
	assert.Equal(t, 0.0, out[0])
	assert.Equal(t, 99.0, out[len(out)-1])

	short := sampleHistory(history[:7], maxHistoryPoints)
	assert.Len(t, short, 7)
	assert.Nil(t, sampleHistory(nil, maxHistoryPoints))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0h 5m", formatDuration(5*time.Minute))
	assert.Equal(t, "26h 0m", formatDuration(26*time.Hour))
	assert.Equal(t, "0h 0m", formatDuration(-time.Minute))
}
