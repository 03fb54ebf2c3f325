package consensus

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parliament/internal/types"
)

func testVoters() []types.Participant {
	return []types.Participant{
		{ID: "chair-1", Role: types.RoleChair, HasVote: false},
		{ID: "leader-1", Role: types.RoleLeader, HasVote: true},
		{ID: "worker-1", Role: types.RoleWorker, HasVote: true},
		{ID: "critic-1", Role: types.RoleCritic, HasVote: true},
		{ID: "proposer-1", Role: types.RoleProposer, HasVote: true, HasProposalRight: true},
	}
}

func testDraft() Draft {
	return Draft{
		SubmittedBy: "proposer-1",
		Strategy:    StrategyLong,
		Pair:        "BTCUSDT",
		EntryPrice:  decimal.RequireFromString("65000"),
		TakeProfit:  decimal.RequireFromString("68000"),
		StopLoss:    decimal.RequireFromString("63500"),
		Reasoning:   "突破后回踩确认",
	}
}

func castAll(t *testing.T, e *Engine, decision Decision, voters ...string) TallyResult {
	t.Helper()
	var last TallyResult
	for _, voter := range voters {
		res, err := e.CastVote(voter, decision, "测试投票")
		require.NoError(t, err)
		last = res
	}
	return last
}

func TestSubmitBuildsVoterRoster(t *testing.T) {
	e := NewEngine(2)
	p, err := e.Submit(testDraft(), testVoters())
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StatusVoting, p.Status)
	// 主席无票、提案人回避，剩 leader/worker/critic 三票
	assert.Len(t, p.Votes, 3)
	assert.NotContains(t, p.Votes, "chair-1")
	assert.NotContains(t, p.Votes, "proposer-1")
}

func TestSubmitRejectsInvalidDraft(t *testing.T) {
	e := NewEngine(2)

	bad := testDraft()
	bad.Strategy = "hold"
	_, err := e.Submit(bad, testVoters())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	bad = testDraft()
	bad.Pair = ""
	_, err = e.Submit(bad, testVoters())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	bad = testDraft()
	bad.EntryPrice = decimal.Zero
	_, err = e.Submit(bad, testVoters())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitRejectsWhileProposalActive(t *testing.T) {
	e := NewEngine(2)
	_, err := e.Submit(testDraft(), testVoters())
	require.NoError(t, err)

	_, err = e.Submit(testDraft(), testVoters())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUnanimousSupportApproves(t *testing.T) {
	e := NewEngine(2)
	_, err := e.Submit(testDraft(), testVoters())
	require.NoError(t, err)

	res, err := e.CastVote("leader-1", DecisionSupport, "趋势认可")
	require.NoError(t, err)
	assert.Equal(t, TallyPending, res)

	res = castAll(t, e, DecisionSupport, "worker-1", "critic-1")
	assert.Equal(t, TallyApproved, res)
	assert.Equal(t, StatusReviewing, e.Current().Status)
}

func TestOpposeRejectsOnlyAfterAllVotesIn(t *testing.T) {
	e := NewEngine(2)
	_, err := e.Submit(testDraft(), testVoters())
	require.NoError(t, err)

	// 先到的反对票不提前裁决
	res, err := e.CastVote("critic-1", DecisionOppose, "风报比不足")
	require.NoError(t, err)
	assert.Equal(t, TallyPending, res)

	res = castAll(t, e, DecisionSupport, "leader-1", "worker-1")
	assert.Equal(t, TallyRejected, res)

	p := e.Current()
	assert.Equal(t, StatusRejected, p.Status)
	assert.Equal(t, 1, p.Resubmissions)
	for voter, v := range p.Votes {
		assert.Nil(t, v, "否决后 %s 的票应被清空", voter)
	}

	// 否决留档保存清票前的全貌
	rej := e.LastRejection()
	require.NotNil(t, rej)
	assert.Equal(t, 1, rej.Summary.Oppose)
	assert.Equal(t, 2, rej.Summary.Support)
	require.NotNil(t, rej.Proposal.Votes["critic-1"])
	assert.Equal(t, "风报比不足", rej.Proposal.Votes["critic-1"].Reason)
}

func TestCurrentReturnsDetachedCopy(t *testing.T) {
	e := NewEngine(2)
	_, err := e.Submit(testDraft(), testVoters())
	require.NoError(t, err)

	p := e.Current()
	p.Votes["leader-1"] = &Vote{Voter: "leader-1", Decision: DecisionOppose, Reason: "篡改副本"}
	p.Status = StatusRejected

	// 副本上的改动不得渗回引擎
	fresh := e.Current()
	assert.Equal(t, StatusVoting, fresh.Status)
	assert.Nil(t, fresh.Votes["leader-1"])

	res, err := e.CastVote("leader-1", DecisionSupport, "原件未受影响")
	require.NoError(t, err)
	assert.Equal(t, TallyPending, res)
}

func TestConcurrentVotingAndSummary(t *testing.T) {
	e := NewEngine(2)
	_, err := e.Submit(testDraft(), testVoters())
	require.NoError(t, err)

	// 并发投票的同时读进度，race detector 下必须干净
	var wg sync.WaitGroup
	for _, voter := range []string{"leader-1", "worker-1", "critic-1"} {
		voter := voter
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, verr := e.CastVote(voter, DecisionSupport, "并发投票")
			assert.NoError(t, verr)
			e.Current().Summary()
		}()
	}
	wg.Wait()

	p := e.Current()
	assert.Equal(t, StatusReviewing, p.Status)
	assert.Equal(t, 3, p.Summary().Support)
}

func TestCastVoteGuards(t *testing.T) {
	e := NewEngine(2)

	_, err := e.CastVote("leader-1", DecisionSupport, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.Submit(testDraft(), testVoters())
	require.NoError(t, err)

	_, err = e.CastVote("outsider", DecisionSupport, "")
	assert.ErrorIs(t, err, ErrVoterNotEligible)

	_, err = e.CastVote("proposer-1", DecisionSupport, "")
	assert.ErrorIs(t, err, ErrVoterNotEligible)

	_, err = e.CastVote("leader-1", "abstain", "")
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = e.CastVote("leader-1", DecisionSupport, "")
	require.NoError(t, err)
	_, err = e.CastVote("leader-1", DecisionOppose, "")
	assert.ErrorIs(t, err, ErrAlreadyVoted)
}

func TestResubmissionCountCarriesOver(t *testing.T) {
	e := NewEngine(1)

	reject := func() {
		_, err := e.Submit(testDraft(), testVoters())
		require.NoError(t, err)
		castAll(t, e, DecisionSupport, "leader-1", "worker-1")
		res, err := e.CastVote("critic-1", DecisionOppose, "分歧")
		require.NoError(t, err)
		require.Equal(t, TallyRejected, res)
	}

	reject()
	assert.NoError(t, e.CanResubmit())
	assert.Equal(t, 1, e.Current().Resubmissions)

	reject()
	assert.Equal(t, 2, e.Current().Resubmissions)
	assert.ErrorIs(t, e.CanResubmit(), ErrConsensusDeadlock)
}

func TestCanResubmitRequiresRejectedProposal(t *testing.T) {
	e := NewEngine(2)
	assert.ErrorIs(t, e.CanResubmit(), ErrInvalidTransition)

	_, err := e.Submit(testDraft(), testVoters())
	require.NoError(t, err)
	assert.ErrorIs(t, e.CanResubmit(), ErrInvalidTransition)
}

func TestFinalizeAppliesEdits(t *testing.T) {
	e := NewEngine(2)
	_, err := e.Submit(testDraft(), testVoters())
	require.NoError(t, err)

	_, err = e.Finalize(Edits{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	castAll(t, e, DecisionSupport, "leader-1", "worker-1", "critic-1")

	entry := decimal.RequireFromString("64800")
	reasoning := "复核下调入场价"
	p, err := e.Finalize(Edits{EntryPrice: &entry, Reasoning: &reasoning})
	require.NoError(t, err)

	assert.Equal(t, StatusFinalized, p.Status)
	assert.True(t, p.EntryPrice.Equal(entry))
	assert.Equal(t, reasoning, p.Reasoning)
	// 未提供的字段保持原值
	assert.True(t, p.TakeProfit.Equal(decimal.RequireFromString("68000")))
	assert.True(t, p.StopLoss.Equal(decimal.RequireFromString("63500")))
}

func TestVotingSummaryCounts(t *testing.T) {
	e := NewEngine(2)
	_, err := e.Submit(testDraft(), testVoters())
	require.NoError(t, err)

	_, err = e.CastVote("leader-1", DecisionSupport, "")
	require.NoError(t, err)
	_, err = e.CastVote("critic-1", DecisionOppose, "")
	require.NoError(t, err)

	s := e.Current().Summary()
	assert.Equal(t, 3, s.TotalVoters)
	assert.Equal(t, 2, s.Voted)
	assert.Equal(t, 1, s.Support)
	assert.Equal(t, 1, s.Oppose)
	assert.Equal(t, 1, s.Pending)
}

func TestResetDropsProposal(t *testing.T) {
	e := NewEngine(2)
	_, err := e.Submit(testDraft(), testVoters())
	require.NoError(t, err)

	e.Reset()
	assert.Nil(t, e.Current())

	_, err = e.Submit(testDraft(), testVoters())
	assert.NoError(t, err)
	assert.Equal(t, 0, e.Current().Resubmissions)
}
