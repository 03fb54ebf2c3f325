package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parliament/internal/types"
)

const rosterYAML = `participants:
  chair-1:
    name: 议长
    role: chair
    provider: openai-main
    can_vote: false
    order: 99
  leader-alpha:
    name: Alpha 队长
    team: alpha
    role: leader
    provider: openai-main
    can_vote: true
    order: 30
  worker-alpha:
    team: alpha
    role: worker
    provider: deepseek
    can_vote: true
    order: 10
  proposer-1:
    name: 提案人
    role: proposer
    provider: openai-main
    can_vote: true
    can_propose: true
    order: 20
`

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "participants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderOrdersBySpeakingOrder(t *testing.T) {
	loader, err := NewRosterLoader(writeRoster(t, rosterYAML))
	require.NoError(t, err)

	snap := loader.Snapshot()
	require.Len(t, snap.Ordered, 4)

	ids := make([]string, 0, len(snap.Ordered))
	for _, p := range snap.Ordered {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"worker-alpha", "proposer-1", "leader-alpha", "chair-1"}, ids)
	assert.Equal(t, int64(1), snap.Version)
}

func TestLoaderNormalizesFields(t *testing.T) {
	loader, err := NewRosterLoader(writeRoster(t, rosterYAML))
	require.NoError(t, err)
	snap := loader.Snapshot()

	worker, ok := snap.ByID("worker-alpha")
	require.True(t, ok)
	// 缺省 name 回退到 ID
	assert.Equal(t, "worker-alpha", worker.Name)
	assert.Equal(t, types.RoleWorker, worker.Role)
	assert.Equal(t, "alpha", worker.TeamID)
	assert.Equal(t, types.StatusOffline, worker.Status)

	proposer, ok := snap.ByID("proposer-1")
	require.True(t, ok)
	assert.True(t, proposer.HasProposalRight)
}

func TestSnapshotHelpers(t *testing.T) {
	loader, err := NewRosterLoader(writeRoster(t, rosterYAML))
	require.NoError(t, err)
	snap := loader.Snapshot()

	chair, ok := snap.Chair()
	require.True(t, ok)
	assert.Equal(t, "chair-1", chair.ID)
	assert.False(t, chair.HasVote)

	voters := snap.Voters()
	assert.Len(t, voters, 3)
	for _, v := range voters {
		assert.True(t, v.HasVote)
	}

	_, ok = snap.ByID("ghost")
	assert.False(t, ok)
}

func TestLoaderRejectsInvalidRoster(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"空名册", "participants: {}\n"},
		{"未知角色", "participants:\n  x-1:\n    role: observer\n"},
		{"没有主席", "participants:\n  leader-1:\n    role: leader\n    can_vote: true\n"},
		{"两位主席", "participants:\n  chair-1:\n    role: chair\n  chair-2:\n    role: chair\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRosterLoader(writeRoster(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	loader, err := NewRosterLoader(writeRoster(t, rosterYAML))
	require.NoError(t, err)

	snap := loader.Snapshot()
	snap.Ordered[0].Name = "篡改"

	fresh := loader.Snapshot()
	assert.NotEqual(t, "篡改", fresh.Ordered[0].Name)
}
