package inmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/storage"
	"github.com/dagbft/dagbft/utils/unittest"
)

func TestConsensusStore(t *testing.T) {
	store := NewConsensusStore()

	t.Run("pending node", func(t *testing.T) {
		_, err := store.GetPendingNode()
		require.ErrorIs(t, err, storage.ErrNotFound)

		node := unittest.NodeFixture(unittest.WithRound(2))
		require.NoError(t, store.SavePendingNode(node))
		got, err := store.GetPendingNode()
		require.NoError(t, err)
		assert.Equal(t, node, got)

		require.NoError(t, store.DeletePendingNode())
		_, err = store.GetPendingNode()
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("votes round-keyed deletion", func(t *testing.T) {
		for round := uint64(1); round <= 3; round++ {
			require.NoError(t, store.SaveVote(&dag.Vote{
				Round:  round,
				Author: unittest.IdentifierFixture(),
				Digest: unittest.IdentifierFixture(),
			}))
		}
		require.NoError(t, store.DeleteVotes(2))
		votes, err := store.GetVotes()
		require.NoError(t, err)
		require.Len(t, votes, 1)
		assert.Equal(t, uint64(3), votes[0].Round)
	})

	t.Run("certified node duplicates", func(t *testing.T) {
		node := &dag.CertifiedNode{Node: *unittest.NodeFixture()}
		require.NoError(t, store.SaveCertifiedNode(node))
		require.ErrorIs(t, store.SaveCertifiedNode(node), storage.ErrAlreadyExists)
	})

	t.Run("latest commit events ascending", func(t *testing.T) {
		for round := uint64(2); round <= 6; round += 2 {
			require.NoError(t, store.SaveCommitEvent(&dag.CommitEvent{Round: round}))
		}
		events, err := store.GetLatestCommittedEvents(2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, uint64(4), events[0].Round)
		assert.Equal(t, uint64(6), events[1].Round)
	})
}
