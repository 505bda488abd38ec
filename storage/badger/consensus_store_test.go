package badger

import (
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/storage"
	"github.com/dagbft/dagbft/utils/unittest"
)

func TestPendingNode(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := NewConsensusStore(db)

		_, err := store.GetPendingNode()
		require.ErrorIs(t, err, storage.ErrNotFound)

		node := unittest.NodeFixture(unittest.WithRound(3))
		require.NoError(t, store.SavePendingNode(node))

		got, err := store.GetPendingNode()
		require.NoError(t, err)
		assert.Equal(t, node, got)

		// a newer pending node replaces the previous one
		newer := unittest.NodeFixture(unittest.WithRound(4))
		require.NoError(t, store.SavePendingNode(newer))
		got, err = store.GetPendingNode()
		require.NoError(t, err)
		assert.Equal(t, newer, got)

		require.NoError(t, store.DeletePendingNode())
		_, err = store.GetPendingNode()
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestVotes(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := NewConsensusStore(db)

		var saved []*dag.Vote
		for round := uint64(1); round <= 3; round++ {
			vote := &dag.Vote{
				Epoch:     1,
				Round:     round,
				Author:    unittest.IdentifierFixture(),
				Digest:    unittest.IdentifierFixture(),
				Signature: unittest.RandomBytes(48),
			}
			require.NoError(t, store.SaveVote(vote))
			saved = append(saved, vote)
		}

		// re-saving a vote is idempotent
		require.NoError(t, store.SaveVote(saved[0]))

		votes, err := store.GetVotes()
		require.NoError(t, err)
		require.Len(t, votes, 3)
		for i := 1; i < len(votes); i++ {
			assert.LessOrEqual(t, votes[i-1].Round, votes[i].Round)
		}

		require.NoError(t, store.DeleteVotes(2))
		votes, err = store.GetVotes()
		require.NoError(t, err)
		require.Len(t, votes, 1)
		assert.Equal(t, uint64(3), votes[0].Round)
	})
}

func TestCertifiedNodes(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := NewConsensusStore(db)

		var saved []*dag.CertifiedNode
		for round := uint64(1); round <= 3; round++ {
			node := &dag.CertifiedNode{
				Node: *unittest.NodeFixture(unittest.WithRound(round)),
				Signatures: dag.AggregatedSignature{
					SignerIndices: []byte{0xe0},
					Signature:     unittest.RandomBytes(48),
				},
			}
			require.NoError(t, store.SaveCertifiedNode(node))
			saved = append(saved, node)
		}

		require.ErrorIs(t, store.SaveCertifiedNode(saved[0]), storage.ErrAlreadyExists)

		nodes, err := store.GetCertifiedNodes()
		require.NoError(t, err)
		require.Len(t, nodes, 3)
		for i := 1; i < len(nodes); i++ {
			assert.LessOrEqual(t, nodes[i-1].Round, nodes[i].Round)
		}

		require.NoError(t, store.DeleteCertifiedNodes(1))
		nodes, err = store.GetCertifiedNodes()
		require.NoError(t, err)
		assert.Len(t, nodes, 2)
	})
}

func TestValidatorSets(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := NewConsensusStore(db)

		_, err := store.GetValidatorSet(1)
		require.ErrorIs(t, err, storage.ErrNotFound)

		participants := unittest.ParticipantsFixture(t, 4)
		validators := participants.Validators.All()
		require.NoError(t, store.SaveValidatorSet(1, validators))

		got, err := store.GetValidatorSet(1)
		require.NoError(t, err)
		assert.Equal(t, validators, got)
	})
}

func TestCommitEvents(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := NewConsensusStore(db)

		for round := uint64(2); round <= 10; round += 2 {
			require.NoError(t, store.SaveCommitEvent(&dag.CommitEvent{
				Epoch:         1,
				Round:         round,
				ParentsBitVec: []byte{0xf0},
			}))
		}

		events, err := store.GetLatestCommittedEvents(3)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, uint64(6), events[0].Round)
		assert.Equal(t, uint64(8), events[1].Round)
		assert.Equal(t, uint64(10), events[2].Round)

		// asking for more than stored returns everything
		events, err = store.GetLatestCommittedEvents(100)
		require.NoError(t, err)
		assert.Len(t, events, 5)
	})
}

func TestLedgerInfo(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := NewConsensusStore(db)

		_, err := store.GetLatestLedgerInfo()
		require.ErrorIs(t, err, storage.ErrNotFound)

		proof := &dag.LedgerInfoWithSignatures{
			LedgerInfo: *unittest.LedgerInfoFixture(4),
			Signatures: dag.AggregatedSignature{
				SignerIndices: []byte{0xe0},
				Signature:     unittest.RandomBytes(48),
			},
		}
		require.NoError(t, store.SaveLedgerInfo(proof))

		got, err := store.GetLatestLedgerInfo()
		require.NoError(t, err)
		assert.Equal(t, proof, got)
	})
}

func TestPruneUpToRound(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := NewConsensusStore(db)

		for round := uint64(1); round <= 4; round++ {
			require.NoError(t, store.SaveVote(&dag.Vote{
				Round:  round,
				Author: unittest.IdentifierFixture(),
				Digest: unittest.IdentifierFixture(),
			}))
			require.NoError(t, store.SaveCertifiedNode(&dag.CertifiedNode{
				Node: *unittest.NodeFixture(unittest.WithRound(round)),
			}))
		}

		require.NoError(t, store.PruneUpToRound(2))

		votes, err := store.GetVotes()
		require.NoError(t, err)
		assert.Len(t, votes, 2)
		nodes, err := store.GetCertifiedNodes()
		require.NoError(t, err)
		assert.Len(t, nodes, 2)
	})
}
