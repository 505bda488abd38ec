package mempool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/utils/unittest"
)

func noExclusions(dag.Identifier) bool { return false }

func pull(t testing.TB, q *ProofQueue, limits dagbft.PayloadLimits, exclude dagbft.PayloadFilter) dag.Payload {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, payload, err := q.PullPayload(ctx, limits, exclude)
	require.NoError(t, err)
	return payload
}

// Two authors with four proofs across buckets 600 > 300 > 200 > 100: a pull
// bounded to two proofs worth of bytes must return exactly the top proof of
// each author, highest gas bucket first.
func TestPullPayload_GasBucketOrder(t *testing.T) {
	q := NewProofQueue(unittest.Logger())
	authorA := unittest.IdentifierFixture()
	authorB := unittest.IdentifierFixture()

	q.AddProof(unittest.ProofOfStoreFixture(unittest.WithProofAuthor(authorA), unittest.WithGasBucket(600)))
	q.AddProof(unittest.ProofOfStoreFixture(unittest.WithProofAuthor(authorB), unittest.WithGasBucket(300)))
	q.AddProof(unittest.ProofOfStoreFixture(unittest.WithProofAuthor(authorA), unittest.WithGasBucket(200)))
	q.AddProof(unittest.ProofOfStoreFixture(unittest.WithProofAuthor(authorB), unittest.WithGasBucket(100)))

	payload := pull(t, q, dagbft.PayloadLimits{MaxTxns: 4, MaxBytes: 2, MaxPollTime: time.Millisecond}, noExclusions)

	require.Equal(t, 2, payload.Len())
	assert.Equal(t, uint64(600), payload.Proofs[0].GasBucketStart)
	assert.Equal(t, uint64(300), payload.Proofs[1].GasBucketStart)
	assert.Equal(t, authorA, payload.Proofs[0].Author)
	assert.Equal(t, authorB, payload.Proofs[1].Author)

	// the remaining proofs survive for the next pull, still gas-ordered
	rest := pull(t, q, dagbft.PayloadLimits{MaxTxns: 4, MaxBytes: 4}, noExclusions)
	require.Equal(t, 2, rest.Len())
	assert.Equal(t, uint64(200), rest.Proofs[0].GasBucketStart)
	assert.Equal(t, uint64(100), rest.Proofs[1].GasBucketStart)
}

func TestPullPayload_TxnLimit(t *testing.T) {
	q := NewProofQueue(unittest.Logger())
	for i := 0; i < 5; i++ {
		q.AddProof(unittest.ProofOfStoreFixture(unittest.WithProofSize(10, 1)))
	}
	payload := pull(t, q, dagbft.PayloadLimits{MaxTxns: 25, MaxBytes: 100}, noExclusions)
	assert.Equal(t, 2, payload.Len())
}

func TestPullPayload_ExcludesHistory(t *testing.T) {
	q := NewProofQueue(unittest.Logger())
	included := unittest.ProofOfStoreFixture(unittest.WithGasBucket(500))
	fresh := unittest.ProofOfStoreFixture(unittest.WithGasBucket(400))
	q.AddProof(included)
	q.AddProof(fresh)

	payload := pull(t, q, dagbft.PayloadLimits{MaxTxns: 10, MaxBytes: 10}, func(batchID dag.Identifier) bool {
		return batchID == included.BatchID
	})
	require.Equal(t, 1, payload.Len())
	assert.Equal(t, fresh.BatchID, payload.Proofs[0].BatchID)
}

func TestPullPayload_EmptyOnTimeout(t *testing.T) {
	q := NewProofQueue(unittest.Logger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, payload, err := q.PullPayload(ctx, dagbft.PayloadLimits{MaxTxns: 10, MaxBytes: 10}, noExclusions)
	require.NoError(t, err)
	assert.True(t, payload.IsEmpty())
}

func TestPullPayload_WakesOnArrival(t *testing.T) {
	q := NewProofQueue(unittest.Logger())
	proof := unittest.ProofOfStoreFixture()
	go func() {
		time.Sleep(5 * time.Millisecond)
		q.AddProof(proof)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, payload, err := q.PullPayload(ctx, dagbft.PayloadLimits{MaxTxns: 10, MaxBytes: 10}, noExclusions)
	require.NoError(t, err)
	require.Equal(t, 1, payload.Len())
	assert.Equal(t, proof.BatchID, payload.Proofs[0].BatchID)
}

func TestAddProof_DuplicateDropped(t *testing.T) {
	q := NewProofQueue(unittest.Logger())
	proof := unittest.ProofOfStoreFixture()
	q.AddProof(proof)
	q.AddProof(proof)
	assert.Equal(t, 1, q.Size())
}

func TestRemoveBatches(t *testing.T) {
	q := NewProofQueue(unittest.Logger())
	committed := unittest.ProofOfStoreFixture()
	pending := unittest.ProofOfStoreFixture()
	q.AddProof(committed)
	q.AddProof(pending)

	q.RemoveBatches(dag.IdentifierList{committed.BatchID})
	assert.Equal(t, 1, q.Size())

	// a committed batch stays known: re-adding it is rejected
	q.AddProof(committed)
	assert.Equal(t, 1, q.Size())
}

func TestValidatorTxns(t *testing.T) {
	q := NewProofQueue(unittest.Logger())
	txn := dag.ValidatorTxn{ID: unittest.IdentifierFixture(), Payload: []byte("reconfig")}
	q.AddValidatorTxn(txn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	validatorTxns, _, err := q.PullPayload(ctx, dagbft.PayloadLimits{MaxTxns: 1, MaxBytes: 1}, noExclusions)
	require.NoError(t, err)
	require.Len(t, validatorTxns, 1)
	assert.Equal(t, txn, validatorTxns[0])
}
