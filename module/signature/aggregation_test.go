package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/dagbft/consensus/dagbft/model"
	"github.com/dagbft/dagbft/model/dag"
)

func participantsFixture(t testing.TB, n int) (*dag.ValidatorSet, map[dag.Identifier]*PrivateKey) {
	validators := make([]*dag.Validator, 0, n)
	keys := make(map[dag.Identifier]*PrivateKey, n)
	for i := 0; i < n; i++ {
		key := GenerateKey()
		var nodeID dag.Identifier
		nodeID[0] = byte(i + 1)
		keys[nodeID] = key
		validators = append(validators, &dag.Validator{
			NodeID: nodeID,
			Index:  uint32(i),
			Weight: 1,
			PubKey: key.PublicKeyBytes(),
		})
	}
	set, err := dag.NewValidatorSet(validators)
	require.NoError(t, err)
	return set, keys
}

func TestSignVerify(t *testing.T) {
	set, keys := participantsFixture(t, 2)
	message := []byte("some message")
	agg, err := NewWeightedAggregator(set, message)
	require.NoError(t, err)

	signer := set.All()[0]
	sig, err := keys[signer.NodeID].Sign(message)
	require.NoError(t, err)

	require.NoError(t, agg.Verify(signer.NodeID, sig))

	t.Run("wrong message", func(t *testing.T) {
		other, err := keys[signer.NodeID].Sign([]byte("other message"))
		require.NoError(t, err)
		err = agg.Verify(signer.NodeID, other)
		require.ErrorIs(t, err, model.ErrInvalidSignature)
	})

	t.Run("unknown signer", func(t *testing.T) {
		err := agg.Verify(dag.Identifier{0xff}, sig)
		require.True(t, model.IsInvalidSignerError(err))
	})
}

func TestAggregation(t *testing.T) {
	set, keys := participantsFixture(t, 4)
	message := []byte("digest to certify")
	agg, err := NewWeightedAggregator(set, message)
	require.NoError(t, err)

	for _, v := range set.All()[:3] {
		sig, err := keys[v.NodeID].Sign(message)
		require.NoError(t, err)
		_, err = agg.TrustedAdd(v.NodeID, sig)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(3), agg.TotalWeight())

	signers, aggSig, err := agg.Aggregate()
	require.NoError(t, err)
	require.Len(t, signers, 3)

	indices, err := dag.EncodeSignersToIndices(set, signers)
	require.NoError(t, err)
	aggregated := dag.AggregatedSignature{SignerIndices: indices, Signature: aggSig}

	require.NoError(t, VerifyAggregate(set, aggregated, message))

	t.Run("wrong message fails", func(t *testing.T) {
		err := VerifyAggregate(set, aggregated, []byte("other"))
		require.ErrorIs(t, err, model.ErrInvalidSignature)
	})

	t.Run("wrong signer set fails", func(t *testing.T) {
		wrongIndices, err := dag.EncodeSignersToIndices(set, set.NodeIDs())
		require.NoError(t, err)
		err = VerifyAggregate(set, dag.AggregatedSignature{SignerIndices: wrongIndices, Signature: aggSig}, message)
		require.ErrorIs(t, err, model.ErrInvalidSignature)
	})
}

func TestTrustedAdd_Duplicate(t *testing.T) {
	set, keys := participantsFixture(t, 3)
	message := []byte("msg")
	agg, err := NewWeightedAggregator(set, message)
	require.NoError(t, err)

	signer := set.All()[0]
	sig, err := keys[signer.NodeID].Sign(message)
	require.NoError(t, err)

	weight, err := agg.TrustedAdd(signer.NodeID, sig)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), weight)

	weight, err = agg.TrustedAdd(signer.NodeID, sig)
	require.True(t, model.IsDuplicatedSignerError(err))
	assert.Equal(t, uint64(1), weight, "duplicate must not double-count weight")
}

func TestAggregate_InvalidSignatureIncluded(t *testing.T) {
	set, keys := participantsFixture(t, 3)
	message := []byte("msg")
	agg, err := NewWeightedAggregator(set, message)
	require.NoError(t, err)

	good := set.All()[0]
	sig, err := keys[good.NodeID].Sign(message)
	require.NoError(t, err)
	_, err = agg.TrustedAdd(good.NodeID, sig)
	require.NoError(t, err)

	// a signature over a different message slips past TrustedAdd
	bad := set.All()[1]
	badSig, err := keys[bad.NodeID].Sign([]byte("forged"))
	require.NoError(t, err)
	_, err = agg.TrustedAdd(bad.NodeID, badSig)
	require.NoError(t, err)

	_, _, err = agg.Aggregate()
	require.True(t, model.IsInvalidSignatureIncludedError(err))
}

func TestAggregate_Empty(t *testing.T) {
	set, _ := participantsFixture(t, 3)
	agg, err := NewWeightedAggregator(set, []byte("msg"))
	require.NoError(t, err)
	_, _, err = agg.Aggregate()
	require.True(t, model.IsInsufficientSignaturesError(err))
}
