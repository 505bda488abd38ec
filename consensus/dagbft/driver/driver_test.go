package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/consensus/dagbft/adapter"
	"github.com/dagbft/dagbft/consensus/dagbft/dagstore"
	"github.com/dagbft/dagbft/consensus/dagbft/voteaggregator"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module/metrics"
	"github.com/dagbft/dagbft/module/signature"
	"github.com/dagbft/dagbft/network"
	"github.com/dagbft/dagbft/storage/inmem"
	"github.com/dagbft/dagbft/utils/unittest"
)

type countingOrderRule struct {
	processed int
}

func (r *countingOrderRule) Process() { r.processed++ }

type recordingFetcher struct {
	requests []dag.IdentifierList
}

func (f *recordingFetcher) FetchMissing(_ context.Context, _ *dag.CertifiedNode, missing dag.IdentifierList, _ func()) {
	f.requests = append(f.requests, missing)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(ctx context.Context, _ interface{}, _ network.AckAggregator) error {
	<-ctx.Done()
	return ctx.Err()
}

func (nopBroadcaster) Multicast(ctx context.Context, _ interface{}, _ network.AckAggregator, _ dag.IdentifierList) error {
	<-ctx.Done()
	return ctx.Err()
}

type emptyPayloadSource struct{}

func (emptyPayloadSource) PullPayload(context.Context, dagbft.PayloadLimits, dagbft.PayloadFilter) ([]dag.ValidatorTxn, dag.Payload, error) {
	return nil, dag.EmptyPayload(), nil
}

type driverTest struct {
	participants *unittest.Participants
	store        *dagstore.Store
	orderRule    *countingOrderRule
	fetcher      *recordingFetcher
	driver       *Driver
}

func newDriverTest(t testing.TB) *driverTest {
	participants := unittest.ParticipantsFixture(t, 4)
	store := dagstore.NewStore(unittest.Logger(), metrics.NewNoopCollector(), participants.Validators, nil, 1)
	aggregator := voteaggregator.New(unittest.Logger(), metrics.NewNoopCollector(), participants.Validators)
	orderRule := &countingOrderRule{}
	fetcher := &recordingFetcher{}

	self := participants.Validators.All()[0]
	key := participants.Keys[self.NodeID]

	d, err := New(
		unittest.Logger(),
		metrics.NewNoopCollector(),
		Config{Epoch: 1, WindowSize: 10, Backoff: DefaultBackoffConfig()},
		self.NodeID,
		key,
		participants.Validators,
		store,
		aggregator,
		orderRule,
		emptyPayloadSource{},
		inmem.NewConsensusStore(),
		nopBroadcaster{},
		fetcher,
		adapter.NewLedgerInfoProvider(nil),
		nil,
	)
	require.NoError(t, err)
	return &driverTest{
		participants: participants,
		store:        store,
		orderRule:    orderRule,
		fetcher:      fetcher,
		driver:       d,
	}
}

func (dt *driverTest) proposal(authorIdx int, round uint64, parents ...*dag.CertifiedNode) *dag.Node {
	author, _ := dt.participants.Validators.ByIndex(uint32(authorIdx))
	return unittest.NodeFixture(
		unittest.WithRound(round),
		unittest.WithAuthor(author.NodeID),
		unittest.WithTimestamp(round*1_000_000+uint64(authorIdx)),
		unittest.WithParents(parents...),
	)
}

func TestProcessNodeProposal(t *testing.T) {
	dt := newDriverTest(t)
	ctx := context.Background()
	proposal := dt.proposal(1, 1)

	vote, err := dt.driver.ProcessNodeProposal(ctx, proposal)
	require.NoError(t, err)

	metadata := proposal.Metadata()
	assert.Equal(t, metadata.Digest, vote.Digest)
	assert.Equal(t, dt.participants.Validators.All()[0].NodeID, vote.Author)
	require.NoError(t, signature.VerifyVote(dt.participants.Validators, vote))
}

func TestProcessNodeProposal_OneVotePerRoundAuthor(t *testing.T) {
	dt := newDriverTest(t)
	ctx := context.Background()
	proposal := dt.proposal(1, 1)

	vote, err := dt.driver.ProcessNodeProposal(ctx, proposal)
	require.NoError(t, err)

	// the same proposal again yields the identical vote
	again, err := dt.driver.ProcessNodeProposal(ctx, proposal)
	require.NoError(t, err)
	assert.Equal(t, vote, again)

	// an equivocating proposal by the same author for the same round gets
	// the original vote back, never a second one
	equivocation := dt.proposal(1, 1)
	equivocation.Timestamp++
	voted, err := dt.driver.ProcessNodeProposal(ctx, equivocation)
	require.NoError(t, err)
	assert.Equal(t, vote.Digest, voted.Digest)
}

func TestProcessNodeProposal_Rejections(t *testing.T) {
	dt := newDriverTest(t)
	ctx := context.Background()

	t.Run("wrong epoch", func(t *testing.T) {
		proposal := dt.proposal(1, 1)
		proposal.Epoch = 2
		_, err := dt.driver.ProcessNodeProposal(ctx, proposal)
		require.Error(t, err)
	})

	t.Run("unknown author", func(t *testing.T) {
		proposal := dt.proposal(1, 1)
		proposal.Author = unittest.IdentifierFixture()
		_, err := dt.driver.ProcessNodeProposal(ctx, proposal)
		require.Error(t, err)
	})

	t.Run("insufficient parent weight", func(t *testing.T) {
		round1 := dt.participants.CompleteRound(t, 1, nil)
		proposal := dt.proposal(1, 2, round1[0], round1[1])
		_, err := dt.driver.ProcessNodeProposal(ctx, proposal)
		require.Error(t, err)
	})

	t.Run("malformed parents", func(t *testing.T) {
		round1 := dt.participants.CompleteRound(t, 1, nil)
		proposal := dt.proposal(1, 1, round1[0], round1[1], round1[2])
		_, err := dt.driver.ProcessNodeProposal(ctx, proposal)
		require.Error(t, err)
	})
}

func TestProcessCertifiedNode(t *testing.T) {
	dt := newDriverTest(t)
	ctx := context.Background()

	certified := dt.participants.Certify(t, dt.proposal(1, 1))
	ack, err := dt.driver.ProcessCertifiedNode(ctx, certified)
	require.NoError(t, err)
	assert.Equal(t, certified.Digest(), ack.Digest)
	assert.True(t, dt.store.Exists(certified.Metadata()))
	assert.Equal(t, 1, dt.orderRule.processed)

	t.Run("idempotent re-delivery", func(t *testing.T) {
		ack, err := dt.driver.ProcessCertifiedNode(ctx, certified)
		require.NoError(t, err)
		assert.Equal(t, certified.Digest(), ack.Digest)
		assert.Equal(t, 1, dt.orderRule.processed, "re-delivery must not re-process")
	})
}

func TestProcessCertifiedNode_InvalidCertificate(t *testing.T) {
	dt := newDriverTest(t)
	ctx := context.Background()

	t.Run("forged signature", func(t *testing.T) {
		certified := dt.participants.Certify(t, dt.proposal(1, 1))
		forged := *certified
		forged.Timestamp += 7 // digest changes, certificate does not match
		_, err := dt.driver.ProcessCertifiedNode(ctx, &forged)
		require.Error(t, err)
		assert.False(t, dt.store.Exists(forged.Metadata()))
	})

	t.Run("sub-quorum signer set", func(t *testing.T) {
		node := dt.proposal(2, 1)
		digest := node.Digest()
		agg, err := signature.NewWeightedAggregator(dt.participants.Validators, digest[:])
		require.NoError(t, err)
		// only two of four validators sign
		for _, v := range dt.participants.Validators.All()[:2] {
			_, err := agg.TrustedAdd(v.NodeID, dt.participants.Sign(t, v.NodeID, digest[:]))
			require.NoError(t, err)
		}
		signers, aggSig, err := agg.Aggregate()
		require.NoError(t, err)
		indices, err := dag.EncodeSignersToIndices(dt.participants.Validators, signers)
		require.NoError(t, err)
		weak := &dag.CertifiedNode{
			Node:       *node,
			Signatures: dag.AggregatedSignature{SignerIndices: indices, Signature: aggSig},
		}
		_, err = dt.driver.ProcessCertifiedNode(ctx, weak)
		require.Error(t, err)
	})
}

func TestProcessCertifiedNode_MissingParents(t *testing.T) {
	dt := newDriverTest(t)
	ctx := context.Background()

	round1 := dt.participants.CompleteDAG(t, 1)[0]
	child := dt.participants.Certify(t, dt.proposal(0, 2, round1[0], round1[1], round1[2]))

	// the child arrives before its parents: acknowledged, fetch scheduled
	ack, err := dt.driver.ProcessCertifiedNode(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, child.Digest(), ack.Digest)
	assert.False(t, dt.store.Exists(child.Metadata()))
	require.Len(t, dt.fetcher.requests, 1)
	assert.Len(t, dt.fetcher.requests[0], 3)
}

func TestProcessNodeRequest(t *testing.T) {
	dt := newDriverTest(t)
	ctx := context.Background()

	rounds := dt.participants.CompleteDAG(t, 2)
	for _, round := range rounds {
		for _, node := range round {
			_, err := dt.driver.ProcessCertifiedNode(ctx, node)
			require.NoError(t, err)
		}
	}

	target := rounds[1][0]
	response, err := dt.driver.ProcessNodeRequest(ctx, &network.NodeRequestMessage{
		Digests: dag.IdentifierList{target.Digest()},
	})
	require.NoError(t, err)
	require.Len(t, response.CertifiedNodes, 5) // target plus its 4 parents

	// ascending rounds keep parents ahead of children on replay
	for i := 1; i < len(response.CertifiedNodes); i++ {
		assert.LessOrEqual(t, response.CertifiedNodes[i-1].Round, response.CertifiedNodes[i].Round)
	}

	t.Run("unknown digest omitted", func(t *testing.T) {
		response, err := dt.driver.ProcessNodeRequest(ctx, &network.NodeRequestMessage{
			Digests: dag.IdentifierList{unittest.IdentifierFixture()},
		})
		require.NoError(t, err)
		assert.Empty(t, response.CertifiedNodes)
	})
}

func TestAckCollector(t *testing.T) {
	participants := unittest.ParticipantsFixture(t, 4)
	acks := newAckCollector(participants.Validators)
	members := participants.Validators.All()
	ack := &network.CertifiedNodeAck{}

	done, err := acks.Add(members[0].NodeID, ack)
	require.NoError(t, err)
	assert.False(t, done)

	// duplicate acknowledgements carry no extra weight
	done, err = acks.Add(members[0].NodeID, ack)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = acks.Add(members[1].NodeID, ack)
	require.NoError(t, err)
	done, err = acks.Add(members[2].NodeID, ack)
	require.NoError(t, err)
	assert.True(t, done, "quorum of 3 out of 4 reached")

	t.Run("unknown peer", func(t *testing.T) {
		_, err := acks.Add(unittest.IdentifierFixture(), ack)
		require.Error(t, err)
	})

	t.Run("malformed response", func(t *testing.T) {
		_, err := acks.Add(members[3].NodeID, "bogus")
		require.Error(t, err)
	})
}
