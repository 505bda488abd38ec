package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/dagbft/consensus/dagbft/dagstore"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module/metrics"
	"github.com/dagbft/dagbft/network"
	"github.com/dagbft/dagbft/utils/unittest"
)

// stubConduit answers every node request with the same prepared response.
type stubConduit struct {
	response *network.NodeResponseMessage
}

func (c *stubConduit) Unicast(_ context.Context, _ dag.Identifier, _ interface{}) (interface{}, error) {
	return c.response, nil
}

// A peer serving fetched history is no more trusted than one gossiping it:
// nodes whose certificate does not verify must never enter the store.
func TestFetch_RejectsInvalidCertificates(t *testing.T) {
	participants := unittest.ParticipantsFixture(t, 4)
	store := dagstore.NewStore(unittest.Logger(), metrics.NewNoopCollector(), participants.Validators, nil, 1)
	self := participants.Validators.All()[0].NodeID

	round1 := participants.CompleteRound(t, 1, nil)
	forged := *round1[1]
	forged.Signatures.Signature = []byte("not a signature")
	round1[1] = &forged

	child := participants.Certify(t, unittest.NodeFixture(
		unittest.WithRound(2),
		unittest.WithAuthor(self),
		unittest.WithTimestamp(2_000_000),
		unittest.WithParents(round1...),
	))

	conduit := &stubConduit{response: &network.NodeResponseMessage{CertifiedNodes: round1}}
	fetcher := NewNetworkFetcher(unittest.Logger(), conduit, participants.Validators, store, self, nil)
	defer fetcher.Stop()

	missing := child.ParentDigests()
	inserted := fetcher.fetch(context.Background(), child, missing)

	assert.False(t, inserted, "child must stay out while a parent certificate is forged")
	assert.False(t, store.Exists(forged.Metadata()), "forged node must not be inserted")
	assert.False(t, store.Exists(child.Metadata()))
	// the honestly certified parents were accepted
	assert.True(t, store.Exists(round1[0].Metadata()))
	assert.True(t, store.Exists(round1[2].Metadata()))
}

func TestFetch_InsertsVerifiedHistory(t *testing.T) {
	participants := unittest.ParticipantsFixture(t, 4)
	store := dagstore.NewStore(unittest.Logger(), metrics.NewNoopCollector(), participants.Validators, nil, 1)
	self := participants.Validators.All()[0].NodeID

	round1 := participants.CompleteRound(t, 1, nil)
	child := participants.Certify(t, unittest.NodeFixture(
		unittest.WithRound(2),
		unittest.WithAuthor(self),
		unittest.WithTimestamp(2_000_000),
		unittest.WithParents(round1...),
	))

	conduit := &stubConduit{response: &network.NodeResponseMessage{CertifiedNodes: round1}}
	fetcher := NewNetworkFetcher(unittest.Logger(), conduit, participants.Validators, store, self, nil)
	defer fetcher.Stop()

	inserted := fetcher.fetch(context.Background(), child, child.ParentDigests())
	require.True(t, inserted)
	assert.True(t, store.Exists(child.Metadata()))
	for _, parent := range round1 {
		assert.True(t, store.Exists(parent.Metadata()))
	}
}

type stubActivity struct {
	sets []dag.IdentifierList
}

func (s *stubActivity) RecentCommittedAuthors() []dag.IdentifierList {
	return s.sets
}

func TestPeerOrder_PrefersRecentlyCommittedAuthors(t *testing.T) {
	participants := unittest.ParticipantsFixture(t, 4)
	store := dagstore.NewStore(unittest.Logger(), metrics.NewNoopCollector(), participants.Validators, nil, 1)
	ids := participants.Validators.NodeIDs()
	self := ids[0]

	activity := &stubActivity{sets: []dag.IdentifierList{
		{ids[1], self},   // older commit
		{ids[3], ids[1]}, // newest commit
	}}
	fetcher := NewNetworkFetcher(unittest.Logger(), &stubConduit{}, participants.Validators, store, self, activity)
	defer fetcher.Stop()

	// newest commit's authors first, then older ones, then the rest in
	// canonical order; self never appears
	assert.Equal(t, dag.IdentifierList{ids[3], ids[1], ids[2]}, fetcher.peerOrder())
}

func TestPeerOrder_CanonicalWithoutActivity(t *testing.T) {
	participants := unittest.ParticipantsFixture(t, 4)
	store := dagstore.NewStore(unittest.Logger(), metrics.NewNoopCollector(), participants.Validators, nil, 1)
	ids := participants.Validators.NodeIDs()

	fetcher := NewNetworkFetcher(unittest.Logger(), &stubConduit{}, participants.Validators, store, ids[0], nil)
	defer fetcher.Stop()
	assert.Equal(t, dag.IdentifierList{ids[1], ids[2], ids[3]}, fetcher.peerOrder())
}
