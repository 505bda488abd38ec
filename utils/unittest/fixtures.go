package unittest

import (
	crand "crypto/rand"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module/signature"
)

func IdentifierFixture() dag.Identifier {
	var id dag.Identifier
	_, _ = crand.Read(id[:])
	return id
}

func IdentifierListFixture(n int) dag.IdentifierList {
	list := make(dag.IdentifierList, n)
	for i := 0; i < n; i++ {
		list[i] = IdentifierFixture()
	}
	return list
}

func RandomBytes(n int) []byte {
	b := make([]byte, n)
	read, err := crand.Read(b)
	if err != nil || read != n {
		panic(fmt.Sprintf("cannot read %d random bytes", n))
	}
	return b
}

// Participants is a validator set together with the private keys of all of
// its members, for tests that need to produce valid signatures.
type Participants struct {
	Validators *dag.ValidatorSet
	Keys       map[dag.Identifier]*signature.PrivateKey
}

// ParticipantsFixture creates n validators with fresh BLS keys and unit
// weight each.
func ParticipantsFixture(t testing.TB, n int) *Participants {
	validators := make([]*dag.Validator, 0, n)
	keys := make(map[dag.Identifier]*signature.PrivateKey, n)
	for i := 0; i < n; i++ {
		nodeID := IdentifierFixture()
		key := signature.GenerateKey()
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
	return &Participants{Validators: set, Keys: keys}
}

// Sign signs the message with the given member's key.
func (p *Participants) Sign(t testing.TB, nodeID dag.Identifier, message []byte) []byte {
	key, ok := p.Keys[nodeID]
	require.True(t, ok, "no key for node %v", nodeID)
	sig, err := key.Sign(message)
	require.NoError(t, err)
	return sig
}

// Certify produces a valid quorum certificate over the node's digest, signed
// by all members.
func (p *Participants) Certify(t testing.TB, node *dag.Node) *dag.CertifiedNode {
	digest := node.Digest()
	agg, err := signature.NewWeightedAggregator(p.Validators, digest[:])
	require.NoError(t, err)
	for _, v := range p.Validators.All() {
		_, err := agg.TrustedAdd(v.NodeID, p.Sign(t, v.NodeID, digest[:]))
		require.NoError(t, err)
	}
	signers, aggSig, err := agg.Aggregate()
	require.NoError(t, err)
	indices, err := dag.EncodeSignersToIndices(p.Validators, signers)
	require.NoError(t, err)
	return &dag.CertifiedNode{
		Node:       *node,
		Signatures: dag.AggregatedSignature{SignerIndices: indices, Signature: aggSig},
	}
}

// VoteFixture produces a valid vote by the given member over the node's
// metadata digest.
func (p *Participants) VoteFixture(t testing.TB, nodeID dag.Identifier, metadata dag.NodeMetadata) *dag.Vote {
	return &dag.Vote{
		Epoch:     metadata.Epoch,
		Round:     metadata.Round,
		Author:    nodeID,
		Digest:    metadata.Digest,
		Signature: p.Sign(t, nodeID, metadata.Digest[:]),
	}
}

// NodeFixture creates a node with a random author and no parents; customize
// with options.
func NodeFixture(opts ...func(*dag.Node)) *dag.Node {
	node := &dag.Node{
		Epoch:     1,
		Round:     1,
		Author:    IdentifierFixture(),
		Timestamp: 1_000_000,
	}
	for _, opt := range opts {
		opt(node)
	}
	return node
}

func WithRound(round uint64) func(*dag.Node) {
	return func(node *dag.Node) {
		node.Round = round
	}
}

func WithAuthor(author dag.Identifier) func(*dag.Node) {
	return func(node *dag.Node) {
		node.Author = author
	}
}

func WithTimestamp(timestamp uint64) func(*dag.Node) {
	return func(node *dag.Node) {
		node.Timestamp = timestamp
	}
}

func WithParents(parents ...*dag.CertifiedNode) func(*dag.Node) {
	return func(node *dag.Node) {
		for _, parent := range parents {
			node.Parents = append(node.Parents, parent.Certificate())
		}
	}
}

func WithPayload(payload dag.Payload) func(*dag.Node) {
	return func(node *dag.Node) {
		node.Payload = payload
	}
}

// CompleteRound certifies one node per member at the given round, each citing
// the given parents.
func (p *Participants) CompleteRound(t testing.TB, round uint64, parents []*dag.CertifiedNode) []*dag.CertifiedNode {
	timestamp := uint64(round * 1_000_000)
	for _, parent := range parents {
		if parent.Timestamp >= timestamp {
			timestamp = parent.Timestamp + 1
		}
	}
	nodes := make([]*dag.CertifiedNode, 0, p.Validators.Count())
	for _, v := range p.Validators.All() {
		node := NodeFixture(
			WithRound(round),
			WithAuthor(v.NodeID),
			WithTimestamp(timestamp),
			WithParents(parents...),
		)
		nodes = append(nodes, p.Certify(t, node))
	}
	return nodes
}

// CompleteDAG certifies rounds 1..numRounds with every member present and
// every node citing all nodes of the previous round. Returns nodes grouped by
// round, index 0 holding round 1.
func (p *Participants) CompleteDAG(t testing.TB, numRounds uint64) [][]*dag.CertifiedNode {
	rounds := make([][]*dag.CertifiedNode, 0, numRounds)
	var parents []*dag.CertifiedNode
	for round := uint64(1); round <= numRounds; round++ {
		nodes := p.CompleteRound(t, round, parents)
		rounds = append(rounds, nodes)
		parents = nodes
	}
	return rounds
}

func ProofOfStoreFixture(opts ...func(*dag.ProofOfStore)) *dag.ProofOfStore {
	proof := &dag.ProofOfStore{
		BatchID:        IdentifierFixture(),
		Author:         IdentifierFixture(),
		GasBucketStart: 100,
		NumTxns:        1,
		NumBytes:       1,
	}
	for _, opt := range opts {
		opt(proof)
	}
	return proof
}

func WithGasBucket(gasStart uint64) func(*dag.ProofOfStore) {
	return func(proof *dag.ProofOfStore) {
		proof.GasBucketStart = gasStart
	}
}

func WithProofAuthor(author dag.Identifier) func(*dag.ProofOfStore) {
	return func(proof *dag.ProofOfStore) {
		proof.Author = author
	}
}

func WithProofSize(numTxns, numBytes uint64) func(*dag.ProofOfStore) {
	return func(proof *dag.ProofOfStore) {
		proof.NumTxns = numTxns
		proof.NumBytes = numBytes
	}
}

func LedgerInfoFixture(round uint64) *dag.LedgerInfo {
	return &dag.LedgerInfo{
		CommitInfo: dag.BlockInfo{
			Epoch:   1,
			Round:   round,
			BlockID: IdentifierFixture(),
		},
		ConsensusDataHash: IdentifierFixture(),
	}
}
