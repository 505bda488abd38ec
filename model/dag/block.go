package dag

// Block is the synthetic block derived from one ordered anchor: the anchor's
// causal history flattened into a single payload, in causal order. ParentsBitVec
// marks which of the previous round's validators contributed a parent to the
// anchor, for downstream fault-attribution accounting.
type Block struct {
	Epoch         uint64
	Round         uint64
	Author        Identifier
	Timestamp     uint64
	ValidatorTxns []ValidatorTxn
	Payload       Payload
	NodeDigests   IdentifierList
	ParentsBitVec []byte
}

// ID returns the block's content digest.
func (b *Block) ID() Identifier {
	return MakeID(b)
}

// OrderedBlocks is the unit handed to the execution pipeline: one or more
// ordered blocks, the (initially unsigned) commit-proof placeholder, and the
// callback the execution layer invokes once the blocks are executed and the
// proof is signed. Produced once per anchor, consumed exactly once.
type OrderedBlocks struct {
	Blocks         []*Block
	Proof          *LedgerInfoWithSignatures
	CommitCallback func(*LedgerInfoWithSignatures)
}

// CommitEvent is the durable record of one committed anchor, reconstructed
// from the on-chain commit history: the anchor's round and the authors that
// contributed parents, recovered from the stored bit-vector.
type CommitEvent struct {
	Epoch         uint64
	Round         uint64
	ParentsBitVec []byte
}

// ParentAuthors reconstructs the contributing author set from the stored
// bit-vector against the given validator set.
func (e *CommitEvent) ParentAuthors(validators *ValidatorSet) (IdentifierList, error) {
	return DecodeSignerIndices(validators, e.ParentsBitVec)
}
