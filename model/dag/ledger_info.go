package dag

// BlockInfo identifies one committed block: the anchor round it was derived
// from and the synthetic block's ID and timestamp.
type BlockInfo struct {
	Epoch     uint64
	Round     uint64
	BlockID   Identifier
	Timestamp uint64
}

// LedgerInfo is the commit decision candidate that order votes are signed
// over: the block to commit plus a hash binding the consensus data that
// produced it.
type LedgerInfo struct {
	CommitInfo        BlockInfo
	ConsensusDataHash Identifier
}

// Digest returns the digest that order votes for this ledger info sign.
func (li *LedgerInfo) Digest() Identifier {
	return MakeID(li)
}

// LedgerInfoWithSignatures is a ledger info plus a quorum of order-vote
// signatures: the commit proof. Placeholder proofs (emitted alongside ordered
// blocks before execution signs off) carry empty Signatures.
type LedgerInfoWithSignatures struct {
	LedgerInfo LedgerInfo
	Signatures AggregatedSignature
}

// Round returns the committed anchor round.
func (li *LedgerInfoWithSignatures) Round() uint64 {
	return li.LedgerInfo.CommitInfo.Round
}

// Epoch returns the epoch of the committed block.
func (li *LedgerInfoWithSignatures) Epoch() uint64 {
	return li.LedgerInfo.CommitInfo.Epoch
}
