package dag

// Vote is a validator's signed endorsement of a single digest: either a
// node's metadata digest (certification vote) or a candidate ledger info's
// digest (order vote). Round is the protocol round the voted object belongs
// to and drives garbage collection of stale vote state.
type Vote struct {
	Epoch     uint64
	Round     uint64
	Author    Identifier
	Digest    Identifier
	Signature []byte
}

// ID returns a unique identifier of the vote, keyed by digest and author so
// that re-sent votes map to the same identity.
func (v *Vote) ID() Identifier {
	return MakeID(struct {
		Digest Identifier
		Author Identifier
	}{
		Digest: v.Digest,
		Author: v.Author,
	})
}
