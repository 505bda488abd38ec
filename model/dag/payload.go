package dag

// ProofOfStore certifies availability of a transaction batch without carrying
// the transactions themselves: nodes propose proofs, the batch bodies travel
// out of band.
type ProofOfStore struct {
	BatchID        Identifier
	Author         Identifier
	GasBucketStart uint64 // lower bound of the gas-price bucket of the batch
	NumTxns        uint64
	NumBytes       uint64
}

// Payload is the transaction-batch payload of a node: a list of proofs in
// non-increasing gas-bucket order.
type Payload struct {
	Proofs []*ProofOfStore
}

// EmptyPayload is substituted when pulling from the payload source fails;
// round advancement never blocks on payload availability.
func EmptyPayload() Payload {
	return Payload{}
}

// IsEmpty returns whether the payload carries no proofs.
func (p Payload) IsEmpty() bool {
	return len(p.Proofs) == 0
}

// Len returns the number of proofs in the payload.
func (p Payload) Len() int {
	return len(p.Proofs)
}

// BatchIDs returns the IDs of all referenced batches.
func (p Payload) BatchIDs() IdentifierList {
	ids := make(IdentifierList, 0, len(p.Proofs))
	for _, proof := range p.Proofs {
		ids = append(ids, proof.BatchID)
	}
	return ids
}
