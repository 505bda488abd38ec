package dag

import (
	"fmt"
)

// AggregatedSignature is a quorum of BLS signatures over a single digest,
// aggregated into one signature. SignerIndices is the bit-vector of
// contributing validators over the epoch's canonical validator order.
type AggregatedSignature struct {
	SignerIndices []byte
	Signature     []byte
}

// NodeMetadata is the portion of a node that votes are signed over, plus the
// node's digest. It is sufficient to locate the node in the DAG and to verify
// a certificate without holding the full payload.
type NodeMetadata struct {
	Epoch     uint64
	Round     uint64
	Author    Identifier
	Timestamp uint64 // microseconds since the unix epoch
	Digest    Identifier
}

// ParentCertificate references a certified node of the previous round: the
// parent's metadata plus the quorum signature certifying it.
type ParentCertificate struct {
	Metadata   NodeMetadata
	Signatures AggregatedSignature
}

// ValidatorTxn is a validator-originated transaction carried by a node
// outside of the user payload (e.g. DKG or reconfiguration messages).
type ValidatorTxn struct {
	ID      Identifier
	Payload []byte
}

// Node is a single validator's unsigned proposal for one round: its payload
// plus parent certificates citing a quorum of round-1 nodes. A node proposed
// at round r > 1 must cite parents whose combined voting power reaches quorum;
// every parent's round is strictly below the node's round.
type Node struct {
	Epoch         uint64
	Round         uint64
	Author        Identifier
	Timestamp     uint64
	ValidatorTxns []ValidatorTxn
	Payload       Payload
	Parents       []ParentCertificate
}

// Digest returns the node's content digest: the hash over everything except
// the parents' certifying signatures, so that the digest is stable regardless
// of which quorum subset signed each parent.
func (n *Node) Digest() Identifier {
	parents := make([]Identifier, 0, len(n.Parents))
	for _, parent := range n.Parents {
		parents = append(parents, parent.Metadata.Digest)
	}
	return MakeID(struct {
		Epoch         uint64
		Round         uint64
		Author        Identifier
		Timestamp     uint64
		ValidatorTxns []ValidatorTxn
		Payload       Payload
		Parents       []Identifier
	}{
		Epoch:         n.Epoch,
		Round:         n.Round,
		Author:        n.Author,
		Timestamp:     n.Timestamp,
		ValidatorTxns: n.ValidatorTxns,
		Payload:       n.Payload,
		Parents:       parents,
	})
}

// Metadata returns the node's metadata, computing the digest.
func (n *Node) Metadata() NodeMetadata {
	return NodeMetadata{
		Epoch:     n.Epoch,
		Round:     n.Round,
		Author:    n.Author,
		Timestamp: n.Timestamp,
		Digest:    n.Digest(),
	}
}

// ParentDigests returns the digests of all cited parents.
func (n *Node) ParentDigests() IdentifierList {
	digests := make(IdentifierList, 0, len(n.Parents))
	for _, parent := range n.Parents {
		digests = append(digests, parent.Metadata.Digest)
	}
	return digests
}

// ParentAuthors returns the authors of all cited parents.
func (n *Node) ParentAuthors() IdentifierList {
	authors := make(IdentifierList, 0, len(n.Parents))
	for _, parent := range n.Parents {
		authors = append(authors, parent.Metadata.Author)
	}
	return authors
}

// CheckWellFormed validates the structural invariants that hold for any
// honest proposal: parent rounds strictly below the node's round, a timestamp
// above all parent timestamps, and no parent cited twice. Each parent author
// may appear at most once; citing two nodes by one author would let a
// repeated citation count toward the parent quorum.
func (n *Node) CheckWellFormed() error {
	seenDigests := make(map[Identifier]struct{}, len(n.Parents))
	seenAuthors := make(map[Identifier]struct{}, len(n.Parents))
	for _, parent := range n.Parents {
		if parent.Metadata.Round >= n.Round {
			return fmt.Errorf("parent %v at round %d does not precede node round %d",
				parent.Metadata.Digest, parent.Metadata.Round, n.Round)
		}
		if parent.Metadata.Timestamp >= n.Timestamp {
			return fmt.Errorf("node timestamp %d is not above parent timestamp %d",
				n.Timestamp, parent.Metadata.Timestamp)
		}
		if _, ok := seenDigests[parent.Metadata.Digest]; ok {
			return fmt.Errorf("parent %v cited more than once", parent.Metadata.Digest)
		}
		seenDigests[parent.Metadata.Digest] = struct{}{}
		if _, ok := seenAuthors[parent.Metadata.Author]; ok {
			return fmt.Errorf("multiple parents authored by %v", parent.Metadata.Author)
		}
		seenAuthors[parent.Metadata.Author] = struct{}{}
	}
	return nil
}

// CertifiedNode is a node plus the quorum signature over its metadata digest.
// Immutable once formed.
type CertifiedNode struct {
	Node
	Signatures AggregatedSignature
}

// Certificate returns the parent certificate form of this node, for citation
// by next-round proposals.
func (c *CertifiedNode) Certificate() ParentCertificate {
	return ParentCertificate{
		Metadata:   c.Metadata(),
		Signatures: c.Signatures,
	}
}
