package network

import (
	"github.com/dagbft/dagbft/model/dag"
)

// NodeMessage carries an unsigned round proposal. Recipients respond with
// their *dag.Vote over the node's metadata digest.
type NodeMessage struct {
	Node *dag.Node
}

// CertifiedNodeMessage gossips a certified node. Recipients respond with a
// *CertifiedNodeAck.
type CertifiedNodeMessage struct {
	CertifiedNode *dag.CertifiedNode
}

// NodeRequestMessage asks a peer for certified nodes by digest, including
// enough of their causal history to make them insertable. Recipients respond
// with a *NodeResponseMessage.
type NodeRequestMessage struct {
	Digests dag.IdentifierList
}

// NodeResponseMessage returns the requested certified nodes in ascending
// round order; digests the peer does not hold are omitted.
type NodeResponseMessage struct {
	CertifiedNodes []*dag.CertifiedNode
}
