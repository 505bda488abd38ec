package dag

import (
	"fmt"
)

// Signer indices compactly encode a subset of a validator set as a bit-vector
// over the set's canonical order. Bit i (most significant bit first within
// each byte) is set iff the validator at canonical index i is a member of the
// subset. The vector is also reused as the parent-membership accounting
// attached to committed anchors.

// EncodeSignersToIndices encodes the given subset of the validator set as a
// bit-vector. Unknown node IDs yield an error.
func EncodeSignersToIndices(validators *ValidatorSet, signers IdentifierList) ([]byte, error) {
	indices := make([]byte, bitVectorLength(validators.Count()))
	for _, signerID := range signers {
		v, ok := validators.ByNodeID(signerID)
		if !ok {
			return nil, fmt.Errorf("signer %v is not a member of the validator set", signerID)
		}
		setBit(indices, int(v.Index))
	}
	return indices, nil
}

// DecodeSignerIndices decodes a bit-vector back into the subset of node IDs,
// in canonical order. Errors if the vector length does not match the set size
// or if padding bits are set.
func DecodeSignerIndices(validators *ValidatorSet, indices []byte) (IdentifierList, error) {
	count := validators.Count()
	if len(indices) != bitVectorLength(count) {
		return nil, fmt.Errorf("invalid signer indices length %d for validator set of size %d", len(indices), count)
	}
	for i := count; i < len(indices)*8; i++ {
		if getBit(indices, i) {
			return nil, fmt.Errorf("padding bit %d is set", i)
		}
	}
	signers := make(IdentifierList, 0, count)
	for i := 0; i < count; i++ {
		if !getBit(indices, i) {
			continue
		}
		v, _ := validators.ByIndex(uint32(i))
		signers = append(signers, v.NodeID)
	}
	return signers, nil
}

func bitVectorLength(bits int) int {
	return (bits + 7) / 8
}

func setBit(vector []byte, index int) {
	vector[index/8] |= 1 << (7 - index%8)
}

func getBit(vector []byte, index int) bool {
	return vector[index/8]&(1<<(7-index%8)) != 0
}
