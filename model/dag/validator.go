package dag

import (
	"fmt"
)

// Validator is a consensus participant of one epoch. The public key is the
// serialized BLS key on bn256; deserialization into a usable key is the
// signature module's concern.
type Validator struct {
	NodeID Identifier
	Index  uint32 // canonical position within the epoch's validator set
	Weight uint64
	PubKey []byte
}

// ValidatorSet is the immutable, canonically ordered set of validators for
// one epoch, together with the quorum arithmetic over their voting power.
type ValidatorSet struct {
	validators  []*Validator
	lookup      map[Identifier]*Validator
	totalWeight uint64
}

// NewValidatorSet constructs a validator set from the given validators.
// The validators must carry contiguous indices starting at zero and strictly
// positive weights.
func NewValidatorSet(validators []*Validator) (*ValidatorSet, error) {
	if len(validators) == 0 {
		return nil, fmt.Errorf("validator set must not be empty")
	}
	ordered := make([]*Validator, len(validators))
	lookup := make(map[Identifier]*Validator, len(validators))
	total := uint64(0)
	for _, v := range validators {
		if int(v.Index) >= len(validators) {
			return nil, fmt.Errorf("validator index %d out of range for set of size %d", v.Index, len(validators))
		}
		if ordered[v.Index] != nil {
			return nil, fmt.Errorf("duplicate validator index %d", v.Index)
		}
		if v.Weight == 0 {
			return nil, fmt.Errorf("validator %v has zero weight", v.NodeID)
		}
		if _, ok := lookup[v.NodeID]; ok {
			return nil, fmt.Errorf("duplicate validator node ID %v", v.NodeID)
		}
		ordered[v.Index] = v
		lookup[v.NodeID] = v
		total += v.Weight
	}
	return &ValidatorSet{
		validators:  ordered,
		lookup:      lookup,
		totalWeight: total,
	}, nil
}

// ByNodeID returns the validator with the given node ID, if it is a member.
func (s *ValidatorSet) ByNodeID(nodeID Identifier) (*Validator, bool) {
	v, ok := s.lookup[nodeID]
	return v, ok
}

// ByIndex returns the validator at the given canonical index.
func (s *ValidatorSet) ByIndex(index uint32) (*Validator, bool) {
	if int(index) >= len(s.validators) {
		return nil, false
	}
	return s.validators[index], true
}

// All returns the validators in canonical order. Callers must not mutate the
// returned slice.
func (s *ValidatorSet) All() []*Validator {
	return s.validators
}

// Count returns the number of validators.
func (s *ValidatorSet) Count() int {
	return len(s.validators)
}

// NodeIDs returns the node IDs in canonical order.
func (s *ValidatorSet) NodeIDs() IdentifierList {
	ids := make(IdentifierList, 0, len(s.validators))
	for _, v := range s.validators {
		ids = append(ids, v.NodeID)
	}
	return ids
}

// TotalWeight returns the combined voting power of all members.
func (s *ValidatorSet) TotalWeight() uint64 {
	return s.totalWeight
}

// QuorumThreshold returns the minimal weight required to certify a node or
// aggregate a ledger-info signature. Given totalWeight, we need the smallest
// integer t such that 2 * totalWeight / 3 < t.
func (s *ValidatorSet) QuorumThreshold() uint64 {
	floorOneThird := s.totalWeight / 3
	res := 2 * floorOneThird
	divRemainder := s.totalWeight % 3
	if divRemainder <= 1 {
		res++
	} else {
		res += divRemainder
	}
	return res
}

// HonestMajorityThreshold returns the minimal weight guaranteeing at least
// one honest member, i.e. the smallest integer t such that totalWeight / 3 < t.
func (s *ValidatorSet) HonestMajorityThreshold() uint64 {
	return s.totalWeight/3 + 1
}

// WeightOf sums the voting power of the given members. Each member counts at
// most once: duplicate IDs and unknown IDs contribute zero weight, so a
// repeated citation cannot inflate the total.
func (s *ValidatorSet) WeightOf(nodeIDs []Identifier) uint64 {
	seen := make(map[Identifier]struct{}, len(nodeIDs))
	total := uint64(0)
	for _, id := range nodeIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if v, ok := s.lookup[id]; ok {
			total += v.Weight
		}
	}
	return total
}
