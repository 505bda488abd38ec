package signature

import (
	"fmt"
	"sync"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign"
	"go.dedis.ch/kyber/v3/sign/bdn"

	"github.com/dagbft/dagbft/consensus/dagbft/model"
	"github.com/dagbft/dagbft/model/dag"
)

// WeightedSignatureAggregator aggregates signatures of the same message from
// different members of one validator set, tracking the total voting power of
// the collected signatures. Implementations must be concurrency safe.
type WeightedSignatureAggregator interface {
	// Verify verifies the signature under the signer's public key and the
	// message agreed upon at construction.
	// Expected errors during normal operations:
	//  - model.InvalidSignerError if the signer is not a member of the validator set
	//  - model.ErrInvalidSignature if the signature is cryptographically invalid
	Verify(signerID dag.Identifier, sig []byte) error

	// TrustedAdd adds a signature to the internal set and adds the signer's
	// weight to the total collected weight, iff the signature is not a
	// duplicate. There is no pre-check of the signature's validity; safety is
	// guaranteed by the post-verification in Aggregate. The total weight of
	// all collected signatures is returned regardless of any returned error.
	// Expected errors during normal operations:
	//  - model.InvalidSignerError if the signer is not a member of the validator set
	//  - model.DuplicatedSignerError if the signer has already been added
	TrustedAdd(signerID dag.Identifier, sig []byte) (uint64, error)

	// TotalWeight returns the total voting power of the collected signatures.
	TotalWeight() uint64

	// Aggregate aggregates the collected signatures and returns the signer
	// IDs with the aggregated signature. The aggregate is verified before it
	// is returned, which is required for safety since TrustedAdd admits
	// unverified signatures.
	// Expected errors during normal operations:
	//  - model.InsufficientSignaturesError if no signatures have been added yet
	//  - model.InvalidSignatureIncludedError if some added signature(s) are invalid
	Aggregate() (dag.IdentifierList, []byte, error)
}

// weightedAggregator implements WeightedSignatureAggregator over the bdn
// scheme: signatures are collected per signer and aggregated together with a
// participation mask over the validator set's canonical key order.
type weightedAggregator struct {
	mu          sync.Mutex
	validators  *dag.ValidatorSet
	publics     []kyber.Point // canonical order, parallel to validator indices
	message     []byte
	collected   map[dag.Identifier][]byte
	totalWeight uint64
}

var _ WeightedSignatureAggregator = (*weightedAggregator)(nil)

// NewWeightedAggregator creates an aggregator for signatures over the given
// message from members of the given validator set.
func NewWeightedAggregator(validators *dag.ValidatorSet, message []byte) (WeightedSignatureAggregator, error) {
	publics := make([]kyber.Point, 0, validators.Count())
	for _, v := range validators.All() {
		point, err := unmarshalPublicKey(v.PubKey)
		if err != nil {
			return nil, fmt.Errorf("invalid public key of validator %v: %w", v.NodeID, err)
		}
		publics = append(publics, point)
	}
	return &weightedAggregator{
		validators: validators,
		publics:    publics,
		message:    message,
		collected:  make(map[dag.Identifier][]byte),
	}, nil
}

func (w *weightedAggregator) Verify(signerID dag.Identifier, sig []byte) error {
	v, ok := w.validators.ByNodeID(signerID)
	if !ok {
		return model.NewInvalidSignerErrorf("signer %v is not a member of the validator set", signerID)
	}
	err := bdn.Verify(suite, w.publics[v.Index], w.message, sig)
	if err != nil {
		return fmt.Errorf("signature of %v is invalid: %w", signerID, model.ErrInvalidSignature)
	}
	return nil
}

func (w *weightedAggregator) TrustedAdd(signerID dag.Identifier, sig []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.validators.ByNodeID(signerID)
	if !ok {
		return w.totalWeight, model.NewInvalidSignerErrorf("signer %v is not a member of the validator set", signerID)
	}
	if _, ok := w.collected[signerID]; ok {
		return w.totalWeight, model.NewDuplicatedSignerErrorf("signature from %v was already added", signerID)
	}
	w.collected[signerID] = sig
	w.totalWeight += v.Weight
	return w.totalWeight, nil
}

func (w *weightedAggregator) TotalWeight() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalWeight
}

func (w *weightedAggregator) Aggregate() (dag.IdentifierList, []byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.collected) == 0 {
		return nil, nil, model.NewInsufficientSignaturesErrorf("cannot aggregate an empty signature set")
	}

	mask, err := sign.NewMask(suite, w.publics, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create participation mask: %w", err)
	}
	// signatures must be ordered consistently with the mask's enabled bits,
	// i.e. by canonical validator index
	signerIDs := make(dag.IdentifierList, 0, len(w.collected))
	sigs := make([][]byte, 0, len(w.collected))
	for _, v := range w.validators.All() {
		sig, ok := w.collected[v.NodeID]
		if !ok {
			continue
		}
		if err := mask.SetBit(int(v.Index), true); err != nil {
			return nil, nil, fmt.Errorf("could not set mask bit %d: %w", v.Index, err)
		}
		signerIDs = append(signerIDs, v.NodeID)
		sigs = append(sigs, sig)
	}

	aggregated, err := bdn.AggregateSignatures(suite, sigs, mask)
	if err != nil {
		return nil, nil, model.NewInvalidSignatureIncludedErrorf("could not aggregate signatures: %s", err)
	}
	aggregatedBytes, err := aggregated.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("could not serialize aggregated signature: %w", err)
	}
	aggregatedKey, err := bdn.AggregatePublicKeys(suite, mask)
	if err != nil {
		return nil, nil, fmt.Errorf("could not aggregate public keys: %w", err)
	}
	// post-verification: TrustedAdd admits unverified signatures, so an
	// invalid share surfaces here instead of producing an unusable aggregate
	err = bdn.Verify(suite, aggregatedKey, w.message, aggregatedBytes)
	if err != nil {
		return nil, nil, model.NewInvalidSignatureIncludedErrorf("aggregated signature failed verification: %s", err)
	}

	return signerIDs, aggregatedBytes, nil
}

// VerifyVote verifies a single vote's signature over its digest.
// Expected errors during normal operations:
//   - model.InvalidSignerError if the vote's author is not a member of the validator set
//   - model.ErrInvalidSignature if the signature is cryptographically invalid
func VerifyVote(validators *dag.ValidatorSet, vote *dag.Vote) error {
	v, ok := validators.ByNodeID(vote.Author)
	if !ok {
		return model.NewInvalidSignerErrorf("vote author %v is not a member of the validator set", vote.Author)
	}
	public, err := unmarshalPublicKey(v.PubKey)
	if err != nil {
		return fmt.Errorf("invalid public key of validator %v: %w", v.NodeID, err)
	}
	err = bdn.Verify(suite, public, vote.Digest[:], vote.Signature)
	if err != nil {
		return fmt.Errorf("vote signature of %v is invalid: %w", vote.Author, model.ErrInvalidSignature)
	}
	return nil
}

// VerifyAggregate verifies an aggregated signature over the message against
// the subset of the validator set encoded in the signer-indices bit-vector.
// Expected errors during normal operations:
//   - model.ErrInvalidSignature if the aggregate does not verify
func VerifyAggregate(validators *dag.ValidatorSet, aggSig dag.AggregatedSignature, message []byte) error {
	signers, err := dag.DecodeSignerIndices(validators, aggSig.SignerIndices)
	if err != nil {
		return fmt.Errorf("could not decode signer indices: %w", err)
	}
	publics := make([]kyber.Point, 0, validators.Count())
	for _, v := range validators.All() {
		point, err := unmarshalPublicKey(v.PubKey)
		if err != nil {
			return fmt.Errorf("invalid public key of validator %v: %w", v.NodeID, err)
		}
		publics = append(publics, point)
	}
	mask, err := sign.NewMask(suite, publics, nil)
	if err != nil {
		return fmt.Errorf("could not create participation mask: %w", err)
	}
	for _, signerID := range signers {
		v, _ := validators.ByNodeID(signerID)
		if err := mask.SetBit(int(v.Index), true); err != nil {
			return fmt.Errorf("could not set mask bit %d: %w", v.Index, err)
		}
	}
	aggregatedKey, err := bdn.AggregatePublicKeys(suite, mask)
	if err != nil {
		return fmt.Errorf("could not aggregate public keys: %w", err)
	}
	err = bdn.Verify(suite, aggregatedKey, message, aggSig.Signature)
	if err != nil {
		return fmt.Errorf("aggregated signature is invalid: %w", model.ErrInvalidSignature)
	}
	return nil
}
