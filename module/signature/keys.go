// Package signature implements BLS signing and weighted signature
// aggregation over the bn256 pairing suite, plus helpers for working with
// serialized public keys.
package signature

import (
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bdn"
	"go.dedis.ch/kyber/v3/util/random"
)

var suite = bn256.NewSuite()

// PrivateKey is a BLS private key. Signing uses the bdn scheme, which is safe
// against rogue public-key attacks under aggregation.
type PrivateKey struct {
	scalar kyber.Scalar
	public kyber.Point
}

// GenerateKey creates a fresh key pair from the suite's randomness source.
func GenerateKey() *PrivateKey {
	scalar := suite.G2().Scalar().Pick(random.New())
	public := suite.G2().Point().Mul(scalar, nil)
	return &PrivateKey{scalar: scalar, public: public}
}

// Sign signs the message.
func (k *PrivateKey) Sign(msg []byte) ([]byte, error) {
	return bdn.Sign(suite, k.scalar, msg)
}

// PublicKeyBytes returns the serialized public key, as carried by the
// validator set.
func (k *PrivateKey) PublicKeyBytes() []byte {
	data, err := k.public.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("could not marshal public key: %v", err))
	}
	return data
}

// unmarshalPublicKey deserializes a public key from its validator-set form.
func unmarshalPublicKey(data []byte) (kyber.Point, error) {
	point := suite.G2().Point()
	if err := point.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("could not unmarshal public key: %w", err)
	}
	return point, nil
}
