package dag

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack"
	"golang.org/x/crypto/sha3"
)

// Identifier is a 32-byte content digest used to reference nodes, batches,
// validators and ledger infos.
type Identifier [32]byte

// ZeroID is the lowest value in the 32-byte ID space.
var ZeroID = Identifier{}

// HashOf hashes the concatenation of the given byte slices.
func HashOf(data ...[]byte) Identifier {
	hasher := sha3.New256()
	for _, d := range data {
		_, _ = hasher.Write(d)
	}
	var id Identifier
	copy(id[:], hasher.Sum(nil))
	return id
}

// MakeID creates an ID from the canonical msgpack encoding of the entity.
// Entities used as hash inputs must have a stable field order.
func MakeID(entity interface{}) Identifier {
	data, err := msgpack.Marshal(entity)
	if err != nil {
		panic(fmt.Sprintf("could not encode entity for hashing: %v", err))
	}
	return HashOf(data)
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identifier) IsZero() bool {
	return id == ZeroID
}

// MarshalText allows identifiers to be used directly as map keys in JSON
// and as zerolog fields.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identifier) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("could not decode identifier: %w", err)
	}
	if len(decoded) != len(id) {
		return fmt.Errorf("invalid identifier length %d", len(decoded))
	}
	copy(id[:], decoded)
	return nil
}

// IdentifierList is a list of identifiers with set-style helpers.
type IdentifierList []Identifier

// Contains returns whether the list contains the given ID.
func (l IdentifierList) Contains(target Identifier) bool {
	for _, id := range l {
		if id == target {
			return true
		}
	}
	return false
}

// Sort returns a copy of the list in ascending byte order.
func (l IdentifierList) Sort() IdentifierList {
	dup := make(IdentifierList, len(l))
	copy(dup, l)
	for i := 1; i < len(dup); i++ {
		for j := i; j > 0 && bytes.Compare(dup[j][:], dup[j-1][:]) < 0; j-- {
			dup[j], dup[j-1] = dup[j-1], dup[j]
		}
	}
	return dup
}

// Lookup returns the list as a membership set.
func (l IdentifierList) Lookup() map[Identifier]struct{} {
	set := make(map[Identifier]struct{}, len(l))
	for _, id := range l {
		set[id] = struct{}{}
	}
	return set
}
