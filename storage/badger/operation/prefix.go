package operation

import (
	"encoding/binary"
	"fmt"

	"github.com/dagbft/dagbft/model/dag"
)

const (
	codePendingNode   = 1 // this validator's in-flight proposal (singleton)
	codeVote          = 2 // round -> vote ID -> vote
	codeCertifiedNode = 3 // round -> digest -> certified node
	codeValidatorSet  = 4 // epoch -> validator set
	codeCommitEvent   = 5 // round -> commit event
	codeLedgerInfo    = 6 // latest commit-proof ledger info (singleton)
)

// makePrefix builds a key from a code byte and a sequence of binary segments,
// keeping numeric segments big-endian so that key order matches value order.
func makePrefix(code byte, keys ...interface{}) []byte {
	prefix := make([]byte, 1, 1+8*len(keys))
	prefix[0] = code
	for _, key := range keys {
		prefix = append(prefix, keyPartToBinary(key)...)
	}
	return prefix
}

func keyPartToBinary(v interface{}) []byte {
	switch i := v.(type) {
	case uint64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, i)
		return b
	case dag.Identifier:
		return i[:]
	default:
		panic(fmt.Sprintf("unsupported type to convert (%T)", v))
	}
}

// roundFromKey extracts the big-endian round segment that directly follows
// the code byte.
func roundFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[1:9])
}
