package operation

import (
	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack"

	"github.com/dagbft/dagbft/module/irrecoverable"
)

// encodeEntity encodes the entity using msgpack and compresses the value
// using snappy.
// A failure to encode is an irrecoverable exception.
func encodeEntity(entity interface{}) ([]byte, error) {
	val, err := msgpack.Marshal(entity)
	if err != nil {
		return nil, irrecoverable.NewExceptionf("could not encode entity: %w", err)
	}
	return snappy.Encode(nil, val), nil
}

// decodeValue decodes a stored value into the entity.
// A failure to decode is an irrecoverable exception.
func decodeValue(val []byte, entity interface{}) error {
	uncompressed, err := snappy.Decode(nil, val)
	if err != nil {
		return irrecoverable.NewExceptionf("could not uncompress data: %w", err)
	}
	err = msgpack.Unmarshal(uncompressed, entity)
	if err != nil {
		return irrecoverable.NewExceptionf("could not decode entity: %w", err)
	}
	return nil
}
