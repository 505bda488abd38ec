package operation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/dagbft/dagbft/storage"
)

// insert encodes the entity and stores it under the key, erroring if the key
// already exists.
// Error returns: storage.ErrAlreadyExists.
func insert(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		if err == nil {
			return storage.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("could not check key: %w", err)
		}

		val, err := encodeEntity(entity)
		if err != nil {
			return err
		}
		err = tx.Set(key, val)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// upsert encodes the entity and stores it under the key, overwriting any
// existing value.
func upsert(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		val, err := encodeEntity(entity)
		if err != nil {
			return err
		}
		err = tx.Set(key, val)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// retrieve decodes the value stored under the key into the entity.
// Error returns: storage.ErrNotFound.
func retrieve(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}
		return item.Value(func(val []byte) error {
			return decodeValue(val, entity)
		})
	}
}

// remove deletes the entry under the key; removing a non-existent key is a
// no-op.
func remove(key []byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		err := tx.Delete(key)
		if err != nil {
			return fmt.Errorf("could not delete key %x: %w", key, err)
		}
		return nil
	}
}

// removeByPrefix deletes all entries whose key starts with the given prefix
// and for which the filter (if non-nil) accepts the key.
func removeByPrefix(prefix []byte, filter func(key []byte) bool) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if filter != nil && !filter(key) {
				continue
			}
			keys = append(keys, key)
		}
		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return fmt.Errorf("could not delete key %x: %w", key, err)
			}
		}
		return nil
	}
}

// traverse iterates all entries under the prefix in key order, decoding each
// value into a fresh entity from create and passing it to handle.
func traverse(prefix []byte, create func() interface{}, handle func(key []byte, entity interface{}) error) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			entity := create()
			err := item.Value(func(val []byte) error {
				return decodeValue(val, entity)
			})
			if err != nil {
				return err
			}
			err = handle(item.KeyCopy(nil), entity)
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// traverseReverse iterates all entries under the prefix in descending key
// order, stopping early once handle returns false.
func traverseReverse(prefix []byte, create func() interface{}, handle func(key []byte, entity interface{}) (bool, error)) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := tx.NewIterator(opts)
		defer it.Close()

		// in reverse mode, seek to the highest possible key under the prefix
		seek := append(bytes.Clone(prefix), bytes.Repeat([]byte{0xff}, 8)...)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			entity := create()
			err := item.Value(func(val []byte) error {
				return decodeValue(val, entity)
			})
			if err != nil {
				return err
			}
			cont, err := handle(item.KeyCopy(nil), entity)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	}
}
