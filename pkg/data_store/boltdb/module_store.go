package boltdb

import (
	"fmt"

	"github.com/boltdb/bolt"
)

type ModuleStore interface {
	ForEach(forEachFunc func(key string, value []byte) error) error
	Update(key string, value []byte) error
	Delete(key string) error
	GetAndUpdate(key string, updateFunc func([]byte) ([]byte, error)) error
	Get(key string, getFunc func([]byte) error) error
}

type moduleStore struct {
	module string
	db     *bolt.DB
}

func (s *moduleStore) bucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	rootBkt := tx.Bucket([]byte(modulesBucket))
	if rootBkt == nil {
		return nil, fmt.Errorf("bucket for %s not initialized", s.module)
	}
	bkt := rootBkt.Bucket([]byte(s.module))
	if bkt == nil {
		return nil, fmt.Errorf("bucket for %s not initialized", s.module)
	}
	return bkt, nil
}

func (s *moduleStore) ForEach(forEachFunc func(key string, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bkt, err := s.bucket(tx)
		if err != nil {
			return err
		}

		return bkt.ForEach(func(k []byte, v []byte) error {
			return forEachFunc(string(k), v)
		})
	})
}

// Update stores the value at the provided key
func (s *moduleStore) Update(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := s.bucket(tx)
		if err != nil {
			return err
		}

		return bkt.Put([]byte(key), value)
	})
}

func (s *moduleStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := s.bucket(tx)
		if err != nil {
			return err
		}

		return bkt.Delete([]byte(key))
	})
}

// GetAndUpdate retrieves a key from the database and passes its value to the provided updateFunc.
// A nil return from updateFunc leaves the key untouched.
func (s *moduleStore) GetAndUpdate(key string, updateFunc func([]byte) ([]byte, error)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := s.bucket(tx)
		if err != nil {
			return err
		}

		k := []byte(key)
		updateVal, err := updateFunc(bkt.Get(k))
		if err != nil {
			return err
		}

		if updateVal != nil {
			return bkt.Put(k, updateVal)
		}
		return nil
	})
}

// Get retrieves a key from the database and passes it to the provided getFunc.
// The value is only valid for the duration of getFunc.
func (s *moduleStore) Get(key string, getFunc func([]byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bkt, err := s.bucket(tx)
		if err != nil {
			return err
		}

		return getFunc(bkt.Get([]byte(key)))
	})
}
