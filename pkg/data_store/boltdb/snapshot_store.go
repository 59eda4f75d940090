package boltdb

import (
	"encoding/json"

	"github.com/boltdb/bolt"
)

// SnapshotStore persists a poller's baseline, one JSON value per tracked key.
type SnapshotStore struct {
	poller string
	db     *bolt.DB
}

// Save replaces the stored baseline with the given one.
func (s *SnapshotStore) Save(baseline map[string]json.RawMessage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		rootBkt, err := tx.CreateBucketIfNotExists([]byte(snapshotsBucket))
		if err != nil {
			return err
		}

		if rootBkt.Bucket([]byte(s.poller)) != nil {
			if err := rootBkt.DeleteBucket([]byte(s.poller)); err != nil {
				return err
			}
		}

		bkt, err := rootBkt.CreateBucket([]byte(s.poller))
		if err != nil {
			return err
		}

		for k, v := range baseline {
			if err := bkt.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the stored baseline, or nil if none has been saved.
func (s *SnapshotStore) Load() (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage

	err := s.db.View(func(tx *bolt.Tx) error {
		rootBkt := tx.Bucket([]byte(snapshotsBucket))
		if rootBkt == nil {
			return nil
		}
		bkt := rootBkt.Bucket([]byte(s.poller))
		if bkt == nil {
			return nil
		}

		out = make(map[string]json.RawMessage)
		return bkt.ForEach(func(k, v []byte) error {
			val := make([]byte, len(v))
			copy(val, v)
			out[string(k)] = val
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
