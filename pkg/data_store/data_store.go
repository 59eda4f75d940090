package data_store

import "github.com/jirwin/daybreak/pkg/data_store/boltdb"

// DataStore is the shared key/value store. Every module gets its own bucket.
type DataStore interface {
	InitModuleBucket(module string) error
	GetStore(module string) boltdb.ModuleStore
	SnapshotStore(poller string) *boltdb.SnapshotStore
	Close()
}

var _ DataStore = (*boltdb.BoltDbStore)(nil)
