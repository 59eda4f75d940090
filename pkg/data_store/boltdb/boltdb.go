package boltdb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

const (
	modulesBucket   = "modules"
	snapshotsBucket = "snapshots"
)

type Config struct {
	DbPath string
}

func NewConfig() (Config, error) {
	varDir := os.Getenv("DAYBREAK_VAR_DIR")
	if varDir == "" {
		varDir = "var"
	}

	c := Config{
		DbPath: filepath.Join(varDir, "daybreak.db"),
	}

	return c, nil
}

type BoltDbStore struct {
	c  Config
	l  *zap.Logger
	db *bolt.DB
}

func (b *BoltDbStore) InitModuleBucket(module string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		rootBkt, err := tx.CreateBucketIfNotExists([]byte(modulesBucket))
		if err != nil {
			return err
		}

		_, err = rootBkt.CreateBucketIfNotExists([]byte(module))
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("init bucket for %s: %w", module, err)
	}

	return nil
}

func (b *BoltDbStore) GetStore(module string) ModuleStore {
	return &moduleStore{
		module: module,
		db:     b.db,
	}
}

// SnapshotStore returns the baseline store for a named poller.
func (b *BoltDbStore) SnapshotStore(poller string) *SnapshotStore {
	return &SnapshotStore{
		poller: poller,
		db:     b.db,
	}
}

func (b *BoltDbStore) Close() {
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			b.l.Error("error closing bolt db", zap.Error(err))
		}
		b.db = nil
	}
}

func New(c Config, l *zap.Logger) (*BoltDbStore, error) {
	b := &BoltDbStore{
		c: c,
		l: l.Named("boltdb-datastore"),
	}

	if dir := filepath.Dir(c.DbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(c.DbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	b.db = db

	return b, nil
}
