package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltOpenTimeout = 2 * time.Second

var (
	boltBucketName = []byte("drivewatch")
	boltStateKey   = []byte("workspace")
)

// BoltStateBackend stores the snapshot under a single key of a bbolt file.
// The file stays open (and locked) until Close.
type BoltStateBackend struct {
	path string

	initOnce sync.Once
	initErr  error
	db       *bolt.DB
}

func NewBoltStateBackend(path string) (StateBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &BoltStateBackend{path: path}, nil
}

func (b *BoltStateBackend) Load() (*Snapshot, error) {
	if b == nil {
		return nil, nil
	}
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	var snapshot *Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucketName)
		if bucket == nil {
			return nil
		}
		data := bucket.Get(boltStateKey)
		if data == nil {
			return nil
		}
		var decoded Snapshot
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		snapshot = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (b *BoltStateBackend) Save(state *Snapshot) error {
	if b == nil || state == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucketName)
		if err != nil {
			return err
		}
		return bucket.Put(boltStateKey, payload)
	})
}

func (b *BoltStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltStateBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		if dir := filepath.Dir(b.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				b.initErr = err
				return
			}
		}
		db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
		if err != nil {
			b.initErr = err
			return
		}
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(boltBucketName)
			return err
		})
		if err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}
