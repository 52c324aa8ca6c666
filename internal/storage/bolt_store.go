package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	medicamentBucket = "medicaments"
	stagingBucket    = "medicaments_staging"
	metaBucket       = "meta"
	exportedAtKey    = "exported_at"
	timestampBytes   = 8
)

var errNoSnapshot = errors.New("no snapshot in progress")

// boltStore implements a Store backed by BoltDB.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{medicamentBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &boltStore{db: db}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// BeginSnapshot discards any unfinished staging area and starts a new one.
func (b *boltStore) BeginSnapshot() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(stagingBucket)) != nil {
			if err := tx.DeleteBucket([]byte(stagingBucket)); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket([]byte(stagingBucket))
		return err
	})
}

// SaveMedication stages the raw record. It becomes visible on CommitSnapshot.
func (b *boltStore) SaveMedication(reference string, raw []byte) error {
	if b == nil || b.db == nil {
		return nil
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return fmt.Errorf("reference is empty")
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		staging := tx.Bucket([]byte(stagingBucket))
		if staging == nil {
			return errNoSnapshot
		}
		return staging.Put([]byte(reference), append([]byte(nil), raw...))
	})
}

// CommitSnapshot replaces the live records with the staged ones and stamps
// the export time, all in one transaction.
func (b *boltStore) CommitSnapshot() error {
	if b == nil || b.db == nil {
		return nil
	}

	now := time.Now().UTC()
	return b.db.Update(func(tx *bolt.Tx) error {
		staging := tx.Bucket([]byte(stagingBucket))
		if staging == nil {
			return errNoSnapshot
		}
		if tx.Bucket([]byte(medicamentBucket)) != nil {
			if err := tx.DeleteBucket([]byte(medicamentBucket)); err != nil {
				return err
			}
		}
		live, err := tx.CreateBucket([]byte(medicamentBucket))
		if err != nil {
			return err
		}
		if err := staging.ForEach(func(k, v []byte) error {
			return live.Put(append([]byte(nil), k...), append([]byte(nil), v...))
		}); err != nil {
			return err
		}
		if err := tx.DeleteBucket([]byte(stagingBucket)); err != nil {
			return err
		}

		meta := tx.Bucket([]byte(metaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket missing")
		}
		buf := make([]byte, timestampBytes)
		binary.BigEndian.PutUint64(buf, uint64(now.Unix()))
		return meta.Put([]byte(exportedAtKey), buf)
	})
}

// Count returns the number of stored records.
func (b *boltStore) Count() (int, error) {
	if b == nil || b.db == nil {
		return 0, nil
	}
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(medicamentBucket))
		if bucket == nil {
			return fmt.Errorf("medicament bucket missing")
		}
		n = bucket.Stats().KeyN
		return nil
	})
	return n, err
}

// ForEach visits records in key order. raw is only valid during the call.
func (b *boltStore) ForEach(fn func(reference string, raw []byte) error) error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(medicamentBucket))
		if bucket == nil {
			return fmt.Errorf("medicament bucket missing")
		}
		return bucket.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// ExportedAt returns the time of the last committed snapshot, or the zero time.
func (b *boltStore) ExportedAt() (time.Time, error) {
	if b == nil || b.db == nil {
		return time.Time{}, nil
	}
	var ts time.Time
	err := b.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket missing")
		}
		ts, _ = decodeTimestamp(meta.Get([]byte(exportedAtKey)))
		return nil
	})
	return ts, err
}

func decodeTimestamp(value []byte) (time.Time, bool) {
	if len(value) != timestampBytes {
		return time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value))
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}
