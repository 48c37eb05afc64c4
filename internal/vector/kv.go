package vector

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tabsense/tabsense/internal/errors"
)

var (
	bucketGraphs = []byte("graphs")
	bucketMeta   = []byte("meta")
)

// Store is the durable key-value store backing one or more indexes.
// Each index owns two entries keyed by its name: the exported HNSW
// graph bytes and the gob-encoded document mapping.
type Store struct {
	db   *bbolt.DB
	path string
}

// OpenStore opens (creating if needed) the bbolt database at path.
// The parent directory is created when missing. A second process
// holding the file causes Open to fail after the lock timeout; the
// daemon is the only writer in normal operation.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(errors.ErrCodeStoreWrite,
			fmt.Sprintf("failed to create index directory %s", filepath.Dir(path)), err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreRead,
			fmt.Sprintf("failed to open index store %s", path), err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketGraphs); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.New(errors.ErrCodeStoreWrite, "failed to create index buckets", err)
	}

	return &Store{db: db, path: path}, nil
}

// SaveGraph stores the exported graph bytes for the named index.
func (s *Store) SaveGraph(name string, data []byte) error {
	return s.put(bucketGraphs, name, data)
}

// LoadGraph returns the stored graph bytes for the named index.
// Returns (nil, nil) when no graph has been persisted yet.
func (s *Store) LoadGraph(name string) ([]byte, error) {
	return s.get(bucketGraphs, name)
}

// SaveMeta stores the encoded document mapping for the named index.
func (s *Store) SaveMeta(name string, data []byte) error {
	return s.put(bucketMeta, name, data)
}

// LoadMeta returns the encoded document mapping for the named index.
// Returns (nil, nil) when no mapping has been persisted yet.
func (s *Store) LoadMeta(name string) ([]byte, error) {
	return s.get(bucketMeta, name)
}

// DeleteIndex removes both the graph and the mapping for the named
// index. Missing entries are not an error.
func (s *Store) DeleteIndex(name string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketGraphs).Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete([]byte(name))
	})
	if err != nil {
		return errors.New(errors.ErrCodeStoreWrite,
			fmt.Sprintf("failed to delete index %q", name), err)
	}
	return nil
}

// SizeBytes returns the on-disk size of the database file.
func (s *Store) SizeBytes() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(bucket []byte, name string, data []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(name), data)
	})
	if err != nil {
		return errors.New(errors.ErrCodeStoreWrite,
			fmt.Sprintf("failed to write %s/%s", bucket, name), err)
	}
	return nil
}

func (s *Store) get(bucket []byte, name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(name))
		if data == nil {
			return nil
		}
		// Copy out: bbolt value slices are only valid inside the transaction.
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreRead,
			fmt.Sprintf("failed to read %s/%s", bucket, name), err)
	}
	return out, nil
}
