// Package store provides a durable ordered key-value store with named
// sub-namespaces, backed by bbolt. It implements the spec's Store
// component (get/put/del/batch/iterator with reverse+bounds).
package store

import (
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Namespaces match the spec's sub-namespace list exactly.
const (
	NamespaceCameras    = "cameras"
	NamespaceMovements  = "movements"
	NamespaceSettings   = "settings"
	NamespaceDiskStatus = "diskstatus"
)

var namespaces = []string{NamespaceCameras, NamespaceMovements, NamespaceSettings, NamespaceDiskStatus}

// ErrNotFound is returned by Get when the key doesn't exist in the
// namespace.
var ErrNotFound = errors.New("store: key not found")

// Store wraps a bbolt database, pre-creating one bucket per namespace.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt database at path and
// ensures every namespace bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, ns := range namespaces {
			if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
				return fmt.Errorf("creating bucket %s: %w", ns, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get reads the raw value for key in namespace ns. Returns ErrNotFound
// if absent.
func (s *Store) Get(ns, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return fmt.Errorf("unknown namespace %s", ns)
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append(out, v...)
		return nil
	})
	return out, err
}

// Put writes a raw value for key in namespace ns.
func (s *Store) Put(ns, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return fmt.Errorf("unknown namespace %s", ns)
		}
		return b.Put([]byte(key), value)
	})
}

// Del removes key from namespace ns. Deleting an absent key is not an
// error (idempotent, matching the spec's retry-on-next-tick semantics).
func (s *Store) Del(ns, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return fmt.Errorf("unknown namespace %s", ns)
		}
		return b.Delete([]byte(key))
	})
}

// Op is one operation in a Batch call.
type Op struct {
	Namespace string
	Key       string
	Delete    bool
	Value     []byte
}

// Batch applies every op in a single bbolt transaction, so a multi-key
// delete (e.g. the Janitor's movement eviction) is atomic.
func (s *Store) Batch(ops []Op) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, op := range ops {
			b := tx.Bucket([]byte(op.Namespace))
			if b == nil {
				return fmt.Errorf("unknown namespace %s", op.Namespace)
			}
			if op.Delete {
				if err := b.Delete([]byte(op.Key)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(op.Key), op.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// IterOpts bounds a range iteration. Exactly one of Lt/Lte and one of
// Gt/Gte may be set (empty string means unbounded on that side).
type IterOpts struct {
	Reverse bool
	Lt      string
	Lte     string
	Gt      string
	Gte     string
	Limit   int
}

// Entry is one key/value pair yielded by an iterator.
type Entry struct {
	Key   string
	Value []byte
}

// Iterate walks namespace ns under opts, calling fn for each entry in
// order. It takes a snapshot view (bbolt's View transaction), so it is
// safe against concurrent writes. Returning an error from fn stops
// iteration and is surfaced to the caller.
func (s *Store) Iterate(ns string, opts IterOpts, fn func(Entry) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return fmt.Errorf("unknown namespace %s", ns)
		}
		c := b.Cursor()
		count := 0

		withinUpper := func(k []byte) bool {
			if opts.Lt != "" && string(k) >= opts.Lt {
				return false
			}
			if opts.Lte != "" && string(k) > opts.Lte {
				return false
			}
			return true
		}
		withinLower := func(k []byte) bool {
			if opts.Gt != "" && string(k) <= opts.Gt {
				return false
			}
			if opts.Gte != "" && string(k) < opts.Gte {
				return false
			}
			return true
		}
		within := func(k []byte) bool { return withinLower(k) && withinUpper(k) }

		emit := func(k, v []byte) (bool, error) {
			if !within(k) {
				return true, nil
			}
			if err := fn(Entry{Key: string(k), Value: append([]byte(nil), v...)}); err != nil {
				return false, err
			}
			count++
			if opts.Limit > 0 && count >= opts.Limit {
				return false, nil
			}
			return true, nil
		}

		if opts.Reverse {
			var k, v []byte
			if opts.Lt != "" {
				k, v = c.Seek([]byte(opts.Lt))
				if k == nil {
					k, v = c.Last()
				} else {
					k, v = c.Prev()
				}
			} else if opts.Lte != "" {
				k, v = c.Seek([]byte(opts.Lte))
				if k == nil || string(k) > opts.Lte {
					k, v = c.Prev()
				}
			} else {
				k, v = c.Last()
			}
			for k != nil {
				if withinLower(k) && string(k) <= boundOrMax(opts) {
					cont, err := emit(k, v)
					if err != nil {
						return err
					}
					if !cont {
						return nil
					}
				}
				if !withinLower(k) {
					break
				}
				k, v = c.Prev()
			}
			return nil
		}

		var k, v []byte
		if opts.Gt != "" {
			k, v = c.Seek([]byte(opts.Gt))
			if k != nil && string(k) == opts.Gt {
				k, v = c.Next()
			}
		} else if opts.Gte != "" {
			k, v = c.Seek([]byte(opts.Gte))
		} else {
			k, v = c.First()
		}
		for k != nil {
			if !withinUpper(k) {
				break
			}
			cont, err := emit(k, v)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
			k, v = c.Next()
		}
		return nil
	})
}

// boundOrMax is a reverse-iteration helper: once past the lower bound
// we stop via withinLower, so the upper check during descent only
// needs to reject keys strictly above Lt/Lte (enforced by the initial
// Seek), making this a permissive sentinel.
func boundOrMax(opts IterOpts) string {
	if opts.Lt != "" {
		return opts.Lt
	}
	if opts.Lte != "" {
		return opts.Lte
	}
	return "\xff\xff\xff\xff\xff\xff\xff\xff"
}
