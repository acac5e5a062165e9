package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	derrors "github.com/vantagedata/datamarket/pkg/errors"
)

// BadgerStore is a BadgerDB-backed content-addressed store. The ref is the
// hex sha256 of the content, so identical bytes always map to one entry.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the store at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Put stores data and returns its content ref. Re-putting identical bytes
// returns the same ref without rewriting.
func (s *BadgerStore) Put(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])
	key := []byte(ref)

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store content: %w", err)
	}
	return ref, nil
}

// Get returns the content for ref.
func (s *BadgerStore) Get(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(ref))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			data = append([]byte(nil), v...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, derrors.Newf(derrors.KindNotFound, "content %s not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return data, nil
}

// Has reports whether ref is stored.
func (s *BadgerStore) Has(ctx context.Context, ref string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(ref))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check content: %w", err)
	}
	return true, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
