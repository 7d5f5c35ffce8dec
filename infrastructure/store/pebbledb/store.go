// Package pebbledb persists the run cursor: the last completed transfer
// position per batch, so a re-run can pick its skip offset without counting
// audit rows by hand.
package pebbledb

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("store resource not found")

const lastCompletedIndexPrefix = "lci/"

type Store struct {
	db *pebble.DB
}

func NewRunStore(storeDir string) (*Store, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "batch-transfer-run-store"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &Store{db: db}, nil
}

// SetLastCompletedIndex records the position (1-based, counted over the full
// recipient list) of the most recently completed attempt for a batch.
func (s *Store) SetLastCompletedIndex(batchID string, index uint32) error {
	key := []byte(lastCompletedIndexPrefix + batchID)
	var value []byte
	value = binary.BigEndian.AppendUint32(value, index)

	err := s.db.Set(key, value, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting last completed index for batch [%s] to [%d]", batchID, index)
	}

	return nil
}

func (s *Store) GetLastCompletedIndex(batchID string) (uint32, error) {
	key := []byte(lastCompletedIndexPrefix + batchID)

	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrapf(err, "getting last completed index for batch [%s]", batchID)
	}
	defer func(closer io.Closer) {
		err := closer.Close()
		if err != nil {
			log.Printf("[ERROR] closing db: %v", err)
		}
	}(closer)

	return binary.BigEndian.Uint32(value), nil
}

// GetLastCompletedIndexForAllBatches lists the stored cursor of every batch
// this store has seen.
func (s *Store) GetLastCompletedIndexForAllBatches() (map[string]uint32, error) {
	lowerBound := []byte(lastCompletedIndexPrefix)
	upperBound := []byte(lastCompletedIndexPrefix + "\xff")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lowerBound,
		UpperBound: upperBound,
	})
	if err != nil {
		return nil, fmt.Errorf("creating iterator: %v", err)
	}
	defer iter.Close()

	indexPerBatch := make(map[string]uint32)
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()

		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("getting value from iter: %v", err)
		}

		batchID := string(key[len(lastCompletedIndexPrefix):])
		indexPerBatch[batchID] = binary.BigEndian.Uint32(value)
	}

	return indexPerBatch, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
