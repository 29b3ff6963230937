package pebbledb

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
)

const lastProcessedBlockKey = "lbn"

type Store struct {
	db *pebble.DB
}

func NewProcessorStore(storeDir string) (*Store, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "hive-streamer-store"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &Store{db: db}, nil
}

func (ps *Store) SetLastProcessedBlock(blockNumber uint64) error {
	key := []byte(lastProcessedBlockKey)

	var value []byte
	value = binary.BigEndian.AppendUint64(value, blockNumber)

	err := ps.db.Set(key, value, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting last processed block to [%d]", blockNumber)
	}

	return nil
}

func (ps *Store) GetLastProcessedBlock() (uint64, error) {
	key := []byte(lastProcessedBlockKey)

	value, closer, err := ps.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, entities.ErrStoreEntityNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "getting last processed block")
	}
	defer closer.Close()

	if len(value) != 8 {
		return 0, errors.Errorf("invalid last processed block value of length %d", len(value))
	}

	return binary.BigEndian.Uint64(value), nil
}

func (ps *Store) Close() error {
	return ps.db.Close()
}
