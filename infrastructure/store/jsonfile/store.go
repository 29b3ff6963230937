// Package jsonfile persists the streamer position as the single json document
// {"lastBlockNumber": N}, overwritten after every processed block.
package jsonfile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
)

type state struct {
	LastBlockNumber uint64 `json:"lastBlockNumber"`
}

type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// GetLastProcessedBlock treats a missing, unreadable or zero state as not set.
func (s *Store) GetLastProcessedBlock() (uint64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, entities.ErrStoreEntityNotFound
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil || st.LastBlockNumber == 0 {
		return 0, entities.ErrStoreEntityNotFound
	}
	return st.LastBlockNumber, nil
}

// SetLastProcessedBlock replaces the file atomically so a crash never leaves a truncated state.
func (s *Store) SetLastProcessedBlock(blockNumber uint64) error {
	data, err := json.Marshal(state{LastBlockNumber: blockNumber})
	if err != nil {
		return errors.Wrap(err, "marshalling state")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return errors.Wrap(err, "creating temporary state file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing state")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing state file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrapf(err, "replacing state file [%s]", s.path)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
