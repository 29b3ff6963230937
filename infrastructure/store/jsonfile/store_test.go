package jsonfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qubic/hive-streamer/entities"
	"github.com/stretchr/testify/require"
)

func TestJsonStore_SetAndGetLastProcessedBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive-stream.json")
	store := NewStore(path)

	_, err := store.GetLastProcessedBlock()
	require.ErrorIs(t, err, entities.ErrStoreEntityNotFound)

	require.NoError(t, store.SetLastProcessedBlock(41))
	require.NoError(t, store.SetLastProcessedBlock(42))

	got, err := store.GetLastProcessedBlock()
	require.NoError(t, err)
	require.Equal(t, uint64(42), got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"lastBlockNumber":42}`, string(data))
}

func TestJsonStore_UnreadableStateIsNotSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive-stream.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewStore(path).GetLastProcessedBlock()
	require.ErrorIs(t, err, entities.ErrStoreEntityNotFound)
}
