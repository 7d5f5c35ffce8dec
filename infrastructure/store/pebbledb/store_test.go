package pebbledb

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunStore_LastCompletedIndex(t *testing.T) {

	dbDir, err := os.MkdirTemp("", "pebble_test")
	require.NoError(t, err)
	defer os.RemoveAll(dbDir)

	store, err := NewRunStore(dbDir)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetLastCompletedIndex("recipients.txt")
	require.ErrorIs(t, err, ErrNotFound)

	testData := []struct {
		name     string
		batchID  string
		expected uint32
	}{
		{
			name:     "TestLastCompletedIndex_1",
			batchID:  "recipients.txt",
			expected: 1,
		},
		{
			name:     "TestLastCompletedIndex_2",
			batchID:  "recipients.txt",
			expected: 17,
		},
		{
			name:     "TestLastCompletedIndex_3",
			batchID:  "airdrop-june.txt",
			expected: 250,
		},
	}

	for _, testRun := range testData {
		t.Run(testRun.name, func(t *testing.T) {
			err := store.SetLastCompletedIndex(testRun.batchID, testRun.expected)
			require.NoError(t, err)

			got, err := store.GetLastCompletedIndex(testRun.batchID)
			require.NoError(t, err)
			require.Equal(t, testRun.expected, got)
		})
	}

	all, err := store.GetLastCompletedIndexForAllBatches()
	require.NoError(t, err)
	require.Equal(t, map[string]uint32{
		"recipients.txt":   17,
		"airdrop-june.txt": 250,
	}, all)
}
