package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureJobIDIsIdempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)

	id1, err := s.EnsureJobID(20)
	require.NoError(t, err)
	id2, err := s.EnsureJobID(20)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 24)
}

func TestPutJobPreservesIdAndCreatedAt(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)

	err = s.PutJob(20, Job{CharacterString: "ABC", Size: 2.3, Speed: 500, StartX: 33.5, StartY: 10.0, PitchX: 2.2, PitchY: 0.0, Direction: 0}, nil)
	require.NoError(t, err)

	first, ok := s.GetJob(20)
	require.True(t, ok)
	require.NotEmpty(t, first.ID)

	err = s.PutJob(20, Job{CharacterString: "ABC", Size: 2.3, Speed: 500, StartX: 33.5, StartY: 10.0, PitchX: 2.2, PitchY: 0.0, Direction: 0}, nil)
	require.NoError(t, err)

	second, ok := s.GetJob(20)
	require.True(t, ok)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, !second.LastRunAt.Before(first.LastRunAt))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutSequence(3, "GO"))

	reopened, err := Open(path)
	require.NoError(t, err)
	seq, ok := reopened.GetSequence(3)
	require.True(t, ok)
	assert.Equal(t, "GO", seq.CommandString)
}

func TestGetJobMissingReturnsFalse(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	_, ok := s.GetJob(999)
	assert.False(t, ok)
}
