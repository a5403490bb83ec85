package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		require.NoError(t, s.Initialize(context.Background()))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	assert.Error(t, s.HealthCheck(ctx))

	_, err := s.Upsert(ctx, createTestBars("SPY", "1d", 1, testDay))
	require.Error(t, err)
	var serr *StorageError
	assert.ErrorAs(t, err, &serr)
	assert.Equal(t, "insert", serr.Operation)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	_, err := s.Upsert(ctx, createTestBars("SPY", "1d", 1, testDay))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = New(ctx, Config{Backend: "sqlite"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage backend")

	_, err = New(ctx, Config{Backend: BackendPostgres})
	require.Error(t, err)
}
