package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rindang/driftwatch/pkg/diff"
)

func hashState(version int64, keys map[diff.Key]diff.Digest) *TableState {
	return &TableState{
		Version:   version,
		Strategy:  "hash",
		LastRunAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Hash:      &HashState{KeyDigests: keys},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var d diff.Digest
	d[0] = 0xab
	s := hashState(3, map[diff.Key]diff.Digest{"1": d})

	data, err := Encode(s)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, d, got.Hash.KeyDigests["1"])
}

func TestValidateRejectsMultiplePayloads(t *testing.T) {
	s := hashState(1, nil)
	s.Timestamp = &TimestampState{}

	assert.Error(t, s.Validate())
}

func TestValidateRejectsStrategyPayloadMismatch(t *testing.T) {
	s := hashState(1, nil)
	s.Strategy = "timestamp"

	assert.Error(t, s.Validate())
}

func TestMemoryStoreFirstRun(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "ds", "orders")
	assert.ErrorIs(t, err, diff.ErrStateNotFound)

	require.NoError(t, store.Put(context.Background(), "ds", "orders", hashState(1, nil), 0))

	got, err := store.Get(context.Background(), "ds", "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "ds", "orders", hashState(1, nil), 0))

	// Two runs both read version 1; only the first conditional write may
	// succeed.
	require.NoError(t, store.Put(ctx, "ds", "orders", hashState(2, nil), 1))
	err := store.Put(ctx, "ds", "orders", hashState(2, nil), 1)
	assert.ErrorIs(t, err, diff.ErrVersionConflict)
}

func TestMemoryStoreCreateRace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ds", "t", hashState(1, nil), 0))
	err := store.Put(ctx, "ds", "t", hashState(1, nil), 0)
	assert.ErrorIs(t, err, diff.ErrVersionConflict)
}
