package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rindang/driftwatch/internal/config"
	"github.com/rindang/driftwatch/internal/state"
	"github.com/rindang/driftwatch/pkg/diff"
)

func TestSelectorUnknownMethod(t *testing.T) {
	sel := NewSelector()
	cfg := hashTableConfig()
	cfg.Method = "merkle"

	_, err := sel.DetectChanges(context.Background(), "erp", "items", cfg,
		state.NewMemoryStore(), &fakeSource{keyColumn: "id"})

	assert.ErrorIs(t, err, diff.ErrUnknownMethod)
}

func TestSelectorPersistsStateAcrossRuns(t *testing.T) {
	sel := NewSelector()
	store := state.NewMemoryStore()
	src := &fakeSource{keyColumn: "id", rows: []diff.Row{{"id": "1", "val": "a"}}}
	ctx := context.Background()

	cs, err := sel.DetectChanges(ctx, "erp", "items", hashTableConfig(), store, src)
	require.NoError(t, err)
	assert.Len(t, cs.Added, 1)

	st, err := store.Get(ctx, "erp", "items")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Version)

	// Second run reads exactly the state the first run wrote.
	cs, err = sel.DetectChanges(ctx, "erp", "items", hashTableConfig(), store, src)
	require.NoError(t, err)
	assert.True(t, cs.Empty())

	st, err = store.Get(ctx, "erp", "items")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Version)
}

func TestSelectorStrategySwitchRebuildsBaseline(t *testing.T) {
	sel := NewSelector()
	store := state.NewMemoryStore()
	src := &fakeSource{keyColumn: "id", rows: []diff.Row{{"id": "1", "val": "a"}}}
	ctx := context.Background()

	_, err := sel.DetectChanges(ctx, "erp", "items", hashTableConfig(), store, src)
	require.NoError(t, err)

	// Switching method invalidates prior state: the next run is a full
	// baseline, classifying everything as added again.
	cfg := partTableConfig(3)
	cs, err := sel.DetectChanges(ctx, "erp", "items", cfg, store, src)
	require.NoError(t, err)

	assert.Len(t, cs.Added, 1)
	st, err := store.Get(ctx, "erp", "items")
	require.NoError(t, err)
	assert.Equal(t, string(config.MethodHashPartition), st.Strategy)
	assert.Nil(t, st.Hash)
	assert.NotNil(t, st.Partitioned)
	// The rebuilt baseline replaces the old-strategy state through the
	// same conditional write, so the version keeps counting up.
	assert.Equal(t, int64(2), st.Version)
}

func TestSelectorSurfacesVersionConflict(t *testing.T) {
	sel := NewSelector()
	store := state.NewMemoryStore()
	src := &fakeSource{keyColumn: "id", rows: []diff.Row{{"id": "1", "val": "a"}}}
	ctx := context.Background()

	_, err := sel.DetectChanges(ctx, "erp", "items", hashTableConfig(), store, src)
	require.NoError(t, err)

	// Another run sneaks a write in under the same version.
	st, err := store.Get(ctx, "erp", "items")
	require.NoError(t, err)
	interloper := *st
	interloper.Version = st.Version + 1
	require.NoError(t, store.Put(ctx, "erp", "items", &interloper, st.Version))

	// A run that read the old version must lose its conditional write.
	conflicted := &conflictingStore{Store: store, stale: st.Version}
	_, err = sel.DetectChanges(ctx, "erp", "items", hashTableConfig(), conflicted, src)
	assert.ErrorIs(t, err, diff.ErrVersionConflict)
}

// conflictingStore serves a stale read so the subsequent conditional
// write conflicts, mimicking a concurrent winning run.
type conflictingStore struct {
	state.Store
	stale int64
}

func (c *conflictingStore) Get(ctx context.Context, datasource, table string) (*state.TableState, error) {
	st, err := c.Store.Get(ctx, datasource, table)
	if err != nil {
		return nil, err
	}
	st.Version = c.stale
	return st, nil
}
