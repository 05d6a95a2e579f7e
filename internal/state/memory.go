package state

import (
	"context"
	"sync"

	"github.com/rindang/driftwatch/pkg/diff"
)

// MemoryStore is an in-process Store used in tests and for one-shot runs
// that do not need durable state. The compare-and-swap semantics match
// the blob-backed stores exactly.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, datasource, table string) (*TableState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[ObjectKey("", datasource, table)]
	if !ok {
		return nil, diff.ErrStateNotFound
	}
	return Decode(data)
}

func (m *MemoryStore) Put(ctx context.Context, datasource, table string, s *TableState, expectedVersion int64) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := ObjectKey("", datasource, table)
	existing, ok := m.blobs[key]
	if !ok {
		if expectedVersion != 0 {
			return diff.ErrVersionConflict
		}
		m.blobs[key] = data
		return nil
	}
	cur, err := Decode(existing)
	if err != nil {
		return err
	}
	if cur.Version != expectedVersion {
		return diff.ErrVersionConflict
	}
	m.blobs[key] = data
	return nil
}
